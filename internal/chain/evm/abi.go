// Package evm implements chain.Client against EVM-compatible chains by
// hand-packing calldata with go-ethereum's accounts/abi primitives. There
// is no generated binding step (no abigen) in this pipeline, so every
// method's signature is declared once here and packed/unpacked directly,
// following the same call shape the teacher's RPCHelper uses for
// eth_call/eth_estimateGas/eth_getTransactionCount.
package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// method describes one contract function: its canonical Solidity signature
// (for selector derivation) and the ABI types of its inputs/outputs.
type method struct {
	Name    string
	Inputs  abi.Arguments
	Outputs abi.Arguments
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("evm: invalid abi type %q: %v", t, err))
	}
	return typ
}

func args(types ...string) abi.Arguments {
	out := make(abi.Arguments, len(types))
	for i, t := range types {
		out[i] = abi.Argument{Type: mustType(t)}
	}
	return out
}

// selector returns the 4-byte function selector for sig, e.g.
// "transfer(address,uint256)".
func selector(sig string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(sig))[:4])
	return sel
}

// pack encodes calldata: selector || abi-encoded inputs.
func (m method) pack(values ...interface{}) ([]byte, error) {
	packed, err := m.Inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", m.Name, err)
	}
	sel := selector(m.Name)
	out := make([]byte, 4+len(packed))
	copy(out, sel[:])
	copy(out[4:], packed)
	return out, nil
}

// unpack decodes a return value per m.Outputs.
func (m method) unpack(data []byte) ([]interface{}, error) {
	out, err := m.Outputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack %s: %w", m.Name, err)
	}
	return out, nil
}

// Contract method table for JobMarketplace, NodeRegistry, and HostEarnings
// (ProofSystem shares JobMarketplace's ABI surface for submitProof in this
// deployment, matching how a single escrow contract both posts sessions
// and verifies proofs against them).
var (
	methodCreateSessionWithToken = method{
		Name:    "createSessionWithToken(address,address,uint256,uint256,uint256,uint256)",
		Inputs:  args("address", "address", "uint256", "uint256", "uint256", "uint256"),
		Outputs: args("uint256"),
	}
	methodCreateSessionFromDeposit = method{
		Name:    "createSessionFromDeposit(address,address,uint256,uint256,uint256,uint256)",
		Inputs:  args("address", "address", "uint256", "uint256", "uint256", "uint256"),
		Outputs: args("uint256"),
	}
	methodDepositToken = method{
		Name:   "depositToken(address,uint256)",
		Inputs: args("address", "uint256"),
	}
	methodSubmitProof = method{
		Name:   "submitProof(uint256,uint256,uint256,bytes)",
		Inputs: args("uint256", "uint256", "uint256", "bytes"),
	}
	methodCompleteSession = method{
		Name:   "completeSession(uint256)",
		Inputs: args("uint256"),
	}
	methodGetSession = method{
		Name:   "getSession(uint256)",
		Inputs: args("uint256"),
		// user, host, modelId, token, depositRemaining, pricePerToken,
		// maxDuration, proofInterval, startedAt, lastCheckpointIndex,
		// lastProvenTokens, status
		Outputs: args("address", "address", "bytes32", "address", "uint256", "uint256", "uint256", "uint256", "uint256", "uint256", "uint256", "uint8"),
	}
	methodGetProofSubmission = method{
		Name:    "getProofSubmission(uint256,uint256)",
		Inputs:  args("uint256", "uint256"),
		Outputs: args("uint256", "uint256", "bytes", "bytes32", "bytes"),
	}
	methodGetAllModels = method{
		Name:    "getAllModels()",
		Outputs: args("bytes32[]"),
	}
	methodGetModel = method{
		Name:    "getModel(bytes32)",
		Inputs:  args("bytes32"),
		Outputs: args("string", "string", "bytes32", "bool"),
	}
	methodGetNodeAPIURL = method{
		Name:    "getNodeApiUrl(address)",
		Inputs:  args("address"),
		Outputs: args("string"),
	}
	methodGetActiveHosts = method{
		Name:    "getActiveHosts()",
		Outputs: args("address[]"),
	}
	methodGetHostRecord = method{
		Name:    "getHostRecord(address)",
		Inputs:  args("address"),
		Outputs: args("string", "uint256", "bytes32[]", "bool", "string", "string"),
	}
	methodGetDepositBalance = method{
		Name:    "getDepositBalance(address,address)",
		Inputs:  args("address", "address"),
		Outputs: args("uint256"),
	}
	methodGetHostEarnings = method{
		Name:    "getHostEarnings(address,address)",
		Inputs:  args("address", "address"),
		Outputs: args("uint256"),
	}
)

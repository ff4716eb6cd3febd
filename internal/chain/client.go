package chain

import (
	"context"
	"math/big"
)

// Client is the typed, chain-agnostic surface the rest of the core talks
// to (§4.1). The EVM implementation lives in internal/chain/evm; the
// interface exists so Payment Manager, Discovery, and the supervisor never
// import go-ethereum directly.
type Client interface {
	ChainID() ChainID

	CreateSessionWithToken(ctx context.Context, host Address, token Address, deposit, price *big.Int, maxDuration int64, proofInterval int64, profile GasProfile) (int64, error)
	CreateSessionFromDeposit(ctx context.Context, host Address, token Address, amount, price *big.Int, maxDuration int64, proofInterval int64, profile GasProfile) (int64, error)
	DepositToken(ctx context.Context, token Address, amount *big.Int, profile GasProfile) error
	SubmitProof(ctx context.Context, sessionID int64, checkpointIndex int64, tokenCount int64, proofBlob []byte, profile GasProfile) error
	CompleteSession(ctx context.Context, sessionID int64, profile GasProfile) error

	GetSession(ctx context.Context, sessionID int64) (SessionDescriptor, error)
	GetProofSubmission(ctx context.Context, sessionID int64, checkpointIndex int64) (ProofSubmission, error)
	GetAllModels(ctx context.Context) ([]ModelRecord, error)
	GetModel(ctx context.Context, modelID [32]byte) (ModelRecord, error)
	GetNodeAPIURL(ctx context.Context, host Address) (string, error)
	GetActiveHosts(ctx context.Context) ([]HostRecord, error)
	GetDepositBalance(ctx context.Context, user Address, token Address) (*big.Int, error)
	GetHostEarnings(ctx context.Context, host Address, token Address) (*big.Int, error)
}

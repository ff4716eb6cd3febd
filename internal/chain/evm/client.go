package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/chain/rpcpool"
	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

// TxSigner signs a pre-computed transaction hash and exposes the address
// it controls. internal/identity.LocalSigner satisfies this.
type TxSigner interface {
	Address() chain.Address
	SignHash(hash [32]byte) ([]byte, error)
}

// Client implements chain.Client against one EVM chain deployment,
// hand-packing calldata instead of using generated contract bindings.
// Grounded on src/chainadapter/ethereum's EthereumAdapter, generalized
// from a wallet-transfer adapter to an escrow-contract caller.
type Client struct {
	cfg    chain.ChainConfig
	rpc    rpcpool.Client
	signer TxSigner
	log    *zap.SugaredLogger
}

func NewClient(cfg chain.ChainConfig, rpc rpcpool.Client, signer TxSigner, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{cfg: cfg, rpc: rpc, signer: signer, log: log}
}

func (c *Client) ChainID() chain.ChainID { return c.cfg.ChainID }

// callView executes an eth_call against `to` and unpacks the result per m.
func (c *Client) callView(ctx context.Context, to chain.Address, m method, args ...interface{}) ([]interface{}, error) {
	data, err := m.pack(args...)
	if err != nil {
		return nil, err
	}
	callObj := map[string]interface{}{
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	}
	raw, err := c.rpc.Call(ctx, "eth_call", callObj, "latest")
	if err != nil {
		return nil, err
	}
	var hexResult string
	if err := json.Unmarshal(raw, &hexResult); err != nil {
		return nil, fmt.Errorf("evm: parse eth_call result: %w", err)
	}
	resultBytes, err := hexutil.Decode(hexResult)
	if err != nil {
		return nil, fmt.Errorf("evm: decode eth_call result: %w", err)
	}
	if len(m.Outputs) == 0 {
		return nil, nil
	}
	return m.unpack(resultBytes)
}

// sendTx builds, signs, and broadcasts an EIP-1559 transaction calling m on
// `to`, returning the submitted tx hash (not awaited for inclusion; the
// caller observes effect via subsequent getSession/getDepositBalance reads
// as the spec's operations are defined as contract calls, not confirmed
// receipts).
func (c *Client) sendTx(ctx context.Context, to chain.Address, value *big.Int, profile chain.GasProfile, m method, args ...interface{}) (string, error) {
	data, err := m.pack(args...)
	if err != nil {
		return "", err
	}

	nonce, err := getNonce(ctx, c.rpc, c.signer.Address())
	if err != nil {
		return "", xerrors.ChainTransient("CHAIN_NONCE_FETCH", err.Error(), err)
	}
	gasLimit, err := estimateGasLimit(ctx, c.rpc, c.signer.Address(), to, data)
	if err != nil {
		return "", err
	}
	maxFee, priorityFee, err := estimateFees(ctx, c.rpc, profile)
	if err != nil {
		return "", err
	}
	if value == nil {
		value = big.NewInt(0)
	}

	chainID := big.NewInt(int64(c.cfg.ChainID))
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: priorityFee,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signer := types.NewLondonSigner(chainID)
	hash := signer.Hash(tx)
	sig, err := c.signer.SignHash(hash)
	if err != nil {
		return "", fmt.Errorf("evm: sign tx: %w", err)
	}
	signedTx, err := tx.WithSignature(signer, sig)
	if err != nil {
		return "", fmt.Errorf("evm: apply signature: %w", err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("evm: encode signed tx: %w", err)
	}

	result, err := c.rpc.Call(ctx, "eth_sendRawTransaction", hexutil.Encode(raw))
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("evm: parse tx hash: %w", err)
	}
	c.log.Infow("submitted transaction", "chainId", c.cfg.ChainID, "method", m.Name, "txHash", txHash)
	return txHash, nil
}

func (c *Client) CreateSessionWithToken(ctx context.Context, host, token chain.Address, deposit, price *big.Int, maxDuration, proofInterval int64, profile chain.GasProfile) (int64, error) {
	txHash, err := c.sendTx(ctx, c.cfg.JobMarketplaceAddr, nil, profile, methodCreateSessionWithToken,
		host, token, deposit, price, big.NewInt(maxDuration), big.NewInt(proofInterval))
	if err != nil {
		return 0, err
	}
	return c.sessionIDFromReceipt(ctx, txHash)
}

func (c *Client) CreateSessionFromDeposit(ctx context.Context, host, token chain.Address, amount, price *big.Int, maxDuration, proofInterval int64, profile chain.GasProfile) (int64, error) {
	txHash, err := c.sendTx(ctx, c.cfg.JobMarketplaceAddr, nil, profile, methodCreateSessionFromDeposit,
		host, token, amount, price, big.NewInt(maxDuration), big.NewInt(proofInterval))
	if err != nil {
		return 0, err
	}
	return c.sessionIDFromReceipt(ctx, txHash)
}

func (c *Client) DepositToken(ctx context.Context, token chain.Address, amount *big.Int, profile chain.GasProfile) error {
	_, err := c.sendTx(ctx, c.cfg.JobMarketplaceAddr, nil, profile, methodDepositToken, token, amount)
	return err
}

func (c *Client) SubmitProof(ctx context.Context, sessionID, checkpointIndex, tokenCount int64, proofBlob []byte, profile chain.GasProfile) error {
	_, err := c.sendTx(ctx, c.cfg.ProofSystemAddr, nil, profile, methodSubmitProof,
		big.NewInt(sessionID), big.NewInt(checkpointIndex), big.NewInt(tokenCount), proofBlob)
	return err
}

func (c *Client) CompleteSession(ctx context.Context, sessionID int64, profile chain.GasProfile) error {
	_, err := c.sendTx(ctx, c.cfg.JobMarketplaceAddr, nil, profile, methodCompleteSession, big.NewInt(sessionID))
	return err
}

func (c *Client) GetSession(ctx context.Context, sessionID int64) (chain.SessionDescriptor, error) {
	out, err := c.callView(ctx, c.cfg.JobMarketplaceAddr, methodGetSession, big.NewInt(sessionID))
	if err != nil {
		return chain.SessionDescriptor{}, err
	}
	modelID := out[2].([32]byte)
	return chain.SessionDescriptor{
		SessionID:           sessionID,
		ChainID:             c.cfg.ChainID,
		User:                out[0].(chain.Address),
		Host:                out[1].(chain.Address),
		ModelID:             modelID,
		Token:               out[3].(chain.Address),
		DepositRemaining:    out[4].(*big.Int),
		PricePerToken:       out[5].(*big.Int),
		MaxDuration:         toDuration(out[6].(*big.Int)),
		ProofInterval:       out[7].(*big.Int).Int64(),
		StartedAt:           toTime(out[8].(*big.Int)),
		LastCheckpointIndex: out[9].(*big.Int).Int64(),
		LastProvenTokens:    out[10].(*big.Int).Int64(),
		Status:              chain.SessionStatus(out[11].(uint8)),
	}, nil
}

func (c *Client) GetProofSubmission(ctx context.Context, sessionID, checkpointIndex int64) (chain.ProofSubmission, error) {
	out, err := c.callView(ctx, c.cfg.ProofSystemAddr, methodGetProofSubmission, big.NewInt(sessionID), big.NewInt(checkpointIndex))
	if err != nil {
		return chain.ProofSubmission{}, err
	}
	proofHash := out[3].([32]byte)
	return chain.ProofSubmission{
		SessionID:       sessionID,
		CheckpointIndex: checkpointIndex,
		TokenCount:      out[1].(*big.Int).Int64(),
		ProofBlob:       out[2].([]byte),
		ProofHash:       proofHash,
		HostSignature:   out[4].([]byte),
	}, nil
}

func (c *Client) GetAllModels(ctx context.Context) ([]chain.ModelRecord, error) {
	out, err := c.callView(ctx, c.cfg.JobMarketplaceAddr, methodGetAllModels)
	if err != nil {
		return nil, err
	}
	ids := out[0].([][32]byte)
	models := make([]chain.ModelRecord, 0, len(ids))
	for _, id := range ids {
		m, err := c.GetModel(ctx, id)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

func (c *Client) GetModel(ctx context.Context, modelID [32]byte) (chain.ModelRecord, error) {
	out, err := c.callView(ctx, c.cfg.JobMarketplaceAddr, methodGetModel, modelID)
	if err != nil {
		return chain.ModelRecord{}, err
	}
	contentHash := out[2].([32]byte)
	return chain.ModelRecord{
		ModelID:       modelID,
		Repo:          out[0].(string),
		Filename:      out[1].(string),
		ContentSHA256: contentHash,
		Active:        out[3].(bool),
	}, nil
}

func (c *Client) GetNodeAPIURL(ctx context.Context, host chain.Address) (string, error) {
	out, err := c.callView(ctx, c.cfg.NodeRegistryAddr, methodGetNodeAPIURL, host)
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

func (c *Client) GetActiveHosts(ctx context.Context) ([]chain.HostRecord, error) {
	out, err := c.callView(ctx, c.cfg.NodeRegistryAddr, methodGetActiveHosts)
	if err != nil {
		return nil, err
	}
	addrs := out[0].([]chain.Address)
	hosts := make([]chain.HostRecord, 0, len(addrs))
	for _, addr := range addrs {
		rec, err := c.getHostRecord(ctx, addr)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, rec)
	}
	return hosts, nil
}

func (c *Client) getHostRecord(ctx context.Context, host chain.Address) (chain.HostRecord, error) {
	out, err := c.callView(ctx, c.cfg.NodeRegistryAddr, methodGetHostRecord, host)
	if err != nil {
		return chain.HostRecord{}, err
	}
	apiURL := out[0].(string)
	stake := out[1].(*big.Int)
	modelIDs := out[2].([][32]byte)
	active := out[3].(bool)
	metadataRef := out[4].(string)
	pubKeyHex := out[5].(string)

	supported := make(map[[32]byte]struct{}, len(modelIDs))
	for _, id := range modelIDs {
		supported[id] = struct{}{}
	}

	return chain.HostRecord{
		Address:           host,
		APIURL:            apiURL,
		Stake:             stake,
		PricePerToken:     map[chain.Address]*big.Int{},
		SupportedModelIDs: supported,
		Active:            active,
		MetadataBlobRef:   metadataRef,
		PublicKeyHex:      pubKeyHex,
	}, nil
}

func (c *Client) GetDepositBalance(ctx context.Context, user, token chain.Address) (*big.Int, error) {
	out, err := c.callView(ctx, c.cfg.JobMarketplaceAddr, methodGetDepositBalance, user, token)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (c *Client) GetHostEarnings(ctx context.Context, host, token chain.Address) (*big.Int, error) {
	out, err := c.callView(ctx, c.cfg.HostEarningsAddr, methodGetHostEarnings, host, token)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

var _ chain.Client = (*Client)(nil)

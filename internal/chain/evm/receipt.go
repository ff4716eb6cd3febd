package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

// sessionCreatedTopic is the keccak256 of the event signature emitted by
// the marketplace contract on session creation: the core reads the
// sessionId back out of this log rather than trusting a return value from
// a state-changing call, since eth_sendRawTransaction only returns a tx
// hash.
var sessionCreatedTopic = crypto.Keccak256Hash([]byte("SessionCreated(uint256,address,address)"))

const (
	receiptPollInterval = 2 * time.Second
	receiptPollAttempts = 10
)

type rpcLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

type rpcReceipt struct {
	Status string   `json:"status"`
	Logs   []rpcLog `json:"logs"`
}

// sessionIDFromReceipt polls for txHash's receipt and extracts the
// sessionId from its SessionCreated log. Polling (rather than a
// subscription) matches the failover-capable HTTP-only rpcpool.Client
// this package is built on.
func (c *Client) sessionIDFromReceipt(ctx context.Context, txHash string) (int64, error) {
	for attempt := 0; attempt < receiptPollAttempts; attempt++ {
		raw, err := c.rpc.Call(ctx, "eth_getTransactionReceipt", txHash)
		if err == nil {
			var receipt *rpcReceipt
			if err := json.Unmarshal(raw, &receipt); err == nil && receipt != nil {
				if receipt.Status == "0x0" {
					return 0, xerrors.ChainRevertedErr("session creation transaction reverted", nil)
				}
				if id, ok := extractSessionID(receipt); ok {
					return id, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}
	return 0, xerrors.ChainTransient("CHAIN_RECEIPT_TIMEOUT",
		fmt.Sprintf("transaction %s was not mined within the polling budget", txHash), nil)
}

func extractSessionID(receipt *rpcReceipt) (int64, bool) {
	for _, l := range receipt.Logs {
		if len(l.Topics) < 2 {
			continue
		}
		if l.Topics[0] != sessionCreatedTopic.Hex() {
			continue
		}
		idBytes, err := hexutil.Decode(l.Topics[1])
		if err != nil {
			continue
		}
		return new(big.Int).SetBytes(idBytes).Int64(), true
	}
	return 0, false
}

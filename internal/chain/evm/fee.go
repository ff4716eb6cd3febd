package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/chain/rpcpool"
)

// feeMultiplier maps a gas profile to a base-fee multiplier, matching the
// teacher's FeeSpeed{Slow,Normal,Fast} → {1x,2x,3x} base fee scaling, with
// an additional flat 20% safety buffer applied afterward per §4.1.
func feeMultiplier(profile chain.GasProfile) int64 {
	switch profile {
	case chain.GasLow:
		return 1
	case chain.GasHigh:
		return 3
	default:
		return 2
	}
}

// estimateFees returns (maxFeePerGas, maxPriorityFeePerGas) for profile,
// grounded on the teacher's RPCHelper.GetBaseFee/GetFeeHistory, with a flat
// 20% buffer applied to both components per §4.1's gas pricing rule.
func estimateFees(ctx context.Context, client rpcpool.Client, profile chain.GasProfile) (maxFee, priorityFee *big.Int, err error) {
	baseFee, err := getBaseFee(ctx, client)
	if err != nil {
		return nil, nil, err
	}
	priority, err := getPriorityFee(ctx, client)
	if err != nil {
		return nil, nil, err
	}

	mult := big.NewInt(feeMultiplier(profile))
	scaledBase := new(big.Int).Mul(baseFee, mult)
	total := new(big.Int).Add(scaledBase, priority)

	buffered := withSafetyBuffer(total)
	bufferedPriority := withSafetyBuffer(priority)
	return buffered, bufferedPriority, nil
}

// withSafetyBuffer scales v by 1.2 (integer arithmetic: v*120/100).
func withSafetyBuffer(v *big.Int) *big.Int {
	scaled := new(big.Int).Mul(v, big.NewInt(120))
	return scaled.Div(scaled, big.NewInt(100))
}

func getBaseFee(ctx context.Context, client rpcpool.Client) (*big.Int, error) {
	raw, err := client.Call(ctx, "eth_getBlockByNumber", "latest", false)
	if err != nil {
		return nil, fmt.Errorf("evm: eth_getBlockByNumber: %w", err)
	}
	var block struct {
		BaseFeePerGas string `json:"baseFeePerGas"`
	}
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("evm: parse block: %w", err)
	}
	if block.BaseFeePerGas == "" {
		return big.NewInt(0), nil
	}
	return hexutil.DecodeBig(block.BaseFeePerGas)
}

func getPriorityFee(ctx context.Context, client rpcpool.Client) (*big.Int, error) {
	raw, err := client.Call(ctx, "eth_feeHistory", hexutil.EncodeUint64(10), "latest", []int{50})
	if err != nil {
		return nil, fmt.Errorf("evm: eth_feeHistory: %w", err)
	}
	var history struct {
		Reward [][]string `json:"reward"`
	}
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("evm: parse fee history: %w", err)
	}
	if len(history.Reward) == 0 {
		return big.NewInt(2e9), nil
	}

	sum := big.NewInt(0)
	count := 0
	for _, block := range history.Reward {
		for _, r := range block {
			v, err := hexutil.DecodeBig(r)
			if err != nil {
				continue
			}
			sum.Add(sum, v)
			count++
		}
	}
	if count == 0 {
		return big.NewInt(2e9), nil
	}
	return sum.Div(sum, big.NewInt(int64(count))), nil
}

func getNonce(ctx context.Context, client rpcpool.Client, address chain.Address) (uint64, error) {
	raw, err := client.Call(ctx, "eth_getTransactionCount", address.Hex(), "pending")
	if err != nil {
		return 0, fmt.Errorf("evm: eth_getTransactionCount: %w", err)
	}
	var hexNonce string
	if err := json.Unmarshal(raw, &hexNonce); err != nil {
		return 0, fmt.Errorf("evm: parse nonce: %w", err)
	}
	return hexutil.DecodeUint64(hexNonce)
}

func estimateGasLimit(ctx context.Context, client rpcpool.Client, from, to chain.Address, data []byte) (uint64, error) {
	callObj := map[string]interface{}{
		"from": from.Hex(),
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	}
	raw, err := client.Call(ctx, "eth_estimateGas", callObj)
	if err != nil {
		// Fall back to a conservative fixed limit rather than failing the
		// whole call; contract interactions here are all bounded-complexity.
		return 300_000, nil
	}
	var hexGas string
	if err := json.Unmarshal(raw, &hexGas); err != nil {
		return 300_000, nil
	}
	gas, err := hexutil.DecodeUint64(hexGas)
	if err != nil {
		return 300_000, nil
	}
	return gas * 110 / 100, nil
}

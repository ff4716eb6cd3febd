package evm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fabricmesh/inference-session-core/internal/chain"
)

// mockRPCClient returns a canned response per method name, grounded on the
// teacher's MockFeeRPCClient pattern in ethereum/fee_test.go.
type mockRPCClient struct {
	responses map[string]interface{}
}

func newMockRPCClient() *mockRPCClient {
	return &mockRPCClient{responses: make(map[string]interface{})}
}

func (m *mockRPCClient) setResponse(method string, response interface{}) {
	m.responses[method] = response
}

func (m *mockRPCClient) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	resp, ok := m.responses[method]
	if !ok {
		return nil, errMockMethodNotConfigured(method)
	}
	return json.Marshal(resp)
}

func (m *mockRPCClient) Close() error { return nil }

type mockMethodErr string

func (e mockMethodErr) Error() string { return "mock rpc method not configured: " + string(e) }

func errMockMethodNotConfigured(method string) error { return mockMethodErr(method) }

func TestEstimateFeesAppliesProfileMultiplierAndBuffer(t *testing.T) {
	mock := newMockRPCClient()
	mock.setResponse("eth_getBlockByNumber", map[string]interface{}{
		"baseFeePerGas": "0x4a817c800", // 20 Gwei
	})
	mock.setResponse("eth_feeHistory", map[string]interface{}{
		"reward": [][]string{{"0x77359400"}}, // 2 Gwei
	})

	maxFee, priorityFee, err := estimateFees(context.Background(), mock, chain.GasNormal)
	require.NoError(t, err)

	// base*2 + priority = 42 Gwei, *1.2 buffer = 50.4 Gwei
	require.Equal(t, "50400000000", maxFee.String())
	// priority 2 Gwei * 1.2 = 2.4 Gwei
	require.Equal(t, "2400000000", priorityFee.String())
}

func TestEstimateFeesHighProfileExceedsNormal(t *testing.T) {
	mock := newMockRPCClient()
	mock.setResponse("eth_getBlockByNumber", map[string]interface{}{
		"baseFeePerGas": "0x4a817c800",
	})
	mock.setResponse("eth_feeHistory", map[string]interface{}{
		"reward": [][]string{{"0x77359400"}},
	})

	normalFee, _, err := estimateFees(context.Background(), mock, chain.GasNormal)
	require.NoError(t, err)
	highFee, _, err := estimateFees(context.Background(), mock, chain.GasHigh)
	require.NoError(t, err)

	require.True(t, highFee.Cmp(normalFee) > 0)
}

func TestGetBaseFeeHandlesPreLondonBlock(t *testing.T) {
	mock := newMockRPCClient()
	mock.setResponse("eth_getBlockByNumber", map[string]interface{}{})

	fee, err := getBaseFee(context.Background(), mock)
	require.NoError(t, err)
	require.Equal(t, "0", fee.String())
}

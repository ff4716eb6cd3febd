package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsHealthOKWithNoCalls(t *testing.T) {
	m := NewMetrics()
	require.Equal(t, HealthOK, m.GetHealthStatus())
}

func TestMetricsDownOnLowSuccessRate(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 9; i++ {
		m.RecordRPCCall("eth_call", 10*time.Millisecond, false)
	}
	m.RecordRPCCall("eth_call", 10*time.Millisecond, true)

	require.Equal(t, HealthDown, m.GetHealthStatus())
}

func TestMetricsOKOnHighSuccessRate(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 19; i++ {
		m.RecordRPCCall("eth_call", 10*time.Millisecond, true)
	}
	m.RecordRPCCall("eth_call", 10*time.Millisecond, false)

	require.Equal(t, HealthOK, m.GetHealthStatus())
}

func TestMetricsExportContainsMethodLabel(t *testing.T) {
	m := NewMetrics()
	m.RecordRPCCall("eth_call", time.Millisecond, true)

	out := m.Export()
	require.Contains(t, out, "eth_call")
	require.Contains(t, out, "session_core_rpc_calls_total")
}

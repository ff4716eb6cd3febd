package chain

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// HealthStatus summarizes a chain client's recent call success rate,
// average latency and time since the last successful call.
type HealthStatus int

const (
	HealthOK HealthStatus = iota
	HealthDegraded
	HealthDown
)

func (h HealthStatus) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthDegraded:
		return "degraded"
	default:
		return "down"
	}
}

type methodStats struct {
	calls       int64
	failures    int64
	totalMillis int64
	lastSuccess time.Time
}

// Metrics records RPC call outcomes per method and exposes a Prometheus
// text exposition. Grounded on the teacher's ChainMetrics interface and
// PrometheusMetrics implementation, trimmed to the fields this module
// actually surfaces (RPC-call metrics; transaction build/sign/broadcast
// split is collapsed since this client has no separate build/sign stages
// exposed to callers — sendTx does all three atomically).
type Metrics struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func NewMetrics() *Metrics {
	return &Metrics{methods: make(map[string]*methodStats)}
}

func (m *Metrics) RecordRPCCall(method string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.methods[method]
	if !ok {
		s = &methodStats{}
		m.methods[method] = s
	}
	s.calls++
	s.totalMillis += duration.Milliseconds()
	if success {
		s.lastSuccess = time.Now()
	} else {
		s.failures++
	}
}

// GetHealthStatus mirrors the teacher's degraded criteria: success rate
// below 90%, average latency above 5s, or no successful call in 5 minutes.
// When one of these holds and the success rate is also below 50%, it
// reports HealthDown instead of HealthDegraded.
func (m *Metrics) GetHealthStatus() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	var totalCalls, totalFailures, totalMillis int64
	var lastSuccess time.Time
	for _, s := range m.methods {
		totalCalls += s.calls
		totalFailures += s.failures
		totalMillis += s.totalMillis
		if s.lastSuccess.After(lastSuccess) {
			lastSuccess = s.lastSuccess
		}
	}
	if totalCalls == 0 {
		return HealthOK
	}

	successRate := float64(totalCalls-totalFailures) / float64(totalCalls)
	avgMillis := totalMillis / totalCalls

	if successRate < 0.9 || avgMillis > 5000 || (lastSuccess.IsZero() || time.Since(lastSuccess) > 5*time.Minute) {
		if successRate < 0.5 {
			return HealthDown
		}
		return HealthDegraded
	}
	return HealthOK
}

// Export renders Prometheus text-format call counters, grounded on the
// teacher's PrometheusMetrics.Export.
func (m *Metrics) Export() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	b.WriteString("# HELP session_core_rpc_calls_total Total number of RPC calls\n")
	b.WriteString("# TYPE session_core_rpc_calls_total counter\n")
	for method, s := range m.methods {
		fmt.Fprintf(&b, "session_core_rpc_calls_total{method=%q,status=\"success\"} %d\n", method, s.calls-s.failures)
		fmt.Fprintf(&b, "session_core_rpc_calls_total{method=%q,status=\"failure\"} %d\n", method, s.failures)
	}
	return b.String()
}

func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods = make(map[string]*methodStats)
}

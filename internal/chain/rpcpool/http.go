package rpcpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/resilience"
	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

// HTTPClient implements Client over a list of HTTP(S) JSON-RPC endpoints,
// advancing to the next endpoint when the current one's breaker is open or
// its call fails after retries; a contract revert is returned as is,
// without trying another endpoint (§4.1).
type HTTPClient struct {
	chainID   int64
	endpoints []string
	breakers  *resilience.Registry
	retry     resilience.RetryPolicy
	http      *http.Client
	requestID atomic.Int64
	log       *zap.SugaredLogger
	metrics   *chain.Metrics
}

// NewHTTPClient builds a failover-capable RPC client. endpoints are tried
// in declared order; a provider API key, if present in the endpoint URL
// already (e.g. an Alchemy URL with the key embedded), requires no special
// handling here — callers construct per-provider URLs before passing them
// in, matching how the teacher's alchemy provider composes its base URL.
func NewHTTPClient(chainID int64, endpoints []string, timeout time.Duration, log *zap.SugaredLogger) (*HTTPClient, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("rpcpool: at least one endpoint is required")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HTTPClient{
		chainID:   chainID,
		endpoints: endpoints,
		breakers:  resilience.NewRegistry(),
		retry:     resilience.DefaultRetryPolicy(),
		http:      &http.Client{Timeout: timeout},
		log:       log,
		metrics:   chain.NewMetrics(),
	}, nil
}

// Metrics exposes the client's RPC call metrics (GetHealthStatus, and
// Export for Prometheus text format).
func (c *HTTPClient) Metrics() *chain.Metrics { return c.metrics }

func (c *HTTPClient) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var lastErr error

	for _, endpoint := range c.endpoints {
		breaker := c.breakers.Get(endpoint)
		if !breaker.Allow() {
			continue
		}

		var result json.RawMessage
		start := time.Now()
		err := c.retry.Do(ctx, isTransient, func() error {
			r, callErr := c.callEndpoint(ctx, endpoint, method, params)
			if callErr == nil {
				result = r
			}
			return callErr
		})
		c.metrics.RecordRPCCall(method, time.Since(start), err == nil)

		if err == nil {
			breaker.RecordSuccess()
			return result, nil
		}
		if xe, ok := err.(*xerrors.Error); ok && xe.Subkind == xerrors.ChainReverted {
			breaker.RecordSuccess()
			return nil, err
		}

		breaker.RecordFailure()
		lastErr = err
		c.log.Warnw("rpc endpoint failed, advancing to next", "endpoint", endpoint, "method", method, "error", err)
	}

	return nil, xerrors.ChainUnreachable(c.chainID).WithCause(lastErr)
}

func (c *HTTPClient) callEndpoint(ctx context.Context, endpoint, method string, params []interface{}) (json.RawMessage, error) {
	reqID := c.requestID.Add(1)
	body, err := json.Marshal(jsonrpcEnvelope{JSONRPC: "2.0", ID: reqID, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, xerrors.ChainTransient("CHAIN_RPC_TRANSPORT", err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.ChainTransient("CHAIN_RPC_READ", err.Error(), err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, xerrors.ChainTransient("CHAIN_RPC_STATUS",
			fmt.Sprintf("rpc endpoint returned HTTP %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc endpoint returned HTTP %d: %s", resp.StatusCode, string(raw))
	}

	var envelope jsonrpcEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("parse rpc response: %w", err)
	}
	if envelope.Error != nil {
		return nil, classifyRPCError(envelope.Error)
	}
	return envelope.Result, nil
}

// classifyRPCError maps JSON-RPC error codes to the fatal/transient split.
// -32000..-32099 is the server-error range EVM nodes use for mempool
// congestion and similar transient conditions; everything else (bad
// params, method not found, or a contract revert surfaced as -32000 with
// "revert" in the message) is fatal.
func classifyRPCError(e *RPCError) error {
	if strings.Contains(strings.ToLower(e.Message), "revert") {
		return xerrors.ChainRevertedErr(e.Message, e)
	}
	if e.Code >= -32099 && e.Code <= -32000 {
		return xerrors.ChainTransient("CHAIN_RPC_SERVER_ERROR", e.Message, e)
	}
	return xerrors.ChainRevertedErr(e.Message, e)
}

func isTransient(err error) bool {
	xe, ok := err.(*xerrors.Error)
	if !ok {
		return false
	}
	return xe.Retryable
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

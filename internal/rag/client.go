package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/session"
	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

// Client attaches session-scoped knowledge operations to an active
// session.Engine. One Client exists per session, mirroring the Engine's
// own per-session lifetime; its uploadedCount resets to zero whenever the
// caller passes replace=true, matching the host's own non-persistent
// per-session vector store (§4.8's last line: vectors are destroyed on
// disconnect, so client-side accounting never needs to survive one).
type Client struct {
	engine  *session.Engine
	http    *http.Client
	apiURL  string
	chainID int64
	log     *zap.SugaredLogger

	mu            sync.Mutex
	uploadedCount int
}

func NewClient(engine *session.Engine, apiURL string, chainID int64, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		engine:  engine,
		http:    &http.Client{Timeout: 30 * time.Second},
		apiURL:  apiURL,
		chainID: chainID,
		log:     log,
	}
}

// postJSON POSTs body as JSON to {apiURL}{path} and decodes the response
// into out. A 503 response (model not loaded, per §6.1) is surfaced as a
// HostModelNotLoaded error so callers can distinguish it from a
// transport failure.
func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rag: marshal request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("rag: build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rag: call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return xerrors.New(xerrors.KindHost, xerrors.HostModelNotLoaded, "RAG_MODEL_NOT_LOADED",
			fmt.Sprintf("host model not loaded for %s", path), true, nil)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rag: %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type embedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// embed calls the host's /v1/embed endpoint for a single input string.
func (c *Client) embed(ctx context.Context, input string) ([]float32, error) {
	var resp embedResponse
	if err := c.postJSON(ctx, "/v1/embed", embedRequest{Input: input, Model: embedModel}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("rag: embed returned no vectors for input")
	}
	return resp.Data[0].Embedding, nil
}

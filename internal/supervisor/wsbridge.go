package supervisor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/auditlog"
	"github.com/fabricmesh/inference-session-core/internal/chain"
	"github.com/fabricmesh/inference-session-core/internal/payment"
)

// EventBridge connects to the inference subprocess's local WebSocket and
// translates session lifecycle events into proof submissions (§4.9).
// Grounded on internal/session's own Transport/ReadFrame split, simplified
// to a read-only observer since the supervisor never writes frames back.
type EventBridge struct {
	localWSURL string
	payments   *payment.Manager
	profile    chain.GasProfile
	log        *zap.SugaredLogger
	audit      *auditlog.Logger

	mu              sync.Mutex
	proofIntervalBy map[int64]time.Duration
}

func NewEventBridge(localWSURL string, payments *payment.Manager, profile chain.GasProfile, audit *auditlog.Logger, log *zap.SugaredLogger) *EventBridge {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EventBridge{
		localWSURL:      localWSURL,
		payments:        payments,
		profile:         profile,
		audit:           audit,
		log:             log,
		proofIntervalBy: make(map[int64]time.Duration),
	}
}

func (b *EventBridge) record(entry auditlog.Entry) {
	if b.audit == nil {
		return
	}
	entry.Timestamp = time.Now()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if err := b.audit.Record(entry); err != nil {
		b.log.Warnw("supervisor: audit log write failed", "error", err)
	}
}

// Run connects and dispatches events until ctx is cancelled or the
// connection drops; callers typically retry Run via their own restart
// policy (the subprocess's own restart already triggers a fresh Run from
// onReady in Process.RunSupervised).
func (b *EventBridge) Run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.localWSURL, nil)
	if err != nil {
		return errors.Wrap(err, "supervisor: dial inference subprocess event socket")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "supervisor: read inference subprocess event")
		}

		var evt SessionLifecycleEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			b.log.Warnw("supervisor: malformed subprocess event", "error", err)
			continue
		}
		b.handle(ctx, evt)
	}
}

func (b *EventBridge) handle(ctx context.Context, evt SessionLifecycleEvent) {
	switch evt.Type {
	case "session-request":
		b.log.Debugw("supervisor: session requested", "sessionId", evt.SessionID)

	case "session-start":
		b.mu.Lock()
		b.proofIntervalBy[evt.SessionID] = time.Duration(evt.ProofIntervalSec) * time.Second
		b.mu.Unlock()
		b.log.Infow("supervisor: session started", "sessionId", evt.SessionID, "proofIntervalSeconds", evt.ProofIntervalSec)
		b.record(auditlog.Entry{SessionID: evt.SessionID, Operation: "session-start", Status: "SUCCESS"})

	case "session-end":
		b.mu.Lock()
		delete(b.proofIntervalBy, evt.SessionID)
		b.mu.Unlock()
		b.log.Infow("supervisor: session ended", "sessionId", evt.SessionID)
		b.record(auditlog.Entry{SessionID: evt.SessionID, Operation: "session-end", Status: "SUCCESS"})

	case "inference-complete":
		correlationID := uuid.New().String()
		b.log.Debugw("supervisor: forwarding proof", "sessionId", evt.SessionID, "checkpointIndex", evt.CheckpointIndex, "correlationId", correlationID)
		if err := b.forwardProof(ctx, evt); err != nil {
			b.log.Errorw("supervisor: proof submission failed", "sessionId", evt.SessionID, "checkpointIndex", evt.CheckpointIndex, "correlationId", correlationID, "error", err)
			b.record(auditlog.Entry{SessionID: evt.SessionID, Operation: "proof-failed", Status: "FAILURE", FailureReason: err.Error(), CorrelationID: correlationID, CheckpointIndex: evt.CheckpointIndex})
		} else {
			b.record(auditlog.Entry{SessionID: evt.SessionID, Operation: "proof-submitted", Status: "SUCCESS", CorrelationID: correlationID, CheckpointIndex: evt.CheckpointIndex})
		}

	default:
		b.log.Debugw("supervisor: ignoring unrecognized subprocess event", "type", evt.Type)
	}
}

func (b *EventBridge) forwardProof(ctx context.Context, evt SessionLifecycleEvent) error {
	proofBlob, err := hex.DecodeString(evt.ProofBlobHex)
	if err != nil {
		return fmt.Errorf("decode proof blob: %w", err)
	}
	return b.payments.SubmitProof(ctx, evt.SessionID, evt.CheckpointIndex, evt.TokenCount, proofBlob, b.profile)
}

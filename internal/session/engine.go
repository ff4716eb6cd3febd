// Package session implements the per-session state machine, WebSocket
// transport, and encrypted frame exchange of §4.6. One Engine exists per
// active session; the caller (cmd/sessionctl, or the host-side
// supervisor) owns the goroutine that calls Run.
package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fabricmesh/inference-session-core/internal/cryptox"
	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

const (
	sessionInitTimeout   = 30 * time.Second
	uploadVectorsTimeout = 30 * time.Second
	searchVectorsTimeout = 10 * time.Second
)

// streamIdleTimeout is a var, not a const, so tests can shrink the stall
// window instead of sleeping 60 real seconds.
var streamIdleTimeout = 60 * time.Second

// errSessionClosedByPeer signals the host ended the session cleanly
// (session_close received); the caller should proceed to settlement
// rather than treat this as a failure.
var errSessionClosedByPeer = errors.New("session: closed by peer")

// Engine drives one session's lifecycle: it owns the WebSocket transport,
// the state machine, and the single-writer frame-ordering rules of §4.6.
// All inbound frames are processed by the goroutine running Run, in
// arrival order; callers invoking SendPrompt/SendUploadVectors/etc. from
// other goroutines only enqueue writes, they never mutate engine state
// directly.
type Engine struct {
	sessionID int64
	transport Transport
	machine   *Machine

	localKey   *ecdsa.PrivateKey
	peerPubKey *ecdsa.PublicKey
	sessionKey []byte
	replay     *cryptox.ReplayWindow

	sendIndex atomic.Int64

	mu              sync.Mutex
	outstandingTurn int64
	streamActive    bool
	stallDeadline   time.Time

	pendingMu sync.Mutex
	pending   map[int64]chan RawMessage

	onChunk            func(StreamChunkPayload)
	onStreamEnd        func(StreamEndPayload)
	onError            func(ErrorPayload)
	onCheckpointNotice func(CheckpointNoticePayload)

	log *zap.SugaredLogger
}

// Callbacks groups the Engine's inbound event hooks; any may be nil.
type Callbacks struct {
	OnChunk            func(StreamChunkPayload)
	OnStreamEnd        func(StreamEndPayload)
	OnError            func(ErrorPayload)
	OnCheckpointNotice func(CheckpointNoticePayload)
}

// NewEngine constructs an Engine for sessionID over transport, with
// localKey as both the ECDSA identity used to sign outbound envelopes
// and the ECDH key used to derive the shared session key (the registry
// records a single static public key per host, §3, so the core does not
// separate the two roles).
func NewEngine(sessionID int64, transport Transport, localKey *ecdsa.PrivateKey, cb Callbacks, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		sessionID:          sessionID,
		transport:          transport,
		machine:            NewMachine(),
		localKey:           localKey,
		replay:             cryptox.NewReplayWindow(),
		pending:            make(map[int64]chan RawMessage),
		onChunk:            cb.OnChunk,
		onStreamEnd:        cb.OnStreamEnd,
		onError:            cb.OnError,
		onCheckpointNotice: cb.OnCheckpointNotice,
		log:                log,
	}
}

func (e *Engine) State() State { return e.machine.Current() }

// MarkEscrowPosted and MarkHostClaimed advance the pre-transport part of
// the lifecycle; they are driven by internal/payment and internal/discovery
// observations, not by frames.
func (e *Engine) MarkEscrowPosted() error { return e.machine.Apply(EventEscrowPosted) }
func (e *Engine) MarkHostClaimed() error  { return e.machine.Apply(EventHostClaimed) }

// Connect performs the session_init/session_ready handshake and derives
// the shared session key, then transitions Claimed -> Active.
func (e *Engine) Connect(ctx context.Context) error {
	handshakeCtx, cancel := context.WithTimeout(ctx, sessionInitTimeout)
	defer cancel()

	initPayload, err := json.Marshal(SessionInitPayload{
		SessionID:    e.sessionID,
		ClientPubKey: cryptox.PublicKeyToBytes(&e.localKey.PublicKey),
	})
	if err != nil {
		return fmt.Errorf("session: marshal session_init: %w", err)
	}
	if err := e.transport.WriteFrame(handshakeCtx, WireFrame{Type: FrameSessionInit, Payload: initPayload}); err != nil {
		return fmt.Errorf("session: send session_init: %w", err)
	}

	frame, err := e.transport.ReadFrame(handshakeCtx)
	if err != nil {
		return fmt.Errorf("session: await session_ready: %w", err)
	}
	if frame.Type != FrameSessionReady {
		return xerrors.Validation(fmt.Sprintf("session: expected session_ready, got %s", frame.Type))
	}

	var ready SessionReadyPayload
	if err := json.Unmarshal(frame.Payload, &ready); err != nil {
		return fmt.Errorf("session: decode session_ready: %w", err)
	}

	peerPub, err := cryptox.PublicKeyFromBytes(ready.HostPubKey)
	if err != nil {
		return fmt.Errorf("session: parse host public key: %w", err)
	}
	e.peerPubKey = peerPub

	sessionKey, err := cryptox.DeriveSharedKey(e.localKey, peerPub, cryptox.SessionKeyInfo(fmt.Sprintf("%d", e.sessionID)))
	if err != nil {
		return fmt.Errorf("session: derive session key: %w", err)
	}
	e.sessionKey = sessionKey

	return e.machine.Apply(EventSessionReady)
}

// SendPrompt encrypts and sends a prompt frame, assigning it the index
// the host must echo on every stream_chunk belonging to this turn.
func (e *Engine) SendPrompt(ctx context.Context, prompt string, promptContext []string) error {
	payload := PromptPayload{Prompt: prompt, Context: promptContext}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	idx := e.sendIndex.Add(1)
	frameType := FramePrompt
	if len(promptContext) > 0 {
		frameType = FramePromptWithContext
	}

	env, err := cryptox.Encrypt(e.sessionKey, e.localKey, e.sessionID, idx, time.Now().UnixMilli(), raw)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.outstandingTurn = idx
	e.streamActive = true
	e.stallDeadline = time.Now().Add(streamIdleTimeout)
	e.mu.Unlock()

	if err := e.transport.WriteFrame(ctx, WireFrame{Type: frameType, Index: idx, Envelope: env}); err != nil {
		return err
	}
	return e.machine.Apply(EventPromptStreaming)
}

// SendUploadVectors sends an upload_vectors frame and blocks for its ack
// or the 30s timeout of §4.6.
func (e *Engine) SendUploadVectors(ctx context.Context, vectors []VectorEntry, replace bool) (UploadVectorsAckPayload, error) {
	var ack UploadVectorsAckPayload
	raw, err := e.call(ctx, FrameUploadVectors, UploadVectorsPayload{Vectors: vectors, Replace: replace}, uploadVectorsTimeout)
	if err != nil {
		return ack, err
	}
	err = json.Unmarshal(raw, &ack)
	return ack, err
}

// SendSearchVectors sends a search_vectors frame and blocks for its
// result or the 10s timeout of §4.6.
func (e *Engine) SendSearchVectors(ctx context.Context, query []float32, k int, threshold float64) (SearchVectorsResultPayload, error) {
	var result SearchVectorsResultPayload
	raw, err := e.call(ctx, FrameSearchVectors, SearchVectorsPayload{Query: query, K: k, Threshold: threshold}, searchVectorsTimeout)
	if err != nil {
		return result, err
	}
	err = json.Unmarshal(raw, &result)
	return result, err
}

// call sends a request frame and waits for the correspondingly-indexed
// response, grounded on the teacher's pendingCalls/respChan pattern in
// WebSocketRPCClient.Call, adapted from JSON-RPC request IDs to this
// protocol's per-message index.
func (e *Engine) call(ctx context.Context, frameType FrameType, payload interface{}, timeout time.Duration) (RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	idx := e.sendIndex.Add(1)
	env, err := cryptox.Encrypt(e.sessionKey, e.localKey, e.sessionID, idx, time.Now().UnixMilli(), raw)
	if err != nil {
		return nil, err
	}

	respCh := make(chan RawMessage, 1)
	e.pendingMu.Lock()
	e.pending[idx] = respCh
	e.pendingMu.Unlock()
	defer func() {
		e.pendingMu.Lock()
		delete(e.pending, idx)
		e.pendingMu.Unlock()
	}()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.transport.WriteFrame(callCtx, WireFrame{Type: frameType, Index: idx, Envelope: env}); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

// Pause and Resume implement the local-pause/resume transitions; they do
// not themselves send a frame, since pausing is a client-local scheduling
// decision under §4.6's cooperative model.
func (e *Engine) Pause() error  { return e.machine.Apply(EventLocalPause) }
func (e *Engine) Resume() error { return e.machine.Apply(EventResume) }

// Close sends a best-effort session_close frame, transitions to
// Draining, and closes the transport. The caller is responsible for
// triggering completeSession on-chain afterward (§4.6).
func (e *Engine) Close(ctx context.Context) error {
	payload, _ := json.Marshal(SessionClosePayload{Reason: "user_close"})
	_ = e.transport.WriteFrame(ctx, WireFrame{Type: FrameSessionClose, Payload: payload})

	if err := e.machine.Apply(EventUserClose); err != nil {
		return err
	}
	return e.transport.Close()
}

// Run processes inbound frames in arrival order until the transport
// closes, a fatal error occurs, or ctx is cancelled. It returns
// errSessionClosedByPeer (not an error to most callers) when the host
// ends the session cleanly.
func (e *Engine) Run(ctx context.Context) error {
	for {
		readCtx, cancel := e.nextReadContext(ctx)
		frame, err := e.transport.ReadFrame(readCtx)
		cancel()
		if err != nil {
			if e.streamIsStalled(err, ctx) {
				stallErr := xerrors.StallErr(e.sessionID)
				_ = e.machine.Apply(EventFatalError)
				return stallErr
			}
			_ = e.machine.Apply(EventDisconnect)
			return err
		}

		if err := e.dispatch(frame); err != nil {
			if errors.Is(err, errSessionClosedByPeer) {
				return err
			}
			e.log.Warnw("session: fatal error processing frame", "type", frame.Type, "error", err)
			_ = e.machine.Apply(EventFatalError)
			return err
		}
	}
}

func (e *Engine) nextReadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	e.mu.Lock()
	active, deadline := e.streamActive, e.stallDeadline
	e.mu.Unlock()
	if !active {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}

func (e *Engine) streamIsStalled(readErr error, parent context.Context) bool {
	if parent.Err() != nil {
		return false
	}
	e.mu.Lock()
	active := e.streamActive
	e.mu.Unlock()
	return active && errors.Is(readErr, context.DeadlineExceeded)
}

// decode returns the canonical message index and decrypted (or
// plaintext) payload of an inbound frame, enforcing the replay check for
// encrypted frames.
func (e *Engine) decode(frame WireFrame) (int64, []byte, error) {
	if !frame.encrypted() {
		return frame.Index, frame.Payload, nil
	}
	if frame.Envelope == nil {
		return 0, nil, xerrors.Validation("encrypted frame missing envelope")
	}

	plaintext, err := cryptox.Decrypt(e.sessionKey, e.peerPubKey, frame.Envelope, time.Now())
	if err != nil {
		return 0, nil, err
	}
	if err := e.replay.Check(e.sessionID, frame.Envelope.MessageIndex); err != nil {
		return 0, nil, err
	}
	return frame.Envelope.MessageIndex, plaintext, nil
}

func (e *Engine) dispatch(frame WireFrame) error {
	idx, payload, err := e.decode(frame)
	if err != nil {
		return err
	}

	switch frame.Type {
	case FrameStreamChunk:
		e.mu.Lock()
		active, turn := e.streamActive, e.outstandingTurn
		e.mu.Unlock()
		if !active || idx != turn {
			return xerrors.Validation(fmt.Sprintf("stream_chunk index %d does not match outstanding turn %d (active=%v)", idx, turn, active))
		}

		var chunk StreamChunkPayload
		if err := json.Unmarshal(payload, &chunk); err != nil {
			return err
		}
		e.mu.Lock()
		e.stallDeadline = time.Now().Add(streamIdleTimeout)
		e.mu.Unlock()
		if e.onChunk != nil {
			e.onChunk(chunk)
		}

	case FrameStreamEnd:
		e.mu.Lock()
		turn := e.outstandingTurn
		e.streamActive = false
		e.mu.Unlock()
		if idx != turn {
			return xerrors.Validation(fmt.Sprintf("stream_end index %d does not match outstanding turn %d", idx, turn))
		}
		var end StreamEndPayload
		if err := json.Unmarshal(payload, &end); err != nil {
			return err
		}
		if e.onStreamEnd != nil {
			e.onStreamEnd(end)
		}

	case FrameError:
		var errPayload ErrorPayload
		if err := json.Unmarshal(payload, &errPayload); err != nil {
			return err
		}
		if e.onError != nil {
			e.onError(errPayload)
		}

	case FrameCheckpointNotice:
		var notice CheckpointNoticePayload
		if err := json.Unmarshal(payload, &notice); err != nil {
			return err
		}
		if e.onCheckpointNotice != nil {
			e.onCheckpointNotice(notice)
		}

	case FrameUploadVectorsAck, FrameSearchVectorsResult:
		e.pendingMu.Lock()
		ch, ok := e.pending[idx]
		e.pendingMu.Unlock()
		if ok {
			ch <- payload
		}

	case FrameSessionClose:
		_ = e.machine.Apply(EventDisconnect)
		return errSessionClosedByPeer

	default:
		e.log.Debugw("session: ignoring unrecognized frame type", "type", frame.Type)
	}

	return nil
}

package cryptox

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

// clockSkewBudget bounds how far an envelope's timestamp may drift from
// the local clock before it is rejected as a possible replay (§4.4).
const clockSkewBudget = 5 * time.Minute

// Envelope is the wire form of a single encrypted session message (§4.4):
// a sender-signed, AEAD-sealed frame bound to a specific session and
// monotonically increasing message index so a replayed frame is detectable
// even if the transport delivers it twice.
type Envelope struct {
	SessionID    int64
	MessageIndex int64
	TimestampMs  int64
	Ciphertext   []byte // nonce-prefixed AEAD output, see Seal
	Signature    []byte // 65-byte ECDSA signature over aad||ciphertext
}

// aad builds the authenticated-but-unencrypted header bound into the AEAD
// tag: {sessionId, messageIndex, timestampMs}. A mutation of any of these
// three fields by a relay fails AEAD authentication even though none of
// them is itself encrypted.
func aad(sessionID, messageIndex, timestampMs int64) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], uint64(sessionID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(messageIndex))
	binary.BigEndian.PutUint64(buf[16:24], uint64(timestampMs))
	return buf
}

// Encrypt seals plaintext into an Envelope timestamped at timestampMs and
// signs it with priv. Callers supply the timestamp rather than this
// package reading the clock, so tests are deterministic and recovery code
// can re-seal historical deltas with their original timestamp.
func Encrypt(key []byte, priv *ecdsa.PrivateKey, sessionID, messageIndex, timestampMs int64, plaintext []byte) (*Envelope, error) {
	header := aad(sessionID, messageIndex, timestampMs)
	sealed, err := Seal(key, plaintext, header)
	if err != nil {
		return nil, fmt.Errorf("cryptox: seal envelope: %w", err)
	}

	signPayload := append(append([]byte{}, header...), sealed...)
	sig, err := SignEnvelope(priv, signPayload)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		SessionID:    sessionID,
		MessageIndex: messageIndex,
		TimestampMs:  timestampMs,
		Ciphertext:   sealed,
		Signature:    sig,
	}, nil
}

// EncryptWithSigner is Encrypt for callers that hold a signing capability
// rather than a raw private key, e.g. internal/session's Engine talking
// to an identity.Signer. sign receives header||ciphertext and must
// return the same 65-byte ECDSA signature form SignEnvelope produces.
func EncryptWithSigner(key []byte, sign func([]byte) ([]byte, error), sessionID, messageIndex, timestampMs int64, plaintext []byte) (*Envelope, error) {
	header := aad(sessionID, messageIndex, timestampMs)
	sealed, err := Seal(key, plaintext, header)
	if err != nil {
		return nil, fmt.Errorf("cryptox: seal envelope: %w", err)
	}

	signPayload := append(append([]byte{}, header...), sealed...)
	sig, err := sign(signPayload)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		SessionID:    sessionID,
		MessageIndex: messageIndex,
		TimestampMs:  timestampMs,
		Ciphertext:   sealed,
		Signature:    sig,
	}, nil
}

// Decrypt verifies env's signature against senderPub, checks its timestamp
// against now within clockSkewBudget, and opens the ciphertext with key.
func Decrypt(key []byte, senderPub *ecdsa.PublicKey, env *Envelope, now time.Time) ([]byte, error) {
	skew := now.Sub(time.UnixMilli(env.TimestampMs))
	if skew > clockSkewBudget || skew < -clockSkewBudget {
		return nil, xerrors.New(xerrors.KindEncryption, "ClockSkew", "ENVELOPE_CLOCK_SKEW",
			"envelope timestamp is outside the accepted clock skew window", false, nil)
	}

	header := aad(env.SessionID, env.MessageIndex, env.TimestampMs)
	signPayload := append(append([]byte{}, header...), env.Ciphertext...)

	ok, err := VerifyEnvelope(signPayload, env.Signature, senderPub)
	if err != nil {
		return nil, fmt.Errorf("cryptox: verify envelope signature: %w", err)
	}
	if !ok {
		return nil, xerrors.New(xerrors.KindEncryption, "InvalidSignature", "ENVELOPE_BAD_SIGNATURE",
			"envelope signature does not match expected sender", false, nil)
	}

	plaintext, err := Open(key, env.Ciphertext, header)
	if err != nil {
		return nil, xerrors.New(xerrors.KindEncryption, "OpenFailed", "ENVELOPE_OPEN_FAILED",
			"envelope could not be decrypted", false, err)
	}
	return plaintext, nil
}

// ReplayWindow tracks, per session, the highest messageIndex processed so
// far. Per §4.4 an envelope is rejected if its index is ≤ the last
// processed one, not merely if it is an exact duplicate — a session's
// message stream is expected to be strictly increasing end to end.
type ReplayWindow struct {
	mu   sync.Mutex
	last map[int64]int64
}

func NewReplayWindow() *ReplayWindow {
	return &ReplayWindow{last: make(map[int64]int64)}
}

// Check returns an error if messageIndex is not strictly greater than the
// last index processed for sessionID, otherwise records it and returns nil.
func (w *ReplayWindow) Check(sessionID, messageIndex int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	last, ok := w.last[sessionID]
	if ok && messageIndex <= last {
		return xerrors.Replay(sessionID, messageIndex)
	}
	w.last[sessionID] = messageIndex
	return nil
}

func (w *ReplayWindow) Forget(sessionID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.last, sessionID)
}

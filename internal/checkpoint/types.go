// Package checkpoint implements the publish-before-submit checkpointing
// protocol and the client-side recovery algorithm of §4.7: a host
// periodically seals the conversation segment proven by its latest
// on-chain proof into an encrypted delta, and a client that lost a clean
// session close can reconstruct the full conversation purely from storage
// and the chain's proof log.
package checkpoint

import "encoding/json"

// Message is one turn of a recovered conversation. Role mirrors the
// session engine's prompt/stream_chunk distinction collapsed to the two
// values a delta ever records.
type Message struct {
	Role    string `json:"role"` // "user" | "assistant"
	Content string `json:"content"`
}

// TokenRange is the half-open-by-convention [Start, End) span of tokens a
// delta accounts for; CheckpointDelta.ProofHash covers exactly this range.
type TokenRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// CheckpointDelta is the plaintext content sealed for the client at each
// proof boundary. ProofHash MUST equal the proofHash of the on-chain
// ProofSubmission for the same (SessionID, Index) pair — that equality is
// exactly what recovery's step 3 checks before trusting the delta.
type CheckpointDelta struct {
	SessionID  int64      `json:"sessionId"`
	Index      int64      `json:"index"`
	Messages   []Message  `json:"messages"`
	TokenRange TokenRange `json:"tokenRange"`
	ProofHash  [32]byte   `json:"proofHash"`
}

// signedDelta is the wire/storage form of a CheckpointDelta: the delta
// itself sealed under the session's symmetric key (cryptox.Seal), with a
// host ECDSA signature over the sealed bytes so a recoverer can catch a
// tampered or substituted blob before ever decrypting it.
type signedDelta struct {
	Sealed    []byte `json:"sealed"`
	Signature []byte `json:"signature"`
}

// CheckpointIndexEntry is one line of the per-session index: which delta
// exists at which position, and the proofHash a recoverer must find on
// chain before trusting that delta.
type CheckpointIndexEntry struct {
	Index     int64    `json:"index"`
	ProofHash [32]byte `json:"proofHash"`
}

// CheckpointIndex is the append-only ledger of a session's published
// deltas, signed as a whole by the host so a single signature check
// authenticates the entire list before any delta is fetched.
type CheckpointIndex struct {
	SessionID int64                   `json:"sessionId"`
	Host      string                  `json:"host"`
	Entries   []CheckpointIndexEntry  `json:"entries"`
}

type signedIndex struct {
	Index     CheckpointIndex `json:"index"`
	Signature []byte          `json:"signature"`
}

// canonicalBytes is the exact byte sequence signatures are computed over.
// Using json.Marshal directly (rather than a handwritten canonicalizer) is
// safe here because both signer and verifier are this package's own types
// with stable field order, never round-tripped through an intermediate
// representation that could reorder map keys.
func canonicalBytes(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// RecoveredConversation is the result of RecoverFromCheckpoints: the
// reconstructed message list and the total token count the session's
// on-chain proofs accounted for.
type RecoveredConversation struct {
	Messages   []Message
	TokenCount int64
}

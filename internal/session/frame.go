package session

import (
	"github.com/fabricmesh/inference-session-core/internal/cryptox"
)

// FrameType enumerates the wire frame kinds of §4.6.
type FrameType string

const (
	FrameSessionInit          FrameType = "session_init"
	FrameSessionReady         FrameType = "session_ready"
	FramePrompt               FrameType = "prompt"
	FramePromptWithContext    FrameType = "prompt_with_context"
	FrameStreamChunk          FrameType = "stream_chunk"
	FrameStreamEnd            FrameType = "stream_end"
	FrameError                FrameType = "error"
	FrameUploadVectors        FrameType = "upload_vectors"
	FrameUploadVectorsAck     FrameType = "upload_vectors_ack"
	FrameSearchVectors        FrameType = "search_vectors"
	FrameSearchVectorsResult  FrameType = "search_vectors_result"
	FrameCheckpointNotice     FrameType = "checkpoint_notice"
	FrameSessionClose         FrameType = "session_close"
)

// plaintextFrameTypes never carry an encrypted payload: session_init and
// session_ready are exchanged before the ECDH handshake completes, so
// there is no shared key yet to encrypt them with.
var plaintextFrameTypes = map[FrameType]bool{
	FrameSessionInit:  true,
	FrameSessionReady: true,
}

// WireFrame is the on-the-wire envelope. Encrypted variants populate
// Envelope and leave Payload nil; plaintext variants (the handshake
// frames) populate Payload directly.
type WireFrame struct {
	Type     FrameType         `json:"type"`
	Index    int64             `json:"index"`
	Payload  RawMessage        `json:"payload,omitempty"`
	Envelope *cryptox.Envelope `json:"envelope,omitempty"`
}

func (f WireFrame) encrypted() bool {
	return !plaintextFrameTypes[f.Type]
}

// SessionInitPayload carries the client's ephemeral ECDH public key so
// the host can derive the shared session key before any prompt data is
// exchanged.
type SessionInitPayload struct {
	SessionID    int64  `json:"sessionId"`
	ClientPubKey []byte `json:"clientPubKey"`
}

type SessionReadyPayload struct {
	HostPubKey []byte `json:"hostPubKey"`
}

type PromptPayload struct {
	Prompt  string   `json:"prompt"`
	Context []string `json:"context,omitempty"`
}

type StreamChunkPayload struct {
	Token        string `json:"token"`
	FinishReason string `json:"finishReason,omitempty"`
}

type StreamEndPayload struct {
	TotalTokens int64 `json:"totalTokens"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VectorEntry is one item of an upload_vectors frame: a caller-assigned ID,
// its fixed-dimension embedding, and arbitrary metadata echoed back on
// search.
type VectorEntry struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type UploadVectorsPayload struct {
	Vectors []VectorEntry `json:"vectors"`
	Replace bool          `json:"replace"`
}

type UploadVectorsAckPayload struct {
	Count  int    `json:"uploaded"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type SearchVectorsPayload struct {
	Query     []float32 `json:"queryVector"`
	K         int       `json:"k"`
	Threshold float64   `json:"threshold"`
}

type VectorMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type SearchVectorsResultPayload struct {
	Matches []VectorMatch `json:"matches"`
}

type CheckpointNoticePayload struct {
	CheckpointIndex int64 `json:"checkpointIndex"`
	TokenRangeEnd   int64 `json:"tokenRangeEnd"`
}

type SessionClosePayload struct {
	Reason string `json:"reason,omitempty"`
}

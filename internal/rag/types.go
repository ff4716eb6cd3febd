// Package rag implements session-scoped knowledge attachment (§4.8):
// vector upload/search over a host's per-session store, the
// ask-with-context convenience prompt, and the parallel OCR/
// describe-image fan-out for attached images. Every operation rides on
// top of an already-connected internal/session.Engine — this package adds
// no transport of its own beyond the plain HTTP calls to the host's
// embed/ocr/describe-image endpoints (§6.1), which sit outside the
// encrypted WebSocket protocol.
package rag

// Vector dimension and batching limits from §4.8.
const (
	VectorDimension      = 384
	MaxVectorsPerFrame   = 1000
	MaxVectorsPerSession = 100_000
	MinSearchK           = 1
	MaxSearchK           = 20
	DefaultThreshold     = 0.2
	embedModel           = "all-MiniLM-L6-v2"
	maxChunkRunes        = 1000
)

// Document is one caller-supplied item for UploadVectors: an embedding
// plus whatever metadata the caller wants echoed back on search (the
// convention this package uses internally is a "text" key holding the
// chunk's source text, which AskWithContext and image ingestion rely on
// to rebuild the augmented prompt).
type Document struct {
	ID       string
	Vector   []float32
	Metadata map[string]interface{}
}

// SearchHit is one ranked match from SearchVectors.
type SearchHit struct {
	ID       string
	Score    float64
	Metadata map[string]interface{}
}

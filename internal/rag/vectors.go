package rag

import (
	"context"
	"fmt"

	"github.com/fabricmesh/inference-session-core/internal/session"
	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

// UploadVectors batches docs into a single upload_vectors frame (§4.8).
// replace resets this client's running capacity count to zero before the
// new batch is applied, matching the host's own "replace" semantics.
func (c *Client) UploadVectors(ctx context.Context, sessionID int64, docs []Document, replace bool) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	if len(docs) > MaxVectorsPerFrame {
		return 0, xerrors.Validation(fmt.Sprintf("uploadVectors: batch of %d exceeds the %d-per-frame limit", len(docs), MaxVectorsPerFrame))
	}
	for _, d := range docs {
		if len(d.Vector) != VectorDimension {
			return 0, xerrors.Validation(fmt.Sprintf("uploadVectors: vector %q has dimension %d, want %d", d.ID, len(d.Vector), VectorDimension))
		}
	}

	c.mu.Lock()
	baseline := c.uploadedCount
	if replace {
		baseline = 0
	}
	projected := baseline + len(docs)
	if projected > MaxVectorsPerSession {
		c.mu.Unlock()
		return 0, xerrors.CapacityExceeded(sessionID, MaxVectorsPerSession, projected-MaxVectorsPerSession)
	}
	c.mu.Unlock()

	entries := make([]session.VectorEntry, len(docs))
	for i, d := range docs {
		entries[i] = session.VectorEntry{ID: d.ID, Vector: d.Vector, Metadata: d.Metadata}
	}

	ack, err := c.engine.SendUploadVectors(ctx, entries, replace)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if replace {
		c.uploadedCount = ack.Count
	} else {
		c.uploadedCount += ack.Count
	}
	c.mu.Unlock()

	return ack.Count, nil
}

// SearchVectors ranks stored vectors against query by cosine similarity,
// returning up to k matches above threshold. threshold < 0 selects the
// §4.8 default of 0.2.
func (c *Client) SearchVectors(ctx context.Context, query []float32, k int, threshold float64) ([]SearchHit, error) {
	if len(query) != VectorDimension {
		return nil, xerrors.Validation(fmt.Sprintf("searchVectors: query dimension %d, want %d", len(query), VectorDimension))
	}
	if k < MinSearchK || k > MaxSearchK {
		return nil, xerrors.Validation(fmt.Sprintf("searchVectors: k=%d outside [%d,%d]", k, MinSearchK, MaxSearchK))
	}
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	if threshold > 1 {
		return nil, xerrors.Validation(fmt.Sprintf("searchVectors: threshold %f outside [0,1]", threshold))
	}

	result, err := c.engine.SendSearchVectors(ctx, query, k, threshold)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, len(result.Matches))
	for i, m := range result.Matches {
		hits[i] = SearchHit{ID: m.ID, Score: m.Score, Metadata: m.Metadata}
	}
	return hits, nil
}

// AskWithContext embeds question on the host, searches the session's
// attached vectors, composes the augmented prompt of §4.8, and sends it
// down the normal prompt path.
func (c *Client) AskWithContext(ctx context.Context, sessionID int64, question string, topK int) error {
	queryVector, err := c.embed(ctx, question)
	if err != nil {
		return fmt.Errorf("rag: embed question: %w", err)
	}

	hits, err := c.SearchVectors(ctx, queryVector, topK, -1)
	if err != nil {
		return fmt.Errorf("rag: search context: %w", err)
	}

	return c.engine.SendPrompt(ctx, composeAugmentedPrompt(hits, question), nil)
}

func composeAugmentedPrompt(hits []SearchHit, question string) string {
	prompt := "Context:\n"
	for i, h := range hits {
		text, _ := h.Metadata["text"].(string)
		prompt += fmt.Sprintf("[Document %d] %s\n\n", i+1, text)
	}
	prompt += "Question: " + question
	return prompt
}

package rag

import (
	"context"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

type ocrRequest struct {
	ImageBase64 string `json:"imageBase64"`
	ChainID     int64  `json:"chainId"`
}

type ocrResponse struct {
	Text string `json:"text"`
}

type describeImageRequest struct {
	ImageBase64 string `json:"imageBase64"`
	ChainID     int64  `json:"chainId"`
}

type describeImageResponse struct {
	Description string `json:"description"`
}

// AttachImage runs OCR and image description on image in parallel, merges
// whatever content comes back, chunks it, embeds each chunk, and uploads
// the result as vectors for sessionID (§4.8). Either sub-call may fail
// independently; only both failing is fatal.
func (c *Client) AttachImage(ctx context.Context, sessionID int64, image []byte) (int, error) {
	encoded := base64.StdEncoding.EncodeToString(image)

	var description, text string
	var descErr, ocrErr error

	var group errgroup.Group
	group.Go(func() error {
		description, descErr = c.describeImage(ctx, encoded)
		return nil
	})
	group.Go(func() error {
		text, ocrErr = c.ocr(ctx, encoded)
		return nil
	})
	group.Wait()

	if descErr != nil && ocrErr != nil {
		return 0, xerrors.ImageProcessingFailed(fmt.Errorf("describe-image: %v; ocr: %v", descErr, ocrErr))
	}

	content := combineImageContent(description, descErr, text, ocrErr)
	if content == "" {
		return 0, xerrors.ImageProcessingFailed(fmt.Errorf("describe-image and ocr both returned empty content"))
	}

	chunks := chunkText(content, maxChunkRunes)
	docs := make([]Document, 0, len(chunks))
	for i, chunk := range chunks {
		vector, err := c.embed(ctx, chunk)
		if err != nil {
			return 0, fmt.Errorf("rag: embed image chunk %d: %w", i, err)
		}
		docs = append(docs, Document{
			ID:     fmt.Sprintf("image-%d", i),
			Vector: vector,
			Metadata: map[string]interface{}{
				"text":   chunk,
				"source": "image",
			},
		})
	}

	return c.UploadVectors(ctx, sessionID, docs, false)
}

func (c *Client) describeImage(ctx context.Context, encoded string) (string, error) {
	var resp describeImageResponse
	if err := c.postJSON(ctx, "/v1/describe-image", describeImageRequest{ImageBase64: encoded, ChainID: c.chainID}, &resp); err != nil {
		return "", err
	}
	return resp.Description, nil
}

func (c *Client) ocr(ctx context.Context, encoded string) (string, error) {
	var resp ocrResponse
	if err := c.postJSON(ctx, "/v1/ocr", ocrRequest{ImageBase64: encoded, ChainID: c.chainID}, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func combineImageContent(description string, descErr error, text string, ocrErr error) string {
	content := ""
	if descErr == nil && description != "" {
		content += "[Image Description]\n" + description
	}
	if ocrErr == nil && text != "" {
		if content != "" {
			content += "\n\n"
		}
		content += "[Extracted Text]\n" + text
	}
	return content
}

// chunkText splits content into rune-bounded chunks no longer than
// maxRunes, breaking on the nearest preceding whitespace when one exists
// within the chunk so words aren't split mid-token.
func chunkText(content string, maxRunes int) []string {
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return []string{content}
	}

	var chunks []string
	for len(runes) > 0 {
		end := maxRunes
		if end > len(runes) {
			end = len(runes)
		}
		if end < len(runes) {
			for i := end; i > 0; i-- {
				if runes[i-1] == ' ' || runes[i-1] == '\n' {
					end = i
					break
				}
			}
		}
		chunk := string(runes[:end])
		if utf8.RuneCountInString(chunk) > 0 {
			chunks = append(chunks, chunk)
		}
		runes = runes[end:]
	}
	return chunks
}

package rag

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/fabricmesh/inference-session-core/internal/cryptox"
	"github.com/fabricmesh/inference-session-core/internal/session"
	"github.com/fabricmesh/inference-session-core/internal/xerrors"
)

// fakeTransport mirrors internal/session's own test double: an in-memory
// Transport backed by a pair of channels, since session.Transport is the
// only seam for driving an Engine without a real websocket.
type fakeTransport struct {
	in  chan session.WireFrame
	out chan session.WireFrame
}

func newFakeTransportPair() (client session.Transport, host session.Transport) {
	c2h := make(chan session.WireFrame, 16)
	h2c := make(chan session.WireFrame, 16)
	return &fakeTransport{in: h2c, out: c2h}, &fakeTransport{in: c2h, out: h2c}
}

func (t *fakeTransport) ReadFrame(ctx context.Context) (session.WireFrame, error) {
	select {
	case f, ok := <-t.in:
		if !ok {
			return session.WireFrame{}, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return session.WireFrame{}, ctx.Err()
	}
}

func (t *fakeTransport) WriteFrame(ctx context.Context, f session.WireFrame) error {
	select {
	case t.out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *fakeTransport) Close() error { return nil }

func mustECDSAKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

// runHostHandshake mirrors internal/session's own handshake helper,
// returning the derived session key the test's fake host uses to
// encrypt/decrypt frames it exchanges with the Engine under test.
func runHostHandshake(t *testing.T, ctx context.Context, hostTransport session.Transport, hostKey *ecdsa.PrivateKey, sessionID int64) []byte {
	t.Helper()

	initFrame, err := hostTransport.ReadFrame(ctx)
	require.NoError(t, err)
	require.Equal(t, session.FrameSessionInit, initFrame.Type)

	var init session.SessionInitPayload
	require.NoError(t, json.Unmarshal(initFrame.Payload, &init))

	clientPub, err := cryptox.PublicKeyFromBytes(init.ClientPubKey)
	require.NoError(t, err)

	sessionKey, err := cryptox.DeriveSharedKey(hostKey, clientPub, cryptox.SessionKeyInfo(fmt.Sprintf("%d", sessionID)))
	require.NoError(t, err)

	readyPayload, err := json.Marshal(session.SessionReadyPayload{HostPubKey: cryptox.PublicKeyToBytes(&hostKey.PublicKey)})
	require.NoError(t, err)
	require.NoError(t, hostTransport.WriteFrame(ctx, session.WireFrame{Type: session.FrameSessionReady, Payload: readyPayload}))

	return sessionKey
}

func hostEncrypt(t *testing.T, hostKey *ecdsa.PrivateKey, sessionKey []byte, sessionID, index int64, frameType session.FrameType, payload interface{}) session.WireFrame {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	env, err := cryptox.Encrypt(sessionKey, hostKey, sessionID, index, time.Now().UnixMilli(), raw)
	require.NoError(t, err)
	return session.WireFrame{Type: frameType, Index: index, Envelope: env}
}

// newConnectedEngine drives a full session_init/session_ready handshake
// over an in-memory transport pair and returns the running Engine plus
// everything a test needs to act as the host for subsequent frames.
func newConnectedEngine(t *testing.T, ctx context.Context, sessionID int64) (engine *session.Engine, hostTransport session.Transport, hostKey *ecdsa.PrivateKey, sessionKey []byte) {
	t.Helper()
	clientKey := mustECDSAKey(t)
	hostKey = mustECDSAKey(t)
	clientTransport, ht := newFakeTransportPair()
	hostTransport = ht

	engine = session.NewEngine(sessionID, clientTransport, clientKey, session.Callbacks{}, nil)
	require.NoError(t, engine.MarkEscrowPosted())
	require.NoError(t, engine.MarkHostClaimed())

	keyCh := make(chan []byte, 1)
	go func() {
		keyCh <- runHostHandshake(t, ctx, hostTransport, hostKey, sessionID)
	}()

	require.NoError(t, engine.Connect(ctx))
	sessionKey = <-keyCh
	go engine.Run(ctx)

	return engine, hostTransport, hostKey, sessionKey
}

func TestUploadVectorsRejectsOversizedBatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	engine, _, _, _ := newConnectedEngine(t, ctx, 1)

	client := NewClient(engine, "http://unused", 1, nil)
	docs := make([]Document, MaxVectorsPerFrame+1)
	for i := range docs {
		docs[i] = Document{ID: fmt.Sprintf("d-%d", i), Vector: make([]float32, VectorDimension)}
	}

	_, err := client.UploadVectors(ctx, 1, docs, false)
	require.Error(t, err)
	var xe *xerrors.Error
	require.ErrorAs(t, err, &xe)
	require.Equal(t, xerrors.KindValidation, xe.Kind)
}

func TestUploadVectorsRejectsWrongDimension(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	engine, _, _, _ := newConnectedEngine(t, ctx, 2)

	client := NewClient(engine, "http://unused", 1, nil)
	_, err := client.UploadVectors(ctx, 2, []Document{{ID: "d-1", Vector: []float32{0.1, 0.2}}}, false)
	require.Error(t, err)
}

func TestUploadVectorsRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sessionID := int64(3)
	engine, hostTransport, hostKey, sessionKey := newConnectedEngine(t, ctx, sessionID)

	go func() {
		frame, err := hostTransport.ReadFrame(ctx)
		if err != nil {
			return
		}
		idx := frame.Envelope.MessageIndex
		ack := hostEncrypt(t, hostKey, sessionKey, sessionID, idx, session.FrameUploadVectorsAck, session.UploadVectorsAckPayload{Count: 1})
		_ = hostTransport.WriteFrame(ctx, ack)
	}()

	client := NewClient(engine, "http://unused", 1, nil)
	count, err := client.UploadVectors(ctx, sessionID, []Document{{ID: "doc-1", Vector: make([]float32, VectorDimension)}}, false)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestUploadVectorsRejectsSessionCapacityOverflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	engine, _, _, _ := newConnectedEngine(t, ctx, 6)

	client := NewClient(engine, "http://unused", 1, nil)
	client.uploadedCount = MaxVectorsPerSession - 1

	_, err := client.UploadVectors(ctx, 6, []Document{
		{ID: "a", Vector: make([]float32, VectorDimension)},
		{ID: "b", Vector: make([]float32, VectorDimension)},
	}, false)
	require.Error(t, err)
	var xe *xerrors.Error
	require.ErrorAs(t, err, &xe)
	require.Equal(t, xerrors.HostCapacityExceeded, xe.Subkind)
}

func TestSearchVectorsRejectsInvalidK(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	engine, _, _, _ := newConnectedEngine(t, ctx, 7)

	client := NewClient(engine, "http://unused", 1, nil)
	_, err := client.SearchVectors(ctx, make([]float32, VectorDimension), 0, -1)
	require.Error(t, err)
}

func TestSearchVectorsRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sessionID := int64(8)
	engine, hostTransport, hostKey, sessionKey := newConnectedEngine(t, ctx, sessionID)

	go func() {
		frame, err := hostTransport.ReadFrame(ctx)
		if err != nil {
			return
		}
		idx := frame.Envelope.MessageIndex
		result := session.SearchVectorsResultPayload{Matches: []session.VectorMatch{
			{ID: "doc-1", Score: 0.9, Metadata: map[string]any{"text": "hello world"}},
		}}
		ack := hostEncrypt(t, hostKey, sessionKey, sessionID, idx, session.FrameSearchVectorsResult, result)
		_ = hostTransport.WriteFrame(ctx, ack)
	}()

	client := NewClient(engine, "http://unused", 1, nil)
	hits, err := client.SearchVectors(ctx, make([]float32, VectorDimension), 5, -1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "doc-1", hits[0].ID)
	require.Equal(t, "hello world", hits[0].Metadata["text"])
}

func TestAttachImageMergesOcrAndDescription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/ocr":
			_ = json.NewEncoder(w).Encode(ocrResponse{Text: "invoice #42"})
		case "/v1/describe-image":
			_ = json.NewEncoder(w).Encode(describeImageResponse{Description: "a scanned invoice"})
		case "/v1/embed":
			vec := make([]float32, VectorDimension)
			_ = json.NewEncoder(w).Encode(embedResponse{Data: []struct {
				Embedding []float32 `json:"embedding"`
			}{{Embedding: vec}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sessionID := int64(9)
	engine, hostTransport, hostKey, sessionKey := newConnectedEngine(t, ctx, sessionID)

	go func() {
		frame, err := hostTransport.ReadFrame(ctx)
		if err != nil {
			return
		}
		idx := frame.Envelope.MessageIndex
		ack := hostEncrypt(t, hostKey, sessionKey, sessionID, idx, session.FrameUploadVectorsAck, session.UploadVectorsAckPayload{Count: 1})
		_ = hostTransport.WriteFrame(ctx, ack)
	}()

	client := NewClient(engine, server.URL, 1, nil)
	count, err := client.AttachImage(ctx, sessionID, []byte("fake-image-bytes"))
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestAttachImageFailsWhenBothSourcesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	engine, _, _, _ := newConnectedEngine(t, ctx, 10)

	client := NewClient(engine, server.URL, 1, nil)
	_, err := client.AttachImage(ctx, 10, []byte("fake-image-bytes"))
	require.Error(t, err)
	var xe *xerrors.Error
	require.ErrorAs(t, err, &xe)
	require.Equal(t, xerrors.HostImageProcessingFailed, xe.Subkind)
}

func TestChunkTextSplitsOnWhitespaceBoundary(t *testing.T) {
	content := ""
	for i := 0; i < 50; i++ {
		content += "word "
	}
	chunks := chunkText(content, 20)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.LessOrEqual(t, len([]rune(c)), 20)
	}
}

func TestChunkTextReturnsWholeStringWhenUnderLimit(t *testing.T) {
	chunks := chunkText("short text", maxChunkRunes)
	require.Equal(t, []string{"short text"}, chunks)
}

func TestCombineImageContentBothFail(t *testing.T) {
	content := combineImageContent("", fmt.Errorf("x"), "", fmt.Errorf("y"))
	require.Empty(t, content)
}

func TestCombineImageContentPartialSuccess(t *testing.T) {
	content := combineImageContent("a description", nil, "", fmt.Errorf("ocr down"))
	require.Contains(t, content, "[Image Description]")
	require.NotContains(t, content, "[Extracted Text]")
}

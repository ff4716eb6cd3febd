package session

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the framed duplex the Engine drives. It is an interface
// so the state machine and ordering logic can be tested without a real
// network connection, mirroring the teacher's separation between
// WebSocketRPCClient and the RPCClient interface it satisfies.
type Transport interface {
	ReadFrame(ctx context.Context) (WireFrame, error)
	WriteFrame(ctx context.Context, f WireFrame) error
	Close() error
}

// wsTransport implements Transport over a gorilla/websocket connection
// to {hostApiURL}/v1/ws (§4.6). Unlike the teacher's WebSocketRPCClient
// this is not a JSON-RPC multiplexer: one frame in, one frame out, no
// pending-call bookkeeping, since the Engine itself is the single
// reader/writer.
type wsTransport struct {
	conn *websocket.Conn
}

// DialSession opens the session WebSocket against a host's API URL.
func DialSession(ctx context.Context, apiURL string) (Transport, error) {
	url := apiURL + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial session websocket %s: %w", url, err)
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) ReadFrame(ctx context.Context) (WireFrame, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	}
	var frame WireFrame
	_, raw, err := t.conn.ReadMessage()
	if err != nil {
		return WireFrame{}, err
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return WireFrame{}, fmt.Errorf("decode wire frame: %w", err)
	}
	return frame, nil
}

func (t *wsTransport) WriteFrame(ctx context.Context, f WireFrame) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	} else {
		_ = t.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	}
	return t.conn.WriteJSON(f)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

package transport

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// WebSocketDialer dials ws://address/Path and exchanges binary messages.
type WebSocketDialer struct {
	Path             string
	MaxFrameSize     int
	HandshakeTimeout time.Duration
}

// Dial connects to address (host:port).
func (d *WebSocketDialer) Dial(ctx context.Context, address string) (Conn, error) {
	path := d.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: "ws", Host: address, Path: path}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, dialError(err, "websocket", u.String())
	}
	return NewWebSocketConn(ws, d.MaxFrameSize), nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  sync.Once
}

// NewWebSocketConn wraps an established WebSocket connection.
func NewWebSocketConn(ws *websocket.Conn, maxFrame int) Conn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	ws.SetReadLimit(int64(maxFrame))
	return &wsConn{ws: ws}
}

func (w *wsConn) Send(ctx context.Context, frame []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = w.ws.SetWriteDeadline(deadline)
		defer func() { _ = w.ws.SetWriteDeadline(time.Time{}) }()
	}
	if err := w.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errors.WrapError(err, errors.CategoryNetwork, "failed to send frame").Build()
	}
	return nil
}

func (w *wsConn) Receive() ([]byte, error) {
	for {
		kind, data, err := w.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, errClosed
			}
			return nil, err
		}
		if kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsConn) Close() error {
	var err error
	w.closed.Do(func() {
		w.writeMu.Lock()
		_ = w.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = w.ws.Close()
	})
	return err
}

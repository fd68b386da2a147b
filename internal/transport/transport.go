// Package transport carries encoded frames between the update client and server.
//
// Two connection kinds are provided: a TCP stream where every frame is prefixed
// with its 4-byte big-endian length, and a WebSocket connection where every frame
// is one binary message.
package transport

import (
	"context"
	stderrors "errors"
	"io"
	"net"

	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// DefaultMaxFrameSize bounds a single inbound frame.
const DefaultMaxFrameSize = 4 << 20

// Conn is a bidirectional frame connection. Send may be called concurrently with
// Receive; Close unblocks a pending Receive.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Dialer opens connections to an update server.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// NewDialer returns the dialer configured for the server section.
func NewDialer(cfg config.ServerConfig) Dialer {
	maxFrame := cfg.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	if cfg.Transport == config.TransportWebSocket {
		return &WebSocketDialer{Path: cfg.WebSocketPath, MaxFrameSize: maxFrame}
	}
	return &TCPDialer{MaxFrameSize: maxFrame}
}

// IsClosed reports whether err signals an orderly or local close rather than a failure.
func IsClosed(err error) bool {
	return stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) || stderrors.Is(err, errClosed)
}

var errClosed = stderrors.New("connection closed")

func dialError(err error, kind, address string) error {
	return errors.WrapError(err, errors.CategoryNetwork, "failed to connect to update server").
		WithContext("transport", kind).
		WithContext("address", address).
		Retryable().
		Build()
}

package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// TCPDialer dials length-prefixed frame connections.
type TCPDialer struct {
	MaxFrameSize int
	KeepAlive    time.Duration
}

// Dial connects to address (host:port).
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	nd := net.Dialer{KeepAlive: d.KeepAlive}
	c, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, dialError(err, "tcp", address)
	}
	return NewTCPConn(c, d.MaxFrameSize), nil
}

type tcpConn struct {
	c        net.Conn
	r        *bufio.Reader
	maxFrame int
	writeMu  sync.Mutex
	closed   sync.Once
}

// NewTCPConn wraps an established stream connection.
func NewTCPConn(c net.Conn, maxFrame int) Conn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &tcpConn{c: c, r: bufio.NewReader(c), maxFrame: maxFrame}
}

func (t *tcpConn) Send(ctx context.Context, frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.c.SetWriteDeadline(deadline)
		defer func() { _ = t.c.SetWriteDeadline(time.Time{}) }()
	}

	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame))) //nolint:gosec // bounded by maxFrame on the reader side
	copy(buf[4:], frame)
	if _, err := t.c.Write(buf); err != nil {
		return errors.WrapError(err, errors.CategoryNetwork, "failed to send frame").Build()
	}
	return nil
}

func (t *tcpConn) Receive() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(t.r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if int64(n) > int64(t.maxFrame) {
		return nil, errors.ProtocolError("frame exceeds maximum size").
			WithContext("size", n).
			WithContext("max", t.maxFrame).
			Build()
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(t.r, frame); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

func (t *tcpConn) Close() error {
	var err error
	t.closed.Do(func() { err = t.c.Close() })
	return err
}

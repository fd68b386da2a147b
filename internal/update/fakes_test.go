package update

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/packsync/internal/git"
	"git.home.luguber.info/inful/packsync/internal/syncer"
	"git.home.luguber.info/inful/packsync/internal/transport"
	"git.home.luguber.info/inful/packsync/internal/wire"
)

type fakeConn struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	eof        chan struct{}
	closeOnce  sync.Once
	eofOnce    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient:   make(chan []byte, 8),
		fromClient: make(chan []byte, 8),
		closed:     make(chan struct{}),
		eof:        make(chan struct{}),
	}
}

func (c *fakeConn) Send(_ context.Context, frame []byte) error {
	select {
	case c.fromClient <- frame:
		return nil
	case <-c.closed:
		return net.ErrClosed
	}
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case b := <-c.toClient:
		return b, nil
	case <-c.eof:
		return nil, io.EOF
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// hangup simulates the server closing the connection.
func (c *fakeConn) hangup() { c.eofOnce.Do(func() { close(c.eof) }) }

func (c *fakeConn) notify(t *testing.T, command string, payload any) {
	t.Helper()
	data, err := cbor.Marshal(payload)
	require.NoError(t, err)
	c.notifyRaw(t, command, data)
}

func (c *fakeConn) notifyRaw(t *testing.T, command string, data []byte) {
	t.Helper()
	b, err := wire.ServerNotification(command, data).Encode()
	require.NoError(t, err)
	c.toClient <- b
}

func (c *fakeConn) expectSent(t *testing.T) wire.Frame {
	t.Helper()
	select {
	case b := <-c.fromClient:
		f, err := wire.DecodeFrame(b)
		require.NoError(t, err)
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("client sent nothing")
		return wire.Frame{}
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	addrs []string
	fail  error
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer { return &fakeDialer{conns: make(chan *fakeConn, 8)} }

func (d *fakeDialer) Dial(_ context.Context, address string) (transport.Conn, error) {
	d.mu.Lock()
	d.addrs = append(d.addrs, address)
	fail := d.fail
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) setFail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *fakeDialer) Addrs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection dialed")
		return nil
	}
}

type fakeSyncer struct {
	mu      sync.Mutex
	calls   [][]syncer.Target
	results chan syncer.BatchResult
}

func newFakeSyncer() *fakeSyncer { return &fakeSyncer{results: make(chan syncer.BatchResult, 1)} }

func (f *fakeSyncer) Go(_ context.Context, targets []syncer.Target) <-chan syncer.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, targets)
	return f.results
}

func (f *fakeSyncer) Calls() [][]syncer.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]syncer.Target(nil), f.calls...)
}

// cloneRecorder is a repository whose clones always fail; it records clone attempts.
type cloneRecorder struct {
	mu     sync.Mutex
	clones []string
}

func (r *cloneRecorder) Exists(string) bool { return false }
func (r *cloneRecorder) Clone(_ context.Context, url string, _ git.ProgressFunc) (string, git.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clones = append(r.clones, url)
	return git.RepoNameFromURL(url), git.Failed(io.ErrUnexpectedEOF)
}
func (r *cloneRecorder) IsClean(string) (bool, git.Result)                          { return true, git.OK() }
func (r *cloneRecorder) ResetToHead(string) git.Result                              { return git.OK() }
func (r *cloneRecorder) HasCommit(string, string) bool                              { return false }
func (r *cloneRecorder) Fetch(context.Context, string, git.ProgressFunc) git.Result { return git.OK() }
func (r *cloneRecorder) CheckoutDetached(string, string) git.Result                 { return git.OK() }
func (r *cloneRecorder) CurrentHead(string) string                                  { return git.ZeroHash }
func (r *cloneRecorder) IsDescendantOrEqual(string, string) bool                    { return false }

func (r *cloneRecorder) Clones() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.clones...)
}

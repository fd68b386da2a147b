package update

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/packsync/internal/events"
	"git.home.luguber.info/inful/packsync/internal/registry"
	"git.home.luguber.info/inful/packsync/internal/syncer"
	"git.home.luguber.info/inful/packsync/internal/transport"
	"git.home.luguber.info/inful/packsync/internal/wire"
)

const testFingerprint = "d751713988987e9331980363e24189ce"

type transitions struct {
	mu   sync.Mutex
	list []State
	errs []string
}

func (tr *transitions) observer() Observer {
	return Observer{
		OnStateChanged: func(_, to State, _ string) {
			tr.mu.Lock()
			defer tr.mu.Unlock()
			tr.list = append(tr.list, to)
		},
		OnError: func(msg string) {
			tr.mu.Lock()
			defer tr.mu.Unlock()
			tr.errs = append(tr.errs, msg)
		},
	}
}

func (tr *transitions) States() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]State(nil), tr.list...)
}

func (tr *transitions) Errors() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.errs...)
}

type harness struct {
	s      *Session
	dialer *fakeDialer
	tr     *transitions
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{dialer: newFakeDialer(), tr: &transitions{}}
	if opts.Dialer == nil {
		opts.Dialer = h.dialer
	}
	if opts.Version == "" {
		opts.Version = "1.4.0"
	}
	if opts.Fingerprint == nil {
		opts.Fingerprint = func() (string, error) { return testFingerprint, nil }
	}
	if opts.RetryGrace == 0 {
		opts.RetryGrace = 10 * time.Millisecond
	}
	h.s = NewSession(opts)
	h.s.AddObserver(h.tr.observer())

	ctx, cancel := context.WithCancel(context.Background())
	go h.s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.s.Done()
	})
	return h
}

func (h *harness) waitState(t *testing.T, want State) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := h.s.WaitFor(ctx, func(s Snapshot) bool { return s.State == want })
	require.NoError(t, err, "waiting for %s, last state %s (%s)", want, snap.State, snap.Error)
	return snap
}

// barrier returns once every previously submitted command has run.
func barrier(s *Session) {
	done := make(chan struct{})
	s.submit(func(context.Context) { close(done) })
	<-done
}

// handshake connects, answers the challenge and returns the connection in Checking.
func (h *harness) handshake(t *testing.T) *fakeConn {
	t.Helper()
	h.s.Connect("127.0.0.1", 9527)
	conn := h.dialer.next(t)
	h.waitState(t, Connected)

	conn.notify(t, wire.CmdNetworkDelayTest, "-----BEGIN PUBLIC KEY-----")
	f := conn.expectSent(t)
	require.Equal(t, wire.CmdCheckUpdate, f.Command)
	require.Equal(t, wire.TypeNotification|wire.SrcClient|wire.DestServer, f.Type)
	version, fp, err := wire.DecodeCheckUpdate(f.Data)
	require.NoError(t, err)
	require.Equal(t, "1.4.0", version)
	require.Equal(t, testFingerprint, fp)

	snap := h.waitState(t, Checking)
	require.Equal(t, "-----BEGIN PUBLIC KEY-----", snap.PublicKey)
	return conn
}

func verdict(status string, pkgs []any, message string) []any {
	if pkgs == nil {
		pkgs = []any{}
	}
	return []any{status, "1.0", "2.0", pkgs, message, status == wire.StatusUpdateRequired}
}

func TestHandshakeUpToDate(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.handshake(t)

	conn.notify(t, wire.CmdUpdateInfo, verdict(wire.StatusUpToDate, nil, "ok"))
	snap := h.waitState(t, UpToDate)
	require.NotNil(t, snap.Verdict)
	require.Equal(t, "ok", snap.Verdict.Message)
	require.Equal(t, "127.0.0.1:9527", snap.Address)
	require.Equal(t, []State{Connecting, Connected, Checking, UpToDate}, h.tr.States())
	require.Equal(t, []string{"127.0.0.1:9527"}, h.dialer.Addrs())
}

func TestRetryInTerminalStateIsNoop(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.handshake(t)
	conn.notify(t, wire.CmdUpdateInfo, verdict(wire.StatusUpToDate, nil, "ok"))
	h.waitState(t, UpToDate)

	h.s.Retry()
	barrier(h.s)
	time.Sleep(30 * time.Millisecond)

	require.Equal(t, UpToDate, h.s.State())
	require.False(t, conn.isClosed())
	require.Len(t, h.dialer.Addrs(), 1)
}

func TestDisconnectAfterTerminalStateIsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.handshake(t)
	conn.notify(t, wire.CmdUpdateInfo, verdict(wire.StatusVersionTooOld, nil, "too old"))
	h.waitState(t, VersionTooOld)

	conn.hangup()
	assert.Never(t, func() bool { return h.s.State() != VersionTooOld }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestUpdateRequiredDownloadsPackages(t *testing.T) {
	fs := newFakeSyncer()
	h := newHarness(t, Options{Syncer: fs})
	conn := h.handshake(t)

	conn.notify(t, wire.CmdUpdateInfo, verdict(wire.StatusUpdateRequired,
		[]any{[]any{"core", "https://x/core.git", "abc123"}}, "please update"))
	snap := h.waitState(t, NeedUpdate)
	require.Len(t, snap.Verdict.Packages, 1)

	h.s.StartDownload()
	h.waitState(t, Downloading)
	require.Eventually(t, func() bool { return len(fs.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, [][]syncer.Target{{{Name: "core", URL: "https://x/core.git", Hash: "abc123"}}}, fs.Calls())

	fs.results <- syncer.BatchResult{Success: true}
	h.waitState(t, NeedRestart)
}

func TestStartDownloadAttemptsCloneOfCore(t *testing.T) {
	repo := &cloneRecorder{}
	reg := registry.New(filepath.Join(t.TempDir(), "packages.json"))
	h := newHarness(t, Options{Syncer: syncer.New(repo, reg)})
	conn := h.handshake(t)

	conn.notify(t, wire.CmdUpdateInfo, verdict(wire.StatusUpdateRequired,
		[]any{[]any{"core", "https://x/core.git", "abc123"}}, "please update"))
	h.waitState(t, NeedUpdate)

	h.s.StartDownload()
	snap := h.waitState(t, Error)
	require.Contains(t, snap.Error, "core")
	require.Equal(t, []string{"https://x/core.git"}, repo.Clones())
}

func TestInvalidVerdictEntryDoesNotBlockOthers(t *testing.T) {
	repo := &cloneRecorder{}
	reg := registry.New(filepath.Join(t.TempDir(), "packages.json"))
	h := newHarness(t, Options{Syncer: syncer.New(repo, reg)})
	conn := h.handshake(t)

	conn.notify(t, wire.CmdUpdateInfo, verdict(wire.StatusUpdateRequired, []any{
		[]any{"core", "https://x/core.git", "0123456789abcdef0123456789abcdef01234567"},
		[]any{"extra", "https://x/extra.git", ""},
	}, ""))
	h.waitState(t, NeedUpdate)

	h.s.StartDownload()
	snap := h.waitState(t, Error)
	require.Contains(t, snap.Error, "extra")
	require.Equal(t, []string{"https://x/core.git"}, repo.Clones())
}

func TestFailedBatchEntersError(t *testing.T) {
	fs := newFakeSyncer()
	h := newHarness(t, Options{Syncer: fs})
	conn := h.handshake(t)
	conn.notify(t, wire.CmdUpdateInfo, verdict(wire.StatusUpdateRequired,
		[]any{[]any{"core", "https://x/core.git", "abc123"}}, ""))
	h.waitState(t, NeedUpdate)

	h.s.StartDownload()
	h.waitState(t, Downloading)
	fs.results <- syncer.BatchResult{Err: stderrors.New("disk full")}
	snap := h.waitState(t, Error)
	require.Equal(t, "disk full", snap.Error)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestBatchFinishingAfterDisconnectKeepsErrorAndIsLogged(t *testing.T) {
	logs := &lockedBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	fs := newFakeSyncer()
	h := newHarness(t, Options{Syncer: fs})
	conn := h.handshake(t)
	conn.notify(t, wire.CmdUpdateInfo, verdict(wire.StatusUpdateRequired,
		[]any{[]any{"core", "https://x/core.git", "abc123"}}, ""))
	h.waitState(t, NeedUpdate)

	h.s.StartDownload()
	h.waitState(t, Downloading)
	conn.hangup()
	h.waitState(t, Error)

	fs.results <- syncer.BatchResult{BatchID: "late-batch", Success: true}
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "Package batch finished after session left Downloading")
	}, 2*time.Second, 5*time.Millisecond)
	require.Contains(t, logs.String(), "late-batch")
	assert.Never(t, func() bool { return h.s.State() != Error }, 100*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, MsgDisconnected, h.s.Snapshot().Error)
}

func TestEmptyPackageListGoesStraightToNeedRestart(t *testing.T) {
	fs := newFakeSyncer()
	h := newHarness(t, Options{Syncer: fs})
	conn := h.handshake(t)
	conn.notify(t, wire.CmdUpdateInfo, verdict(wire.StatusUpdateRequired, nil, ""))
	h.waitState(t, NeedUpdate)

	h.s.StartDownload()
	h.waitState(t, NeedRestart)
	require.Empty(t, fs.Calls())
	require.Equal(t, []State{Connecting, Connected, Checking, NeedUpdate, Downloading, NeedRestart}, h.tr.States())
}

func TestStartDownloadOutsideNeedUpdateIsIgnored(t *testing.T) {
	fs := newFakeSyncer()
	h := newHarness(t, Options{Syncer: fs})
	h.handshake(t)

	h.s.StartDownload()
	barrier(h.s)
	require.Equal(t, Checking, h.s.State())
	require.Empty(t, fs.Calls())
}

func TestMalformedVerdicts(t *testing.T) {
	cases := []struct {
		name    string
		payload any
		want    string
	}{
		{"four elements", []any{"UP_TO_DATE", "1.0", "2.0", []any{}}, wire.MsgInvalidVerdict},
		{"not an array", "UP_TO_DATE", wire.MsgInvalidVerdict},
		{"unknown status", verdict("MAINTENANCE", nil, ""), "Unknown update status: MAINTENANCE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			conn := h.handshake(t)
			conn.notify(t, wire.CmdUpdateInfo, tc.payload)
			snap := h.waitState(t, Error)
			require.Equal(t, tc.want, snap.Error)
			require.Equal(t, []string{tc.want}, h.tr.Errors())
		})
	}
}

func TestEmptyVerdictPayload(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.handshake(t)
	conn.notifyRaw(t, wire.CmdUpdateInfo, nil)
	snap := h.waitState(t, Error)
	require.Equal(t, wire.MsgEmptyVerdict, snap.Error)
	require.Nil(t, snap.Verdict)
}

func TestErrorMsgNotification(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.handshake(t)
	conn.notify(t, wire.CmdErrorMsg, []byte("server overloaded"))
	snap := h.waitState(t, Error)
	require.Equal(t, "server overloaded", snap.Error)
}

func TestUnsolicitedDisconnectThenRetry(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.handshake(t)

	conn.hangup()
	snap := h.waitState(t, Error)
	require.Equal(t, MsgDisconnected, snap.Error)
	require.True(t, conn.isClosed(), "peer-closed connection is released")

	h.s.Retry()
	next := h.dialer.next(t)
	h.waitState(t, Connected)
	require.NotSame(t, conn, next)
	require.Empty(t, h.s.Snapshot().Error)
}

func TestRetryClosesOpenConnectionBeforeReconnecting(t *testing.T) {
	h := newHarness(t, Options{RetryGrace: 50 * time.Millisecond})
	h.s.Connect("127.0.0.1", 9527)
	first := h.dialer.next(t)
	h.waitState(t, Connected)

	h.s.Retry()
	barrier(h.s)
	require.True(t, first.isClosed())
	require.Equal(t, Connected, h.s.State(), "state holds during the grace delay")

	second := h.dialer.next(t)
	h.waitState(t, Connected)
	require.False(t, second.isClosed())
	require.Equal(t, []State{Connecting, Connected, Connecting, Connected}, h.tr.States())
}

func TestConnectSameEndpointIsNoop(t *testing.T) {
	h := newHarness(t, Options{})
	h.s.Connect("127.0.0.1", 9527)
	first := h.dialer.next(t)
	h.waitState(t, Connected)

	h.s.Connect("127.0.0.1", 9527)
	barrier(h.s)
	require.Len(t, h.dialer.Addrs(), 1)

	h.s.Connect("127.0.0.1", 9600)
	h.dialer.next(t)
	h.waitState(t, Connected)
	require.True(t, first.isClosed())
	require.Equal(t, []string{"127.0.0.1:9527", "127.0.0.1:9600"}, h.dialer.Addrs())
}

func TestConnectClearsPreviousResults(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.handshake(t)
	conn.notify(t, wire.CmdUpdateInfo, verdict("BROKEN", nil, ""))
	h.waitState(t, Error)

	h.s.Connect("127.0.0.1", 9700)
	h.dialer.next(t)
	snap := h.waitState(t, Connected)
	require.Empty(t, snap.Error)
	require.Empty(t, snap.PublicKey)
	require.Nil(t, snap.Verdict)
}

func TestDialFailureIsRecoverable(t *testing.T) {
	h := newHarness(t, Options{})
	h.dialer.setFail(stderrors.New("connection refused"))

	h.s.Connect("127.0.0.1", 9527)
	snap := h.waitState(t, Error)
	require.Equal(t, "connection refused", snap.Error)

	h.dialer.setFail(nil)
	h.s.Retry()
	h.dialer.next(t)
	h.waitState(t, Connected)
}

func TestDisconnectReturnsToIdle(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.handshake(t)

	h.s.Disconnect()
	h.waitState(t, Idle)
	require.True(t, conn.isClosed())
	assert.Never(t, func() bool { return h.s.State() != Idle }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestSessionPublishesBusEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	states, unsubStates := events.Subscribe[events.StateChanged](bus, 16)
	defer unsubStates()
	errs, unsubErrs := events.Subscribe[events.ErrorOccurred](bus, 4)
	defer unsubErrs()
	keys, unsubKeys := events.Subscribe[events.PublicKeyReceived](bus, 1)
	defer unsubKeys()
	infos, unsubInfos := events.Subscribe[events.UpdateInfoReceived](bus, 1)
	defer unsubInfos()

	h := newHarness(t, Options{Bus: bus})
	conn := h.handshake(t)
	conn.notify(t, wire.CmdUpdateInfo, verdict("BROKEN", nil, ""))
	h.waitState(t, Error)

	require.Equal(t, "-----BEGIN PUBLIC KEY-----", (<-keys).Key)
	require.Equal(t, "BROKEN", (<-infos).Status)
	require.Equal(t, "Unknown update status: BROKEN", (<-errs).Message)

	var to []string
	for range 4 {
		to = append(to, (<-states).To)
	}
	require.Equal(t, []string{"Connecting", "Connected", "Checking", "Error"}, to)
}

func TestSetStateSuppressesDuplicates(t *testing.T) {
	h := newHarness(t, Options{})
	conn := h.handshake(t)
	conn.notify(t, wire.CmdErrorMsg, "busy")
	h.waitState(t, Error)
	conn.notify(t, wire.CmdErrorMsg, "busy")
	conn.notify(t, wire.CmdErrorMsg, "still busy")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := h.s.WaitFor(ctx, func(s Snapshot) bool { return s.Error == "still busy" })
	require.NoError(t, err)
	require.Equal(t, []string{"busy", "still busy"}, h.tr.Errors())
}

func TestWaitForReturnsWhenStopped(t *testing.T) {
	s := NewSession(Options{Dialer: newFakeDialer()})
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	cancel()
	<-s.Done()

	_, err := s.WaitFor(context.Background(), func(Snapshot) bool { return false })
	require.ErrorIs(t, err, ErrSessionStopped)
}

func TestHandshakeOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverErr := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		conn := transport.NewTCPConn(c, 0)
		defer conn.Close()

		key, _ := wire.EncodeText("server-key")
		b, _ := wire.ServerNotification(wire.CmdNetworkDelayTest, key).Encode()
		if err := conn.Send(context.Background(), b); err != nil {
			serverErr <- err
			return
		}
		req, err := conn.Receive()
		if err != nil {
			serverErr <- err
			return
		}
		f, err := wire.DecodeFrame(req)
		if err != nil || f.Command != wire.CmdCheckUpdate {
			serverErr <- stderrors.New("expected CheckUpdate")
			return
		}
		info, _ := wire.EncodeVerdict(wire.Verdict{Status: wire.StatusUpToDate, MinVersion: "1.0", MaxVersion: "2.0"})
		b, _ = wire.ServerNotification(wire.CmdUpdateInfo, info).Encode()
		serverErr <- conn.Send(context.Background(), b)
		_, _ = conn.Receive()
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NotEmpty(t, portStr)

	h := newHarness(t, Options{Dialer: &transport.TCPDialer{}})
	h.s.Connect(host, port)
	snap := h.waitState(t, UpToDate)
	require.Equal(t, "server-key", snap.PublicKey)
	require.NoError(t, <-serverErr)
}

// Package update implements the client side of the update check protocol.
//
// A Session owns one connection to an update server. The server sends a
// NetworkDelayTest challenge carrying its public key; the session answers with
// CheckUpdate [clientVersion, fingerprint] and receives an UpdateInfo verdict
// that decides whether the installation is current, must download packages, or
// is too old to continue.
//
// All state lives on the goroutine running Session.Run. Commands, transport
// events and batch completion reach it as messages.
package update

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/packsync/internal/events"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/logfields"
	"git.home.luguber.info/inful/packsync/internal/metrics"
	"git.home.luguber.info/inful/packsync/internal/syncer"
	"git.home.luguber.info/inful/packsync/internal/transport"
	"git.home.luguber.info/inful/packsync/internal/wire"
)

// MsgDisconnected is the error message recorded for an unsolicited disconnect.
const MsgDisconnected = "Disconnected from server"

// DefaultRetryGrace is the delay between closing an open connection and reconnecting on Retry.
const DefaultRetryGrace = 100 * time.Millisecond

// ErrSessionStopped is returned by WaitFor once Run has returned.
var ErrSessionStopped = stderrors.New("update session stopped")

// Syncer starts a background synchronization pass.
type Syncer interface {
	Go(ctx context.Context, targets []syncer.Target) <-chan syncer.BatchResult
}

// Options configures a Session.
type Options struct {
	Dialer      transport.Dialer
	Syncer      Syncer
	Bus         *events.Bus
	Recorder    metrics.Recorder
	Version     string
	Fingerprint func() (string, error)
	RetryGrace  time.Duration
}

// Session is the update protocol state machine.
type Session struct {
	opts      Options
	observers []Observer

	cmds chan func(ctx context.Context)
	evts chan connEvent
	done chan struct{}
	once sync.Once

	// owned by Run
	state      State
	errMsg     string
	publicKey  string
	verdict    *wire.Verdict
	host       string
	port       int
	conn       transport.Conn
	gen        uint64
	retryToken uint64
	batch      <-chan syncer.BatchResult

	snapMu  sync.RWMutex
	snap    Snapshot
	changed chan struct{}
}

type connEventKind int

const (
	evDialed connEventKind = iota
	evDialFailed
	evFrame
	evClosed
)

type connEvent struct {
	kind  connEventKind
	gen   uint64
	conn  transport.Conn
	frame []byte
	err   error
}

// NewSession creates an idle session. Call Run to start it.
func NewSession(opts Options) *Session {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.RetryGrace <= 0 {
		opts.RetryGrace = DefaultRetryGrace
	}
	return &Session{
		opts:    opts,
		cmds:    make(chan func(ctx context.Context), 16),
		evts:    make(chan connEvent, 16),
		done:    make(chan struct{}),
		changed: make(chan struct{}),
	}
}

// AddObserver registers o. It must be called before Run.
func (s *Session) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Run processes commands and transport events until ctx is canceled.
func (s *Session) Run(ctx context.Context) {
	defer s.once.Do(func() { close(s.done) })
	defer s.closeConn()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd(ctx)
		case ev := <-s.evts:
			s.handleConnEvent(ctx, ev)
		case res, ok := <-s.batch:
			s.batch = nil
			if ok {
				s.handleBatch(res)
			}
		}
	}
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// State returns the current state.
func (s *Session) State() State { return s.Snapshot().State }

// WaitFor blocks until pred holds for the current snapshot, ctx is done or the session stops.
func (s *Session) WaitFor(ctx context.Context, pred func(Snapshot) bool) (Snapshot, error) {
	for {
		s.snapMu.RLock()
		snap, ch := s.snap, s.changed
		s.snapMu.RUnlock()
		if pred(snap) {
			return snap, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-s.done:
			return s.Snapshot(), ErrSessionStopped
		}
	}
}

// Connect opens a connection to host:port. It is a no-op when already connected there.
func (s *Session) Connect(host string, port int) {
	s.submit(func(ctx context.Context) { s.connect(ctx, host, port) })
}

// Disconnect closes the transport and returns to Idle.
func (s *Session) Disconnect() {
	s.submit(func(context.Context) {
		s.retryToken++
		s.closeConn()
		s.setState(Idle, "")
	})
}

// Retry reconnects to the last endpoint unless the session is in a terminal state.
func (s *Session) Retry() {
	s.submit(s.retry)
}

// StartDownload synchronizes the verdict's package list. It only acts in NeedUpdate.
func (s *Session) StartDownload() {
	s.submit(s.startDownload)
}

func (s *Session) submit(cmd func(ctx context.Context)) {
	select {
	case s.cmds <- cmd:
	case <-s.done:
	}
}

func (s *Session) connect(ctx context.Context, host string, port int) {
	if s.conn != nil && s.host == host && s.port == port {
		return
	}
	s.retryToken++
	s.host, s.port = host, port
	s.errMsg, s.publicKey, s.verdict = "", "", nil
	s.closeConn()
	s.setState(Connecting, "")
	s.dial(ctx)
}

func (s *Session) retry(ctx context.Context) {
	if s.state.Terminal() {
		slog.Debug("Retry ignored in terminal state", logfields.State(s.state.String()))
		return
	}
	s.retryToken++
	if s.conn == nil {
		s.setState(Connecting, "")
		s.dial(ctx)
		return
	}

	s.closeConn()
	token := s.retryToken
	time.AfterFunc(s.opts.RetryGrace, func() {
		s.submit(func(ctx context.Context) {
			if token != s.retryToken {
				return
			}
			s.setState(Connecting, "")
			s.dial(ctx)
		})
	})
}

func (s *Session) address() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

func (s *Session) dial(ctx context.Context) {
	s.gen++
	gen := s.gen
	addr := s.address()
	dialer := s.opts.Dialer
	slog.Info("Connecting to update server", logfields.Address(addr))

	go func() {
		conn, err := dialer.Dial(ctx, addr)
		ev := connEvent{kind: evDialed, gen: gen, conn: conn, err: err}
		if err != nil {
			ev.kind = evDialFailed
		}
		if !s.post(ev) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (s *Session) post(ev connEvent) bool {
	select {
	case s.evts <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) readLoop(gen uint64, conn transport.Conn) {
	for {
		frame, err := conn.Receive()
		if err != nil {
			s.post(connEvent{kind: evClosed, gen: gen, err: err})
			return
		}
		if !s.post(connEvent{kind: evFrame, gen: gen, frame: frame}) {
			return
		}
	}
}

func (s *Session) closeConn() {
	s.gen++
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			slog.Debug("Closing update connection failed", logfields.Error(err))
		}
		s.conn = nil
	}
}

func (s *Session) handleConnEvent(ctx context.Context, ev connEvent) {
	if ev.gen != s.gen {
		if ev.kind == evDialed && ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}

	switch ev.kind {
	case evDialed:
		s.conn = ev.conn
		go s.readLoop(ev.gen, ev.conn)
		slog.Info("Connected to update server", logfields.Address(s.address()))
		s.setState(Connected, "")
	case evDialFailed:
		slog.Warn("Failed to connect to update server", logfields.Address(s.address()), logfields.Error(ev.err))
		s.setState(Error, errorText(ev.err))
	case evFrame:
		s.handleFrame(ctx, ev.frame)
	case evClosed:
		s.closeConn()
		if s.state.Terminal() {
			slog.Debug("Update server closed connection", logfields.State(s.state.String()))
			return
		}
		if !transport.IsClosed(ev.err) {
			slog.Warn("Update connection failed", logfields.Address(s.address()), logfields.Error(ev.err))
		}
		s.setState(Error, MsgDisconnected)
	}
}

func (s *Session) handleFrame(ctx context.Context, b []byte) {
	f, err := wire.DecodeFrame(b)
	if err != nil {
		slog.Warn("Dropping malformed frame", logfields.Error(err))
		return
	}
	if !f.IsNotification() {
		slog.Debug("Ignoring non-notification frame", logfields.Command(f.Command), slog.Int("type", f.Type))
		return
	}

	slog.Debug("Notification received", logfields.Command(f.Command), slog.Int("bytes", len(f.Data)))
	switch f.Command {
	case wire.CmdNetworkDelayTest:
		s.handleChallenge(ctx, f.Data)
	case wire.CmdUpdateInfo:
		s.handleUpdateInfo(f.Data)
	case wire.CmdErrorMsg:
		msg, err := wire.DecodeText(f.Data)
		if err != nil {
			msg = errorText(err)
		}
		s.setState(Error, msg)
	default:
		slog.Debug("Ignoring unknown notification", logfields.Command(f.Command))
	}
}

func (s *Session) handleChallenge(ctx context.Context, data []byte) {
	key, err := wire.DecodeText(data)
	if err != nil {
		slog.Warn("Undecodable public key", logfields.Error(err))
	}
	s.publicKey = key
	s.refreshSnapshot()
	for _, o := range s.observers {
		if o.OnPublicKey != nil {
			o.OnPublicKey(key)
		}
	}
	s.publish(ctx, events.PublicKeyReceived{Key: key})

	s.sendCheckUpdate(ctx)
}

func (s *Session) sendCheckUpdate(ctx context.Context) {
	fingerprint := ""
	if s.opts.Fingerprint != nil {
		fp, err := s.opts.Fingerprint()
		if err != nil {
			slog.Warn("Failed to compute fingerprint", logfields.Error(err))
		}
		fingerprint = fp
	}

	payload, err := wire.EncodeCheckUpdate(s.opts.Version, fingerprint)
	if err == nil {
		var b []byte
		b, err = wire.ClientNotification(wire.CmdCheckUpdate, payload).Encode()
		if err == nil && s.conn != nil {
			err = s.conn.Send(ctx, b)
		}
	}
	if err != nil {
		s.setState(Error, errorText(err))
		return
	}
	slog.Info("Checking for updates", slog.String("version", s.opts.Version), logfields.Hash(fingerprint))
	s.setState(Checking, "")
}

func (s *Session) handleUpdateInfo(data []byte) {
	v, err := wire.DecodeVerdict(data)
	if err != nil {
		slog.Warn("Invalid update verdict", logfields.Error(err))
		s.setState(Error, errorText(err))
		return
	}
	s.verdict = &v
	s.refreshSnapshot()

	slog.Info("Update verdict received",
		slog.String("status", v.Status),
		slog.String("min_version", v.MinVersion),
		slog.String("max_version", v.MaxVersion),
		slog.Int("packages", len(v.Packages)))
	for _, o := range s.observers {
		if o.OnUpdateInfo != nil {
			o.OnUpdateInfo(v)
		}
	}
	s.publish(context.Background(), events.UpdateInfoReceived{
		Status:      v.Status,
		MinVersion:  v.MinVersion,
		MaxVersion:  v.MaxVersion,
		Packages:    len(v.Packages),
		Message:     v.Message,
		NeedRestart: v.NeedRestart,
	})

	switch v.Status {
	case wire.StatusUpToDate:
		s.setState(UpToDate, "")
	case wire.StatusUpdateRequired:
		s.setState(NeedUpdate, "")
	case wire.StatusVersionTooOld:
		s.setState(VersionTooOld, "")
	default:
		s.setState(Error, fmt.Sprintf("Unknown update status: %s", v.Status))
	}
}

func (s *Session) startDownload(ctx context.Context) {
	if s.state != NeedUpdate {
		slog.Debug("StartDownload ignored", logfields.State(s.state.String()))
		return
	}
	s.setState(Downloading, "")

	var targets []syncer.Target
	if s.verdict != nil {
		for _, p := range s.verdict.Packages {
			targets = append(targets, syncer.Target{Name: p.Name, URL: p.URL, Hash: p.Hash})
		}
	}
	if len(targets) == 0 {
		s.setState(NeedRestart, "")
		return
	}
	if s.opts.Syncer == nil {
		s.setState(Error, "no package synchronizer configured")
		return
	}
	s.batch = s.opts.Syncer.Go(ctx, targets)
}

func (s *Session) handleBatch(res syncer.BatchResult) {
	if s.state != Downloading {
		// state stays put; pinned packages are on disk for the next retry
		slog.Info("Package batch finished after session left Downloading",
			logfields.BatchID(res.BatchID), logfields.State(s.state.String()), slog.Bool("success", res.Success))
		return
	}
	if res.Success {
		s.setState(NeedRestart, "")
		return
	}
	msg := "failed to synchronize packages"
	switch {
	case res.Err != nil:
		msg = errorText(res.Err)
	case len(res.Failed()) > 0:
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(res.Failed(), ", "))
	}
	s.setState(Error, msg)
}

// setState records a transition. Nothing is emitted when neither state nor message change.
// The snapshot is refreshed last so WaitFor returns only after observers ran.
func (s *Session) setState(state State, msg string) {
	if s.state == state && s.errMsg == msg {
		return
	}
	from := s.state
	s.state, s.errMsg = state, msg

	s.opts.Recorder.IncSessionTransition(state.String())
	attrs := []any{slog.String("from", from.String()), logfields.State(state.String())}
	if msg != "" {
		attrs = append(attrs, slog.String("message", msg))
	}
	slog.Info("Update session state changed", attrs...)

	for _, o := range s.observers {
		if o.OnStateChanged != nil {
			o.OnStateChanged(from, state, msg)
		}
	}
	s.publish(context.Background(), events.StateChanged{From: from.String(), To: state.String(), Message: msg, At: time.Now()})

	if msg != "" {
		for _, o := range s.observers {
			if o.OnError != nil {
				o.OnError(msg)
			}
		}
		s.publish(context.Background(), events.ErrorOccurred{Message: msg})
	}
	s.refreshSnapshot()
}

func (s *Session) refreshSnapshot() {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.snap = Snapshot{State: s.state, Error: s.errMsg, PublicKey: s.publicKey, Verdict: s.verdict}
	if s.host != "" {
		s.snap.Address = s.address()
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) publish(ctx context.Context, evt events.Event) {
	if s.opts.Bus == nil {
		return
	}
	if err := s.opts.Bus.Publish(ctx, evt); err != nil {
		slog.Warn("Failed to publish session event", slog.String("event", evt.EventType()), logfields.Error(err))
	}
}

// errorText returns the classified message without category decoration.
func errorText(err error) string {
	if ce, ok := errors.AsClassified(err); ok {
		if cause := ce.Unwrap(); cause != nil && ce.Category() != errors.CategoryProtocol {
			return fmt.Sprintf("%s: %v", ce.Message(), cause)
		}
		return ce.Message()
	}
	return err.Error()
}

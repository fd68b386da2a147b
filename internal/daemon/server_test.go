package daemon

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/events"
	"git.home.luguber.info/inful/packsync/internal/git"
	"git.home.luguber.info/inful/packsync/internal/metrics"
	"git.home.luguber.info/inful/packsync/internal/registry"
	"git.home.luguber.info/inful/packsync/internal/syncer"
	"git.home.luguber.info/inful/packsync/internal/transport"
	"git.home.luguber.info/inful/packsync/internal/update"
	"git.home.luguber.info/inful/packsync/internal/wire"
)

// updateServer is a minimal update server: it sends the challenge, reads
// CheckUpdate and answers with the configured verdict.
type updateServer struct {
	ln net.Listener

	mu       sync.Mutex
	verdict  wire.Verdict
	silent   bool
	requests []string // fingerprints received
}

func newUpdateServer(t *testing.T, v wire.Verdict) *updateServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &updateServer{ln: ln, verdict: v}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *updateServer) port() int { return s.ln.Addr().(*net.TCPAddr).Port }

func (s *updateServer) setVerdict(v wire.Verdict) {
	s.mu.Lock()
	s.verdict = v
	s.mu.Unlock()
}

func (s *updateServer) setSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

func (s *updateServer) fingerprints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *updateServer) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(transport.NewTCPConn(c, 0))
	}
}

func (s *updateServer) handle(conn transport.Conn) {
	defer conn.Close()
	ctx := context.Background()

	s.mu.Lock()
	silent, verdict := s.silent, s.verdict
	s.mu.Unlock()
	if silent {
		_, _ = conn.Receive()
		return
	}

	key, _ := wire.EncodeText("server-key")
	b, _ := wire.ServerNotification(wire.CmdNetworkDelayTest, key).Encode()
	if conn.Send(ctx, b) != nil {
		return
	}
	req, err := conn.Receive()
	if err != nil {
		return
	}
	f, err := wire.DecodeFrame(req)
	if err != nil || f.Command != wire.CmdCheckUpdate {
		return
	}
	if _, fp, err := wire.DecodeCheckUpdate(f.Data); err == nil {
		s.mu.Lock()
		s.requests = append(s.requests, fp)
		s.mu.Unlock()
	}
	info, _ := wire.EncodeVerdict(verdict)
	b, _ = wire.ServerNotification(wire.CmdUpdateInfo, info).Encode()
	if conn.Send(ctx, b) != nil {
		return
	}
	// hold the connection until the client leaves
	_, _ = conn.Receive()
}

type fixture struct {
	cfg     *config.Config
	client  *git.Client
	reg     *registry.Registry
	engine  *syncer.Engine
	session *update.Session
	bus     *events.Bus
	metrics *metrics.PrometheusRecorder
}

func newFixture(t *testing.T, port int) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1"
	cfg.Server.Port = port
	cfg.Daemon.CheckTimeout = "5s"

	dir := filepath.Join(t.TempDir(), "packages")
	f := &fixture{cfg: cfg, bus: events.NewBus()}
	f.client = git.NewClient(dir)
	f.reg = registry.New(filepath.Join(dir, "packages.json"))
	f.metrics = metrics.NewPrometheusRecorder(nil)
	f.engine = syncer.New(f.client, f.reg, syncer.WithBus(f.bus), syncer.WithRecorder(f.metrics))
	f.session = update.NewSession(update.Options{
		Dialer:      &transport.TCPDialer{},
		Syncer:      f.engine,
		Bus:         f.bus,
		Recorder:    f.metrics,
		Version:     "1.2.0",
		Fingerprint: func() (string, error) { return f.reg.Fingerprint(), nil },
	})
	t.Cleanup(f.bus.Close)
	return f
}

func (f *fixture) deps() Deps {
	return Deps{Session: f.session, Engine: f.engine, Bus: f.bus, Metrics: f.metrics}
}

// runSession runs the session loop for tests that drive Check directly.
func (f *fixture) runSession(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go f.session.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-f.session.Done()
	})
}

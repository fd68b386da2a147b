package commands

import (
	"context"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/packsync/internal/auth"
	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/events"
	"git.home.luguber.info/inful/packsync/internal/eventstore"
	"git.home.luguber.info/inful/packsync/internal/git"
	"git.home.luguber.info/inful/packsync/internal/logfields"
	"git.home.luguber.info/inful/packsync/internal/metrics"
	"git.home.luguber.info/inful/packsync/internal/natsbridge"
	"git.home.luguber.info/inful/packsync/internal/registry"
	"git.home.luguber.info/inful/packsync/internal/retry"
	"git.home.luguber.info/inful/packsync/internal/syncer"
	"git.home.luguber.info/inful/packsync/internal/transport"
	"git.home.luguber.info/inful/packsync/internal/update"
	"git.home.luguber.info/inful/packsync/internal/version"
)

const historySize = 100

// runtime wires the components every command shares. Commands construct
// one explicitly; nothing here is global.
type runtime struct {
	cfg      *config.Config
	git      *git.Client
	registry *registry.Registry
	engine   *syncer.Engine
	bus      *events.Bus
	metrics  *metrics.PrometheusRecorder

	store      *eventstore.SQLiteStore
	projection *eventstore.BatchHistoryProjection
	history    *eventstore.Recorder
	bridge     *natsbridge.Bridge

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type runtimeOptions struct {
	metrics bool // Prometheus recorder for the daemon
	events  bool // bus with history recording and NATS fan-out
}

func newRuntime(cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	gitOpts := []git.Option{
		git.WithRetryPolicy(retry.FromConfig(cfg.Packages.Retry)),
		git.WithCleanUntracked(cfg.Packages.CleanUntracked),
	}
	if !cfg.Packages.Auth.IsZero() {
		method, err := auth.CreateAuth(cfg.Packages.Auth)
		if err != nil {
			return nil, err
		}
		gitOpts = append(gitOpts, git.WithAuth(method))
	}

	reg, err := registry.Load(cfg.Packages.RegistryPath(), registry.WithPackagesDir(cfg.Packages.Dir))
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		git:      git.NewClient(cfg.Packages.Dir, gitOpts...),
		registry: reg,
	}

	engineOpts := []syncer.Option{syncer.WithAbortOnResetFailure(cfg.Packages.AbortOnResetFailure)}
	if opts.metrics {
		rt.metrics = metrics.NewPrometheusRecorder(nil)
		engineOpts = append(engineOpts, syncer.WithRecorder(rt.metrics))
	}
	if opts.events {
		rt.bus = events.NewBus()
		engineOpts = append(engineOpts, syncer.WithBus(rt.bus))
		if err := rt.openEventSinks(); err != nil {
			rt.close()
			return nil, err
		}
	}
	rt.engine = syncer.New(rt.git, rt.registry, engineOpts...)
	return rt, nil
}

func (rt *runtime) openEventSinks() error {
	if path := rt.cfg.History.Path; path != "" {
		store, err := eventstore.NewSQLiteStore(path)
		if err != nil {
			return err
		}
		rt.store = store
		rt.projection = eventstore.NewBatchHistoryProjection(store, historySize)
		if err := rt.projection.Rebuild(context.Background()); err != nil {
			slog.Warn("Failed to rebuild sync history", logfields.Error(err))
		}
		rt.history = eventstore.NewRecorder(store, rt.projection)
	}
	if rt.cfg.NATS.URL != "" {
		bridge, err := natsbridge.Connect(rt.cfg.NATS)
		if err != nil {
			return err
		}
		rt.bridge = bridge
	}
	return nil
}

// startSinks runs history recording and NATS fan-out for one-shot commands.
// The daemon runs them itself.
func (rt *runtime) startSinks(ctx context.Context) {
	if rt.bus == nil {
		return
	}
	ctx, rt.cancel = context.WithCancel(ctx)
	if rt.history != nil {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.history.Run(ctx, rt.bus)
		}()
		<-rt.history.Ready()
	}
	if rt.bridge != nil {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.bridge.Run(ctx, rt.bus)
		}()
		<-rt.bridge.Ready()
	}
}

// close stops the sinks after they drained the bus and releases resources.
func (rt *runtime) close() {
	if rt.bus != nil {
		rt.bus.Close()
	}
	rt.wg.Wait()
	if rt.cancel != nil {
		rt.cancel()
	}
	if rt.bridge != nil {
		if err := rt.bridge.Close(); err != nil {
			slog.Warn("Failed to close NATS connection", logfields.Error(err))
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			slog.Warn("Failed to close history store", logfields.Error(err))
		}
	}
}

// fingerprint is sent with CheckUpdate: the MD5 of the configured file, or of
// the compact package summary.
func (rt *runtime) fingerprint() (string, error) {
	if path := rt.cfg.Client.FingerprintFile; path != "" {
		return registry.FileFingerprint(path)
	}
	return rt.registry.Fingerprint(), nil
}

func (rt *runtime) clientVersion() string {
	if rt.cfg.Client.Version != "" {
		return rt.cfg.Client.Version
	}
	return version.Version
}

func (rt *runtime) newSession() *update.Session {
	opts := update.Options{
		Dialer:      transport.NewDialer(rt.cfg.Server),
		Syncer:      rt.engine,
		Bus:         rt.bus,
		Version:     rt.clientVersion(),
		Fingerprint: rt.fingerprint,
		RetryGrace:  rt.cfg.Server.RetryGraceDuration(),
	}
	if rt.metrics != nil {
		opts.Recorder = rt.metrics
	}
	return update.NewSession(opts)
}

func (rt *runtime) gate() syncer.Gate {
	return syncer.Gate{Package: rt.cfg.Gate.Package, Baseline: rt.cfg.Gate.Baseline}
}

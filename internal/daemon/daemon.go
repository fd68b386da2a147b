// Package daemon runs periodic update checks against the update server and
// serves status, health and Prometheus metrics over HTTP.
package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/events"
	"git.home.luguber.info/inful/packsync/internal/eventstore"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/logfields"
	"git.home.luguber.info/inful/packsync/internal/metrics"
	"git.home.luguber.info/inful/packsync/internal/natsbridge"
	"git.home.luguber.info/inful/packsync/internal/syncer"
	"git.home.luguber.info/inful/packsync/internal/update"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

const (
	checkJobName    = "update-check"
	shutdownTimeout = 10 * time.Second
)

// Deps are the long-lived components the daemon drives. Session and Engine are
// required; the rest are optional.
type Deps struct {
	Session    *update.Session
	Engine     *syncer.Engine
	Bus        *events.Bus
	Metrics    *metrics.PrometheusRecorder
	History    *eventstore.Recorder
	Projection *eventstore.BatchHistoryProjection
	Bridge     *natsbridge.Bridge
}

// Daemon schedules update checks and exposes their results.
type Daemon struct {
	mu         sync.RWMutex
	cfg        *config.Config
	configPath string
	status     Status
	runID      string
	startedAt  time.Time
	jobID      string
	httpAddr   string

	deps      Deps
	scheduler *Scheduler
	watcher   *ConfigWatcher
	http      *HTTPServer
	workers   WorkerGroup

	// runCtx is canceled when Run begins shutting down; scheduled checks derive from it.
	runCtx context.Context

	checkMu   sync.Mutex
	lastCheck *CheckResult
}

// New creates a daemon. configPath may be empty, which disables config reloads.
func New(cfg *config.Config, configPath string, deps Deps) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.ConfigError("daemon configuration required").Build()
	}
	if deps.Session == nil || deps.Engine == nil {
		return nil, errors.DaemonError("daemon requires an update session and a sync engine").Build()
	}
	return &Daemon{
		cfg:        cfg,
		configPath: configPath,
		status:     StatusStopped,
		runID:      uuid.NewString(),
		deps:       deps,
		runCtx:     context.Background(),
	}, nil
}

// Config returns the active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Status returns the lifecycle status.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// RunID identifies this daemon run.
func (d *Daemon) RunID() string { return d.runID }

// HTTPAddr returns the bound address of the HTTP server, or "" when it is disabled.
func (d *Daemon) HTTPAddr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.httpAddr
}

// LastCheck returns the most recent check result, if any.
func (d *Daemon) LastCheck() (CheckResult, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastCheck == nil {
		return CheckResult{}, false
	}
	return *d.lastCheck, true
}

func (d *Daemon) setStatus(s Status) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// Run starts every component, blocks until ctx is canceled and then shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if !d.startedAt.IsZero() {
		d.mu.Unlock()
		return errors.DaemonError("daemon can only run once").WithContext("status", string(d.status)).Build()
	}
	d.status = StatusStarting
	d.startedAt = time.Now()
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.runCtx = runCtx
	d.mu.Unlock()

	if err := d.start(runCtx); err != nil {
		cancel()
		d.shutdown()
		return err
	}

	d.setStatus(StatusRunning)
	slog.Info("Daemon started", slog.String("run_id", d.runID), slog.Duration("interval", d.Config().Daemon.Interval()))

	<-ctx.Done()
	cancel()
	d.shutdown()
	return nil
}

func (d *Daemon) start(ctx context.Context) error {
	d.workers.Go("session", func() { d.deps.Session.Run(ctx) })

	if d.deps.History != nil && d.deps.Bus != nil {
		h := d.deps.History
		d.workers.Go("history", func() { h.Run(ctx, d.deps.Bus) })
		<-h.Ready()
	}
	if d.deps.Bridge != nil && d.deps.Bus != nil {
		b := d.deps.Bridge
		d.workers.Go("nats", func() { b.Run(ctx, d.deps.Bus) })
		<-b.Ready()
	}

	cfg := d.Config()
	if cfg.Metrics.Listen != "" {
		srv := NewHTTPServer(d)
		if err := srv.Start(cfg.Metrics.Listen); err != nil {
			return err
		}
		d.mu.Lock()
		d.http = srv
		d.httpAddr = srv.Addr()
		d.mu.Unlock()
		d.workers.Go("http", func() {
			if err := srv.Serve(); err != nil {
				slog.Error("HTTP server failed", logfields.Error(err))
			}
		})
	}

	if d.configPath != "" {
		w, err := NewConfigWatcher(d.configPath, d.ReloadConfig)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		d.mu.Lock()
		d.watcher = w
		d.mu.Unlock()
	}

	sched, err := NewScheduler()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.scheduler = sched
	d.mu.Unlock()
	id, err := sched.ScheduleEvery(checkJobName, cfg.Daemon.Interval(), true, d.scheduledCheck)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.jobID = id
	d.mu.Unlock()
	sched.Start()
	return nil
}

func (d *Daemon) shutdown() {
	d.setStatus(StatusStopping)
	slog.Info("Stopping daemon", slog.String("run_id", d.runID))

	d.mu.RLock()
	watcher, srv, sched := d.watcher, d.http, d.scheduler
	d.mu.RUnlock()

	if sched != nil {
		if err := sched.Stop(); err != nil {
			slog.Warn("Scheduler shutdown failed", logfields.Error(err))
		}
	}
	if watcher != nil {
		watcher.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("HTTP server shutdown failed", logfields.Error(err))
		}
	}
	if err := d.workers.StopAndWait(ctx); err != nil {
		slog.Warn("Timed out waiting for daemon workers", logfields.Error(err))
	}

	d.mu.Lock()
	d.status = StatusStopped
	d.watcher, d.http, d.httpAddr, d.jobID, d.scheduler = nil, nil, "", "", nil
	d.mu.Unlock()
	slog.Info("Daemon stopped", slog.String("run_id", d.runID))
}

// ReloadConfig applies a new configuration. Schedule, check timeout, auto
// download and server endpoint take effect immediately; package storage and
// listener changes need a restart.
func (d *Daemon) ReloadConfig(_ context.Context, next *config.Config) error {
	if next == nil {
		return errors.ConfigError("nil configuration").Build()
	}
	d.mu.Lock()
	prev := d.cfg
	d.cfg = next
	jobID, sched := d.jobID, d.scheduler
	d.mu.Unlock()

	if prev.Packages.Dir != next.Packages.Dir || prev.Packages.Registry != next.Packages.Registry ||
		prev.Packages.AbortOnResetFailure != next.Packages.AbortOnResetFailure {
		slog.Warn("Package storage changes take effect after restart")
	}
	if prev.Metrics.Listen != next.Metrics.Listen || prev.History.Path != next.History.Path || prev.NATS.URL != next.NATS.URL {
		slog.Warn("Listener, history and NATS changes take effect after restart")
	}
	if sched != nil && jobID != "" && prev.Daemon.Interval() != next.Daemon.Interval() {
		if err := sched.Reschedule(jobID, checkJobName, next.Daemon.Interval(), d.scheduledCheck); err != nil {
			return err
		}
	}
	slog.Info("Daemon configuration applied",
		logfields.Address(next.Server.Address),
		slog.Duration("interval", next.Daemon.Interval()),
		slog.Bool("auto_download", next.Daemon.ShouldAutoDownload()))
	return nil
}

func (d *Daemon) scheduledCheck() {
	d.mu.RLock()
	ctx := d.runCtx
	d.mu.RUnlock()
	d.Check(ctx, TriggerScheduled)
}

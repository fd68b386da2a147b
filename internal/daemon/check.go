package daemon

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/packsync/internal/logfields"
	"git.home.luguber.info/inful/packsync/internal/update"
)

// Check triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// CheckResult summarizes one update check.
type CheckResult struct {
	ID          string        `json:"id"`
	Trigger     string        `json:"trigger"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	State       string        `json:"state"`
	Error       string        `json:"error,omitempty"`
	Status      string        `json:"status,omitempty"`
	MinVersion  string        `json:"min_version,omitempty"`
	MaxVersion  string        `json:"max_version,omitempty"`
	Packages    int           `json:"packages"`
	Downloaded  bool          `json:"downloaded"`
	NeedRestart bool          `json:"need_restart"`
}

// OK reports whether the check ended without an error.
func (c CheckResult) OK() bool { return c.Error == "" }

// settled holds once the server answered: a verdict state or an error.
func settled(s update.Snapshot) bool {
	return s.State.Terminal() || s.State == update.NeedUpdate || s.State == update.Error
}

// finished holds once a download ended.
func finished(s update.Snapshot) bool {
	return s.State.Terminal() || s.State == update.Error
}

// Check runs one update check: connect, wait for the verdict, download the
// package list when required and auto download is on, then disconnect.
// Checks never overlap.
func (d *Daemon) Check(ctx context.Context, trigger string) CheckResult {
	d.checkMu.Lock()
	defer d.checkMu.Unlock()

	cfg := d.Config()
	ctx, cancel := context.WithTimeout(ctx, cfg.Daemon.Timeout())
	defer cancel()

	res := CheckResult{ID: uuid.NewString(), Trigger: trigger, StartedAt: time.Now()}
	s := d.deps.Session
	slog.Info("Starting update check", slog.String("check_id", res.ID), slog.String("trigger", trigger),
		logfields.Address(cfg.Server.Address))

	s.Disconnect()
	snap, err := s.WaitFor(ctx, func(s update.Snapshot) bool { return s.State == update.Idle })
	if err == nil {
		s.Connect(cfg.Server.Address, cfg.Server.Port)
		snap, err = s.WaitFor(ctx, settled)
	}
	if err == nil && snap.State == update.NeedUpdate && cfg.Daemon.ShouldAutoDownload() {
		res.Downloaded = true
		s.StartDownload()
		snap, err = s.WaitFor(ctx, finished)
	}
	s.Disconnect()

	res.Duration = time.Since(res.StartedAt)
	res.State = snap.State.String()
	res.Error = snap.Error
	if err != nil {
		res.Error = checkErrorText(err)
	}
	if v := snap.Verdict; v != nil {
		res.Status = v.Status
		res.MinVersion, res.MaxVersion = v.MinVersion, v.MaxVersion
		res.Packages = len(v.Packages)
	}
	res.NeedRestart = snap.State == update.NeedRestart

	d.mu.Lock()
	d.lastCheck = &res
	d.mu.Unlock()

	attrs := []any{slog.String("check_id", res.ID), logfields.State(res.State), logfields.DurationMS(float64(res.Duration.Milliseconds()))}
	switch {
	case !res.OK():
		slog.Warn("Update check failed", append(attrs, slog.String("message", res.Error))...)
	case res.NeedRestart:
		slog.Warn("Packages updated, restart required", attrs...)
	case snap.State == update.VersionTooOld:
		slog.Error("Client version too old for update server", append(attrs, slog.String("min_version", res.MinVersion))...)
	default:
		slog.Info("Update check finished", attrs...)
	}
	return res
}

func checkErrorText(err error) string {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return "update check timed out"
	case stderrors.Is(err, context.Canceled):
		return "update check canceled"
	case stderrors.Is(err, update.ErrSessionStopped):
		return "update session stopped"
	default:
		return err.Error()
	}
}

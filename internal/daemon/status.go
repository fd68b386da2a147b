package daemon

import (
	"time"

	"git.home.luguber.info/inful/packsync/internal/eventstore"
	"git.home.luguber.info/inful/packsync/internal/registry"
	"git.home.luguber.info/inful/packsync/internal/syncer"
	"git.home.luguber.info/inful/packsync/internal/version"
	"git.home.luguber.info/inful/packsync/internal/wire"
)

// StatusResponse is the JSON document served on /status.
type StatusResponse struct {
	Daemon    DaemonInfo               `json:"daemon"`
	Session   SessionInfo              `json:"session"`
	Schedule  ScheduleInfo             `json:"schedule"`
	LastCheck *CheckResult             `json:"last_check,omitempty"`
	Packages  PackagesInfo             `json:"packages"`
	LastBatch *eventstore.BatchSummary `json:"last_batch,omitempty"`
	LastSync  *time.Time               `json:"last_sync,omitempty"`
}

// DaemonInfo holds basic daemon information.
type DaemonInfo struct {
	RunID      string    `json:"run_id"`
	Status     Status    `json:"status"`
	Version    string    `json:"version"`
	StartTime  time.Time `json:"start_time"`
	Uptime     string    `json:"uptime"`
	ConfigFile string    `json:"config_file,omitempty"`
}

// SessionInfo mirrors the update session snapshot.
type SessionInfo struct {
	State     string        `json:"state"`
	Error     string        `json:"error,omitempty"`
	Address   string        `json:"address,omitempty"`
	PublicKey string        `json:"public_key,omitempty"`
	Verdict   *wire.Verdict `json:"verdict,omitempty"`
}

// ScheduleInfo describes the periodic check.
type ScheduleInfo struct {
	Interval     string     `json:"interval"`
	Timeout      string     `json:"timeout"`
	AutoDownload bool       `json:"auto_download"`
	NextRun      *time.Time `json:"next_run,omitempty"`
}

// PackagesInfo summarizes the package registry.
type PackagesInfo struct {
	Enabled          []registry.Entry `json:"enabled"`
	Disabled         []string         `json:"disabled"`
	ExtendedFeatures bool             `json:"extended_features"`
}

// StatusSnapshot collects the current daemon status.
func (d *Daemon) StatusSnapshot() StatusResponse {
	cfg := d.Config()

	d.mu.RLock()
	info := DaemonInfo{
		RunID:      d.runID,
		Status:     d.status,
		Version:    version.Version,
		StartTime:  d.startedAt,
		ConfigFile: d.configPath,
	}
	jobID, sched := d.jobID, d.scheduler
	var last *CheckResult
	if d.lastCheck != nil {
		c := *d.lastCheck
		last = &c
	}
	d.mu.RUnlock()
	if !info.StartTime.IsZero() {
		info.Uptime = time.Since(info.StartTime).Round(time.Second).String()
	}

	snap := d.deps.Session.Snapshot()
	resp := StatusResponse{
		Daemon: info,
		Session: SessionInfo{
			State:     snap.State.String(),
			Error:     snap.Error,
			Address:   snap.Address,
			PublicKey: snap.PublicKey,
			Verdict:   snap.Verdict,
		},
		Schedule: ScheduleInfo{
			Interval:     cfg.Daemon.Interval().String(),
			Timeout:      cfg.Daemon.Timeout().String(),
			AutoDownload: cfg.Daemon.ShouldAutoDownload(),
		},
		LastCheck: last,
	}
	if sched != nil && jobID != "" {
		if next, err := sched.NextRun(jobID); err == nil && !next.IsZero() {
			resp.Schedule.NextRun = &next
		}
	}

	reg := d.deps.Engine.Registry()
	resp.Packages = PackagesInfo{
		Enabled:  reg.Summary(),
		Disabled: reg.DisabledPackages(),
		ExtendedFeatures: d.deps.Engine.ShouldUseExtendedFeatures(syncer.Gate{
			Package:  cfg.Gate.Package,
			Baseline: cfg.Gate.Baseline,
		}),
	}

	if p := d.deps.Projection; p != nil {
		if b, ok := p.GetLastCompleted(); ok {
			resp.LastBatch = &b
		}
		if t := p.LastSyncTime(); !t.IsZero() {
			resp.LastSync = &t
		}
	}
	return resp
}

package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/daemon"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	Listen string `help:"Override metrics.listen (address for /status, /healthz and /metrics)"`
}

func (d *DaemonCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if d.Listen != "" {
		cfg.Metrics.Listen = d.Listen
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return RunDaemon(ctx, cfg, root.Config)
}

// RunDaemon runs the daemon until ctx is canceled.
func RunDaemon(ctx context.Context, cfg *config.Config, configPath string) error {
	rt, err := newRuntime(cfg, runtimeOptions{metrics: true, events: true})
	if err != nil {
		return err
	}
	defer rt.close()

	d, err := daemon.New(cfg, configPath, daemon.Deps{
		Session:    rt.newSession(),
		Engine:     rt.engine,
		Bus:        rt.bus,
		Metrics:    rt.metrics,
		History:    rt.history,
		Projection: rt.projection,
		Bridge:     rt.bridge,
	})
	if err != nil {
		return err
	}
	slog.Info("Starting daemon mode", slog.String("config", configPath))
	return d.Run(ctx)
}

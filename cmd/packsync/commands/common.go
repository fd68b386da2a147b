// Package commands implements the packsync command line.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/packsync/internal/config"
)

// Global carries shared state into every command.
type Global struct {
	Logger *slog.Logger
	Out    io.Writer
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"packsync.yaml" env:"PACKSYNC_CONFIG"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Check   CheckCmd   `cmd:"" help:"Ask the update server whether the installed packages are current"`
	Sync    SyncCmd    `cmd:"" help:"Synchronize packages to a target list file without a server"`
	List    ListCmd    `cmd:"" help:"List registered packages"`
	Remove  RemoveCmd  `cmd:"" help:"Unregister a package and delete its working copy"`
	Gate    GateCmd    `cmd:"" help:"Report whether extended features are available"`
	History HistoryCmd `cmd:"" help:"Show recent synchronization batches"`
	Daemon  DaemonCmd  `cmd:"" help:"Run periodic update checks and serve status and metrics"`
	Init    InitCmd    `cmd:"" help:"Initialize a new configuration file"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// loadConfig reads the configuration and applies its logging section unless
// --verbose already forced debug output.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if !c.Verbose {
		slog.SetDefault(slog.New(cfg.Logging.NewHandler(os.Stderr)))
	}
	return cfg, nil
}

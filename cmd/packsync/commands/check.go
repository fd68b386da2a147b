package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/update"
)

// CheckCmd implements the 'check' command.
type CheckCmd struct {
	Download bool          `short:"d" help:"Download the package list when the server requires an update"`
	Timeout  time.Duration `help:"Give up after this long" default:"2m"`
	Host     string        `help:"Override server.address"`
	Port     int           `help:"Override server.port"`
}

func (c *CheckCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Address = c.Host
	}
	if c.Port > 0 {
		cfg.Server.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunCheck(ctx, g.out(), cfg, c.Download, c.Timeout)
}

// RunCheck performs one update check and optionally the download it asks for.
func RunCheck(ctx context.Context, out io.Writer, cfg *config.Config, download bool, timeout time.Duration) error {
	rt, err := newRuntime(cfg, runtimeOptions{events: true})
	if err != nil {
		return err
	}
	defer rt.close()
	rt.startSinks(ctx)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	session := rt.newSession()
	session.AddObserver(update.Observer{
		OnStateChanged: func(_, to update.State, msg string) {
			if msg != "" {
				fmt.Fprintf(out, "%s: %s\n", to, msg)
				return
			}
			fmt.Fprintln(out, to)
		},
	})
	runCtx, cancelRun := context.WithCancel(context.Background())
	go session.Run(runCtx)
	defer func() {
		cancelRun()
		<-session.Done()
	}()

	session.Connect(cfg.Server.Address, cfg.Server.Port)
	snap, err := session.WaitFor(ctx, func(s update.Snapshot) bool {
		return s.State.Terminal() || s.State == update.NeedUpdate || s.State == update.Error
	})
	if err != nil {
		return errors.WrapError(err, errors.CategoryNetwork, "update check did not complete").
			WithContext("address", snap.Address).
			WithContext("state", snap.State.String()).
			Build()
	}
	printVerdict(out, snap)

	if snap.State == update.NeedUpdate {
		if !download {
			fmt.Fprintln(out, "Run with --download to synchronize the package list.")
			return nil
		}
		session.StartDownload()
		snap, err = session.WaitFor(ctx, func(s update.Snapshot) bool {
			return s.State.Terminal() || s.State == update.Error
		})
		if err != nil {
			return errors.WrapError(err, errors.CategoryRuntime, "package download did not complete").
				WithContext("state", snap.State.String()).
				Build()
		}
	}

	switch snap.State {
	case update.Error:
		return errors.NetworkError(snap.Error).WithContext("address", snap.Address).Build()
	case update.VersionTooOld:
		return errors.ValidationError("client version is too old for this server").
			WithContext("version", rt.clientVersion()).
			UserAction().
			Build()
	case update.NeedRestart:
		fmt.Fprintln(out, "Packages synchronized. Restart to load them.")
	}
	return nil
}

func printVerdict(out io.Writer, snap update.Snapshot) {
	v := snap.Verdict
	if v == nil {
		return
	}
	fmt.Fprintf(out, "Server %s: %s (versions %s..%s, %d packages)\n", snap.Address, v.Status, v.MinVersion, v.MaxVersion, len(v.Packages))
	if v.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", v.Message)
	}
	for _, p := range v.Packages {
		fmt.Fprintf(out, "  %-24s %s %s\n", p.Name, shortHash(p.Hash), p.URL)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

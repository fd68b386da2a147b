package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/syncer"
)

// SyncCmd implements the 'sync' command.
type SyncCmd struct {
	File string `short:"f" required:"" type:"existingfile" help:"JSON target list: [{\"name\",\"url\",\"hash\"}, ...]"`
}

func (s *SyncCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	targets, err := syncer.LoadTargets(s.File)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunSync(ctx, g.out(), cfg, targets)
}

// RunSync applies a target list in the foreground.
func RunSync(ctx context.Context, out io.Writer, cfg *config.Config, targets []syncer.Target) error {
	if err := syncer.ValidateTargets(targets); err != nil {
		return err
	}
	rt, err := newRuntime(cfg, runtimeOptions{events: true})
	if err != nil {
		return err
	}
	defer rt.close()
	rt.startSinks(ctx)

	res := rt.engine.SyncTo(ctx, targets)
	for _, p := range res.Packages {
		mark := "ok  "
		if !p.OK() {
			mark = "FAIL"
		} else if !p.Changed {
			mark = "same"
		}
		fmt.Fprintf(out, "%s %s\n", mark, p)
	}
	fmt.Fprintf(out, "Batch %s finished in %s\n", res.BatchID, res.Duration.Round(time.Millisecond))

	if res.Err != nil {
		return res.Err
	}
	if failed := res.Failed(); len(failed) > 0 {
		return errors.GitError("failed to synchronize packages").
			WithContext("batch_id", res.BatchID).
			WithContext("packages", strings.Join(failed, ",")).
			Build()
	}
	return nil
}

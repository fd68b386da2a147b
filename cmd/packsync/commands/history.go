package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/eventstore"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit   int    `short:"n" help:"Number of batches to show" default:"10"`
	Package string `short:"p" help:"Show the events of one package instead of batches"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if h.Package != "" {
		return RunPackageHistory(g.out(), cfg, h.Package, h.Limit)
	}
	return RunHistory(g.out(), cfg, h.Limit)
}

func openHistory(cfg *config.Config) (*eventstore.SQLiteStore, error) {
	if cfg.History.Path == "" {
		return nil, errors.ConfigError("sync history is disabled").
			WithContext("hint", "set history.path in the configuration").
			UserAction().
			Build()
	}
	return eventstore.NewSQLiteStore(cfg.History.Path)
}

// RunHistory prints the most recent completed batches, newest first.
func RunHistory(out io.Writer, cfg *config.Config, limit int) error {
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	projection := eventstore.NewBatchHistoryProjection(store, historySize)
	if err := projection.Rebuild(context.Background()); err != nil {
		return err
	}

	batches := projection.GetHistory()
	if len(batches) == 0 {
		fmt.Fprintln(out, "No synchronization batches recorded.")
		return nil
	}
	if limit > 0 && len(batches) > limit {
		batches = batches[:limit]
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tDURATION\tSYNCED\tCHANGED\tFAILED\tBATCH")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			b.StartedAt.Local().Format(time.DateTime),
			b.Status,
			b.Duration.Round(time.Millisecond),
			len(b.Synced),
			b.Changed,
			strings.Join(b.Failed, ","),
			b.BatchID)
	}
	return tw.Flush()
}

// RunPackageHistory prints the newest events recorded for one package.
func RunPackageHistory(out io.Writer, cfg *config.Config, name string, limit int) error {
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	evts, err := store.Package(context.Background(), name, limit)
	if err != nil {
		return err
	}
	if len(evts) == 0 {
		fmt.Fprintf(out, "No events recorded for %s.\n", name)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tDETAIL\tBATCH")
	for _, e := range evts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.Type, eventDetail(e), e.BatchID)
	}
	return tw.Flush()
}

func eventDetail(e eventstore.Event) string {
	switch e.Type {
	case eventstore.TypePackageSynced:
		var p eventstore.PackageSyncedPayload
		if e.Decode(&p) == nil {
			if p.Changed {
				return "updated to " + shortHash(p.Hash)
			}
			return "unchanged at " + shortHash(p.Hash)
		}
	case eventstore.TypePackageFailed:
		var p eventstore.PackageFailedPayload
		if e.Decode(&p) == nil {
			return fmt.Sprintf("code %d: %s", p.Code, p.Message)
		}
	}
	return ""
}

package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"git.home.luguber.info/inful/packsync/internal/config"
)

// ListCmd implements the 'list' command.
type ListCmd struct {
	Summary bool `short:"s" help:"Print the compact summary JSON and its fingerprint"`
}

func (l *ListCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	return RunList(g.out(), cfg, l.Summary)
}

// RunList prints the registry.
func RunList(out io.Writer, cfg *config.Config, summary bool) error {
	rt, err := newRuntime(cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	if summary {
		fmt.Fprintln(out, rt.registry.SummaryJSON())
		fp, err := rt.fingerprint()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "fingerprint %s\n", fp)
		return nil
	}

	records := rt.registry.Records()
	if len(records) == 0 {
		fmt.Fprintln(out, "No packages registered.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tHASH\tHEAD\tURL")
	for _, r := range records {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		head := "-"
		if rt.git.Exists(r.Name) {
			head = shortHash(rt.git.CurrentHead(r.Name))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, state, shortHash(r.Hash), head, r.URL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if disabled := rt.registry.DisabledPackages(); len(disabled) > 0 {
		fmt.Fprintf(out, "%d disabled: %v\n", len(disabled), disabled)
	}
	return nil
}

package commands

import (
	"fmt"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
)

// RemoveCmd implements the 'remove' command.
type RemoveCmd struct {
	Name string `arg:"" help:"Package name"`
}

func (r *RemoveCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	if _, ok := rt.registry.Get(r.Name); !ok && !rt.git.Exists(r.Name) {
		return errors.NotFoundError("package not registered").WithContext("package", r.Name).Build()
	}
	if err := rt.registry.Remove(r.Name); err != nil {
		return err
	}
	fmt.Fprintf(g.out(), "Removed %s\n", r.Name)
	return nil
}

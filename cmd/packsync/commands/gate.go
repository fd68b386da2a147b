package commands

import (
	"fmt"
)

// GateCmd implements the 'gate' command.
type GateCmd struct {
	Package  string `help:"Override gate.package"`
	Baseline string `help:"Override gate.baseline"`
}

func (c *GateCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.close()

	gate := rt.gate()
	if c.Package != "" {
		gate.Package = c.Package
	}
	if c.Baseline != "" {
		gate.Baseline = c.Baseline
	}
	state := "disabled"
	if rt.engine.ShouldUseExtendedFeatures(gate) {
		state = "enabled"
	}
	fmt.Fprintf(g.out(), "extended features %s (%s >= %s)\n", state, gate.Package, shortHash(gate.Baseline))
	return nil
}

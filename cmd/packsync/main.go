package main

import (
	"log/slog"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/packsync/cmd/packsync/commands"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/version"
)

func main() {
	cli := &commands.CLI{}
	parser := kong.Parse(cli,
		kong.Name("packsync"),
		kong.Description("Keep installed packages pinned to the commits an update server declares."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	global := &commands.Global{Logger: slog.Default()}
	if err := parser.Run(global, cli); err != nil {
		errors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).HandleError(err)
	}
}

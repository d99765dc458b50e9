package app

import (
	"fmt"
	"os"
	"runtime"

	"github.com/nspcc-dev/chainmux/cli/server"
	"github.com/nspcc-dev/chainmux/pkg/config"
	"github.com/urfave/cli"
)

func versionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "ChainMux\nVersion: %s\nGoVersion: %s\n",
		config.Version,
		runtime.Version(),
	)
}

// New creates a chainmux instance of [cli.App] with all commands included.
func New() *cli.App {
	cli.VersionPrinter = versionPrinter
	ctl := cli.NewApp()
	ctl.Name = "chainmux"
	ctl.Version = config.Version
	ctl.Usage = "Block and transaction signal multiplexer"
	ctl.ErrWriter = os.Stdout

	ctl.Commands = append(ctl.Commands, server.NewCommands()...)
	return ctl
}

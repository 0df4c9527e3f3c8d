package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/fencevirt-go/internal/cli/output"
	"github.com/yndnr/fencevirt-go/internal/infra/buildinfo"
)

// App creates the fencevirt requester.
func App() *cli.App {
	return &cli.App{
		Name:      "fencevirt",
		Usage:     "Fence a virtual machine through a fencevirtd daemon",
		UsageText: "fencevirt [options]\n   fencevirt < options-on-stdin",
		Version:   buildinfo.String(),
		Flags:     requestFlags(),
		Before:    readStdinOptions,
		Action:    fence,
	}
}

// DaemonApp creates the fencevirtd daemon.
func DaemonApp() *cli.App {
	return &cli.App{
		Name:    "fencevirtd",
		Usage:   "Fencing daemon for virtual machines",
		Version: buildinfo.String(),
		Commands: []*cli.Command{
			ServeCommand(),
			SimCommand(),
			ConfigCommand(),
		},
	}
}

// formatFlag selects the output format.
func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: table, json, yaml",
		Value:   string(output.FormatTable),
	}
}

// render prints data in the format selected on the command line.
func render(c *cli.Context, data any) error {
	format, err := output.ParseFormat(c.String("format"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return output.NewFormatter(format).Format(c.App.Writer, data)
}

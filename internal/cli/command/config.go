package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/fencevirt-go/internal/server/config"
)

// ConfigCommand returns the config command group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "Load and verify the configuration",
				Flags:  []cli.Flag{configFlag()},
				Action: configCheck,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration with key paths masked",
				Flags:  []cli.Flag{configFlag(), formatFlag()},
				Action: configShow,
			},
		},
	}
}

func configCheck(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Fprintf(c.App.Writer, "configuration ok: listener %s, backend %s\n", cfg.Listener.Name, cfg.Backend.Name)
	return nil
}

func configShow(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return render(c, config.Sanitize(cfg))
}

package command

import (
	"context"
	"fmt"
	"net/url"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/fencevirt-go/internal/hypervisor/sim"
)

// DefaultSimURI is the on-disk store used by the sim commands.
const DefaultSimURI = "sim:///var/lib/fencevirt/sim"

// SimCommand returns the sim command group, which manages the domains of
// the simulated hypervisor. The daemon must not hold an on-disk store open
// while these commands use it.
func SimCommand() *cli.Command {
	uri := &cli.StringFlag{
		Name:    "uri",
		Usage:   "Simulated hypervisor store",
		EnvVars: []string{"FENCEVIRT_SIM_URI"},
		Value:   DefaultSimURI,
	}
	return &cli.Command{
		Name:  "sim",
		Usage: "Manage the simulated hypervisor",
		Flags: []cli.Flag{uri},
		Subcommands: []*cli.Command{
			{
				Name:      "define",
				Usage:     "Define a stopped domain",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uuid", Usage: "Domain UUID (random if empty)"},
					&cli.BoolFlag{Name: "start", Usage: "Start the domain after defining it"},
				},
				Action: simDefine,
			},
			{
				Name:      "undefine",
				Usage:     "Remove a domain",
				ArgsUsage: "NAME",
				Action:    simUndefine,
			},
			{
				Name:   "list",
				Usage:  "List domains",
				Flags:  []cli.Flag{formatFlag()},
				Action: simList,
			},
			{
				Name:      "start",
				Usage:     "Start a domain",
				ArgsUsage: "NAME",
				Action:    simStart,
			},
			{
				Name:      "stop",
				Usage:     "Destroy a running domain",
				ArgsUsage: "NAME",
				Action:    simStop,
			},
		},
	}
}

// withSim opens the store named by --uri for one command.
func withSim(c *cli.Context, fn func(ctx context.Context, s *sim.Sim) error) error {
	u, err := url.Parse(c.String("uri"))
	if err != nil || u.Scheme != sim.Scheme {
		return cli.Exit(fmt.Sprintf("bad sim uri %q", c.String("uri")), 1)
	}
	s, err := sim.Open(u, nil)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer s.Close()

	if err := fn(c.Context, s); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func domainArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit("expected exactly one domain name", 1)
	}
	return c.Args().First(), nil
}

func simDefine(c *cli.Context) error {
	name, err := domainArg(c)
	if err != nil {
		return err
	}
	return withSim(c, func(ctx context.Context, s *sim.Sim) error {
		d, err := s.Define(ctx, name, c.String("uuid"))
		if err != nil {
			return err
		}
		if c.Bool("start") {
			if err := s.Create(ctx, name); err != nil {
				return err
			}
		}
		fmt.Fprintf(c.App.Writer, "defined %s (%s)\n", d.Name, d.UUID)
		return nil
	})
}

func simUndefine(c *cli.Context) error {
	name, err := domainArg(c)
	if err != nil {
		return err
	}
	return withSim(c, func(ctx context.Context, s *sim.Sim) error {
		return s.Undefine(ctx, name)
	})
}

func simList(c *cli.Context) error {
	return withSim(c, func(ctx context.Context, s *sim.Sim) error {
		doms, err := s.List(ctx)
		if err != nil {
			return err
		}
		rows := make([]hostRow, 0, len(doms))
		for _, d := range doms {
			h := d.HostState()
			rows = append(rows, hostRow{Domain: h.Domain, UUID: h.UUID, State: h.State})
		}
		return render(c, rows)
	})
}

func simStart(c *cli.Context) error {
	name, err := domainArg(c)
	if err != nil {
		return err
	}
	return withSim(c, func(ctx context.Context, s *sim.Sim) error {
		return s.Create(ctx, name)
	})
}

func simStop(c *cli.Context) error {
	name, err := domainArg(c)
	if err != nil {
		return err
	}
	return withSim(c, func(ctx context.Context, s *sim.Sim) error {
		return s.Destroy(ctx, name)
	})
}

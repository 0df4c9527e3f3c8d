package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/fencevirt-go/internal/infra/buildinfo"
	"github.com/yndnr/fencevirt-go/internal/infra/confloader"
	"github.com/yndnr/fencevirt-go/internal/infra/shutdown"
	"github.com/yndnr/fencevirt-go/internal/server/config"
	"github.com/yndnr/fencevirt-go/internal/server/daemon"
	"github.com/yndnr/fencevirt-go/internal/telemetry/logger"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
)

// shutdownTimeout bounds closing the listener and the backend.
const shutdownTimeout = 30 * time.Second

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the configuration file",
		EnvVars: []string{"FENCEVIRT_CONFIG"},
	}
}

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the fencing daemon",
		Flags:  []cli.Flag{configFlag()},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("load config: %v", err), 1)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("init logger: %v", err), 1)
	}
	log.Info("starting fencevirtd",
		"build", buildinfo.Get(),
		"config", c.String("config"))
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	h := shutdown.NewHandler(shutdownTimeout)
	d, err := daemon.New(h.Context(), cfg, log, metric.Global())
	if err != nil {
		return cli.Exit(fmt.Sprintf("start daemon: %v", err), 1)
	}

	runDone := make(chan error, 1)
	go func() {
		err := d.Run(h.Context())
		runDone <- err
		if err != nil {
			h.Trigger()
		}
	}()

	var runErr error
	h.OnShutdown(func(ctx context.Context) error {
		select {
		case runErr = <-runDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		log.Info("closing listener and backend")
		return d.Close()
	})

	if err := h.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return cli.Exit(err.Error(), 1)
	}
	if runErr != nil {
		return cli.Exit(runErr.Error(), 1)
	}
	log.Info("fencevirtd stopped")
	return nil
}

// loadConfig loads defaults, then the file, then FENCEVIRT_ variables, and
// verifies the result.
func loadConfig(path string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{confloader.WithStrict()}
	if path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger installs the configured logger as the process default.
func initLogger(cfg *config.ServerConfig) (*slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return log, nil
}

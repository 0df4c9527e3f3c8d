package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/yndnr/fencevirt-go/internal/backend"
	"github.com/yndnr/fencevirt-go/internal/history"
	"github.com/yndnr/fencevirt-go/internal/permission"
	"github.com/yndnr/fencevirt-go/internal/server/config"
	"github.com/yndnr/fencevirt-go/internal/server/httpserver"
	"github.com/yndnr/fencevirt-go/internal/server/listener"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"

	// Registered backends, hypervisor drivers and listeners.
	_ "github.com/yndnr/fencevirt-go/internal/cluster"
	_ "github.com/yndnr/fencevirt-go/internal/hypervisor/sim"
	_ "github.com/yndnr/fencevirt-go/internal/server/mcastserver"
	_ "github.com/yndnr/fencevirt-go/internal/server/serialserver"
	_ "github.com/yndnr/fencevirt-go/internal/server/tcpserver"
	_ "github.com/yndnr/fencevirt-go/internal/server/vsockserver"
)

// maxBrokenDispatch is how many consecutive listener errors Run tolerates
// before giving up.
const maxBrokenDispatch = 3

// Daemon owns one listener and the backend it dispatches to.
type Daemon struct {
	listener listener.Listener
	backend  backend.Backend
	perms    *permission.Map
	poll     time.Duration

	status *httpserver.Server
	logger *slog.Logger
}

// New builds the daemon described by cfg. cfg is expected to have passed
// config.Verify.
func New(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger, metrics *metric.Registry) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = metric.Global()
	}

	var perms *permission.Map
	if cfg.Permissions.File != "" {
		var err error
		if perms, err = permission.Load(cfg.Permissions.File); err != nil {
			return nil, fmt.Errorf("load permissions: %w", err)
		}
		if cfg.Permissions.Watch {
			if err := perms.Watch(logger.With("component", "permissions")); err != nil {
				return nil, err
			}
		}
	}

	b, err := backend.New(ctx, cfg.Backend.Name, backend.Options{
		Config:  cfg.Backend,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		perms.Close()
		return nil, err
	}
	b = backend.Instrument(b, cfg.Backend.Name, metrics)

	l, err := listener.New(ctx, cfg.Listener.Name, listener.Options{
		Config:      cfg.Listener,
		Backend:     b,
		Permissions: perms,
		History:     history.NewFenceHistory(cfg.History.Expiry),
		Logger:      logger,
		Metrics:     metrics,

		FenceTimeout: cfg.FenceTimeout,
	})
	if err != nil {
		b.Close()
		perms.Close()
		return nil, err
	}

	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = config.DefaultPollTimeout
	}
	logger.Info("daemon ready",
		"listener", cfg.Listener.Name,
		"backend", cfg.Backend.Name,
		"permissions", cfg.Permissions.File != "")
	d := &Daemon{
		listener: l,
		backend:  b,
		perms:    perms,
		poll:     poll,
		logger:   logger,
	}
	if cfg.HTTP.Addr != "" {
		statusLog := logger.With("component", "http")
		d.status = httpserver.New(cfg.HTTP.Addr, httpserver.NewRouter(&httpserver.RouterConfig{
			Backend:   b,
			Listener:  cfg.Listener.Name,
			Metrics:   metrics,
			Logger:    statusLog,
			AllowList: cfg.HTTP.Allow,
			RateLimit: cfg.HTTP.RateLimit,
			Burst:     cfg.HTTP.Burst,
		}), statusLog)
	}
	return d, nil
}

// Addr returns the listener's local address, or nil for listeners that
// have none.
func (d *Daemon) Addr() net.Addr {
	if a, ok := d.listener.(interface{ Addr() net.Addr }); ok {
		return a.Addr()
	}
	return nil
}

// Run dispatches requests until ctx is cancelled. A listener that keeps
// failing ends the loop with its error.
func (d *Daemon) Run(ctx context.Context) error {
	if d.status != nil {
		statusCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := d.status.Serve(statusCtx); err != nil {
				d.logger.Error("status endpoint failed", "error", err)
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	broken := 0
	for ctx.Err() == nil {
		err := d.listener.Dispatch(ctx, d.poll)
		if err == nil {
			broken = 0
			continue
		}
		if ctx.Err() != nil {
			break
		}
		broken++
		d.logger.Error("dispatch failed", "error", err, "consecutive", broken)
		if broken >= maxBrokenDispatch {
			return fmt.Errorf("dispatch: %w", err)
		}
	}
	d.logger.Info("dispatch loop stopped")
	return nil
}

// Close closes the listener, then the backend, then the permission
// watcher.
func (d *Daemon) Close() error {
	var errs []error
	if err := d.listener.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close listener: %w", err))
	}
	if err := d.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	if err := d.perms.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close permissions: %w", err))
	}
	return errors.Join(errs...)
}

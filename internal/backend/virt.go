package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/hypervisor"
	"github.com/yndnr/fencevirt-go/internal/server/config"
)

// VirtName is the registry name of the virt backend.
const VirtName = "virt"

const (
	defaultRebootWait   = 30 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

func init() {
	Register(VirtName, func(ctx context.Context, opts Options) (Backend, error) {
		return NewVirt(opts.Config.Virt, opts.Logger), nil
	})
}

// OpenFunc opens a hypervisor connection.
type OpenFunc func(ctx context.Context, uri string, logger *slog.Logger) (hypervisor.Hypervisor, error)

// Virt is the policy layer over one or more hypervisor connections.
//
// Connections are opened on first use and dropped after any driver error,
// so the next request reconnects. A target is searched in every configured
// hypervisor in order; the first one that knows it acts on it.
type Virt struct {
	uris         []string
	rebootWait   time.Duration
	pollInterval time.Duration
	open         OpenFunc
	logger       *slog.Logger

	mu    sync.Mutex
	conns []hypervisor.Hypervisor
}

// VirtOption configures a Virt backend.
type VirtOption func(*Virt)

// WithOpener replaces hypervisor.Open.
func WithOpener(open OpenFunc) VirtOption {
	return func(v *Virt) {
		v.open = open
	}
}

// WithPollInterval sets how often reboot checks whether a destroyed domain
// has stopped.
func WithPollInterval(d time.Duration) VirtOption {
	return func(v *Virt) {
		v.pollInterval = d
	}
}

// NewVirt creates a virt backend. No connection is made until first use.
func NewVirt(cfg config.VirtConfig, logger *slog.Logger, opts ...VirtOption) *Virt {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Virt{
		uris:         append([]string(nil), cfg.URIs...),
		rebootWait:   cfg.RebootWait,
		pollInterval: defaultPollInterval,
		open:         hypervisor.Open,
		logger:       logger.With("backend", VirtName),
	}
	if v.rebootWait <= 0 {
		v.rebootWait = defaultRebootWait
	}
	for _, opt := range opts {
		opt(v)
	}
	v.conns = make([]hypervisor.Hypervisor, len(v.uris))
	return v
}

// conn returns the connection for uri i, opening it if needed.
func (v *Virt) conn(ctx context.Context, i int) (hypervisor.Hypervisor, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.conns[i] != nil {
		return v.conns[i], nil
	}
	h, err := v.open(ctx, v.uris[i], v.logger)
	if err != nil {
		return nil, err
	}
	v.logger.Debug("hypervisor connected", "uri", v.uris[i])
	v.conns[i] = h
	return h, nil
}

// drop closes connection i after a driver error, if it is still h.
func (v *Virt) drop(i int, h hypervisor.Hypervisor, cause error) {
	v.mu.Lock()
	if v.conns[i] != h {
		v.mu.Unlock()
		return
	}
	v.conns[i] = nil
	v.mu.Unlock()

	v.logger.Warn("hypervisor connection dropped", "uri", v.uris[i], "error", cause)
	if err := h.Close(); err != nil {
		v.logger.Debug("close hypervisor", "uri", v.uris[i], "error", err)
	}
}

// found is a located target.
type found struct {
	idx int
	h   hypervisor.Hypervisor
	dom hypervisor.Domain
}

// errUnreachable means no configured hypervisor could be asked.
var errUnreachable = domain.ErrBackendUnavailable

// find searches every hypervisor for t. It returns domain.ErrDomainNotFound
// when at least one hypervisor answered and none knows t, and
// errUnreachable when none answered.
func (v *Virt) find(ctx context.Context, t Target) (found, error) {
	answered := false
	for i := range v.uris {
		h, err := v.conn(ctx, i)
		if err != nil {
			v.logger.Warn("hypervisor connect failed", "uri", v.uris[i], "error", err)
			continue
		}
		dom, err := h.Lookup(ctx, t.Name, t.ByUUID)
		switch {
		case err == nil:
			return found{idx: i, h: h, dom: dom}, nil
		case errors.Is(err, domain.ErrDomainNotFound):
			answered = true
		default:
			v.drop(i, h, err)
		}
	}
	if answered {
		return found{}, domain.ErrDomainNotFound.WithDetails(t.Name)
	}
	return found{}, errUnreachable
}

// Null implements Backend.
func (v *Virt) Null(ctx context.Context) domain.Response {
	return domain.ResponseSuccess
}

// Status implements Backend. A VM unknown to every reachable hypervisor
// is reported as off.
func (v *Virt) Status(ctx context.Context, t Target) domain.Response {
	f, err := v.find(ctx, t)
	switch {
	case errors.Is(err, domain.ErrDomainNotFound):
		return domain.ResponseOff
	case err != nil:
		return domain.ResponseFail
	case f.dom.Running:
		return domain.ResponseSuccess
	}
	return domain.ResponseOff
}

// Off implements Backend.
func (v *Virt) Off(ctx context.Context, t Target) domain.Response {
	f, err := v.find(ctx, t)
	if err != nil {
		v.logger.Info("off: target not found", "domain", t.Name, "error", err)
		return domain.ResponseFail
	}
	if !f.dom.Running {
		v.logger.Info("off: domain already off", "domain", f.dom.Name)
		return domain.ResponseSuccess
	}
	if err := v.destroy(ctx, f); err != nil {
		return domain.ResponseFail
	}
	return domain.ResponseSuccess
}

// On implements Backend.
func (v *Virt) On(ctx context.Context, t Target) domain.Response {
	f, err := v.find(ctx, t)
	if err != nil {
		v.logger.Info("on: target not found", "domain", t.Name, "error", err)
		return domain.ResponseFail
	}
	if f.dom.Running {
		v.logger.Info("on: domain already running", "domain", f.dom.Name)
		return domain.ResponseSuccess
	}
	if err := f.h.Create(ctx, f.dom.Name); err != nil {
		v.logger.Error("on: create failed", "domain", f.dom.Name, "error", err)
		v.drop(f.idx, f.h, err)
		return domain.ResponseFail
	}
	v.logger.Info("domain started", "domain", f.dom.Name)
	return domain.ResponseSuccess
}

// Reboot implements Backend. A stopped domain is simply started. A failure
// to start the domain again after it was destroyed is logged and the
// reboot still succeeds, because the domain is known to have stopped.
func (v *Virt) Reboot(ctx context.Context, t Target) domain.Response {
	f, err := v.find(ctx, t)
	if err != nil {
		v.logger.Info("reboot: target not found", "domain", t.Name, "error", err)
		return domain.ResponseFail
	}

	if f.dom.Running {
		if err := v.destroy(ctx, f); err != nil {
			return domain.ResponseFail
		}
	}

	if err := f.h.Create(ctx, f.dom.Name); err != nil {
		if !f.dom.Running {
			v.logger.Error("reboot: create failed", "domain", f.dom.Name, "error", err)
			v.drop(f.idx, f.h, err)
			return domain.ResponseFail
		}
		v.logger.Error("reboot: domain destroyed but not restarted", "domain", f.dom.Name, "error", err)
		v.drop(f.idx, f.h, err)
		return domain.ResponseSuccess
	}
	v.logger.Info("domain rebooted", "domain", f.dom.Name)
	return domain.ResponseSuccess
}

// destroy stops f and waits until the hypervisor reports it stopped.
func (v *Virt) destroy(ctx context.Context, f found) error {
	if err := f.h.Destroy(ctx, f.dom.Name); err != nil {
		v.logger.Error("destroy failed", "domain", f.dom.Name, "error", err)
		v.drop(f.idx, f.h, err)
		return err
	}
	if err := v.waitStopped(ctx, f); err != nil {
		v.logger.Error("domain did not stop", "domain", f.dom.Name, "wait", v.rebootWait, "error", err)
		return err
	}
	v.logger.Info("domain destroyed", "domain", f.dom.Name)
	return nil
}

// waitStopped polls until the domain is not running, is gone, or the
// reboot wait expires.
func (v *Virt) waitStopped(ctx context.Context, f found) error {
	ctx, cancel := context.WithTimeout(ctx, v.rebootWait)
	defer cancel()

	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for {
		dom, err := f.h.Lookup(ctx, f.dom.Name, false)
		switch {
		case errors.Is(err, domain.ErrDomainNotFound):
			return nil
		case err != nil:
			v.drop(f.idx, f.h, err)
			return err
		case !dom.Running:
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DevStatus implements Backend. Every configured hypervisor must answer.
func (v *Virt) DevStatus(ctx context.Context) domain.Response {
	for i := range v.uris {
		h, err := v.conn(ctx, i)
		if err != nil {
			v.logger.Warn("devstatus: connect failed", "uri", v.uris[i], "error", err)
			return domain.ResponseFail
		}
		if _, err := h.List(ctx); err != nil {
			v.drop(i, h, err)
			return domain.ResponseFail
		}
	}
	return domain.ResponseSuccess
}

// HostList implements Backend. Unreachable hypervisors are skipped; the
// request fails only if none answered.
func (v *Virt) HostList(ctx context.Context, fn HostFunc) domain.Response {
	answered := false
	for i := range v.uris {
		h, err := v.conn(ctx, i)
		if err != nil {
			v.logger.Warn("hostlist: connect failed", "uri", v.uris[i], "error", err)
			continue
		}
		doms, err := h.List(ctx)
		if err != nil {
			v.drop(i, h, err)
			continue
		}
		answered = true
		for _, d := range doms {
			if err := fn(d.HostState()); err != nil {
				v.logger.Debug("hostlist aborted", "error", err)
				return domain.ResponseFail
			}
		}
	}
	if !answered {
		return domain.ResponseFail
	}
	return domain.ResponseSuccess
}

// Close implements Backend.
func (v *Virt) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var errs []error
	for i, h := range v.conns {
		if h == nil {
			continue
		}
		errs = append(errs, h.Close())
		v.conns[i] = nil
	}
	return errors.Join(errs...)
}

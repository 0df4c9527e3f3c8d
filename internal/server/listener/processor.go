package listener

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yndnr/fencevirt-go/internal/backend"
	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/history"
	"github.com/yndnr/fencevirt-go/internal/permission"
	"github.com/yndnr/fencevirt-go/internal/server/config"
	"github.com/yndnr/fencevirt-go/internal/telemetry/logger"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
	"github.com/yndnr/fencevirt-go/pkg/auth"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// Request is a decoded request from any transport.
type Request struct {
	// Requester identifies the sender for the permission check: an IP
	// address, a vsock context id, or a serial channel's domain.
	Requester string

	Action domain.Action
	SeqNo  uint32
	Target backend.Target
}

// FromWire converts a network request.
func FromWire(requester string, r *wire.Request) Request {
	return Request{
		Requester: requester,
		Action:    r.Action,
		SeqNo:     r.SeqNo,
		Target:    backend.Target{Name: r.DomainName(), ByUUID: r.ByUUID()},
	}
}

// FromSerial converts a serial request.
func FromSerial(requester string, r *wire.SerialRequest) Request {
	return Request{
		Requester: requester,
		Action:    r.Action,
		SeqNo:     r.SeqNo,
		Target:    backend.Target{Name: r.DomainName(), ByUUID: r.ByUUID()},
	}
}

func (r Request) key() history.FenceKey {
	return history.FenceKey{Action: r.Action, SeqNo: r.SeqNo, Domain: r.Target.Name}
}

// Responder encodes answers for one transport.
type Responder interface {
	// BeginHostList announces that host records follow.
	BeginHostList() error

	// WriteHost writes one host record.
	WriteHost(h domain.HostState) error

	// EndHostList writes the terminating record.
	EndHostList() error

	// WriteResult writes the final result code.
	WriteResult(resp domain.Response) error
}

// Processor runs the transport-independent part of an interaction.
type Processor struct {
	transport   string
	backend     backend.Backend
	permissions *permission.Map
	history     *history.History[history.FenceKey]
	logger      *slog.Logger
	metrics     *metric.Registry
	timeout     time.Duration
}

// NewProcessor creates the processor for a transport.
func NewProcessor(transport string, opts Options) *Processor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metric.Global()
	}
	if opts.FenceTimeout <= 0 {
		opts.FenceTimeout = config.DefaultFenceTimeout
	}
	return &Processor{
		transport:   transport,
		backend:     opts.Backend,
		permissions: opts.Permissions,
		history:     opts.History,
		logger:      opts.Logger.With("listener", transport),
		metrics:     opts.Metrics,
		timeout:     opts.FenceTimeout,
	}
}

// Logger returns the request-scoped logger for ctx.
func (p *Processor) Logger(ctx context.Context) *slog.Logger {
	if id := logger.RequestIDFromContext(ctx); id != "" {
		return p.logger.With("request_id", id)
	}
	return p.logger
}

// Received tags ctx with a new request id and counts the request.
func (p *Processor) Received(ctx context.Context, a domain.Action) context.Context {
	p.metrics.RecordRequest(p.transport, a.String())
	return logger.WithRequestID(ctx, logger.NewRequestID())
}

// Drop counts and logs a request abandoned before dispatch.
func (p *Processor) Drop(ctx context.Context, reason string, err error, args ...any) {
	p.metrics.RecordDrop(p.transport, reason)
	args = append(args, "reason", reason)
	if err != nil {
		args = append(args, "error", err)
	}
	p.Logger(ctx).Warn("request dropped", args...)
}

// Verify checks a request's keyed hash. Failures are dropped silently
// toward the sender.
func (p *Processor) Verify(ctx context.Context, req *wire.Request, a Auth) bool {
	if err := auth.Verify(req, a.Hash, a.Key); err != nil {
		p.Drop(ctx, metric.DropVerify, err, "seq", req.SeqNo, "domain", req.DomainName())
		return false
	}
	return true
}

// Duplicate reports whether req was already handled within the replay
// window.
func (p *Processor) Duplicate(ctx context.Context, req Request) bool {
	if p.history == nil || !p.history.Check(req.key()) {
		return false
	}
	p.Drop(ctx, metric.DropDuplicate, nil, "seq", req.SeqNo, "action", req.Action, "domain", req.Target.Name)
	return true
}

// Serve checks permissions, calls the backend and writes the answer. The
// backend call is bounded by the fencing timeout. The request is recorded in the replay history
// afterwards whatever the outcome, so a retransmission is never acted on
// twice. The returned error is a write failure.
func (p *Processor) Serve(ctx context.Context, req Request, rw Responder) error {
	log := p.Logger(ctx).With(
		"requester", req.Requester,
		"action", req.Action,
		"seq", req.SeqNo,
		"domain", req.Target.Name)
	defer p.record(log, req)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if req.Action == domain.ActionHostList {
		return p.hostList(ctx, log, req, rw)
	}

	var resp domain.Response
	if req.Action.NeedsDomain() && !p.permissions.Allowed(req.Requester, req.Target.Name) {
		log.Warn("permission denied")
		resp = domain.ResponsePermission
	} else {
		resp = backend.Invoke(ctx, p.backend, req.Action, req.Target, nil)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Warn("fencing timeout expired", "timeout", p.timeout)
		}
	}
	log.Info("request handled", "response", resp)

	if err := rw.WriteResult(resp); err != nil {
		log.Warn("write response failed", "error", err)
		return err
	}
	return nil
}

var errWrite = errors.New("host list write failed")

// hostList streams the hosts the requester may see.
func (p *Processor) hostList(ctx context.Context, log *slog.Logger, req Request, rw Responder) error {
	if err := rw.BeginHostList(); err != nil {
		log.Warn("write host list marker failed", "error", err)
		return err
	}

	var writeErr error
	sent := 0
	resp := p.backend.HostList(ctx, func(h domain.HostState) error {
		if !p.permissions.Allowed(req.Requester, h.Domain, h.UUID) {
			return nil
		}
		if err := rw.WriteHost(h); err != nil {
			writeErr = err
			return errWrite
		}
		sent++
		return nil
	})
	if writeErr != nil {
		log.Warn("write host record failed", "error", writeErr)
		return writeErr
	}

	if err := rw.EndHostList(); err != nil {
		log.Warn("write host list terminator failed", "error", err)
		return err
	}
	log.Info("host list sent", "hosts", sent, "response", resp)
	if err := rw.WriteResult(resp); err != nil {
		log.Warn("write response failed", "error", err)
		return err
	}
	return nil
}

func (p *Processor) record(log *slog.Logger, req Request) {
	if p.history == nil {
		return
	}
	if err := p.history.Record(req.key()); err != nil {
		log.Debug("request already in history", "error", err)
	}
}

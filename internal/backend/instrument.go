package backend

import (
	"context"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
)

type instrumented struct {
	Backend
	name    string
	metrics *metric.Registry
}

// Instrument wraps b so every call is counted and timed under name.
func Instrument(b Backend, name string, m *metric.Registry) Backend {
	if m == nil {
		m = metric.Global()
	}
	return &instrumented{Backend: b, name: name, metrics: m}
}

func (i *instrumented) observe(action domain.Action, start time.Time, r domain.Response) domain.Response {
	i.metrics.ObserveBackend(i.name, action.String(), r.String(), time.Since(start))
	return r
}

func (i *instrumented) Null(ctx context.Context) domain.Response {
	start := time.Now()
	return i.observe(domain.ActionNull, start, i.Backend.Null(ctx))
}

func (i *instrumented) Off(ctx context.Context, t Target) domain.Response {
	start := time.Now()
	return i.observe(domain.ActionOff, start, i.Backend.Off(ctx, t))
}

func (i *instrumented) On(ctx context.Context, t Target) domain.Response {
	start := time.Now()
	return i.observe(domain.ActionOn, start, i.Backend.On(ctx, t))
}

func (i *instrumented) Reboot(ctx context.Context, t Target) domain.Response {
	start := time.Now()
	return i.observe(domain.ActionReboot, start, i.Backend.Reboot(ctx, t))
}

func (i *instrumented) Status(ctx context.Context, t Target) domain.Response {
	start := time.Now()
	return i.observe(domain.ActionStatus, start, i.Backend.Status(ctx, t))
}

func (i *instrumented) DevStatus(ctx context.Context) domain.Response {
	start := time.Now()
	return i.observe(domain.ActionDevStatus, start, i.Backend.DevStatus(ctx))
}

func (i *instrumented) HostList(ctx context.Context, fn HostFunc) domain.Response {
	start := time.Now()
	return i.observe(domain.ActionHostList, start, i.Backend.HostList(ctx, fn))
}

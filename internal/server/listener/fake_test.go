package listener

import (
	"context"
	"sync"

	"github.com/yndnr/fencevirt-go/internal/backend"
	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// countingBackend answers every call with resp and counts calls by action.
type countingBackend struct {
	mu    sync.Mutex
	calls map[domain.Action]int
	resp  domain.Response
	hosts []domain.HostState
}

func newCountingBackend(hosts ...domain.HostState) *countingBackend {
	return &countingBackend{calls: make(map[domain.Action]int), hosts: hosts}
}

func (b *countingBackend) count(a domain.Action) domain.Response {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[a]++
	return b.resp
}

func (b *countingBackend) Calls(a domain.Action) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[a]
}

func (b *countingBackend) Null(context.Context) domain.Response { return b.count(domain.ActionNull) }
func (b *countingBackend) Off(context.Context, backend.Target) domain.Response {
	return b.count(domain.ActionOff)
}
func (b *countingBackend) On(context.Context, backend.Target) domain.Response {
	return b.count(domain.ActionOn)
}
func (b *countingBackend) Reboot(context.Context, backend.Target) domain.Response {
	return b.count(domain.ActionReboot)
}
func (b *countingBackend) Status(context.Context, backend.Target) domain.Response {
	return b.count(domain.ActionStatus)
}
func (b *countingBackend) DevStatus(context.Context) domain.Response {
	return b.count(domain.ActionDevStatus)
}
func (b *countingBackend) HostList(_ context.Context, fn backend.HostFunc) domain.Response {
	resp := b.count(domain.ActionHostList)
	for _, h := range b.hosts {
		if err := fn(h); err != nil {
			return domain.ResponseFail
		}
	}
	return resp
}
func (b *countingBackend) Close() error { return nil }

// recordingResponder records what a Processor writes.
type recordingResponder struct {
	events []string
	fail   error
}

func (r *recordingResponder) BeginHostList() error {
	r.events = append(r.events, "begin")
	return nil
}

func (r *recordingResponder) WriteHost(h domain.HostState) error {
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, "host "+h.Domain)
	return nil
}

func (r *recordingResponder) EndHostList() error {
	r.events = append(r.events, "end")
	return nil
}

func (r *recordingResponder) WriteResult(resp domain.Response) error {
	r.events = append(r.events, "result "+resp.String())
	return r.fail
}

// waitingBackend blocks every power call until ctx ends, like a group
// router whose request nobody answers.
type waitingBackend struct {
	*countingBackend
}

func (b *waitingBackend) Off(ctx context.Context, _ backend.Target) domain.Response {
	b.count(domain.ActionOff)
	<-ctx.Done()
	return domain.ResponseFail
}

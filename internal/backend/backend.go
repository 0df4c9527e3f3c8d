// Package backend defines the capability set every fencing backend offers
// and the registry backends are selected from by name.
//
// Every call returns a domain.Response. Backends never return Go errors to
// the dispatch loop: a failure to reach the hypervisor is ResponseFail for
// that attempt, and the next call reconnects.
package backend

import (
	"context"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// Target names the VM a request acts on.
type Target struct {
	// Name is a domain name, or a UUID when ByUUID is set.
	Name   string
	ByUUID bool
}

// Matches reports whether h is the targeted VM.
func (t Target) Matches(h domain.HostState) bool {
	return h.Matches(t.Name, t.ByUUID)
}

// String returns the target name.
func (t Target) String() string {
	return t.Name
}

// HostFunc receives one host list entry. Returning an error stops the
// enumeration and fails the request.
type HostFunc func(domain.HostState) error

// Backend is a fencing backend. Change operations are idempotent: asking for
// a state that already holds succeeds without touching the VM.
type Backend interface {
	// Null checks that the backend answers at all.
	Null(ctx context.Context) domain.Response

	// Off forcibly stops the target.
	Off(ctx context.Context, t Target) domain.Response

	// On starts the target.
	On(ctx context.Context, t Target) domain.Response

	// Reboot destroys the target, waits for it to stop, and starts it again.
	Reboot(ctx context.Context, t Target) domain.Response

	// Status returns ResponseSuccess if the target runs, ResponseOff if not.
	Status(ctx context.Context, t Target) domain.Response

	// DevStatus reports the health of the fencing device itself.
	DevStatus(ctx context.Context) domain.Response

	// HostList calls fn once per known VM.
	HostList(ctx context.Context, fn HostFunc) domain.Response

	Close() error
}

// Invoke runs the backend operation for action. fn receives host list
// entries and is only used by ActionHostList.
func Invoke(ctx context.Context, b Backend, action domain.Action, t Target, fn HostFunc) domain.Response {
	switch action {
	case domain.ActionNull:
		return b.Null(ctx)
	case domain.ActionOff:
		return b.Off(ctx, t)
	case domain.ActionOn:
		return b.On(ctx, t)
	case domain.ActionReboot:
		return b.Reboot(ctx, t)
	case domain.ActionStatus:
		return b.Status(ctx, t)
	case domain.ActionDevStatus:
		return b.DevStatus(ctx)
	case domain.ActionHostList:
		if fn == nil {
			fn = func(domain.HostState) error { return nil }
		}
		return b.HostList(ctx, fn)
	}
	return domain.ResponseFail
}

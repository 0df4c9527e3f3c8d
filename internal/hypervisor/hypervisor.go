// Package hypervisor is the thin contract between fencing backends and a
// virtualization manager. Drivers register under a URI scheme and are opened
// by URI, for example sim:///var/lib/fencevirt/sim or sim://memory.
package hypervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// Domain is a VM as the hypervisor sees it.
type Domain struct {
	Name    string
	UUID    string
	Running bool
}

// State returns the domain's power state.
func (d Domain) State() domain.PowerState {
	if d.Running {
		return domain.PowerOn
	}
	return domain.PowerOff
}

// HostState converts d to a host list entry.
func (d Domain) HostState() domain.HostState {
	return domain.HostState{Domain: d.Name, UUID: d.UUID, State: d.State()}
}

// Hypervisor is one open connection to a virtualization manager.
type Hypervisor interface {
	// Lookup finds a defined domain by name, or by UUID when byUUID is set.
	// It returns domain.ErrDomainNotFound for unknown domains.
	Lookup(ctx context.Context, target string, byUUID bool) (Domain, error)

	// Destroy forcibly stops a running domain.
	Destroy(ctx context.Context, name string) error

	// Create starts a defined domain.
	Create(ctx context.Context, name string) error

	// List returns every defined domain.
	List(ctx context.Context) ([]Domain, error)

	Close() error
}

// Driver opens a connection for a parsed URI.
type Driver func(ctx context.Context, uri *url.URL, logger *slog.Logger) (Hypervisor, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available under a URI scheme. It is meant to be
// called from a driver package's init and panics on duplicates.
func Register(scheme string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[scheme]; dup {
		panic("hypervisor: driver registered twice: " + scheme)
	}
	drivers[scheme] = d
}

// Drivers returns the registered schemes in sorted order.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	out := make([]string, 0, len(drivers))
	for s := range drivers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Open connects to the hypervisor at uri.
func Open(ctx context.Context, uri string, logger *slog.Logger) (Hypervisor, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse hypervisor uri %q: %w", uri, err)
	}

	driversMu.RLock()
	d, ok := drivers[u.Scheme]
	driversMu.RUnlock()
	if !ok {
		return nil, domain.ErrUnknownDriver.WithDetails(u.Scheme)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return d(ctx, u, logger)
}

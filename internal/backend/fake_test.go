package backend

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/hypervisor"
)

var errDriver = errors.New("connection reset")

// fakeHypervisor is an in-memory hypervisor with fault injection.
type fakeHypervisor struct {
	mu       sync.Mutex
	domains  map[string]*hypervisor.Domain
	failNext error
	stuck    bool // Destroy leaves the domain running
	noCreate bool // Create fails
	closed   bool
	destroys int
	creates  int
}

func newFakeHypervisor(doms ...hypervisor.Domain) *fakeHypervisor {
	f := &fakeHypervisor{domains: make(map[string]*hypervisor.Domain)}
	for _, d := range doms {
		d := d
		f.domains[d.Name] = &d
	}
	return f
}

func (f *fakeHypervisor) fault() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeHypervisor) Lookup(_ context.Context, target string, byUUID bool) (hypervisor.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fault(); err != nil {
		return hypervisor.Domain{}, err
	}
	for _, d := range f.domains {
		if (byUUID && d.UUID == target) || (!byUUID && d.Name == target) {
			return *d, nil
		}
	}
	return hypervisor.Domain{}, domain.ErrDomainNotFound.WithDetails(target)
}

func (f *fakeHypervisor) Destroy(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fault(); err != nil {
		return err
	}
	f.destroys++
	if !f.stuck {
		f.domains[name].Running = false
	}
	return nil
}

func (f *fakeHypervisor) Create(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fault(); err != nil {
		return err
	}
	if f.noCreate {
		return errors.New("no memory for domain")
	}
	f.creates++
	f.domains[name].Running = true
	return nil
}

func (f *fakeHypervisor) List(context.Context) ([]hypervisor.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fault(); err != nil {
		return nil, err
	}
	out := make([]hypervisor.Domain, 0, len(f.domains))
	for _, d := range f.domains {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeHypervisor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHypervisor) running(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.domains[name].Running
}

// fakeOpener serves hypervisors by URI and counts opens.
type fakeOpener struct {
	mu    sync.Mutex
	hvs   map[string]*fakeHypervisor
	down  map[string]bool
	opens map[string]int
}

func newFakeOpener(hvs map[string]*fakeHypervisor) *fakeOpener {
	return &fakeOpener{hvs: hvs, down: make(map[string]bool), opens: make(map[string]int)}
}

func (o *fakeOpener) open(_ context.Context, uri string, _ *slog.Logger) (hypervisor.Hypervisor, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens[uri]++
	if o.down[uri] {
		return nil, errors.New("connection refused")
	}
	h, ok := o.hvs[uri]
	if !ok {
		return nil, domain.ErrUnknownDriver.WithDetails(uri)
	}
	return h, nil
}

func (o *fakeOpener) setDown(uri string, down bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.down[uri] = down
}

func (o *fakeOpener) openCount(uri string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[uri]
}

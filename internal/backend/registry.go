package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/server/config"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
)

// Options is passed to every backend factory.
type Options struct {
	Config  config.BackendSection
	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Factory builds a backend.
type Factory func(ctx context.Context, opts Options) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available by name. It is meant to be called
// from init and panics on duplicates.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("backend: registered twice: " + name)
	}
	registry[name] = f
}

// Names returns the registered backend names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// New builds the backend registered as name.
func New(ctx context.Context, name string, opts Options) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, domain.ErrUnknownBackend.WithDetails(name)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metric.Global()
	}

	b, err := f(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("create backend %s: %w", name, err)
	}
	return b, nil
}

package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/fencevirt-go/internal/backend"
	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/history"
	"github.com/yndnr/fencevirt-go/internal/permission"
	"github.com/yndnr/fencevirt-go/internal/server/config"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
)

// Listener receives fencing requests on one transport.
type Listener interface {
	// Dispatch waits up to timeout for a request and handles it. It returns
	// nil when nothing arrived, and also when an interaction failed: such
	// failures abandon the interaction and are logged, not returned. A
	// non-nil error means the listener itself is broken.
	Dispatch(ctx context.Context, timeout time.Duration) error

	// Close releases the transport.
	Close() error
}

// Options is passed to every listener factory.
type Options struct {
	Config      config.ListenerSection
	Backend     backend.Backend
	Permissions *permission.Map
	History     *history.History[history.FenceKey]
	Logger      *slog.Logger
	Metrics     *metric.Registry

	// FenceTimeout bounds each backend call. Zero uses
	// config.DefaultFenceTimeout.
	FenceTimeout time.Duration
}

// Factory builds a listener.
type Factory func(ctx context.Context, opts Options) (Listener, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a listener available by name. It is meant to be called
// from init and panics on duplicates.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("listener: registered twice: " + name)
	}
	registry[name] = f
}

// Names returns the registered listener names in sorted order.
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

// New builds the listener registered as name. A nil History gets a fresh
// one with the default expiry.
func New(ctx context.Context, name string, opts Options) (Listener, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, domain.ErrUnknownListener.WithDetails(name)
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("create listener %s: no backend", name)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metric.Global()
	}
	if opts.History == nil {
		opts.History = history.NewFenceHistory(config.DefaultHistoryExpiry)
	}

	l, err := f(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("create listener %s: %w", name, err)
	}
	return l, nil
}

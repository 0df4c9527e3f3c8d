// Package permission decides which requesters may fence which domains.
//
// The map is a YAML file listing, per requester identity (an IP address, a
// vsock context id, or a serial channel's domain name), the domain names and
// UUIDs it may act on:
//
//	hosts:
//	  - requester: 192.168.122.1
//	    domains: [web-1, 6f1c1f3e-7d3c-4c38-9d89-3a0c8b4f6e21]
//	  - requester: "3"
//	    domains: [db-1]
//
// A nil *Map allows everything.
package permission

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/yndnr/fencevirt-go/internal/infra/confloader"
)

// Entry grants one requester access to a set of domains.
type Entry struct {
	Requester string   `koanf:"requester"`
	Domains   []string `koanf:"domains"`
}

type file struct {
	Hosts []Entry `koanf:"hosts"`
}

// Map is a requester to domains table. It is safe for concurrent use and can
// be reloaded in place.
type Map struct {
	mu      sync.RWMutex
	allowed map[string]map[string]struct{}
	path    string
	watcher *confloader.Watcher
	logger  *slog.Logger
}

// New builds a map from entries.
func New(entries []Entry) *Map {
	m := &Map{logger: slog.Default()}
	m.set(entries)
	return m
}

// Load reads a permission file.
func Load(path string) (*Map, error) {
	entries, err := readFile(path)
	if err != nil {
		return nil, err
	}
	m := New(entries)
	m.path = path
	return m, nil
}

func readFile(path string) ([]Entry, error) {
	l := confloader.NewLoader(confloader.WithStrict())
	if err := l.LoadFile(path); err != nil {
		return nil, err
	}
	var f file
	if err := l.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("parse permissions %s: %w", path, err)
	}
	for i, e := range f.Hosts {
		if e.Requester == "" {
			return nil, fmt.Errorf("parse permissions %s: entry %d has no requester", path, i)
		}
	}
	return f.Hosts, nil
}

func (m *Map) set(entries []Entry) {
	allowed := make(map[string]map[string]struct{}, len(entries))
	for _, e := range entries {
		set, ok := allowed[e.Requester]
		if !ok {
			set = make(map[string]struct{}, len(e.Domains))
			allowed[e.Requester] = set
		}
		for _, d := range e.Domains {
			set[d] = struct{}{}
		}
	}

	m.mu.Lock()
	m.allowed = allowed
	m.mu.Unlock()
}

// Allowed reports whether requester may act on a domain known by any of
// names (typically its name and its UUID).
func (m *Map) Allowed(requester string, names ...string) bool {
	if m == nil {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.allowed[requester]
	if !ok {
		return false
	}
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}

// Reload rereads the file the map was loaded from. On error the previous
// contents stay in effect.
func (m *Map) Reload() error {
	if m.path == "" {
		return nil
	}
	entries, err := readFile(m.path)
	if err != nil {
		return err
	}
	m.set(entries)
	return nil
}

// Watch reloads the map whenever its file changes.
func (m *Map) Watch(logger *slog.Logger) error {
	if m.path == "" {
		return nil
	}
	if logger != nil {
		m.logger = logger
	}

	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(m.logger))
	if err != nil {
		return fmt.Errorf("watch permissions: %w", err)
	}
	if err := w.Watch(m.path); err != nil {
		w.Stop()
		return fmt.Errorf("watch permissions: %w", err)
	}

	want := filepath.Clean(m.path)
	w.OnChange(func(path string) {
		if filepath.Clean(path) != want {
			return
		}
		if err := m.Reload(); err != nil {
			m.logger.Warn("permission reload failed, keeping previous map", "path", path, "error", err)
			return
		}
		m.logger.Info("permissions reloaded", "path", path)
	})
	w.StartAsync()

	m.watcher = w
	return nil
}

// Close stops watching.
func (m *Map) Close() error {
	if m == nil || m.watcher == nil {
		return nil
	}
	return m.watcher.Stop()
}

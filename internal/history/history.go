// Package history remembers recently handled items for a fixed window so
// retransmitted requests are processed once.
//
// Entries carry no count bound. Every Check purges entries older than the
// expiry window before looking, so the working set stays proportional to
// the request rate.
package history

import (
	"sync"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// DefaultExpiry is the window used when none is configured.
const DefaultExpiry = 10 * time.Second

type entry[T any] struct {
	item T
	at   time.Time
}

// History is a time-expiring list of items compared with a caller-supplied
// equality function. It is safe for concurrent use.
type History[T any] struct {
	mu      sync.Mutex
	entries []entry[T]
	expiry  time.Duration
	equal   func(a, b T) bool
	now     func() time.Time
}

// Option configures a History.
type Option[T any] func(*History[T])

// WithClock replaces time.Now.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(h *History[T]) {
		h.now = now
	}
}

// New creates a history with the given expiry window and equality function.
// A non-positive expiry selects DefaultExpiry.
func New[T any](expiry time.Duration, equal func(a, b T) bool, opts ...Option[T]) *History[T] {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	h := &History[T]{
		expiry: expiry,
		equal:  equal,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check purges expired entries and reports whether an equal item remains.
func (h *History[T]) Check(item T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.checkLocked(item)
}

// Record inserts item. It returns domain.ErrDuplicate, and inserts nothing,
// if an equal item is still inside the window.
func (h *History[T]) Record(item T) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.checkLocked(item) {
		return domain.ErrDuplicate
	}
	h.entries = append(h.entries, entry[T]{item: item, at: h.now()})
	return nil
}

// Len returns the number of unexpired entries.
func (h *History[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.purgeLocked()
	return len(h.entries)
}

func (h *History[T]) checkLocked(item T) bool {
	h.purgeLocked()
	for _, e := range h.entries {
		if h.equal(e.item, item) {
			return true
		}
	}
	return false
}

// purgeLocked drops entries older than the window. Entries are appended in
// time order, so the expired ones form a prefix.
func (h *History[T]) purgeLocked() {
	cutoff := h.now().Add(-h.expiry)
	n := 0
	for n < len(h.entries) && !h.entries[n].at.After(cutoff) {
		n++
	}
	if n == 0 {
		return
	}
	h.entries = append(h.entries[:0], h.entries[n:]...)
}

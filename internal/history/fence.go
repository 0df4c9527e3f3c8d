package history

import (
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// FenceKey identifies a fencing request for replay detection.
type FenceKey struct {
	Action domain.Action
	SeqNo  uint32
	Domain string
}

// SameFence compares fencing requests by action, sequence number and domain.
func SameFence(a, b FenceKey) bool {
	return a == b
}

// NewFenceHistory returns a history of fencing requests.
func NewFenceHistory(expiry time.Duration, opts ...Option[FenceKey]) *History[FenceKey] {
	return New(expiry, SameFence, opts...)
}

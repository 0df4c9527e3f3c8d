package wire

import (
	"encoding/binary"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// Field sizes of a host record.
const (
	MaxUUIDLength = 64

	// HostRecordSize is the encoded size of a HostRecord.
	HostRecordSize = MaxDomainLength + MaxUUIDLength + 4
)

// HostRecord is one fixed-size entry of a streamed host list.
// An all-zero record terminates the list.
type HostRecord struct {
	Domain [MaxDomainLength]byte
	UUID   [MaxUUIDLength]byte
	State  uint32
}

// NewHostRecord builds a record from a host state, truncating fields that
// do not fit with a terminating NUL.
func NewHostRecord(h domain.HostState) HostRecord {
	var rec HostRecord
	copy(rec.Domain[:MaxDomainLength-1], h.Domain)
	copy(rec.UUID[:MaxUUIDLength-1], h.UUID)
	rec.State = uint32(h.State)
	return rec
}

// MarshalBinary encodes the record.
func (h *HostRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HostRecordSize)
	copy(buf, h.Domain[:])
	copy(buf[MaxDomainLength:], h.UUID[:])
	binary.BigEndian.PutUint32(buf[MaxDomainLength+MaxUUIDLength:], h.State)
	return buf, nil
}

// UnmarshalBinary decodes the record.
func (h *HostRecord) UnmarshalBinary(buf []byte) error {
	if len(buf) < HostRecordSize {
		return domain.ErrTruncated
	}
	copy(h.Domain[:], buf)
	copy(h.UUID[:], buf[MaxDomainLength:])
	h.State = binary.BigEndian.Uint32(buf[MaxDomainLength+MaxUUIDLength:])
	return nil
}

// IsTerminator reports whether h is the zeroed end-of-list record.
func (h *HostRecord) IsTerminator() bool {
	return *h == HostRecord{}
}

// HostState converts the record back into a host state.
func (h *HostRecord) HostState() domain.HostState {
	return domain.HostState{
		Domain: cString(h.Domain[:]),
		UUID:   cString(h.UUID[:]),
		State:  domain.PowerState(h.State),
	}
}

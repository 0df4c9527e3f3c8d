// Package wire implements the fixed-layout binary frames of the fencing protocol.
package wire

import (
	"bytes"
	"encoding/binary"
	"net"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// Field sizes of a fence request.
const (
	MaxDomainLength = 64
	MaxAddrLength   = 28
	RandomLength    = 6
	MaxHashLength   = 64

	// RequestSize is the encoded size of a Request.
	RequestSize = 4 + MaxDomainLength + MaxAddrLength + 2 + RandomLength + 4 + 4 + MaxHashLength
)

// Address families carried in the family field.
const (
	FamilyIPv4 uint32 = 2
	FamilyIPv6 uint32 = 10
)

// hashOffset is where the hash field starts in the encoded request.
const hashOffset = RequestSize - MaxHashLength

// Request is a fence request as sent over connectionless transports.
type Request struct {
	Action   domain.Action
	HashType domain.HashType
	AddrLen  uint8
	Flags    uint8
	Domain   [MaxDomainLength]byte
	Address  [MaxAddrLength]byte
	Port     uint16
	Random   [RandomLength]byte
	SeqNo    uint32
	Family   uint32
	Hash     [MaxHashLength]byte
}

// MarshalBinary encodes the request into its fixed layout.
func (r *Request) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RequestSize)
	r.put(buf)
	return buf, nil
}

// AppendBinary appends the encoded request to b.
func (r *Request) AppendBinary(b []byte) ([]byte, error) {
	out := append(b, make([]byte, RequestSize)...)
	r.put(out[len(b):])
	return out, nil
}

func (r *Request) put(buf []byte) {
	buf[0] = byte(r.Action)
	buf[1] = byte(r.HashType)
	buf[2] = r.AddrLen
	buf[3] = r.Flags
	off := 4
	off += copy(buf[off:], r.Domain[:])
	off += copy(buf[off:], r.Address[:])
	binary.BigEndian.PutUint16(buf[off:], r.Port)
	off += 2
	off += copy(buf[off:], r.Random[:])
	binary.BigEndian.PutUint32(buf[off:], r.SeqNo)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], r.Family)
	off += 4
	copy(buf[off:], r.Hash[:])
}

// UnmarshalBinary decodes a request. Trailing bytes are ignored.
func (r *Request) UnmarshalBinary(buf []byte) error {
	if len(buf) < RequestSize {
		return domain.ErrTruncated
	}
	r.Action = domain.Action(buf[0])
	r.HashType = domain.HashType(buf[1])
	r.AddrLen = buf[2]
	r.Flags = buf[3]
	off := 4
	off += copy(r.Domain[:], buf[off:])
	off += copy(r.Address[:], buf[off:])
	r.Port = binary.BigEndian.Uint16(buf[off:])
	off += 2
	off += copy(r.Random[:], buf[off:])
	r.SeqNo = binary.BigEndian.Uint32(buf[off:])
	off += 4
	r.Family = binary.BigEndian.Uint32(buf[off:])
	off += 4
	copy(r.Hash[:], buf[off:])
	return nil
}

// DecodeRequest decodes and sanity-checks a request frame.
func DecodeRequest(buf []byte) (*Request, error) {
	r := &Request{}
	if err := r.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	if !r.Action.OnWire() {
		return nil, domain.ErrUnknownAction
	}
	if !r.HashType.Valid() {
		return nil, domain.ErrUnsupportedHash
	}
	if bytes.IndexByte(r.Domain[:], 0) < 0 {
		return nil, domain.ErrDomainTooLong
	}
	return r, nil
}

// WithoutHash returns the encoding of r with the hash field zeroed.
func (r *Request) WithoutHash() []byte {
	buf, _ := r.MarshalBinary()
	clear(buf[hashOffset:])
	return buf
}

// SetDomain stores a domain name or UUID. The name must leave room for
// a terminating NUL.
func (r *Request) SetDomain(name string) error {
	if len(name) >= MaxDomainLength {
		return domain.ErrDomainTooLong.WithDetails(name)
	}
	clear(r.Domain[:])
	copy(r.Domain[:], name)
	return nil
}

// DomainName returns the NUL-terminated domain field as a string.
func (r *Request) DomainName() string {
	return cString(r.Domain[:])
}

// ByUUID reports whether the domain field carries a UUID.
func (r *Request) ByUUID() bool {
	return r.Flags&domain.FlagUUID != 0
}

// SetAddress stores the requester's reply address and port.
func (r *Request) SetAddress(ip net.IP, port uint16) error {
	clear(r.Address[:])
	if v4 := ip.To4(); v4 != nil {
		copy(r.Address[:], v4)
		r.AddrLen = net.IPv4len
		r.Family = FamilyIPv4
	} else if v6 := ip.To16(); v6 != nil {
		copy(r.Address[:], v6)
		r.AddrLen = net.IPv6len
		r.Family = FamilyIPv6
	} else {
		return domain.ErrBadAddress
	}
	r.Port = port
	return nil
}

// ReplyAddr returns the TCP address the requester listens on.
func (r *Request) ReplyAddr() (*net.TCPAddr, error) {
	var ip net.IP
	switch {
	case r.Family == FamilyIPv4 && r.AddrLen == net.IPv4len:
		ip = net.IP(append([]byte(nil), r.Address[:net.IPv4len]...))
	case r.Family == FamilyIPv6 && r.AddrLen == net.IPv6len:
		ip = net.IP(append([]byte(nil), r.Address[:net.IPv6len]...))
	default:
		return nil, domain.ErrBadAddress
	}
	if r.Port == 0 {
		return nil, domain.ErrBadAddress
	}
	return &net.TCPAddr{IP: ip, Port: int(r.Port)}, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

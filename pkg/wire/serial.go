package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// SerialMagic opens every serial frame. It reads the same in either byte order.
const SerialMagic uint32 = 0x61626261

// Encoded sizes of serial frames.
const (
	SerialRequestSize  = 4 + 1 + 1 + 2 + 4 + MaxDomainLength
	SerialResponseSize = 4 + 1 + 3
)

// SerialRequest is the request frame used over byte-stream channels.
type SerialRequest struct {
	Action domain.Action
	Flags  uint8
	SeqNo  uint32
	Domain [MaxDomainLength]byte
}

// SetDomain stores a domain name or UUID.
func (s *SerialRequest) SetDomain(name string) error {
	if len(name) >= MaxDomainLength {
		return domain.ErrDomainTooLong.WithDetails(name)
	}
	clear(s.Domain[:])
	copy(s.Domain[:], name)
	return nil
}

// DomainName returns the domain field as a string.
func (s *SerialRequest) DomainName() string {
	return cString(s.Domain[:])
}

// ByUUID reports whether the domain field carries a UUID.
func (s *SerialRequest) ByUUID() bool {
	return s.Flags&domain.FlagUUID != 0
}

// MarshalBinary encodes the frame including its magic.
func (s *SerialRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SerialRequestSize)
	binary.BigEndian.PutUint32(buf, SerialMagic)
	buf[4] = byte(s.Action)
	buf[5] = s.Flags
	binary.BigEndian.PutUint32(buf[8:], s.SeqNo)
	copy(buf[12:], s.Domain[:])
	return buf, nil
}

// UnmarshalBinary decodes a frame that starts with the magic.
func (s *SerialRequest) UnmarshalBinary(buf []byte) error {
	if len(buf) < SerialRequestSize {
		return domain.ErrTruncated
	}
	if binary.BigEndian.Uint32(buf) != SerialMagic {
		return domain.ErrBadMagic
	}
	s.Action = domain.Action(buf[4])
	s.Flags = buf[5]
	s.SeqNo = binary.BigEndian.Uint32(buf[8:])
	copy(s.Domain[:], buf[12:])
	return nil
}

// SerialResponse carries a single result code.
type SerialResponse struct {
	Response domain.Response
}

// MarshalBinary encodes the frame including its magic.
func (s *SerialResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SerialResponseSize)
	binary.BigEndian.PutUint32(buf, SerialMagic)
	buf[4] = byte(s.Response)
	return buf, nil
}

// UnmarshalBinary decodes a frame that starts with the magic.
func (s *SerialResponse) UnmarshalBinary(buf []byte) error {
	if len(buf) < SerialResponseSize {
		return domain.ErrTruncated
	}
	if binary.BigEndian.Uint32(buf) != SerialMagic {
		return domain.ErrBadMagic
	}
	s.Response = domain.Response(buf[4])
	return nil
}

// SyncMagic discards bytes from r until the magic has been consumed.
// Framing on serial channels is reconstructed this way rather than given.
func SyncMagic(r *bufio.Reader) error {
	var window uint32
	var seen int
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		window = window<<8 | uint32(b)
		if seen < 4 {
			seen++
		}
		if seen == 4 && window == SerialMagic {
			return nil
		}
	}
}

// ReadSerialRequest scans for the next request frame on r.
func ReadSerialRequest(r *bufio.Reader) (*SerialRequest, error) {
	if err := SyncMagic(r); err != nil {
		return nil, err
	}
	buf := make([]byte, SerialRequestSize)
	binary.BigEndian.PutUint32(buf, SerialMagic)
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return nil, err
	}
	req := &SerialRequest{}
	if err := req.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return req, nil
}

// ReadSerialResponse scans for the next response frame on r.
func ReadSerialResponse(r *bufio.Reader) (*SerialResponse, error) {
	if err := SyncMagic(r); err != nil {
		return nil, err
	}
	buf := make([]byte, SerialResponseSize)
	binary.BigEndian.PutUint32(buf, SerialMagic)
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return nil, err
	}
	resp := &SerialResponse{}
	if err := resp.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return resp, nil
}

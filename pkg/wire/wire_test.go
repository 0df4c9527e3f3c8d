package wire

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

func TestRequestSize(t *testing.T) {
	if RequestSize != 176 {
		t.Errorf("RequestSize = %d, want 176", RequestSize)
	}
	if HostRecordSize != 132 {
		t.Errorf("HostRecordSize = %d, want 132", HostRecordSize)
	}
	if SerialRequestSize != 76 {
		t.Errorf("SerialRequestSize = %d, want 76", SerialRequestSize)
	}
}

func TestRequest_ByteOrder(t *testing.T) {
	req := &Request{Action: domain.ActionOff, SeqNo: 0x01020304}
	if err := req.SetAddress(net.ParseIP("10.0.0.1"), 0x0506); err != nil {
		t.Fatalf("SetAddress() error = %v", err)
	}

	buf, _ := req.MarshalBinary()

	portOff := 4 + MaxDomainLength + MaxAddrLength
	if buf[portOff] != 0x05 || buf[portOff+1] != 0x06 {
		t.Errorf("port bytes = %x, want 0506", buf[portOff:portOff+2])
	}
	seqOff := portOff + 2 + RandomLength
	if !bytes.Equal(buf[seqOff:seqOff+4], []byte{1, 2, 3, 4}) {
		t.Errorf("seqno bytes = %x, want 01020304", buf[seqOff:seqOff+4])
	}
	if !bytes.Equal(buf[seqOff+4:seqOff+8], []byte{0, 0, 0, 2}) {
		t.Errorf("family bytes = %x, want 00000002", buf[seqOff+4:seqOff+8])
	}
}

func TestDecodeRequest(t *testing.T) {
	req := &Request{Action: domain.ActionReboot, HashType: domain.HashSHA256, Flags: domain.FlagUUID, SeqNo: 77}
	if err := req.SetDomain("guest-01"); err != nil {
		t.Fatalf("SetDomain() error = %v", err)
	}
	if err := req.SetAddress(net.ParseIP("fd00::5"), 1229); err != nil {
		t.Fatalf("SetAddress() error = %v", err)
	}
	req.Hash[0] = 0xaa

	buf, _ := req.MarshalBinary()
	got, err := DecodeRequest(buf)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if *got != *req {
		t.Errorf("decoded request differs: %+v", got)
	}
	if got.DomainName() != "guest-01" || !got.ByUUID() {
		t.Errorf("DomainName() = %q, ByUUID() = %v", got.DomainName(), got.ByUUID())
	}
	addr, err := got.ReplyAddr()
	if err != nil {
		t.Fatalf("ReplyAddr() error = %v", err)
	}
	if addr.String() != "[fd00::5]:1229" {
		t.Errorf("ReplyAddr() = %s", addr)
	}
}

func TestDecodeRequest_Invalid(t *testing.T) {
	valid := &Request{Action: domain.ActionOff}
	_ = valid.SetDomain("vm")

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
		want   error
	}{
		{"truncated", func(b []byte) []byte { return b[:RequestSize-1] }, domain.ErrTruncated},
		{"unknown action", func(b []byte) []byte { b[0] = 99; return b }, domain.ErrUnknownAction},
		{"requester-only action", func(b []byte) []byte { b[0] = byte(domain.ActionMetadata); return b }, domain.ErrUnknownAction},
		{"unknown hash", func(b []byte) []byte { b[1] = 9; return b }, domain.ErrUnsupportedHash},
		{"unterminated domain", func(b []byte) []byte {
			for i := 4; i < 4+MaxDomainLength; i++ {
				b[i] = 'x'
			}
			return b
		}, domain.ErrDomainTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, _ := valid.MarshalBinary()
			_, err := DecodeRequest(tt.mutate(buf))
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeRequest() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRequest_SetDomainTooLong(t *testing.T) {
	req := &Request{}
	if err := req.SetDomain(strings.Repeat("a", MaxDomainLength)); !errors.Is(err, domain.ErrDomainTooLong) {
		t.Errorf("SetDomain() error = %v, want ErrDomainTooLong", err)
	}
	if err := req.SetDomain(strings.Repeat("a", MaxDomainLength-1)); err != nil {
		t.Errorf("SetDomain(63 bytes) error = %v", err)
	}
}

func TestRequest_WithoutHash(t *testing.T) {
	req := &Request{Action: domain.ActionOn}
	for i := range req.Hash {
		req.Hash[i] = 0xff
	}

	buf := req.WithoutHash()
	for i, b := range buf[hashOffset:] {
		if b != 0 {
			t.Fatalf("hash byte %d = %x, want 0", i, b)
		}
	}
	if req.Hash[0] != 0xff {
		t.Error("WithoutHash mutated the request")
	}
}

func TestReplyAddr_Invalid(t *testing.T) {
	req := &Request{Family: FamilyIPv4, AddrLen: 16}
	if _, err := req.ReplyAddr(); !errors.Is(err, domain.ErrBadAddress) {
		t.Errorf("ReplyAddr() error = %v, want ErrBadAddress", err)
	}

	_ = req.SetAddress(net.ParseIP("127.0.0.1"), 0)
	if _, err := req.ReplyAddr(); !errors.Is(err, domain.ErrBadAddress) {
		t.Errorf("ReplyAddr() with port 0 error = %v, want ErrBadAddress", err)
	}
}

func TestHostRecord(t *testing.T) {
	h := domain.HostState{Domain: "web-1", UUID: "6f1c1f3e-7d3c-4c38-9d89-3a0c8b4f6e21", State: domain.PowerOn}
	rec := NewHostRecord(h)

	buf, _ := rec.MarshalBinary()
	var got HostRecord
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary() error = %v", err)
	}
	if got.HostState() != h {
		t.Errorf("HostState() = %+v, want %+v", got.HostState(), h)
	}
	if got.IsTerminator() {
		t.Error("populated record reported as terminator")
	}

	var end HostRecord
	if !end.IsTerminator() {
		t.Error("zero record not reported as terminator")
	}
}

func TestSerial_ScanPastGarbage(t *testing.T) {
	req := &SerialRequest{Action: domain.ActionOff, SeqNo: 42}
	_ = req.SetDomain("guest")
	frame, _ := req.MarshalBinary()

	// Line noise, a partial magic, then the real frame.
	stream := append([]byte("noise\x61\x62\x00"), frame...)
	got, err := ReadSerialRequest(bufio.NewReader(bytes.NewReader(stream)))
	if err != nil {
		t.Fatalf("ReadSerialRequest() error = %v", err)
	}
	if got.Action != domain.ActionOff || got.SeqNo != 42 || got.DomainName() != "guest" {
		t.Errorf("ReadSerialRequest() = %+v", got)
	}
}

func TestSerial_Response(t *testing.T) {
	resp := &SerialResponse{Response: domain.ResponsePermission}
	frame, _ := resp.MarshalBinary()

	got, err := ReadSerialResponse(bufio.NewReader(bytes.NewReader(append([]byte{0, 0}, frame...))))
	if err != nil {
		t.Fatalf("ReadSerialResponse() error = %v", err)
	}
	if got.Response != domain.ResponsePermission {
		t.Errorf("Response = %v, want permission", got.Response)
	}
}

func TestSerial_BadMagic(t *testing.T) {
	var req SerialRequest
	if err := req.UnmarshalBinary(make([]byte, SerialRequestSize)); !errors.Is(err, domain.ErrBadMagic) {
		t.Errorf("UnmarshalBinary() error = %v, want ErrBadMagic", err)
	}
}

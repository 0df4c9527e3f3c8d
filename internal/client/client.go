package client

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// Default requester settings.
const (
	DefaultTimeout = 30 * time.Second
	DefaultRetrans = time.Second
)

// ErrNoReply means the daemon never connected back before the deadline.
var ErrNoReply = errors.New("no reply from fencing daemon")

// Options configures a request.
type Options struct {
	// Key signs requests and answers challenges.
	Key []byte

	// Auth is the challenge-response hash.
	Auth domain.HashType

	// Timeout bounds the whole request. Zero uses DefaultTimeout.
	Timeout time.Duration

	// Retrans is the multicast resend interval. Zero uses DefaultRetrans.
	Retrans time.Duration

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Retrans <= 0 {
		o.Retrans = DefaultRetrans
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Result is the daemon's answer.
type Result struct {
	Response domain.Response

	// Hosts is filled for host list requests.
	Hosts []domain.HostState
}

// NewRequest builds a request with a random sequence number and nonce.
// The hash type is set but the request is not signed yet.
func NewRequest(action domain.Action, target string, byUUID bool, hash domain.HashType) (*wire.Request, error) {
	if !action.OnWire() {
		return nil, domain.ErrUnknownAction.WithDetails(action.String())
	}
	req := &wire.Request{Action: action, HashType: hash}
	if err := req.SetDomain(target); err != nil {
		return nil, err
	}
	if byUUID {
		req.Flags |= domain.FlagUUID
	}

	var seq [4]byte
	if _, err := rand.Read(seq[:]); err != nil {
		return nil, fmt.Errorf("generate sequence number: %w", err)
	}
	req.SeqNo = binary.BigEndian.Uint32(seq[:])
	if _, err := rand.Read(req.Random[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return req, nil
}

// ReadResult reads a result byte, or a host list followed by one.
func ReadResult(r io.Reader) (Result, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	resp := domain.Response(b[0])
	if resp != domain.ResponseHostList {
		return Result{Response: resp}, nil
	}

	hosts, err := readHosts(r)
	if err != nil {
		return Result{}, err
	}
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	return Result{Response: domain.Response(b[0]), Hosts: hosts}, nil
}

// readHosts reads host records up to the terminator.
func readHosts(r io.Reader) ([]domain.HostState, error) {
	var hosts []domain.HostState
	buf := make([]byte, wire.HostRecordSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read host record: %w", err)
		}
		var rec wire.HostRecord
		if err := rec.UnmarshalBinary(buf); err != nil {
			return nil, err
		}
		if rec.IsTerminator() {
			return hosts, nil
		}
		hosts = append(hosts, rec.HostState())
	}
}

// readSerialResult reads a serial response frame, or a host list
// announced by one.
func readSerialResult(r *bufio.Reader) (Result, error) {
	first, err := wire.ReadSerialResponse(r)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	if first.Response != domain.ResponseHostList {
		return Result{Response: first.Response}, nil
	}

	hosts, err := readHosts(r)
	if err != nil {
		return Result{}, err
	}
	last, err := wire.ReadSerialResponse(r)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	return Result{Response: last.Response, Hosts: hosts}, nil
}

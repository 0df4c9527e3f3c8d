package client

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// deadliner is implemented by channels that support I/O deadlines.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// NewSerialRequest builds a serial request with a random sequence number.
func NewSerialRequest(action domain.Action, target string, byUUID bool) (*wire.SerialRequest, error) {
	if !action.OnWire() {
		return nil, domain.ErrUnknownAction.WithDetails(action.String())
	}
	req := &wire.SerialRequest{Action: action}
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
	return req, nil
}

// Serial sends req over a serial channel and reads the answer. Frames
// before the response magic are skipped.
func Serial(ctx context.Context, ch io.ReadWriter, req *wire.SerialRequest, opts Options) (Result, error) {
	opts.defaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if d, ok := ch.(deadliner); ok {
		deadline, _ := ctx.Deadline()
		_ = d.SetDeadline(deadline)
		stop := context.AfterFunc(ctx, func() { _ = d.SetDeadline(time.Now()) })
		defer stop()
	}

	buf, _ := req.MarshalBinary()
	if _, err := ch.Write(buf); err != nil {
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	return readSerialResult(bufio.NewReader(ch))
}

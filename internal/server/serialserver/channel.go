package serialserver

import (
	"bufio"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// socketSuffix marks guest channel sockets.
const socketSuffix = ".sock"

// domainOf returns the guest a channel socket belongs to, or "" if path
// is not a channel socket.
func domainOf(path string) string {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, socketSuffix) {
		return ""
	}
	return strings.TrimSuffix(base, socketSuffix)
}

// channel is one attached guest.
type channel struct {
	domain string
	path   string
	conn   net.Conn

	wmu sync.Mutex
}

// frame is a request read from a channel.
type frame struct {
	ch  *channel
	req *wire.SerialRequest
}

// read queues every request frame from the channel until it fails.
func (c *channel) read(out chan<- frame, done <-chan struct{}) error {
	br := bufio.NewReader(c.conn)
	for {
		req, err := wire.ReadSerialRequest(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		select {
		case out <- frame{ch: c, req: req}:
		case <-done:
			return nil
		}
	}
}

// responder writes serial frames on a channel. A host list is announced by
// a response frame carrying the host list code, followed by host records,
// an all-zero record and the final response frame.
type responder struct {
	ch      *channel
	timeout time.Duration
}

func (r *responder) write(b []byte) error {
	r.ch.wmu.Lock()
	defer r.ch.wmu.Unlock()
	if r.timeout > 0 {
		if err := r.ch.conn.SetWriteDeadline(time.Now().Add(r.timeout)); err != nil {
			return err
		}
	}
	_, err := r.ch.conn.Write(b)
	return err
}

func (r *responder) BeginHostList() error {
	return r.WriteResult(domain.ResponseHostList)
}

func (r *responder) WriteHost(h domain.HostState) error {
	rec := wire.NewHostRecord(h)
	buf, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	return r.write(buf)
}

func (r *responder) EndHostList() error {
	return r.write(make([]byte, wire.HostRecordSize))
}

func (r *responder) WriteResult(resp domain.Response) error {
	buf, err := (&wire.SerialResponse{Response: resp}).MarshalBinary()
	if err != nil {
		return err
	}
	return r.write(buf)
}

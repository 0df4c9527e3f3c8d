package listener

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
	"github.com/yndnr/fencevirt-go/pkg/auth"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// Handshake runs the server side of challenge-response on conn.
func (p *Processor) Handshake(ctx context.Context, conn net.Conn, a Auth) bool {
	if err := auth.ServerHandshake(conn, a.Handshake, a.Key, a.Timeout); err != nil {
		p.Drop(ctx, metric.DropHandshake, err, "peer", conn.RemoteAddr())
		return false
	}
	return true
}

// ServeConn handles the single request carried by an accepted stream
// connection: read it within the I/O timeout, verify, deduplicate,
// authenticate the peer, then serve. The caller closes conn.
func (p *Processor) ServeConn(ctx context.Context, conn net.Conn, requester string, a Auth) {
	if err := conn.SetReadDeadline(time.Now().Add(a.Timeout)); err != nil {
		p.Drop(ctx, metric.DropIO, err, "requester", requester)
		return
	}
	buf := make([]byte, wire.RequestSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		p.Drop(ctx, metric.DropIO, err, "requester", requester)
		return
	}
	req, err := wire.DecodeRequest(buf)
	if err != nil {
		p.Drop(ctx, metric.DropMalformed, err, "requester", requester)
		return
	}

	ctx = p.Received(ctx, req.Action)
	if !p.Verify(ctx, req, a) {
		return
	}
	r := FromWire(requester, req)
	if p.Duplicate(ctx, r) {
		return
	}
	if !p.Handshake(ctx, conn, a) {
		return
	}
	_ = p.Serve(ctx, r, &ConnResponder{Conn: conn, Timeout: a.Timeout})
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

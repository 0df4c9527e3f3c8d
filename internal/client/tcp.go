package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/yndnr/fencevirt-go/pkg/auth"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// TCP sends req to a TCP listener.
func TCP(ctx context.Context, addr string, req *wire.Request, opts Options) (Result, error) {
	opts.defaults()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()
	return exchange(ctx, conn, req, opts)
}

// exchange signs and writes req on conn, answers the daemon's challenge
// and reads the result.
func exchange(ctx context.Context, conn net.Conn, req *wire.Request, opts Options) (Result, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := auth.Sign(req, opts.Key); err != nil {
		return Result{}, err
	}
	buf, _ := req.MarshalBinary()
	if _, err := conn.Write(buf); err != nil {
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	if err := auth.ClientHandshake(conn, opts.Auth, opts.Key, remaining(ctx)); err != nil {
		return Result{}, err
	}
	return ReadResult(conn)
}

// remaining is the time left before ctx's deadline.
func remaining(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return DefaultTimeout
}

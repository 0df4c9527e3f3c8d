// Package mcastserver receives fencing requests as multicast datagrams.
//
// A requester sends the same signed request repeatedly to the group. The
// daemon verifies the first copy, connects back over TCP to the address in
// the request, challenges the requester there and writes the answer on that
// connection. Later copies are dropped by the replay history.
package mcastserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/yndnr/fencevirt-go/internal/server/listener"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// Name is the registry name of the multicast listener.
const Name = "multicast"

func init() {
	listener.Register(Name, func(ctx context.Context, opts listener.Options) (listener.Listener, error) {
		cfg := opts.Config.Multicast
		a, err := listener.LoadAuth(cfg.AuthConfig)
		if err != nil {
			return nil, err
		}
		pc, err := JoinGroup(ctx, cfg.Address, cfg.Port, cfg.Interface)
		if err != nil {
			return nil, err
		}
		return New(pc, a, Limit{Rate: cfg.RateLimit, Burst: cfg.Burst}, opts), nil
	})
}

// JoinGroup binds the group address and port and joins the group, on one
// interface if ifname is set.
func JoinGroup(ctx context.Context, group string, port int, ifname string) (net.PacketConn, error) {
	ip := net.ParseIP(group)
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("%q is not a multicast address", group)
	}
	var ifi *net.Interface
	if ifname != "" {
		var err error
		if ifi, err = net.InterfaceByName(ifname); err != nil {
			return nil, fmt.Errorf("multicast interface: %w", err)
		}
	}

	network := "udp4"
	if ip.To4() == nil {
		network = "udp6"
	}
	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(ctx, network, net.JoinHostPort(group, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	gaddr := &net.UDPAddr{IP: ip}
	if network == "udp4" {
		err = ipv4.NewPacketConn(pc).JoinGroup(ifi, gaddr)
	} else {
		err = ipv6.NewPacketConn(pc).JoinGroup(ifi, gaddr)
	}
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("join group %s: %w", group, err)
	}
	return pc, nil
}

// reuseAddr lets several daemons on one host share the group port.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// Server is a multicast listener.
type Server struct {
	conn   net.PacketConn
	auth   listener.Auth
	proc   *listener.Processor
	limits *limiter
	logger *slog.Logger
	buf    []byte
}

var _ listener.Listener = (*Server)(nil)

// New serves requests read from conn. conn is normally the result of
// JoinGroup, but any packet connection works.
func New(conn net.PacketConn, a listener.Auth, limit Limit, opts listener.Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		conn:   conn,
		auth:   a,
		proc:   listener.NewProcessor(Name, opts),
		limits: newLimiter(limit),
		logger: opts.Logger.With("listener", Name),
		buf:    make([]byte, 2*wire.RequestSize),
	}
	s.logger.Info("multicast listener started", "addr", conn.LocalAddr().String(), "auth", a, "rate_limit", limit.Rate)
	return s
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Dispatch implements listener.Listener.
func (s *Server) Dispatch(ctx context.Context, timeout time.Duration) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	n, src, err := s.conn.ReadFrom(s.buf)
	if err != nil {
		if listener.IsTimeout(err) {
			return nil
		}
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		s.logger.Warn("receive failed", "error", err)
		return nil
	}

	source := sourceIP(src)
	if !s.limits.allow(source) {
		s.proc.Drop(ctx, metric.DropRateLimited, nil, "source", source)
		return nil
	}
	if n != wire.RequestSize {
		s.proc.Drop(ctx, metric.DropMalformed, fmt.Errorf("datagram of %d bytes", n), "source", source)
		return nil
	}
	req, err := wire.DecodeRequest(s.buf[:n])
	if err != nil {
		s.proc.Drop(ctx, metric.DropMalformed, err, "source", source)
		return nil
	}

	ctx = s.proc.Received(ctx, req.Action)
	if !s.proc.Verify(ctx, req, s.auth) {
		return nil
	}
	reply, err := req.ReplyAddr()
	if err != nil {
		s.proc.Drop(ctx, metric.DropMalformed, err, "source", source)
		return nil
	}

	// The signed reply address identifies the requester.
	r := listener.FromWire(reply.IP.String(), req)
	if s.proc.Duplicate(ctx, r) {
		return nil
	}

	d := net.Dialer{Timeout: s.auth.Timeout}
	conn, err := d.DialContext(ctx, "tcp", reply.String())
	if err != nil {
		s.proc.Drop(ctx, metric.DropIO, err, "reply_addr", reply.String())
		return nil
	}
	defer conn.Close()

	if !s.proc.Handshake(ctx, conn, s.auth) {
		return nil
	}
	_ = s.proc.Serve(ctx, r, &listener.ConnResponder{Conn: conn, Timeout: s.auth.Timeout})
	return nil
}

// Close implements listener.Listener.
func (s *Server) Close() error {
	return s.conn.Close()
}

func sourceIP(addr net.Addr) string {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.IP.String()
	}
	return addr.String()
}

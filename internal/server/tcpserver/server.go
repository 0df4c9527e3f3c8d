// Package tcpserver receives fencing requests over TCP.
//
// Each connection carries exactly one request. The daemon reads it within
// the I/O timeout, verifies it, challenges the requester, answers and
// closes the connection.
package tcpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/yndnr/fencevirt-go/internal/server/listener"
)

// Name is the registry name of the TCP listener.
const Name = "tcp"

func init() {
	listener.Register(Name, func(ctx context.Context, opts listener.Options) (listener.Listener, error) {
		cfg := opts.Config.TCP
		a, err := listener.LoadAuth(cfg.AuthConfig)
		if err != nil {
			return nil, err
		}
		return Listen(ctx, net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)), a, opts)
	})
}

// Server is a TCP listener.
type Server struct {
	ln     *net.TCPListener
	auth   listener.Auth
	proc   *listener.Processor
	logger *slog.Logger
}

var _ listener.Listener = (*Server)(nil)

// Listen binds addr.
func Listen(ctx context.Context, addr string, a listener.Auth, opts listener.Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:     ln.(*net.TCPListener),
		auth:   a,
		proc:   listener.NewProcessor(Name, opts),
		logger: opts.Logger.With("listener", Name),
	}
	s.logger.Info("tcp listener started", "addr", ln.Addr().String(), "auth", a)
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Dispatch implements listener.Listener.
func (s *Server) Dispatch(ctx context.Context, timeout time.Duration) error {
	if err := s.ln.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	conn, err := s.ln.AcceptTCP()
	if err != nil {
		if listener.IsTimeout(err) {
			return nil
		}
		if errors.Is(err, net.ErrClosed) {
			return err
		}
		s.logger.Warn("accept failed", "error", err)
		return nil
	}
	defer conn.Close()

	requester := conn.RemoteAddr().(*net.TCPAddr).IP.String()
	s.proc.ServeConn(ctx, conn, requester, s.auth)
	return nil
}

// Close implements listener.Listener.
func (s *Server) Close() error {
	return s.ln.Close()
}

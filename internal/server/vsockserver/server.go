// Package vsockserver receives fencing requests over AF_VSOCK.
//
// The flow matches the TCP listener. The requester is identified by the
// context id of the guest that connected.
package vsockserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/yndnr/fencevirt-go/internal/server/listener"
)

// Name is the registry name of the vsock listener.
const Name = "vsock"

func init() {
	listener.Register(Name, func(ctx context.Context, opts listener.Options) (listener.Listener, error) {
		cfg := opts.Config.Vsock
		a, err := listener.LoadAuth(cfg.AuthConfig)
		if err != nil {
			return nil, err
		}
		ln, err := vsock.Listen(cfg.Port, nil)
		if err != nil {
			return nil, err
		}
		return New(ln, a, opts), nil
	})
}

// acceptor is the part of a vsock listener the server uses.
type acceptor interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// Server is a vsock listener.
type Server struct {
	ln     acceptor
	auth   listener.Auth
	proc   *listener.Processor
	logger *slog.Logger
}

var _ listener.Listener = (*Server)(nil)

// New serves requests accepted on ln. ln is normally a *vsock.Listener;
// tests may pass any listener with deadlines.
func New(ln acceptor, a listener.Auth, opts listener.Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		ln:     ln,
		auth:   a,
		proc:   listener.NewProcessor(Name, opts),
		logger: opts.Logger.With("listener", Name),
	}
	s.logger.Info("vsock listener started", "addr", ln.Addr().String(), "auth", a)
	return s
}

// Dispatch implements listener.Listener.
func (s *Server) Dispatch(ctx context.Context, timeout time.Duration) error {
	if err := s.ln.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	conn, err := s.ln.Accept()
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

	s.proc.ServeConn(ctx, conn, requester(conn.RemoteAddr()), s.auth)
	return nil
}

// Close implements listener.Listener.
func (s *Server) Close() error {
	return s.ln.Close()
}

// requester is the peer's context id, or the address for other sockets.
func requester(addr net.Addr) string {
	switch a := addr.(type) {
	case *vsock.Addr:
		return strconv.FormatUint(uint64(a.ContextID), 10)
	case *net.TCPAddr:
		return a.IP.String()
	}
	return addr.String()
}

package serialserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/fencevirt-go/internal/infra/confloader"
	"github.com/yndnr/fencevirt-go/internal/server/listener"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
)

// Name is the registry name of the serial listener.
const Name = "serial"

const (
	// attachRetries covers the window between a socket appearing and the
	// hypervisor listening on it.
	attachRetries = 5
	attachBackoff = 50 * time.Millisecond

	frameBacklog = 16
)

func init() {
	listener.Register(Name, func(ctx context.Context, opts listener.Options) (listener.Listener, error) {
		cfg := opts.Config.Serial
		return New(cfg.SocketDir, cfg.IOTimeout, opts)
	})
}

// Server is a serial listener.
type Server struct {
	dir     string
	timeout time.Duration
	proc    *listener.Processor
	logger  *slog.Logger
	metrics *metric.Registry
	watcher *confloader.Watcher

	frames chan frame
	done   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool
}

var _ listener.Listener = (*Server)(nil)

// New attaches every channel socket in dir and watches it for more.
func New(dir string, timeout time.Duration, opts listener.Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metric.Global()
	}
	s := &Server{
		dir:      dir,
		timeout:  timeout,
		proc:     listener.NewProcessor(Name, opts),
		logger:   opts.Logger.With("listener", Name),
		metrics:  opts.Metrics,
		frames:   make(chan frame, frameBacklog),
		done:     make(chan struct{}),
		channels: make(map[string]*channel),
	}

	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if err := w.WatchDir(dir); err != nil {
		w.Stop()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w.OnChange(func(path string) { s.spawn(func() { s.attach(path) }) })
	w.OnRemove(func(path string) { s.detach(path) })
	w.StartAsync()
	s.watcher = w

	entries, err := os.ReadDir(dir)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, e := range entries {
		s.attach(filepath.Join(dir, e.Name()))
	}

	s.logger.Info("serial listener started", "dir", dir, "channels", len(s.Channels()))
	return s, nil
}

// spawn runs fn on a tracked goroutine unless the server is closed.
func (s *Server) spawn(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// attach connects to a channel socket and starts its reader.
func (s *Server) attach(path string) {
	dom := domainOf(path)
	if dom == "" {
		return
	}

	s.mu.Lock()
	_, attached := s.channels[path]
	s.mu.Unlock()
	if attached {
		return
	}

	var conn net.Conn
	var err error
	for i := 0; i < attachRetries; i++ {
		if conn, err = net.Dial("unix", path); err == nil {
			break
		}
		select {
		case <-s.done:
			return
		case <-time.After(attachBackoff):
		}
	}
	if err != nil {
		s.logger.Warn("attach channel failed", "domain", dom, "path", path, "error", err)
		return
	}

	ch := &channel{domain: dom, path: path, conn: conn}
	s.mu.Lock()
	if s.closed || s.channels[path] != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.channels[path] = ch
	n := len(s.channels)
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.SetSerialChannels(n)
	s.logger.Info("channel attached", "domain", dom)

	go func() {
		defer s.wg.Done()
		if err := ch.read(s.frames, s.done); err != nil {
			s.logger.Warn("channel read failed", "domain", dom, "error", err)
		}
		s.remove(ch)
	}()
}

// detach closes the channel for a removed socket.
func (s *Server) detach(path string) {
	s.mu.Lock()
	ch := s.channels[path]
	s.mu.Unlock()
	if ch != nil {
		ch.conn.Close()
	}
}

// remove forgets ch once its reader has stopped.
func (s *Server) remove(ch *channel) {
	ch.conn.Close()

	s.mu.Lock()
	if s.channels[ch.path] != ch {
		s.mu.Unlock()
		return
	}
	delete(s.channels, ch.path)
	n := len(s.channels)
	s.mu.Unlock()

	s.metrics.SetSerialChannels(n)
	s.logger.Info("channel detached", "domain", ch.domain)
}

// Channels returns the domains with an attached channel.
func (s *Server) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.domain)
	}
	sort.Strings(out)
	return out
}

// Dispatch implements listener.Listener.
func (s *Server) Dispatch(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var f frame
	select {
	case f = <-s.frames:
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	case <-s.done:
		return net.ErrClosed
	}

	ctx = s.proc.Received(ctx, f.req.Action)
	r := listener.FromSerial(f.ch.domain, f.req)
	if s.proc.Duplicate(ctx, r) {
		return nil
	}
	if err := s.proc.Serve(ctx, r, &responder{ch: f.ch, timeout: s.timeout}); err != nil {
		s.proc.Drop(ctx, metric.DropIO, err, "domain", f.ch.domain)
	}
	return nil
}

// Close implements listener.Listener. It stops watching, detaches every
// channel and waits for the readers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	channels := make([]*channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	var err error
	if s.watcher != nil {
		err = s.watcher.Stop()
	}
	for _, ch := range channels {
		ch.conn.Close()
	}
	s.wg.Wait()
	return err
}

package serialserver

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/fencevirt-go/internal/backend"
	"github.com/yndnr/fencevirt-go/internal/client"
	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/history"
	"github.com/yndnr/fencevirt-go/internal/permission"
	"github.com/yndnr/fencevirt-go/internal/server/listener"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

type guestBackend struct {
	mu   sync.Mutex
	offs int
}

func (b *guestBackend) Offs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offs
}

func (b *guestBackend) Null(context.Context) domain.Response { return domain.ResponseSuccess }
func (b *guestBackend) Off(context.Context, backend.Target) domain.Response {
	b.mu.Lock()
	b.offs++
	b.mu.Unlock()
	return domain.ResponseSuccess
}
func (b *guestBackend) On(context.Context, backend.Target) domain.Response {
	return domain.ResponseSuccess
}
func (b *guestBackend) Reboot(context.Context, backend.Target) domain.Response {
	return domain.ResponseSuccess
}
func (b *guestBackend) Status(context.Context, backend.Target) domain.Response {
	return domain.ResponseOff
}
func (b *guestBackend) DevStatus(context.Context) domain.Response { return domain.ResponseSuccess }
func (b *guestBackend) HostList(_ context.Context, fn backend.HostFunc) domain.Response {
	for _, h := range []domain.HostState{
		{Domain: "guest-a", UUID: "u-a", State: 1},
		{Domain: "guest-b", UUID: "u-b", State: 1},
	} {
		if err := fn(h); err != nil {
			return domain.ResponseFail
		}
	}
	return domain.ResponseSuccess
}
func (b *guestBackend) Close() error { return nil }

func newServer(t *testing.T, dir string, b backend.Backend, perms *permission.Map) *Server {
	t.Helper()
	s, err := New(dir, time.Second, listener.Options{
		Backend:     b,
		Permissions: perms,
		History:     history.NewFenceHistory(time.Minute),
		Metrics:     metric.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for ctx.Err() == nil {
			if err := s.Dispatch(ctx, 20*time.Millisecond); err != nil {
				return
			}
		}
	}()
	return s
}

// guestSocket plays the hypervisor end of a channel.
func guestSocket(t *testing.T, dir, name string) *net.UnixListener {
	t.Helper()
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: filepath.Join(dir, name+socketSuffix), Net: "unix"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

func accept(t *testing.T, ln *net.UnixListener) net.Conn {
	t.Helper()
	_ = ln.SetDeadline(time.Now().Add(5 * time.Second))
	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("channel was not attached: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func serialRequest(t *testing.T, action domain.Action, name string, seq uint32) *wire.SerialRequest {
	t.Helper()
	req := &wire.SerialRequest{Action: action, SeqNo: seq}
	if err := req.SetDomain(name); err != nil {
		t.Fatal(err)
	}
	return req
}

func TestDomainOf(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/run/serial/guest-a.sock", "guest-a"},
		{"guest.b.sock", "guest.b"},
		{"/run/serial/guest-a.log", ""},
		{"/run/serial/.sock.tmp", ""},
	}
	for _, tt := range tests {
		if got := domainOf(tt.path); got != tt.want {
			t.Errorf("domainOf(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestServer_Requests(t *testing.T) {
	dir := t.TempDir()
	ln := guestSocket(t, dir, "guest-a")
	b := &guestBackend{}
	perms := permission.New([]permission.Entry{{Requester: "guest-a", Domains: []string{"guest-b"}}})
	newServer(t, dir, b, perms)
	guest := accept(t, ln)

	opts := client.Options{Timeout: 2 * time.Second}
	ctx := context.Background()

	t.Run("off allowed", func(t *testing.T) {
		res, err := client.Serial(ctx, guest, serialRequest(t, domain.ActionOff, "guest-b", 1), opts)
		if err != nil {
			t.Fatalf("Serial() error = %v", err)
		}
		if res.Response != domain.ResponseSuccess {
			t.Errorf("Response = %v, want %v", res.Response, domain.ResponseSuccess)
		}
	})

	t.Run("status denied", func(t *testing.T) {
		res, err := client.Serial(ctx, guest, serialRequest(t, domain.ActionStatus, "guest-c", 2), opts)
		if err != nil {
			t.Fatalf("Serial() error = %v", err)
		}
		if res.Response != domain.ResponsePermission {
			t.Errorf("Response = %v, want %v", res.Response, domain.ResponsePermission)
		}
	})

	t.Run("hostlist filtered", func(t *testing.T) {
		res, err := client.Serial(ctx, guest, serialRequest(t, domain.ActionHostList, "", 3), opts)
		if err != nil {
			t.Fatalf("Serial() error = %v", err)
		}
		if res.Response != domain.ResponseSuccess {
			t.Errorf("Response = %v, want %v", res.Response, domain.ResponseSuccess)
		}
		if len(res.Hosts) != 1 || res.Hosts[0].Domain != "guest-b" {
			t.Errorf("Hosts = %+v, want only guest-b", res.Hosts)
		}
	})

	t.Run("replay ignored", func(t *testing.T) {
		short := client.Options{Timeout: 200 * time.Millisecond}
		if _, err := client.Serial(ctx, guest, serialRequest(t, domain.ActionOff, "guest-b", 1), short); err == nil {
			t.Error("Serial() answered a replayed request")
		}
		if got := b.Offs(); got != 1 {
			t.Errorf("Off calls = %d, want 1", got)
		}
	})
}

func TestServer_Hotplug(t *testing.T) {
	dir := t.TempDir()
	s := newServer(t, dir, &guestBackend{}, nil)
	if got := s.Channels(); len(got) != 0 {
		t.Fatalf("Channels() = %v, want none", got)
	}

	ln := guestSocket(t, dir, "guest-b")
	guest := accept(t, ln)
	eventually(t, func() bool { return slices.Equal(s.Channels(), []string{"guest-b"}) })

	res, err := client.Serial(context.Background(), guest,
		serialRequest(t, domain.ActionHostList, "", 7), client.Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Serial() error = %v", err)
	}
	if len(res.Hosts) != 2 {
		t.Errorf("len(Hosts) = %d, want 2", len(res.Hosts))
	}

	if err := os.Remove(filepath.Join(dir, "guest-b"+socketSuffix)); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return len(s.Channels()) == 0 })
}

func TestServer_GuestHangup(t *testing.T) {
	dir := t.TempDir()
	ln := guestSocket(t, dir, "guest-a")
	s := newServer(t, dir, &guestBackend{}, nil)
	guest := accept(t, ln)

	eventually(t, func() bool { return len(s.Channels()) == 1 })
	guest.Close()
	eventually(t, func() bool { return len(s.Channels()) == 0 })
}

func TestServer_Close(t *testing.T) {
	dir := t.TempDir()
	guestSocket(t, dir, "guest-a")
	s, err := New(dir, time.Second, listener.Options{Backend: &guestBackend{}, Metrics: metric.NewRegistry()})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Dispatch(context.Background(), time.Second); err == nil {
		t.Error("Dispatch() after Close() error = nil")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

package cluster

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"testing"
	"time"

	"github.com/yndnr/fencevirt-go/internal/backend"
	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/hypervisor/sim"
	"github.com/yndnr/fencevirt-go/internal/server/config"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
)

// simStore opens the named in-memory hypervisor store.
func simStore(t *testing.T, name string) *sim.Sim {
	t.Helper()
	s, err := sim.Open(&url.URL{Scheme: sim.Scheme, Host: "memory", Path: "/" + name}, nil)
	if err != nil {
		t.Fatalf("sim.Open(%q) error = %v", name, err)
	}
	return s
}

// testCluster starts one router per id on a shared hub. Member i uses the
// sim store "<test>-<i>".
func testCluster(t *testing.T, ids ...NodeID) (map[NodeID]*Router, func(NodeID) *sim.Sim) {
	t.Helper()
	hub := NewHub()
	store := func(id NodeID) *sim.Sim { return simStore(t, fmt.Sprintf("%s-%d", t.Name(), id)) }

	routers := make(map[NodeID]*Router)
	for _, id := range ids {
		uri := fmt.Sprintf("sim://memory/%s-%d", t.Name(), id)
		local := backend.NewVirt(config.VirtConfig{URIs: []string{uri}, RebootWait: time.Second}, nil,
			backend.WithPollInterval(10*time.Millisecond))
		r := NewRouter(hub.Member(id), local, RouterConfig{Refresh: -1, Metrics: metric.NewRegistry()})
		if err := r.Start(); err != nil {
			t.Fatalf("Start(%d) error = %v", id, err)
		}
		routers[id] = r
		t.Cleanup(func() { _ = r.Close() })
	}
	for _, r := range routers {
		eventually(t, 2*time.Second, func() bool { return len(r.View().Members) == len(ids) })
	}
	return routers, store
}

func withTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRouter_OwnerActs(t *testing.T) {
	ctx := withTimeout(t)
	routers, store := testCluster(t, 1, 2, 3)

	s3 := store(3)
	if _, err := s3.Define(ctx, "x", ""); err != nil {
		t.Fatalf("Define() error = %v", err)
	}
	if err := s3.Create(ctx, "x"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	x := backend.Target{Name: "x"}

	if got := routers[2].Status(ctx, x); got != domain.ResponseSuccess {
		t.Errorf("Status() from 2 = %v, want success", got)
	}
	if got := routers[1].Off(ctx, x); got != domain.ResponseSuccess {
		t.Errorf("Off() from 1 = %v, want success", got)
	}
	if dom, _ := s3.Lookup(ctx, "x", false); dom.Running {
		t.Error("x still running on member 3")
	}
	if got := routers[3].Status(ctx, x); got != domain.ResponseOff {
		t.Errorf("Status() from 3 = %v, want off", got)
	}
	if got := routers[2].On(ctx, x); got != domain.ResponseSuccess {
		t.Errorf("On() from 2 = %v, want success", got)
	}

	// Member 3 re-announced its table after acting.
	eventually(t, time.Second, func() bool {
		rec, ok := routers[1].Ownership().Lookup("x", false)
		return ok && rec.Owner == 3 && rec.State == domain.PowerOn
	})
}

func TestRouter_OwnerLeaves(t *testing.T) {
	ctx := withTimeout(t)
	routers, store := testCluster(t, 1, 2, 3)

	s3 := store(3)
	_, _ = s3.Define(ctx, "x", "")
	_ = s3.Create(ctx, "x")
	x := backend.Target{Name: "x"}

	if got := routers[1].Status(ctx, x); got != domain.ResponseSuccess {
		t.Fatalf("Status() = %v, want success", got)
	}

	if err := routers[3].Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for _, id := range []NodeID{1, 2} {
		eventually(t, time.Second, func() bool { return !routers[id].View().Contains(3) })
	}
	if _, ok := routers[1].Ownership().Lookup("x", false); ok {
		t.Error("x still owned after its owner left")
	}

	// Member 2 is now the highest and answers for the unknown VM.
	tests := []struct {
		action func(context.Context, backend.Target) domain.Response
		name   string
		want   domain.Response
	}{
		{routers[1].Off, "off", domain.ResponseSuccess},
		{routers[1].Reboot, "reboot", domain.ResponseSuccess},
		{routers[1].Status, "status", domain.ResponseOff},
		{routers[1].On, "on", domain.ResponseFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.action(ctx, x); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestRouter_LocalOwnerAnswers(t *testing.T) {
	ctx := withTimeout(t)
	routers, store := testCluster(t, 1, 2)

	// Member 1 owns the VM but is not the highest member.
	s1 := store(1)
	_, _ = s1.Define(ctx, "db", "")
	routers[1].announce(ctx)
	eventually(t, time.Second, func() bool {
		rec, ok := routers[2].Ownership().Lookup("db", false)
		return ok && rec.Owner == 1
	})

	if got := routers[1].Status(ctx, backend.Target{Name: "db"}); got != domain.ResponseOff {
		t.Errorf("Status() = %v, want off", got)
	}
	if got := routers[2].On(ctx, backend.Target{Name: "db"}); got != domain.ResponseSuccess {
		t.Errorf("On() = %v, want success", got)
	}
	if dom, _ := s1.Lookup(ctx, "db", false); !dom.Running {
		t.Error("db not running on member 1")
	}
}

func TestRouter_AnnouncedOwnerLosesVM(t *testing.T) {
	ctx := withTimeout(t)
	routers, store := testCluster(t, 1, 2)

	s1 := store(1)
	if _, err := s1.Define(ctx, "x", ""); err != nil {
		t.Fatalf("Define() error = %v", err)
	}
	routers[1].announce(ctx)
	eventually(t, time.Second, func() bool {
		rec, ok := routers[2].Ownership().Lookup("x", false)
		return ok && rec.Owner == 1
	})

	// x disappears from member 1 without a fencing request. Member 2,
	// the highest, still routes it to member 1.
	if err := s1.Undefine(ctx, "x"); err != nil {
		t.Fatalf("Undefine() error = %v", err)
	}
	x := backend.Target{Name: "x"}
	if got := routers[2].Off(ctx, x); got != domain.ResponseSuccess {
		t.Fatalf("Off() = %v, want success", got)
	}

	// Member 1 re-announced, so member 2 now answers by itself.
	eventually(t, time.Second, func() bool {
		_, ok := routers[2].Ownership().Lookup("x", false)
		return !ok
	})
	if got := routers[2].Status(ctx, x); got != domain.ResponseOff {
		t.Errorf("Status() = %v, want off", got)
	}
}

func TestRouter_HostList(t *testing.T) {
	ctx := withTimeout(t)
	routers, store := testCluster(t, 1, 2)
	s1, s2 := store(1), store(2)
	_, _ = s1.Define(ctx, "a", "")
	_, _ = s1.Define(ctx, "shared", "")
	_, _ = s2.Define(ctx, "b", "")
	_, _ = s2.Define(ctx, "shared", "")

	routers[2].announce(ctx)
	eventually(t, time.Second, func() bool {
		_, ok := routers[1].Ownership().Lookup("b", false)
		return ok
	})

	var names []string
	got := routers[1].HostList(ctx, func(h domain.HostState) error {
		names = append(names, h.Domain)
		return nil
	})
	if got != domain.ResponseSuccess {
		t.Fatalf("HostList() = %v, want success", got)
	}
	sort.Strings(names)
	if fmt.Sprint(names) != "[a b shared]" {
		t.Errorf("HostList() names = %v, want [a b shared]", names)
	}

	if got := routers[1].Null(ctx); got != domain.ResponseSuccess {
		t.Errorf("Null() = %v, want success", got)
	}
	if got := routers[1].DevStatus(ctx); got != domain.ResponseSuccess {
		t.Errorf("DevStatus() = %v, want success", got)
	}
}

// silentGroup delivers nothing.
type silentGroup struct{ id NodeID }

func (g silentGroup) Join(Delivery) error      { return nil }
func (g silentGroup) Broadcast(*Message) error { return nil }
func (g silentGroup) LocalID() NodeID          { return g.id }
func (g silentGroup) Leave() error             { return nil }

func TestRouter_Timeout(t *testing.T) {
	local := backend.NewVirt(config.VirtConfig{URIs: []string{"sim://memory/" + t.Name()}}, nil)
	r := NewRouter(silentGroup{id: 1}, local, RouterConfig{Refresh: -1, Metrics: metric.NewRegistry()})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if got := r.Off(ctx, backend.Target{Name: "x"}); got != domain.ResponseFail {
		t.Errorf("Off() = %v, want fail", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Off() took %v after its context expired", elapsed)
	}
}

func TestRouter_ReplyMatching(t *testing.T) {
	local := backend.NewVirt(config.VirtConfig{URIs: []string{"sim://memory/" + t.Name()}}, nil)
	r := NewRouter(silentGroup{id: 1}, local, RouterConfig{Refresh: -1, Metrics: metric.NewRegistry()})
	defer r.Close()

	// Unmatched and misaddressed replies are ignored.
	r.Deliver(2, NewReplyMessage(99, 1, domain.ResponseSuccess))
	r.Deliver(2, NewReplyMessage(1, 5, domain.ResponseSuccess))

	done := make(chan domain.Response, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- r.Status(ctx, backend.Target{Name: "x"})
	}()

	eventually(t, time.Second, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		_, ok := r.pending[1]
		return ok
	})
	r.Deliver(2, NewReplyMessage(1, 1, domain.ResponseOff))
	// A second reply for the same request is dropped.
	r.Deliver(3, NewReplyMessage(1, 1, domain.ResponseSuccess))

	if got := <-done; got != domain.ResponseOff {
		t.Errorf("Status() = %v, want off", got)
	}
}

func TestRouter_CloseWakesWaiters(t *testing.T) {
	local := backend.NewVirt(config.VirtConfig{URIs: []string{"sim://memory/" + t.Name()}}, nil)
	r := NewRouter(silentGroup{id: 1}, local, RouterConfig{Refresh: -1, Metrics: metric.NewRegistry()})

	done := make(chan domain.Response, 1)
	go func() { done <- r.Off(context.Background(), backend.Target{Name: "x"}) }()

	eventually(t, time.Second, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.pending) == 1
	})
	_ = r.Close()

	select {
	case got := <-done:
		if got != domain.ResponseFail {
			t.Errorf("Off() = %v, want fail", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Close() did not wake the waiting request")
	}
	if got := r.Off(context.Background(), backend.Target{Name: "x"}); got != domain.ResponseFail {
		t.Errorf("Off() after Close = %v, want fail", got)
	}
}

func TestFallback(t *testing.T) {
	tests := []struct {
		action domain.Action
		want   domain.Response
	}{
		{domain.ActionOff, domain.ResponseSuccess},
		{domain.ActionReboot, domain.ResponseSuccess},
		{domain.ActionStatus, domain.ResponseOff},
		{domain.ActionOn, domain.ResponseFail},
	}
	for _, tt := range tests {
		if got := fallback(tt.action); got != tt.want {
			t.Errorf("fallback(%v) = %v, want %v", tt.action, got, tt.want)
		}
	}
}

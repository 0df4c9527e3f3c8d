package cluster

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// recordingDelivery records every event as a string.
type recordingDelivery struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingDelivery) Deliver(from NodeID, msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("msg %d/%d", from, msg.SeqNo))
}

func (r *recordingDelivery) MembershipChanged(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("view %v", v.Members))
}

func (r *recordingDelivery) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// eventually polls cond until it holds or timeout passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHub_TotalOrder(t *testing.T) {
	hub := NewHub()
	a, b := hub.Member(1), hub.Member(2)
	da, db := &recordingDelivery{}, &recordingDelivery{}

	if err := a.Join(da); err != nil {
		t.Fatalf("Join(1) error = %v", err)
	}
	if err := b.Join(db); err != nil {
		t.Fatalf("Join(2) error = %v", err)
	}

	var wg sync.WaitGroup
	for _, m := range []*HubMember{a, b} {
		wg.Add(1)
		go func(m *HubMember) {
			defer wg.Done()
			for i := uint32(1); i <= 20; i++ {
				_ = m.Broadcast(&Message{Type: MessageReply, SeqNo: i})
			}
		}(m)
	}
	wg.Wait()

	eventually(t, time.Second, func() bool { return len(db.snapshot()) == 41 })

	// Member 1 saw its own join before member 2 existed.
	ea := da.snapshot()
	eventually(t, time.Second, func() bool { ea = da.snapshot(); return len(ea) == 42 })
	if ea[0] != "view [1]" {
		t.Errorf("first event = %q, want view [1]", ea[0])
	}
	eb := db.snapshot()
	for i := range eb {
		if ea[i+1] != eb[i] {
			t.Fatalf("event %d differs: %q vs %q", i, ea[i+1], eb[i])
		}
	}
}

func TestHub_Leave(t *testing.T) {
	hub := NewHub()
	a, b := hub.Member(1), hub.Member(2)
	da, db := &recordingDelivery{}, &recordingDelivery{}
	_ = a.Join(da)
	_ = b.Join(db)

	if err := b.Leave(); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if err := b.Broadcast(&Message{Type: MessageReply}); !errors.Is(err, domain.ErrGroupClosed) {
		t.Errorf("Broadcast() after Leave error = %v, want ErrGroupClosed", err)
	}

	eventually(t, time.Second, func() bool {
		ev := da.snapshot()
		return len(ev) > 0 && ev[len(ev)-1] == "view [1]"
	})

	if err := a.Join(da); err == nil {
		t.Error("joining twice should fail")
	}
	if err := hub.Member(0).Join(da); !errors.Is(err, domain.ErrGroupJoin) {
		t.Errorf("Join(0) error = %v, want ErrGroupJoin", err)
	}
	_ = a.Leave()
}

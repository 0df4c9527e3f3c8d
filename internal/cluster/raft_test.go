package cluster

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

func TestRaftGroup_SingleNode(t *testing.T) {
	if testing.Short() {
		t.Skip("starts raft on loopback")
	}

	g := NewRaftGroup(RaftGroupConfig{
		Discovery: gossipConfig(1),
		Addr:      "127.0.0.1:0",
		DataDir:   t.TempDir(),
		Bootstrap: true,
	})
	d := &recordingDelivery{}
	if err := g.Join(d); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	eventually(t, 10*time.Second, g.IsLeader)
	eventually(t, 10*time.Second, func() bool {
		return slices.Contains(d.snapshot(), "view [1]")
	})

	if err := g.Broadcast(&Message{Type: MessageReply, SeqNo: 3, Payload: []byte{0}}); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	eventually(t, 5*time.Second, func() bool {
		return slices.Contains(d.snapshot(), "msg 1/3")
	})

	if err := g.Leave(); err != nil {
		t.Errorf("Leave() error = %v", err)
	}
	if err := g.Broadcast(&Message{Type: MessageReply}); !errors.Is(err, domain.ErrGroupClosed) {
		t.Errorf("Broadcast() after Leave error = %v, want ErrGroupClosed", err)
	}
}

func TestRaftGroup_NoDataDir(t *testing.T) {
	g := NewRaftGroup(RaftGroupConfig{Discovery: gossipConfig(1)})
	if err := g.Join(&recordingDelivery{}); !errors.Is(err, domain.ErrGroupJoin) {
		t.Errorf("Join() error = %v, want ErrGroupJoin", err)
	}
}

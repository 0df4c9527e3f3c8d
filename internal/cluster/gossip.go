package cluster

import (
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// leaveTimeout bounds how long Leave waits for the departure to propagate.
const leaveTimeout = 5 * time.Second

// GossipGroup is a process group over memberlist. Membership changes come
// from memberlist's failure detector and messages are fanned out with
// reliable point-to-point sends.
//
// Ordering is weaker than virtual synchrony: messages from one sender
// arrive in the order sent, but members may interleave different senders
// differently. The Router tolerates this because replies are matched by
// sequence number and target, and announcements carry whole tables.
type GossipGroup struct {
	cfg    DiscoveryConfig
	logger *slog.Logger
	q      *queue

	mu      sync.Mutex
	disc    *Discovery
	members []NodeID
	left    bool
}

var _ Group = (*GossipGroup)(nil)

// NewGossipGroup creates a gossip group. Nothing is bound until Join.
func NewGossipGroup(cfg DiscoveryConfig) *GossipGroup {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &GossipGroup{
		cfg:    cfg,
		logger: cfg.Logger.With("group", "gossip"),
		q:      newQueue(),
	}
}

// LocalID implements Group.
func (g *GossipGroup) LocalID() NodeID {
	return g.cfg.NodeID
}

// Join implements Group. memberlist reports the first members while it
// is still being created; those views are queued and delivered once
// Broadcast works.
func (g *GossipGroup) Join(d Delivery) error {
	disc, err := NewDiscovery(g.cfg, g.onJoin, g.onLeave, g.onMsg)
	if err != nil {
		g.q.close()
		return err
	}

	g.mu.Lock()
	g.disc = disc
	g.mu.Unlock()

	g.q.start(d)
	return nil
}

// LocalAddr returns the bound gossip address, for use as a seed.
func (g *GossipGroup) LocalAddr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disc == nil {
		return ""
	}
	return g.disc.LocalAddr()
}

func (g *GossipGroup) changeView(next func([]NodeID) []NodeID) {
	g.mu.Lock()
	prev := g.members
	g.members = next(append([]NodeID(nil), prev...))
	v := diffView(prev, g.members)
	g.members = v.Members
	g.mu.Unlock()

	if len(v.Joined) > 0 || len(v.Left) > 0 {
		g.q.push(event{view: &v})
	}
}

func (g *GossipGroup) onJoin(p Peer) {
	g.changeView(func(ids []NodeID) []NodeID {
		for _, id := range ids {
			if id == p.ID {
				return ids
			}
		}
		return append(ids, p.ID)
	})
}

func (g *GossipGroup) onLeave(id NodeID) {
	g.changeView(func(ids []NodeID) []NodeID {
		out := ids[:0]
		for _, m := range ids {
			if m != id {
				out = append(out, m)
			}
		}
		return out
	})
}

func (g *GossipGroup) onMsg(buf []byte) {
	from, msg, err := unseal(buf)
	if err != nil {
		g.logger.Warn("dropping malformed group message", "error", err)
		return
	}
	g.q.push(event{from: from, msg: msg})
}

// Broadcast implements Group. A message with a target goes only to that
// member.
func (g *GossipGroup) Broadcast(msg *Message) error {
	g.mu.Lock()
	disc, members, left := g.disc, append([]NodeID(nil), g.members...), g.left
	g.mu.Unlock()
	if disc == nil || left {
		return domain.ErrGroupClosed
	}

	self := g.cfg.NodeID
	buf, err := seal(self, msg)
	if err != nil {
		return err
	}

	for _, id := range members {
		if msg.Target != Broadcast && msg.Target != id {
			continue
		}
		if id == self {
			g.q.push(event{from: self, msg: msg.Clone()})
			continue
		}
		if err := disc.Send(id, buf); err != nil {
			g.logger.Warn("group send failed", "to", id, "type", msg.Type, "error", err)
		}
	}
	return nil
}

// Leave implements Group.
func (g *GossipGroup) Leave() error {
	g.mu.Lock()
	disc := g.disc
	g.left = true
	g.mu.Unlock()

	var err error
	if disc != nil {
		err = disc.Leave(leaveTimeout)
	}
	g.q.close()
	return err
}

package cluster

import (
	"fmt"
	"slices"
	"sync"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// Hub is an in-process process group. Every message and membership change
// is appended to each member's queue under one lock, so all members see
// the same global order.
type Hub struct {
	mu      sync.Mutex
	members map[NodeID]*HubMember
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{members: make(map[NodeID]*HubMember)}
}

// Member returns a group handle for id. The member is not part of the
// group until Join.
func (h *Hub) Member(id NodeID) *HubMember {
	return &HubMember{hub: h, id: id, q: newQueue()}
}

// ids returns the current members in order. Callers hold h.mu.
func (h *Hub) ids() []NodeID {
	ids := make([]NodeID, 0, len(h.members))
	for id := range h.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// HubMember is one member of a Hub.
type HubMember struct {
	hub *Hub
	id  NodeID
	q   *queue
}

var _ Group = (*HubMember)(nil)

// LocalID implements Group.
func (m *HubMember) LocalID() NodeID {
	return m.id
}

// Join implements Group.
func (m *HubMember) Join(d Delivery) error {
	if m.id == 0 {
		return domain.ErrGroupJoin.WithDetails("node id must be positive")
	}

	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, dup := h.members[m.id]; dup {
		return domain.ErrGroupJoin.WithDetails(fmt.Sprintf("node %d already joined", m.id))
	}
	prev := h.ids()
	h.members[m.id] = m
	v := diffView(prev, h.ids())
	for _, member := range h.members {
		member.q.push(event{view: &v})
	}
	m.q.start(d)
	return nil
}

// Broadcast implements Group.
func (m *HubMember) Broadcast(msg *Message) error {
	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.members[m.id] != m {
		return domain.ErrGroupClosed
	}
	for _, member := range h.members {
		member.q.push(event{from: m.id, msg: msg.Clone()})
	}
	return nil
}

// Leave implements Group.
func (m *HubMember) Leave() error {
	h := m.hub
	h.mu.Lock()
	if h.members[m.id] == m {
		prev := h.ids()
		delete(h.members, m.id)
		v := diffView(prev, h.ids())
		for _, member := range h.members {
			member.q.push(event{view: &v})
		}
	}
	h.mu.Unlock()

	m.q.close()
	return nil
}

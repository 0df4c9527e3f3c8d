package cluster

import (
	"slices"
	"strconv"
	"sync"
)

// NodeID identifies a group member. Valid ids are positive.
type NodeID uint32

// Broadcast is the target of messages meant for every member.
const Broadcast NodeID = 0

// String returns the decimal id, which is also the member's name in
// memberlist and raft.
func (id NodeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseNodeID parses a member name.
func ParseNodeID(s string) (NodeID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return NodeID(n), nil
}

// View is one membership change.
type View struct {
	// Members is the new membership, sorted.
	Members []NodeID
	Joined  []NodeID
	Left    []NodeID
}

// Highest returns the largest member id, or 0 for an empty view.
func (v View) Highest() NodeID {
	if len(v.Members) == 0 {
		return 0
	}
	return v.Members[len(v.Members)-1]
}

// Contains reports whether id is a member.
func (v View) Contains(id NodeID) bool {
	_, ok := slices.BinarySearch(v.Members, id)
	return ok
}

// diffView builds the view that moves from prev to next.
func diffView(prev, next []NodeID) View {
	v := View{Members: slices.Clone(next)}
	slices.Sort(v.Members)
	for _, id := range v.Members {
		if !slices.Contains(prev, id) {
			v.Joined = append(v.Joined, id)
		}
	}
	for _, id := range prev {
		if !slices.Contains(v.Members, id) {
			v.Left = append(v.Left, id)
		}
	}
	return v
}

// Delivery receives group events. A group calls it from a single goroutine,
// so callbacks never run concurrently with each other.
type Delivery interface {
	// Deliver receives a message broadcast by from. Members also receive
	// their own broadcasts.
	Deliver(from NodeID, msg *Message)

	// MembershipChanged receives each membership change.
	MembershipChanged(v View)
}

// Group is a process group transport.
type Group interface {
	// Join enters the group and starts delivering events to d.
	Join(d Delivery) error

	// Broadcast sends msg to every member, including the sender. Messages
	// with a non-zero Target are still ordered with the rest but are only
	// delivered where the transport cannot avoid it.
	Broadcast(msg *Message) error

	// LocalID returns this member's id.
	LocalID() NodeID

	// Leave exits the group, then stops the delivery goroutine and waits
	// for it. No callback runs after Leave returns.
	Leave() error
}

// event is a queued delivery.
type event struct {
	from NodeID
	msg  *Message
	view *View
}

// queue feeds events to a Delivery from one goroutine. Pushing never blocks,
// so transports can push from their own callbacks.
type queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	events  []event
	closed  bool
	started bool
	done    chan struct{}
}

func newQueue() *queue {
	q := &queue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends e. It reports false after close.
func (q *queue) push(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.events = append(q.events, e)
	q.cond.Signal()
	return true
}

// start runs the delivery goroutine.
func (q *queue) start(d Delivery) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.started {
		return
	}
	q.started = true
	go q.run(d)
}

func (q *queue) run(d Delivery) {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.events) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		e := q.events[0]
		q.events[0] = event{}
		q.events = q.events[1:]
		q.mu.Unlock()

		if e.view != nil {
			d.MembershipChanged(*e.view)
		} else {
			d.Deliver(e.from, e.msg)
		}
	}
}

// close discards queued events and waits for the delivery goroutine.
// It must not be called from a Delivery callback.
func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.events = nil
	started := q.started
	q.cond.Broadcast()
	q.mu.Unlock()

	if !started {
		close(q.done)
		return
	}
	<-q.done
}

package cluster

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/fencevirt-go/internal/backend"
	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
	"github.com/yndnr/fencevirt-go/pkg/wire"
)

// DefaultRefresh is the default interval between ownership announcements.
const DefaultRefresh = 30 * time.Second

// RouterConfig configures a Router.
type RouterConfig struct {
	// Refresh is the interval between announcements of the local table.
	// Zero uses DefaultRefresh; a negative value disables the timer.
	Refresh time.Duration

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// pending is a forwarded request waiting for its reply.
type pending struct {
	ready bool
	resp  domain.Response
}

// Router forwards fencing requests through a process group to the member
// that owns the VM and waits for the reply. It implements backend.Backend.
type Router struct {
	group   Group
	local   backend.Backend
	owners  *Ownership
	self    NodeID
	refresh time.Duration
	logger  *slog.Logger
	metrics *metric.Registry

	seq atomic.Uint32

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[uint32]*pending
	closed  bool

	viewMu sync.RWMutex
	view   View

	// announced is the local table as last broadcast.
	announcedMu sync.Mutex
	announced   []VMRecord

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ backend.Backend = (*Router)(nil)

// NewRouter creates a router that acts on owned VMs through local. The
// router owns local and closes it.
func NewRouter(g Group, local backend.Backend, cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.Global()
	}
	if cfg.Refresh == 0 {
		cfg.Refresh = DefaultRefresh
	}
	r := &Router{
		group:   g,
		local:   local,
		owners:  NewOwnership(g.LocalID()),
		self:    g.LocalID(),
		refresh: cfg.Refresh,
		logger:  cfg.Logger.With("node_id", g.LocalID()),
		metrics: cfg.Metrics,
		pending: make(map[uint32]*pending),
		stop:    make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start joins the group and starts the refresh timer.
func (r *Router) Start() error {
	if err := r.group.Join(r); err != nil {
		return err
	}
	if r.refresh > 0 {
		r.wg.Add(1)
		go r.refreshLoop()
	}
	r.logger.Info("group router started")
	return nil
}

func (r *Router) refreshLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.announce(context.Background())
		}
	}
}

// View returns the current group view.
func (r *Router) View() View {
	r.viewMu.RLock()
	defer r.viewMu.RUnlock()
	return r.view
}

// Ownership returns the router's ownership tables.
func (r *Router) Ownership() *Ownership {
	return r.owners
}

// rebuildLocal refreshes the local table from the local backend.
func (r *Router) rebuildLocal(ctx context.Context) bool {
	var records []VMRecord
	resp := r.local.HostList(ctx, func(h domain.HostState) error {
		records = append(records, VMRecord{Domain: h.Domain, UUID: h.UUID, Owner: r.self, State: h.State})
		return nil
	})
	if resp != domain.ResponseSuccess {
		r.logger.Warn("local host list failed", "response", resp)
		return false
	}
	r.owners.ReplaceLocal(records)
	r.updateTableMetrics()
	return true
}

// announce rebuilds the local table and broadcasts it.
func (r *Router) announce(ctx context.Context) {
	if !r.rebuildLocal(ctx) {
		return
	}
	local := r.owners.Local()
	msg, err := NewStoreVMMessage(r.seq.Add(1), local)
	if err != nil {
		r.logger.Error("encode vm announcement", "error", err)
		return
	}
	if err := r.group.Broadcast(msg); err != nil {
		r.logger.Warn("vm announcement failed", "error", err)
		return
	}
	r.announcedMu.Lock()
	r.announced = local
	r.announcedMu.Unlock()
}

// announcedHere reports whether the last announcement listed target, so
// other members may still route it here.
func (r *Router) announcedHere(t backend.Target) bool {
	r.announcedMu.Lock()
	defer r.announcedMu.Unlock()
	for _, rec := range r.announced {
		if rec.HostState().Matches(t.Name, t.ByUUID) {
			return true
		}
	}
	return false
}

func (r *Router) updateTableMetrics() {
	local, remote := r.owners.Sizes()
	r.metrics.SetOwnedVMs("local", local)
	r.metrics.SetOwnedVMs("remote", remote)
}

// Deliver implements Delivery.
func (r *Router) Deliver(from NodeID, msg *Message) {
	switch msg.Type {
	case MessageRequest:
		r.handleRequest(from, msg)
	case MessageReply:
		r.handleReply(msg)
	case MessageStoreVM:
		if from == r.self {
			return
		}
		records, err := msg.Records()
		if err != nil {
			r.logger.Warn("dropping malformed vm announcement", "from", from, "error", err)
			return
		}
		r.owners.StoreRemote(from, records)
		r.updateTableMetrics()
		r.logger.Debug("vm table received", "from", from, "vms", len(records))
	default:
		r.logger.Warn("dropping unknown group message", "from", from, "type", msg.Type)
	}
}

// MembershipChanged implements Delivery.
func (r *Router) MembershipChanged(v View) {
	r.viewMu.Lock()
	r.view = v
	r.viewMu.Unlock()

	for _, id := range v.Left {
		r.owners.Purge(id)
	}
	r.metrics.SetGroupMembers(len(v.Members))
	r.logger.Info("group membership changed",
		"members", v.Members,
		"joined", v.Joined,
		"left", v.Left,
		"highest", v.Highest())

	if v.Contains(r.self) {
		r.announce(context.Background())
	}
}

// handleRequest decides whether this member answers a REQUEST. Exactly
// one member is expected to answer: the owner, or for a VM nobody owns
// the highest member. A member that announced the VM but no longer has
// it also answers, since the others still route the VM to it.
func (r *Router) handleRequest(from NodeID, msg *Message) {
	req, err := msg.Request()
	if err != nil {
		r.logger.Warn("dropping malformed group request", "from", from, "error", err)
		return
	}
	t := backend.Target{Name: req.DomainName(), ByUUID: req.ByUUID()}
	ctx := context.Background()

	r.rebuildLocal(ctx)
	rec, known := r.owners.Lookup(t.Name, t.ByUUID)
	view := r.View()
	gone := !known && r.announcedHere(t)

	var resp domain.Response
	switch {
	case known && rec.Owner == r.self:
		resp = backend.Invoke(ctx, r.local, req.Action, t, nil)
		r.logger.Info("handled group request",
			"from", from, "seq", msg.SeqNo, "action", req.Action, "domain", t.Name, "response", resp)
		if req.Action != domain.ActionStatus {
			r.announce(ctx)
		}

	case known && view.Contains(rec.Owner):
		return

	case gone || view.Highest() == r.self:
		resp = fallback(req.Action)
		r.logger.Warn("answering for unknown vm",
			"from", from, "seq", msg.SeqNo, "action", req.Action, "domain", t.Name,
			"response", resp, "previously_owned", gone)

	default:
		return
	}

	if err := r.group.Broadcast(NewReplyMessage(msg.SeqNo, from, resp)); err != nil {
		r.logger.Warn("group reply failed", "to", from, "seq", msg.SeqNo, "error", err)
	}
	if gone {
		r.announce(ctx)
	}
}

// fallback is the answer for a VM no member owns: it is not running
// anywhere, so it is already off.
func fallback(a domain.Action) domain.Response {
	switch a {
	case domain.ActionOff, domain.ActionReboot:
		return domain.ResponseSuccess
	case domain.ActionStatus:
		return domain.ResponseOff
	}
	return domain.ResponseFail
}

func (r *Router) handleReply(msg *Message) {
	if msg.Target != r.self {
		return
	}
	resp, err := msg.Response()
	if err != nil {
		r.logger.Warn("dropping malformed group reply", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[msg.SeqNo]
	if !ok || p.ready {
		r.logger.Debug("dropping unmatched group reply", "seq", msg.SeqNo)
		return
	}
	p.ready = true
	p.resp = resp
	r.cond.Broadcast()
}

// forward broadcasts a request and waits for its reply. The only timeout
// is ctx.
func (r *Router) forward(ctx context.Context, action domain.Action, t backend.Target) domain.Response {
	req := &wire.Request{Action: action}
	if err := req.SetDomain(t.Name); err != nil {
		return domain.ResponseFail
	}
	if t.ByUUID {
		req.Flags |= domain.FlagUUID
	}

	seq := r.seq.Add(1)
	msg, err := NewRequestMessage(seq, req)
	if err != nil {
		return domain.ResponseFail
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.ResponseFail
	}
	r.pending[seq] = &pending{}
	r.metrics.SetGroupPending(len(r.pending))
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, seq)
		r.metrics.SetGroupPending(len(r.pending))
		r.mu.Unlock()
	}()

	if err := r.group.Broadcast(msg); err != nil {
		r.logger.Warn("group request failed", "seq", seq, "error", err)
		return domain.ResponseFail
	}

	stopWake := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stopWake()

	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.pending[seq]
	for !p.ready && !r.closed && ctx.Err() == nil {
		r.cond.Wait()
	}
	if !p.ready {
		r.logger.Warn("group request abandoned", "seq", seq, "action", action, "domain", t.Name, "error", ctx.Err())
		return domain.ResponseFail
	}
	return p.resp
}

// Null implements backend.Backend.
func (r *Router) Null(ctx context.Context) domain.Response {
	return r.local.Null(ctx)
}

// Off implements backend.Backend.
func (r *Router) Off(ctx context.Context, t backend.Target) domain.Response {
	return r.forward(ctx, domain.ActionOff, t)
}

// On implements backend.Backend.
func (r *Router) On(ctx context.Context, t backend.Target) domain.Response {
	return r.forward(ctx, domain.ActionOn, t)
}

// Reboot implements backend.Backend.
func (r *Router) Reboot(ctx context.Context, t backend.Target) domain.Response {
	return r.forward(ctx, domain.ActionReboot, t)
}

// Status implements backend.Backend.
func (r *Router) Status(ctx context.Context, t backend.Target) domain.Response {
	return r.forward(ctx, domain.ActionStatus, t)
}

// DevStatus implements backend.Backend.
func (r *Router) DevStatus(ctx context.Context) domain.Response {
	return r.local.DevStatus(ctx)
}

// HostList implements backend.Backend. It lists local VMs followed by
// VMs announced by other members that are not also defined locally.
func (r *Router) HostList(ctx context.Context, fn backend.HostFunc) domain.Response {
	seen := make(map[string]bool)
	resp := r.local.HostList(ctx, func(h domain.HostState) error {
		seen[h.Domain] = true
		return fn(h)
	})
	if resp != domain.ResponseSuccess {
		return resp
	}
	for _, rec := range r.owners.Remote() {
		if seen[rec.Domain] {
			continue
		}
		seen[rec.Domain] = true
		if err := fn(rec.HostState()); err != nil {
			return domain.ResponseFail
		}
	}
	return domain.ResponseSuccess
}

// Close leaves the group, wakes any waiting requests and closes the local
// backend.
func (r *Router) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stop)
		r.wg.Wait()

		err = r.group.Leave()

		r.mu.Lock()
		r.closed = true
		r.cond.Broadcast()
		r.mu.Unlock()

		if cerr := r.local.Close(); err == nil {
			err = cerr
		}
		r.logger.Info("group router stopped")
	})
	return err
}

package cluster

import (
	"cmp"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/telemetry/logger"
)

// DiscoveryConfig configures the memberlist layer shared by the gossip and
// raft groups.
type DiscoveryConfig struct {
	NodeID NodeID

	// BindAddr and BindPort are the gossip address. Port 0 picks a free
	// port.
	BindAddr string
	BindPort int

	// Meta is published to other members, up to 512 bytes.
	Meta []byte

	Seeds       []string
	JoinRetries int
	JoinBackoff time.Duration

	Logger *slog.Logger
}

// Peer is another member as seen by discovery.
type Peer struct {
	ID   NodeID
	Addr string
	Meta []byte
}

// Discovery tracks group membership with memberlist and carries
// point-to-point messages between members.
type Discovery struct {
	config     *memberlist.Config
	memberList *memberlist.Memberlist
	logger     *slog.Logger
	self       NodeID

	mu    sync.Mutex
	peers map[NodeID]*memberlist.Node

	onJoin  func(p Peer)
	onLeave func(id NodeID)
	onMsg   func(buf []byte)

	shutdownOnce sync.Once
}

// NewDiscovery creates the memberlist and joins the seeds. Callbacks run
// on memberlist goroutines and must not block; onJoin also fires for the
// local node.
func NewDiscovery(cfg DiscoveryConfig, onJoin func(Peer), onLeave func(NodeID), onMsg func([]byte)) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NodeID == 0 {
		return nil, domain.ErrGroupJoin.WithDetails("node id must be positive")
	}

	var mlConfig *memberlist.Config
	if ip := net.ParseIP(cfg.BindAddr); ip != nil && ip.IsLoopback() {
		mlConfig = memberlist.DefaultLocalConfig()
	} else {
		mlConfig = memberlist.DefaultLANConfig()
	}
	mlConfig.Name = cfg.NodeID.String()
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.LogOutput = logger.Writer(cfg.Logger)

	d := &Discovery{
		config:  mlConfig,
		logger:  cfg.Logger,
		self:    cfg.NodeID,
		peers:   make(map[NodeID]*memberlist.Node),
		onJoin:  onJoin,
		onLeave: onLeave,
		onMsg:   onMsg,
	}
	mlConfig.Delegate = &messageDelegate{discovery: d, meta: cfg.Meta}
	mlConfig.Events = &eventDelegate{discovery: d}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, domain.ErrGroupJoin.WithCause(fmt.Errorf("create memberlist: %w", err))
	}
	d.memberList = ml

	if len(cfg.Seeds) == 0 {
		cfg.Logger.Info("started discovery (bootstrap mode)", "node_id", cfg.NodeID)
		return d, nil
	}

	if err := d.join(cfg.Seeds, cfg.JoinRetries, cfg.JoinBackoff); err != nil {
		ml.Shutdown()
		return nil, err
	}
	return d, nil
}

// join contacts the seeds, retrying with a doubling backoff.
func (d *Discovery) join(seeds []string, retries int, backoff time.Duration) error {
	if backoff <= 0 {
		backoff = time.Second
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		n, err := d.memberList.Join(seeds)
		if err == nil {
			d.logger.Info("joined cluster",
				"node_id", d.self,
				"seed_nodes", seeds,
				"joined_count", n)
			return nil
		}
		lastErr = err
		d.logger.Warn("join failed", "attempt", attempt+1, "error", err)
		if attempt < retries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return domain.ErrGroupJoin.WithCause(lastErr)
}

// LocalAddr returns the gossip address actually bound.
func (d *Discovery) LocalAddr() string {
	n := d.memberList.LocalNode()
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// Peers returns the known members, including the local node, sorted by id.
func (d *Discovery) Peers() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Peer, 0, len(d.peers))
	for id, n := range d.peers {
		out = append(out, peerOf(id, n))
	}
	slices.SortFunc(out, func(a, b Peer) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// IDs returns the known member ids, sorted.
func (d *Discovery) IDs() []NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]NodeID, 0, len(d.peers))
	for id := range d.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Send delivers buf reliably to member id.
func (d *Discovery) Send(id NodeID, buf []byte) error {
	d.mu.Lock()
	n, ok := d.peers[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("send to %d: not a member", id)
	}
	return d.memberList.SendReliable(n, buf)
}

// Leave broadcasts our departure and shuts memberlist down.
func (d *Discovery) Leave(timeout time.Duration) error {
	var err error
	d.shutdownOnce.Do(func() {
		if lerr := d.memberList.Leave(timeout); lerr != nil {
			d.logger.Error("failed to leave cluster", "error", lerr)
		}
		if serr := d.memberList.Shutdown(); serr != nil {
			err = fmt.Errorf("shutdown memberlist: %w", serr)
			return
		}
		d.logger.Info("left cluster")
	})
	return err
}

func peerOf(id NodeID, n *memberlist.Node) Peer {
	return Peer{
		ID:   id,
		Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))),
		Meta: append([]byte(nil), n.Meta...),
	}
}

// eventDelegate implements memberlist.EventDelegate. memberlist holds its
// node lock while calling it, so it must not call back into memberlist.
type eventDelegate struct {
	discovery *Discovery
}

// NotifyJoin is called when a node joins.
func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	d := e.discovery
	id, err := ParseNodeID(node.Name)
	if err != nil || id == 0 {
		d.logger.Warn("ignoring member with invalid name", "name", node.Name)
		return
	}

	d.mu.Lock()
	d.peers[id] = node
	d.mu.Unlock()

	p := peerOf(id, node)
	d.logger.Info("node joined", "node_id", id, "gossip_addr", p.Addr)
	if d.onJoin != nil {
		d.onJoin(p)
	}
}

// NotifyLeave is called when a node leaves or is declared dead.
func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	d := e.discovery
	id, err := ParseNodeID(node.Name)
	if err != nil {
		return
	}

	d.mu.Lock()
	_, known := d.peers[id]
	delete(d.peers, id)
	d.mu.Unlock()
	if !known {
		return
	}

	d.logger.Info("node left", "node_id", id, "addr", node.Addr.String())
	if d.onLeave != nil {
		d.onLeave(id)
	}
}

// NotifyUpdate is called when a node's metadata changes.
func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	d := e.discovery
	id, err := ParseNodeID(node.Name)
	if err != nil {
		return
	}
	d.mu.Lock()
	if _, ok := d.peers[id]; ok {
		d.peers[id] = node
	}
	d.mu.Unlock()
	d.logger.Debug("node updated", "node_id", id)
}

// messageDelegate implements memberlist.Delegate.
type messageDelegate struct {
	discovery *Discovery
	meta      []byte
}

// NodeMeta returns the published metadata.
func (m *messageDelegate) NodeMeta(limit int) []byte {
	if len(m.meta) > limit {
		return m.meta[:limit]
	}
	return m.meta
}

// NotifyMsg receives a point-to-point message. buf is only valid during
// the call.
func (m *messageDelegate) NotifyMsg(buf []byte) {
	if m.discovery.onMsg != nil {
		m.discovery.onMsg(append([]byte(nil), buf...))
	}
}

// GetBroadcasts is not used; messages go out with SendReliable.
func (m *messageDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState is not used.
func (m *messageDelegate) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState is not used.
func (m *messageDelegate) MergeRemoteState(buf []byte, join bool) {}

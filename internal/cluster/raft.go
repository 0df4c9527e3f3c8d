package cluster

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/telemetry/logger"
)

const (
	applyTimeout     = 10 * time.Second
	membershipChange = 10 * time.Second
)

// RaftGroupConfig configures a RaftGroup.
type RaftGroupConfig struct {
	Discovery DiscoveryConfig

	// Addr is the raft transport address. Port 0 picks a free port.
	Addr    string
	DataDir string

	// Bootstrap starts a new single-member cluster. Exactly one member of a
	// new cluster sets it.
	Bootstrap bool
}

// RaftGroup is a process group whose messages and membership views are
// totally ordered by a raft log. Discovery detects joins and leaves; the
// leader turns them into raft configuration changes and view entries.
// Followers forward their broadcasts to the leader.
type RaftGroup struct {
	cfg     RaftGroupConfig
	id      NodeID
	logger  *slog.Logger
	q       *queue
	started time.Time

	raft        *raft.Raft
	transport   *raft.NetworkTransport
	logStore    *raftboltdb.BoltStore
	stableStore *raftboltdb.BoltStore
	fsm         *fsm
	disc        *Discovery

	reconcile chan struct{}
	proposals chan []byte
	stop      chan struct{}
	wg        sync.WaitGroup

	mu     sync.Mutex
	joined bool
	left   bool
}

var _ Group = (*RaftGroup)(nil)

// NewRaftGroup creates a raft group. Nothing is bound until Join.
func NewRaftGroup(cfg RaftGroupConfig) *RaftGroup {
	l := cfg.Discovery.Logger
	if l == nil {
		l = slog.Default()
	}
	return &RaftGroup{
		cfg:       cfg,
		id:        cfg.Discovery.NodeID,
		logger:    l.With("group", "raft"),
		q:         newQueue(),
		reconcile: make(chan struct{}, 1),
		proposals: make(chan []byte, 64),
		stop:      make(chan struct{}),
	}
}

// LocalID implements Group.
func (g *RaftGroup) LocalID() NodeID {
	return g.id
}

// Join implements Group.
func (g *RaftGroup) Join(d Delivery) error {
	if g.cfg.DataDir == "" {
		return domain.ErrGroupJoin.WithDetails("raft: data_dir is required")
	}
	if err := os.MkdirAll(g.cfg.DataDir, 0755); err != nil {
		return domain.ErrGroupJoin.WithCause(fmt.Errorf("create data dir: %w", err))
	}

	g.started = time.Now()
	g.fsm = newFSM(g.q, g.started, g.logger)

	if err := g.openRaft(); err != nil {
		g.q.close()
		return domain.ErrGroupJoin.WithCause(err)
	}

	dcfg := g.cfg.Discovery
	dcfg.Meta = []byte(g.transport.LocalAddr())
	disc, err := NewDiscovery(dcfg,
		func(Peer) { g.poke() },
		func(NodeID) { g.poke() },
		g.onMsg)
	if err != nil {
		g.closeRaft()
		g.q.close()
		return err
	}
	g.disc = disc

	g.mu.Lock()
	g.joined = true
	g.mu.Unlock()
	g.q.start(d)

	g.wg.Add(1)
	go g.loop()
	g.poke()
	return nil
}

func (g *RaftGroup) openRaft() error {
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(g.id.String())
	raftConfig.Logger = logger.HCLog(g.logger, "raft")

	// Tuning for lower latency
	raftConfig.HeartbeatTimeout = 1000 * time.Millisecond
	raftConfig.ElectionTimeout = 1000 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 500 * time.Millisecond

	logOutput := logger.Writer(g.logger)

	transport, err := raft.NewTCPTransport(g.cfg.Addr, nil, 3, 10*time.Second, logOutput)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(g.cfg.DataDir, "raft-log.db"))
	if err != nil {
		transport.Close()
		return fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(g.cfg.DataDir, "raft-stable.db"))
	if err != nil {
		logStore.Close()
		transport.Close()
		return fmt.Errorf("create stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(g.cfg.DataDir, 3, logOutput)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return fmt.Errorf("create snapshot store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, g.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		stableStore.Close()
		logStore.Close()
		transport.Close()
		return fmt.Errorf("create raft: %w", err)
	}

	g.raft = r
	g.transport = transport
	g.logStore = logStore
	g.stableStore = stableStore

	if g.cfg.Bootstrap {
		hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
		if err != nil {
			g.closeRaft()
			return fmt.Errorf("check raft state: %w", err)
		}
		if !hasState {
			f := r.BootstrapCluster(raft.Configuration{
				Servers: []raft.Server{{
					ID:      raftConfig.LocalID,
					Address: transport.LocalAddr(),
				}},
			})
			if err := f.Error(); err != nil {
				g.closeRaft()
				return fmt.Errorf("bootstrap cluster: %w", err)
			}
			g.logger.Info("raft cluster bootstrapped", "node_id", g.id, "addr", transport.LocalAddr())
		}
	}

	g.logger.Info("raft node created",
		"node_id", g.id,
		"bind_addr", transport.LocalAddr(),
		"bootstrap", g.cfg.Bootstrap)
	return nil
}

// poke asks the loop to reconcile raft membership with discovery.
func (g *RaftGroup) poke() {
	select {
	case g.reconcile <- struct{}{}:
	default:
	}
}

// onMsg receives a proposal forwarded by a follower.
func (g *RaftGroup) onMsg(buf []byte) {
	select {
	case g.proposals <- buf:
	default:
		g.logger.Warn("dropping forwarded proposal, queue full")
	}
}

func (g *RaftGroup) loop() {
	defer g.wg.Done()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case isLeader := <-g.raft.LeaderCh():
			if isLeader {
				g.logger.Info("became group leader", "node_id", g.id)
				g.reconcileMembers()
			}
		case <-g.reconcile:
			g.reconcileMembers()
		case <-ticker.C:
			// Followers that joined discovery before a leader existed are
			// picked up here.
			g.reconcileMembers()
		case buf := <-g.proposals:
			if _, err := decodeEntry(buf); err != nil {
				g.logger.Warn("dropping malformed proposal", "error", err)
				continue
			}
			if err := g.apply(buf); err != nil {
				g.logger.Warn("forwarded proposal failed", "error", err)
			}
		}
	}
}

// reconcileMembers makes the raft configuration and the replicated view
// match discovery. Only the leader acts.
func (g *RaftGroup) reconcileMembers() {
	if g.raft.State() != raft.Leader {
		return
	}

	f := g.raft.GetConfiguration()
	if err := f.Error(); err != nil {
		g.logger.Warn("get raft configuration", "error", err)
		return
	}
	voters := make(map[NodeID]bool)
	for _, s := range f.Configuration().Servers {
		if id, err := ParseNodeID(string(s.ID)); err == nil {
			voters[id] = true
		}
	}

	alive := make(map[NodeID]bool)
	for _, p := range g.disc.Peers() {
		alive[p.ID] = true
		if voters[p.ID] || len(p.Meta) == 0 {
			continue
		}
		err := g.raft.AddVoter(raft.ServerID(p.ID.String()), raft.ServerAddress(p.Meta), 0, membershipChange).Error()
		if err != nil {
			g.logger.Warn("add voter", "node_id", p.ID, "error", err)
			delete(alive, p.ID)
			continue
		}
		voters[p.ID] = true
		g.logger.Info("raft voter added", "node_id", p.ID, "addr", string(p.Meta))
	}
	for id := range voters {
		if alive[id] || id == g.id {
			continue
		}
		if err := g.raft.RemoveServer(raft.ServerID(id.String()), 0, membershipChange).Error(); err != nil {
			g.logger.Warn("remove server", "node_id", id, "error", err)
			continue
		}
		g.logger.Info("raft server removed", "node_id", id)
	}

	var members []NodeID
	for id := range alive {
		if voters[id] {
			members = append(members, id)
		}
	}
	slices.Sort(members)
	if slices.Equal(members, g.fsm.Members()) {
		return
	}

	buf, err := (&logEntry{Kind: entryView, At: time.Now().UnixNano(), Members: members}).encode()
	if err != nil {
		g.logger.Error("encode view", "error", err)
		return
	}
	if err := g.apply(buf); err != nil {
		g.logger.Warn("apply view", "error", err)
	}
}

func (g *RaftGroup) apply(buf []byte) error {
	if err := g.raft.Apply(buf, applyTimeout).Error(); err != nil {
		return fmt.Errorf("raft apply: %w", err)
	}
	return nil
}

// Broadcast implements Group. Followers forward the entry to the leader.
func (g *RaftGroup) Broadcast(msg *Message) error {
	g.mu.Lock()
	ok := g.joined && !g.left
	g.mu.Unlock()
	if !ok {
		return domain.ErrGroupClosed
	}

	body, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	buf, err := (&logEntry{Kind: entryMessage, From: g.id, At: time.Now().UnixNano(), Msg: body}).encode()
	if err != nil {
		return err
	}

	if g.raft.State() == raft.Leader {
		err := g.apply(buf)
		if !errors.Is(err, raft.ErrNotLeader) && !errors.Is(err, raft.ErrLeadershipLost) {
			return err
		}
	}

	_, leaderID := g.raft.LeaderWithID()
	if leaderID == "" {
		return domain.ErrNotLeader.WithDetails("no leader elected")
	}
	leader, err := ParseNodeID(string(leaderID))
	if err != nil {
		return domain.ErrNotLeader.WithCause(err)
	}
	if err := g.disc.Send(leader, buf); err != nil {
		return domain.ErrNotLeader.WithCause(err)
	}
	return nil
}

// IsLeader reports whether this member leads the raft cluster.
func (g *RaftGroup) IsLeader() bool {
	return g.raft != nil && g.raft.State() == raft.Leader
}

// LocalAddr returns the bound gossip address, for use as a seed.
func (g *RaftGroup) LocalAddr() string {
	if g.disc == nil {
		return ""
	}
	return g.disc.LocalAddr()
}

func (g *RaftGroup) closeRaft() {
	if g.raft != nil {
		if err := g.raft.Shutdown().Error(); err != nil {
			g.logger.Error("raft shutdown failed", "error", err)
		}
	}
	if g.stableStore != nil {
		if err := g.stableStore.Close(); err != nil {
			g.logger.Error("close stable store failed", "error", err)
		}
	}
	if g.logStore != nil {
		if err := g.logStore.Close(); err != nil {
			g.logger.Error("close log store failed", "error", err)
		}
	}
	if g.transport != nil {
		if err := g.transport.Close(); err != nil {
			g.logger.Error("close transport failed", "error", err)
		}
	}
}

// Leave implements Group.
func (g *RaftGroup) Leave() error {
	g.mu.Lock()
	if !g.joined || g.left {
		g.left = true
		g.mu.Unlock()
		g.q.close()
		return nil
	}
	g.left = true
	g.mu.Unlock()

	err := g.disc.Leave(leaveTimeout)
	close(g.stop)
	g.wg.Wait()
	g.closeRaft()
	g.q.close()

	g.logger.Info("raft group left", "node_id", g.id)
	return err
}

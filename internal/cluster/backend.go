package cluster

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/yndnr/fencevirt-go/internal/backend"
	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/server/config"
)

// BackendName is the registry name of the group backend.
const BackendName = "group"

func init() {
	backend.Register(BackendName, newGroupBackend)
}

// NewGroup builds the group transport named in cfg.
func NewGroup(cfg config.GroupConfig, opts backend.Options) (Group, error) {
	dcfg := DiscoveryConfig{
		NodeID:      NodeID(cfg.NodeID),
		BindAddr:    cfg.BindAddr,
		BindPort:    cfg.BindPort,
		Seeds:       cfg.Seeds,
		JoinRetries: cfg.JoinRetries,
		JoinBackoff: cfg.JoinBackoff,
		Logger:      opts.Logger,
	}

	switch cfg.Transport {
	case "", "gossip":
		return NewGossipGroup(dcfg), nil
	case "raft":
		return NewRaftGroup(RaftGroupConfig{
			Discovery: dcfg,
			Addr:      cfg.Raft.Addr,
			DataDir:   cfg.Raft.DataDir,
			Bootstrap: cfg.Raft.Bootstrap,
		}), nil
	}
	return nil, domain.ErrInvalidConfig.WithDetails(fmt.Sprintf("unknown group transport %q", cfg.Transport))
}

// newGroupBackend joins the configured group and returns a started Router
// acting on VMs through a virt backend.
func newGroupBackend(ctx context.Context, opts backend.Options) (backend.Backend, error) {
	cfg := opts.Config.Group
	if cfg.NodeID == 0 {
		return nil, domain.ErrInvalidConfig.WithDetails("backend.group.node_id must be positive")
	}
	if cfg.BindAddr != "" && net.ParseIP(cfg.BindAddr) == nil {
		return nil, domain.ErrInvalidConfig.WithDetails("backend.group.bind_addr " + strconv.Quote(cfg.BindAddr))
	}

	g, err := NewGroup(cfg, opts)
	if err != nil {
		return nil, err
	}

	local := backend.Instrument(backend.NewVirt(opts.Config.Virt, opts.Logger), backend.VirtName, opts.Metrics)
	r := NewRouter(g, local, RouterConfig{
		Refresh: cfg.Refresh,
		Logger:  opts.Logger.With("backend", BackendName),
		Metrics: opts.Metrics,
	})
	if err := r.Start(); err != nil {
		local.Close()
		return nil, err
	}
	return r, nil
}

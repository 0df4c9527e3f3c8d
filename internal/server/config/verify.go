package config

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
	"github.com/yndnr/fencevirt-go/internal/telemetry/logger"
)

// Listener and backend names accepted in configuration.
var (
	ListenerNames = []string{"multicast", "tcp", "vsock", "serial"}
	BackendNames  = []string{"virt", "group"}
)

func invalid(format string, args ...any) error {
	return domain.ErrInvalidConfig.WithDetails(fmt.Sprintf(format, args...))
}

// Verify validates the configuration. It checks that referenced files exist
// but does not read key material.
func Verify(cfg *ServerConfig) error {
	if err := verifyListener(&cfg.Listener); err != nil {
		return err
	}
	if err := verifyBackend(&cfg.Backend); err != nil {
		return err
	}
	if cfg.Permissions.File != "" {
		if _, err := os.Stat(cfg.Permissions.File); err != nil {
			return invalid("permissions.file: %v", err)
		}
	}
	if cfg.History.Expiry <= 0 {
		return invalid("history.expiry must be positive")
	}
	if cfg.PollTimeout <= 0 {
		return invalid("poll_timeout must be positive")
	}
	if cfg.FenceTimeout <= 0 {
		return invalid("fence_timeout must be positive")
	}
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	if f := strings.ToLower(cfg.Log.Format); f != "" && f != "json" && f != "text" {
		return invalid("log.format must be json or text")
	}
	if cfg.HTTP.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
			return invalid("http.addr: %v", err)
		}
	}
	for _, a := range cfg.HTTP.Allow {
		if _, err := netip.ParsePrefix(a); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(a); err != nil {
			return invalid("http.allow: %q is not an IP address or CIDR", a)
		}
	}
	if cfg.HTTP.RateLimit < 0 || cfg.HTTP.Burst < 0 {
		return invalid("http rate_limit and burst must not be negative")
	}
	return nil
}

func verifyListener(cfg *ListenerSection) error {
	switch cfg.Name {
	case "multicast":
		if ip := net.ParseIP(cfg.Multicast.Address); ip == nil || !ip.IsMulticast() {
			return invalid("listener.multicast.address %q is not a multicast address", cfg.Multicast.Address)
		}
		if cfg.Multicast.Interface != "" {
			if _, err := net.InterfaceByName(cfg.Multicast.Interface); err != nil {
				return invalid("listener.multicast.interface: %v", err)
			}
		}
		if cfg.Multicast.RateLimit < 0 || cfg.Multicast.Burst < 0 {
			return invalid("listener.multicast rate_limit and burst must not be negative")
		}
		return verifyNetwork("multicast", cfg.Multicast.AuthConfig, cfg.Multicast.Port)
	case "tcp":
		if net.ParseIP(cfg.TCP.Address) == nil {
			return invalid("listener.tcp.address %q is not an IP address", cfg.TCP.Address)
		}
		return verifyNetwork("tcp", cfg.TCP.AuthConfig, cfg.TCP.Port)
	case "vsock":
		return verifyNetwork("vsock", cfg.Vsock.AuthConfig, int(cfg.Vsock.Port))
	case "serial":
		if cfg.Serial.SocketDir == "" {
			return invalid("listener.serial.socket_dir is required")
		}
		if cfg.Serial.IOTimeout <= 0 {
			return invalid("listener.serial.io_timeout must be positive")
		}
		return nil
	}
	return domain.ErrUnknownListener.WithDetails(cfg.Name)
}

func verifyNetwork(name string, auth AuthConfig, port int) error {
	if port <= 0 || port > 65535 {
		return invalid("listener.%s.port %d out of range", name, port)
	}
	h, err := domain.ParseHashType(auth.Hash)
	if err != nil {
		return invalid("listener.%s.hash: %v", name, err)
	}
	a, err := domain.ParseHashType(auth.Auth)
	if err != nil {
		return invalid("listener.%s.auth: %v", name, err)
	}
	if h != domain.HashNone || a != domain.HashNone {
		if auth.KeyFile == "" {
			return invalid("listener.%s.key_file is required when hash or auth is set", name)
		}
		if _, err := os.Stat(auth.KeyFile); err != nil {
			return invalid("listener.%s.key_file: %v", name, err)
		}
	}
	if auth.IOTimeout <= 0 {
		return invalid("listener.%s.io_timeout must be positive", name)
	}
	return nil
}

func verifyBackend(cfg *BackendSection) error {
	if !slices.Contains(BackendNames, cfg.Name) {
		return domain.ErrUnknownBackend.WithDetails(cfg.Name)
	}

	if len(cfg.Virt.URIs) == 0 {
		return invalid("backend.virt.uris must list at least one hypervisor")
	}
	for _, u := range cfg.Virt.URIs {
		if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" {
			return invalid("backend.virt.uris: bad uri %q", u)
		}
	}
	if cfg.Virt.RebootWait <= 0 {
		return invalid("backend.virt.reboot_wait must be positive")
	}

	if cfg.Name != "group" {
		return nil
	}
	g := &cfg.Group
	if g.NodeID == 0 {
		return invalid("backend.group.node_id must be positive")
	}
	switch g.Transport {
	case "gossip":
	case "raft":
		if g.Raft.Addr == "" || g.Raft.DataDir == "" {
			return invalid("backend.group.raft addr and data_dir are required")
		}
	default:
		return invalid("backend.group.transport %q is not gossip or raft", g.Transport)
	}
	if g.BindPort < 0 || g.BindPort > 65535 {
		return invalid("backend.group.bind_port %d out of range", g.BindPort)
	}
	if g.Refresh <= 0 {
		return invalid("backend.group.refresh must be positive")
	}
	if g.JoinRetries < 0 {
		return invalid("backend.group.join_retries must not be negative")
	}
	return nil
}

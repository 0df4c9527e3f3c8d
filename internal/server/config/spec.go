package config

import "time"

// ServerConfig is the root configuration for fencevirtd.
type ServerConfig struct {
	Listener    ListenerSection   `koanf:"listener"`
	Backend     BackendSection    `koanf:"backend"`
	Permissions PermissionSection `koanf:"permissions"`
	History     HistorySection    `koanf:"history"`
	HTTP        HTTPSection       `koanf:"http"`
	Log         LogSection        `koanf:"log"`

	// PollTimeout bounds each wait for a readable request so the dispatch
	// loop can notice shutdown.
	PollTimeout time.Duration `koanf:"poll_timeout"`

	// FenceTimeout bounds the backend call for one request, including the
	// wait for a group member to answer.
	FenceTimeout time.Duration `koanf:"fence_timeout"`
}

// ListenerSection selects and configures the listener.
type ListenerSection struct {
	// Name is one of multicast, tcp, vsock, serial.
	Name string `koanf:"name"`

	Multicast MulticastConfig `koanf:"multicast"`
	TCP       TCPConfig       `koanf:"tcp"`
	Vsock     VsockConfig     `koanf:"vsock"`
	Serial    SerialConfig    `koanf:"serial"`
}

// AuthConfig holds the authentication settings shared by network listeners.
type AuthConfig struct {
	// KeyFile is the shared key. It may be empty only if both Hash and
	// Auth are "none".
	KeyFile string `koanf:"key_file"`

	// Hash is the minimum keyed-hash strength accepted on requests.
	Hash string `koanf:"hash"`

	// Auth is the hash used for the challenge-response handshake.
	Auth string `koanf:"auth"`

	// IOTimeout bounds each read or write of an interaction.
	IOTimeout time.Duration `koanf:"io_timeout"`
}

// MulticastConfig configures the multicast listener.
type MulticastConfig struct {
	AuthConfig `koanf:",squash"`

	// Address is the multicast group.
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`

	// Interface restricts the group membership to one interface.
	Interface string `koanf:"interface"`

	// RateLimit is the sustained number of datagrams per second accepted
	// from one source. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// TCPConfig configures the TCP listener.
type TCPConfig struct {
	AuthConfig `koanf:",squash"`

	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// VsockConfig configures the vsock listener.
type VsockConfig struct {
	AuthConfig `koanf:",squash"`

	Port uint32 `koanf:"port"`
}

// SerialConfig configures the serial listener.
type SerialConfig struct {
	// SocketDir holds one UNIX socket per guest named <domain>.sock.
	SocketDir string `koanf:"socket_dir"`

	// IOTimeout bounds each response write.
	IOTimeout time.Duration `koanf:"io_timeout"`
}

// BackendSection selects and configures the backend.
type BackendSection struct {
	// Name is virt or group.
	Name string `koanf:"name"`

	Virt  VirtConfig  `koanf:"virt"`
	Group GroupConfig `koanf:"group"`
}

// VirtConfig configures the virt backend.
type VirtConfig struct {
	// URIs are hypervisor connections searched in order.
	URIs []string `koanf:"uris"`

	// RebootWait bounds the wait for a destroyed domain to stop.
	RebootWait time.Duration `koanf:"reboot_wait"`
}

// GroupConfig configures the group backend.
type GroupConfig struct {
	// Transport is gossip or raft.
	Transport string `koanf:"transport"`

	// NodeID is this member's positive id. Higher ids win the fallback
	// for requests nobody owns.
	NodeID uint32 `koanf:"node_id"`

	// BindAddr and BindPort are the memberlist address.
	BindAddr string   `koanf:"bind_addr"`
	BindPort int      `koanf:"bind_port"`
	Seeds    []string `koanf:"seeds"`

	Raft RaftConfig `koanf:"raft"`

	// Refresh is the interval between ownership re-announcements.
	Refresh time.Duration `koanf:"refresh"`

	JoinRetries int           `koanf:"join_retries"`
	JoinBackoff time.Duration `koanf:"join_backoff"`
}

// RaftConfig configures the raft group transport.
type RaftConfig struct {
	Addr      string `koanf:"addr"`
	DataDir   string `koanf:"data_dir"`
	Bootstrap bool   `koanf:"bootstrap"`
}

// PermissionSection configures the permission map.
type PermissionSection struct {
	// File is the permission map. Empty allows every requester.
	File  string `koanf:"file"`
	Watch bool   `koanf:"watch"`
}

// HistorySection configures replay detection.
type HistorySection struct {
	Expiry time.Duration `koanf:"expiry"`
}

// HTTPSection configures the status endpoint that serves /metrics,
// /health, /ready and the host list.
type HTTPSection struct {
	// Addr enables the endpoint when set.
	Addr string `koanf:"addr"`

	// Allow lists the client IPs and CIDRs that may connect. Empty allows
	// everyone.
	Allow []string `koanf:"allow"`

	// RateLimit is the sustained number of requests per second accepted
	// from one client. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

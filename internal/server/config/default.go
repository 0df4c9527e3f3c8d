package config

import "time"

// Default configuration values.
const (
	DefaultListener         = "multicast"
	DefaultMulticastAddress = "225.0.0.12"
	DefaultMulticastAddr6   = "ff05::3:1"
	DefaultPort             = 1229
	DefaultTCPAddress       = "127.0.0.1"
	DefaultKeyFile          = "/etc/cluster/fence_xvm.key"
	DefaultHash             = "sha256"
	DefaultIOTimeout        = 5 * time.Second
	DefaultRateLimit        = 10
	DefaultBurst            = 20
	DefaultSocketDir        = "/var/run/fencevirt/serial"

	DefaultBackend    = "virt"
	DefaultURI        = "sim://memory"
	DefaultRebootWait = 30 * time.Second

	DefaultGroupTransport = "gossip"
	DefaultGroupPort      = 7946
	DefaultRaftDataDir    = "/var/lib/fencevirt/raft"
	DefaultRefresh        = 30 * time.Second
	DefaultJoinRetries    = 5
	DefaultJoinBackoff    = 2 * time.Second

	DefaultHTTPRateLimit = 20
	DefaultHTTPBurst     = 40

	DefaultHistoryExpiry = 10 * time.Second
	DefaultPollTimeout   = time.Second
	DefaultFenceTimeout  = 60 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

func defaultAuth() AuthConfig {
	return AuthConfig{
		KeyFile:   DefaultKeyFile,
		Hash:      DefaultHash,
		Auth:      DefaultHash,
		IOTimeout: DefaultIOTimeout,
	}
}

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Listener: ListenerSection{
			Name: DefaultListener,
			Multicast: MulticastConfig{
				AuthConfig: defaultAuth(),
				Address:    DefaultMulticastAddress,
				Port:       DefaultPort,
				RateLimit:  DefaultRateLimit,
				Burst:      DefaultBurst,
			},
			TCP: TCPConfig{
				AuthConfig: defaultAuth(),
				Address:    DefaultTCPAddress,
				Port:       DefaultPort,
			},
			Vsock: VsockConfig{
				AuthConfig: defaultAuth(),
				Port:       DefaultPort,
			},
			Serial: SerialConfig{
				SocketDir: DefaultSocketDir,
				IOTimeout: DefaultIOTimeout,
			},
		},
		Backend: BackendSection{
			Name: DefaultBackend,
			Virt: VirtConfig{
				URIs:       []string{DefaultURI},
				RebootWait: DefaultRebootWait,
			},
			Group: GroupConfig{
				Transport:   DefaultGroupTransport,
				BindPort:    DefaultGroupPort,
				Refresh:     DefaultRefresh,
				JoinRetries: DefaultJoinRetries,
				JoinBackoff: DefaultJoinBackoff,
				Raft: RaftConfig{
					DataDir: DefaultRaftDataDir,
				},
			},
		},
		History: HistorySection{
			Expiry: DefaultHistoryExpiry,
		},
		HTTP: HTTPSection{
			RateLimit: DefaultHTTPRateLimit,
			Burst:     DefaultHTTPBurst,
		},
		PollTimeout:  DefaultPollTimeout,
		FenceTimeout: DefaultFenceTimeout,
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

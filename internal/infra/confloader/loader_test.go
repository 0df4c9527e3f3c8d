package confloader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type testConfig struct {
	Listener struct {
		Name string `koanf:"name"`
		TCP  struct {
			Address string `koanf:"address"`
			Port    int    `koanf:"port"`
			KeyFile string `koanf:"key_file"`
		} `koanf:"tcp"`
	} `koanf:"listener"`
	PollTimeout time.Duration `koanf:"poll_timeout"`
	Peers       []string      `koanf:"peers"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fencevirtd.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestNewLoader(t *testing.T) {
	l := NewLoader()
	if l.envPrefix != DefaultEnvPrefix {
		t.Errorf("envPrefix = %q, want %q", l.envPrefix, DefaultEnvPrefix)
	}

	if l.strict {
		t.Error("strict should be off by default")
	}

	l = NewLoader(WithEnvPrefix("TEST_"), WithConfigFile("/etc/fencevirtd.yaml"), WithStrict())
	if l.envPrefix != "TEST_" {
		t.Errorf("envPrefix = %q, want %q", l.envPrefix, "TEST_")
	}
	if l.filePath != "/etc/fencevirtd.yaml" {
		t.Errorf("filePath = %q", l.filePath)
	}
	if !l.strict {
		t.Error("WithStrict() did not set strict")
	}
}

func decodeFile(t *testing.T, l *Loader, content string) testConfig {
	t.Helper()
	if err := l.LoadFile(writeConfig(t, content)); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	var cfg testConfig
	if err := l.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return cfg
}

func TestLoader_LoadFile(t *testing.T) {
	cfg := decodeFile(t, NewLoader(), `
listener:
  name: tcp
  tcp:
    address: "0.0.0.0"
    port: 1229
poll_timeout: 500ms
peers: [a, b]
`)
	if cfg.Listener.Name != "tcp" {
		t.Errorf("Listener.Name = %q, want tcp", cfg.Listener.Name)
	}
	if cfg.Listener.TCP.Port != 1229 {
		t.Errorf("Listener.TCP.Port = %d, want 1229", cfg.Listener.TCP.Port)
	}
	if cfg.PollTimeout != 500*time.Millisecond {
		t.Errorf("PollTimeout = %v, want 500ms", cfg.PollTimeout)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[1] != "b" {
		t.Errorf("Peers = %v, want [a b]", cfg.Peers)
	}
}

func TestLoader_LoadFile_Errors(t *testing.T) {
	l := NewLoader()
	if err := l.LoadFile("/nonexistent/fencevirtd.yaml"); err == nil {
		t.Error("LoadFile() should fail for a missing file")
	}
	if err := l.LoadFile(""); err != nil {
		t.Errorf("LoadFile(\"\") error = %v", err)
	}
	if err := l.LoadFile(writeConfig(t, "listener: [unclosed")); err == nil {
		t.Error("LoadFile() should fail for invalid YAML")
	}
}

func TestLoader_LoadEnv(t *testing.T) {
	t.Setenv("FENCEVIRT_LISTENER__TCP__KEY_FILE", "/etc/cluster/fence.key")
	t.Setenv("FENCEVIRT_POLL_TIMEOUT", "2s")
	t.Setenv("FENCEVIRT_PEERS", "n1,n2,n3")

	l := NewLoader()
	if err := l.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	var cfg testConfig
	if err := l.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cfg.Listener.TCP.KeyFile != "/etc/cluster/fence.key" {
		t.Errorf("Listener.TCP.KeyFile = %q", cfg.Listener.TCP.KeyFile)
	}
	if cfg.PollTimeout != 2*time.Second {
		t.Errorf("PollTimeout = %v, want 2s", cfg.PollTimeout)
	}
	if len(cfg.Peers) != 3 {
		t.Errorf("Peers = %v, want 3 entries", cfg.Peers)
	}
}

func TestLoader_LoadEnv_EmptyPrefix(t *testing.T) {
	t.Setenv("LISTENER__NAME", "tcp")

	l := NewLoader(WithEnvPrefix(""))
	if err := l.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	var cfg testConfig
	if err := l.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cfg.Listener.Name != "" {
		t.Errorf("Listener.Name = %q, want empty", cfg.Listener.Name)
	}
}

func TestLoader_LoadMap(t *testing.T) {
	l := NewLoader()
	if err := l.LoadMap(map[string]any{
		"listener.name":     "multicast",
		"listener.tcp.port": 1229,
	}); err != nil {
		t.Fatalf("LoadMap() error = %v", err)
	}

	var cfg testConfig
	if err := l.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cfg.Listener.Name != "multicast" || cfg.Listener.TCP.Port != 1229 {
		t.Errorf("Unmarshal() = %+v", cfg)
	}
}

func TestLoader_Load_Priority(t *testing.T) {
	path := writeConfig(t, `
listener:
  name: tcp
  tcp:
    address: "from-file"
`)
	t.Setenv("FENCEVIRT_LISTENER__TCP__ADDRESS", "from-env")

	l := NewLoader(WithConfigFile(path))
	if err := l.LoadMap(map[string]any{"listener.tcp.address": "from-default", "poll_timeout": "1s"}); err != nil {
		t.Fatalf("LoadMap() error = %v", err)
	}

	cfg := testConfig{}
	cfg.Listener.TCP.Port = 1229
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listener.TCP.Address != "from-env" {
		t.Errorf("Address = %q, want from-env", cfg.Listener.TCP.Address)
	}
	if cfg.Listener.Name != "tcp" {
		t.Errorf("Name = %q, want tcp", cfg.Listener.Name)
	}
	if cfg.PollTimeout != time.Second {
		t.Errorf("PollTimeout = %v, want 1s", cfg.PollTimeout)
	}
	if cfg.Listener.TCP.Port != 1229 {
		t.Errorf("Port = %d, want prefilled 1229", cfg.Listener.TCP.Port)
	}
}

func TestLoader_Strict(t *testing.T) {
	const misspelt = `
listener:
  name: tcp
  tcp:
    adress: "0.0.0.0"
`
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{"lenient", nil, false},
		{"strict", []Option{WithStrict()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(append(tt.opts, WithConfigFile(writeConfig(t, misspelt)))...)
			var cfg testConfig
			err := l.Load(&cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "adress") {
				t.Errorf("Load() error = %v, want it to name the key", err)
			}
		})
	}
}

func TestLoader_Strict_IgnoresEnv(t *testing.T) {
	t.Setenv("FENCEVIRT_CONFIG", "/etc/fencevirt/fencevirtd.yaml")
	t.Setenv("FENCEVIRT_LISTENER__NAME", "serial")

	l := NewLoader(WithStrict(), WithConfigFile(writeConfig(t, "poll_timeout: 3s\n")))
	var cfg testConfig
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listener.Name != "serial" || cfg.PollTimeout != 3*time.Second {
		t.Errorf("Load() = %+v", cfg)
	}
}

package command

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fencevirtd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigCheck(t *testing.T) {
	path := writeConfig(t, `
listener:
  name: tcp
  tcp:
    hash: none
    auth: none
    key_file: ""
backend:
  virt:
    uris: ["sim://memory/config-check"]
`)
	out, err := runApp(DaemonApp(), nil, "config", "check", "--config", path)
	if err != nil {
		t.Fatalf("config check error = %v", err)
	}
	if !strings.Contains(out, "listener tcp, backend virt") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigCheck_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown listener", "listener:\n  name: carrier-pigeon\n"},
		{"bad poll timeout", "listener:\n  name: serial\npoll_timeout: -1s\n"},
		{"group without node id", "listener:\n  name: serial\nbackend:\n  name: group\n"},
		{"misspelt key", "listener:\n  name: serial\nfence_timout: 10s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(DaemonApp(), nil, "config", "check", "--config", writeConfig(t, tt.body))
			if exitCode(err) != 1 {
				t.Errorf("exit code = %d, want 1 (err %v)", exitCode(err), err)
			}
		})
	}
}

func TestConfigShow_MasksKeyPath(t *testing.T) {
	dir := t.TempDir()
	key := filepath.Join(dir, "secret-location.key")
	if err := os.WriteFile(key, []byte("0123456789abcdef"), 0o600); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, "listener:\n  name: tcp\n  tcp:\n    key_file: "+key+"\n")

	out, err := runApp(DaemonApp(), nil, "config", "show", "--config", path, "--format", "json")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if strings.Contains(out, "secret-location") {
		t.Errorf("key path leaked:\n%s", out)
	}
}

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func newJSONLogger(t *testing.T, buf *bytes.Buffer) *slog.Logger {
	t.Helper()
	l, err := New(Config{Level: "info", Format: "json", Output: buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse JSON log: %v", err)
	}
	return entry
}

func TestRedactSensitive_KeyNames(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"shared_key", "hunter2", redactedValue},
		{"key_data", "abc", redactedValue},
		{"challenge", "0011aabb", redactedValue},
		{"expected_digest", "ff00", redactedValue},
		{"password", "pw", redactedValue},
		{"key_file", "/etc/cluster/fence.key", "/etc/cluster/fence.key"},
		{"domain", "web-1", "web-1"},
		{"hash", "sha256", "sha256"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			buf.Reset()
			l.Info("test", tt.key, tt.value)

			got, _ := decode(t, &buf)[tt.key].(string)
			if got != tt.want {
				t.Errorf("%s = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestRedactSensitive_Bytes(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	l.Info("handshake", "payload", []byte{1, 2, 3})
	if got := decode(t, &buf)["payload"]; got != redactedValue {
		t.Errorf("payload = %v, want redacted", got)
	}
}

func TestRedactSensitive_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	l.With("listener", "tcp").Info("config", "tcp_shared_key", "s3cret", "port", 1229)
	entry := decode(t, &buf)
	if entry["tcp_shared_key"] != redactedValue {
		t.Errorf("tcp_shared_key = %v, want redacted", entry["tcp_shared_key"])
	}
	if entry["port"] != float64(1229) {
		t.Errorf("port = %v, want 1229", entry["port"])
	}
}

func TestRedactSensitive_EmptyValue(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	l.Info("test", "shared_key", "")
	if got := decode(t, &buf)["shared_key"]; got != "" {
		t.Errorf("shared_key = %v, want empty", got)
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"SHARED_KEY", true},
		{"client_secret", true},
		{"Challenge", true},
		{"domain", false},
		{"seqno", false},
	}
	for _, tt := range tests {
		if got := IsSensitiveKey(tt.key); got != tt.want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

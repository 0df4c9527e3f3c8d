package output

import (
	"bytes"
	"strings"
	"testing"
)

type hostRow struct {
	Domain string `json:"domain"`
	UUID   string `json:"uuid"`
	State  string `json:"state"`
	secret string
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{" yaml ", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewFormatter(t *testing.T) {
	if _, ok := NewFormatter(FormatJSON).(*JSONFormatter); !ok {
		t.Error("NewFormatter(json) is not a JSONFormatter")
	}
	if _, ok := NewFormatter(FormatYAML).(*YAMLFormatter); !ok {
		t.Error("NewFormatter(yaml) is not a YAMLFormatter")
	}
	if _, ok := NewFormatter("unknown").(*TableFormatter); !ok {
		t.Error("NewFormatter(unknown) is not a TableFormatter")
	}
}

func TestJSONFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	rows := []hostRow{{Domain: "web-1", UUID: "u-1", State: "on"}}
	if err := (&JSONFormatter{}).Format(&buf, rows); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	for _, want := range []string{`"domain": "web-1"`, `"state": "on"`} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Format() = %s, missing %s", buf.String(), want)
		}
	}
}

func TestYAMLFormatter_Format(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]any{"listener": map[string]any{"name": "tcp", "port": 1229}}
	if err := (&YAMLFormatter{}).Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	want := "listener:\n  name: tcp\n  port: 1229\n"
	if buf.String() != want {
		t.Errorf("Format() = %q, want %q", buf.String(), want)
	}
}

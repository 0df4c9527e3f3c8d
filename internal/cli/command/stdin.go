package command

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/fencevirt-go/internal/telemetry/logger"
)

// stdinAliases maps fence agent option names to flag names.
var stdinAliases = map[string]string{
	"option":            "action",
	"port":              "domain",
	"plug":              "domain",
	"multicast_address": "address",
	"ipaddr":            "address",
	"debug":             "verbose",
}

// stdinIgnored are agent options that carry nothing for this requester.
var stdinIgnored = map[string]bool{
	"agent":     true,
	"nodename":  true,
	"ip_family": true,
}

// durationFlags accept a plain number of seconds on stdin.
var durationFlags = map[string]bool{
	"timeout": true,
	"retrans": true,
	"delay":   true,
}

// stdinOption is one parsed key=value line.
type stdinOption struct {
	name  string
	value string
}

// readStdinOptions reads options from stdin when no flag or argument was
// given on the command line.
func readStdinOptions(c *cli.Context) error {
	if c.NumFlags() > 0 || c.Args().Present() {
		return nil
	}
	log, err := logger.New(logger.Config{Level: "warn", Format: "text", Output: c.App.ErrWriter})
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	opts, err := parseStdin(c.App.Reader, flagNames(c.App.Flags), log)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	for _, o := range opts {
		if err := c.Set(o.name, o.value); err != nil {
			return cli.Exit(fmt.Sprintf("option %s: %v", o.name, err), 1)
		}
	}
	return nil
}

func flagNames(flags []cli.Flag) map[string]bool {
	names := make(map[string]bool, len(flags))
	for _, f := range flags {
		names[f.Names()[0]] = true
	}
	return names
}

// parseStdin reads key=value lines. Blank lines and lines starting with #
// are skipped; unknown keys are logged and skipped.
func parseStdin(r io.Reader, known map[string]bool, log *slog.Logger) ([]stdinOption, error) {
	var opts []stdinOption
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("stdin line %d: expected key=value", line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if stdinIgnored[key] {
			continue
		}

		name := key
		if alias, ok := stdinAliases[key]; ok {
			name = alias
		}
		name = strings.ReplaceAll(name, "_", "-")
		if !known[name] {
			log.Warn("ignoring unknown option", "option", key, "line", line)
			continue
		}
		opts = append(opts, stdinOption{name: name, value: normalizeValue(name, value)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return opts, nil
}

func normalizeValue(name, value string) string {
	if durationFlags[name] && isDigits(value) {
		return value + "s"
	}
	switch strings.ToLower(value) {
	case "yes", "on":
		return "true"
	case "no":
		return "false"
	}
	return value
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

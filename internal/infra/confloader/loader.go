package confloader

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the prefix of environment overrides.
const DefaultEnvPrefix = "FENCEVIRT_"

// Loader layers configuration sources into one koanf tree.
type Loader struct {
	k         *koanf.Koanf
	fileK     *koanf.Koanf
	envPrefix string
	filePath  string
	strict    bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix changes the environment prefix. An empty prefix skips
// the environment.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile names the YAML file Load reads.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// WithStrict makes Unmarshal reject file keys that match no field of the
// target. Environment variables are not checked because the CLI reads
// FENCEVIRT_CONFIG and FENCEVIRT_SIM_URI from the same prefix.
func WithStrict() Option {
	return func(l *Loader) { l.strict = true }
}

// NewLoader creates an empty loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{k: koanf.New("."), fileK: koanf.New("."), envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the file, then the environment, and decodes the result into
// target. Fields no source mentions keep their current value, so target
// usually arrives holding the defaults.
func (l *Loader) Load(target any) error {
	if err := l.LoadFile(l.filePath); err != nil {
		return err
	}
	if err := l.LoadEnv(); err != nil {
		return err
	}
	return l.Unmarshal(target)
}

// LoadFile merges a YAML file. An empty path is a no-op.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if err := l.fileK.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv merges prefixed environment variables. A double underscore
// separates levels and a single underscore stays part of the key, so
// FENCEVIRT_LISTENER__TCP__KEY_FILE sets listener.tcp.key_file.
func (l *Loader) LoadEnv() error {
	if l.envPrefix == "" {
		return nil
	}
	transform := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadMap merges a map of dotted or nested keys.
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// Unmarshal decodes everything loaded so far into target using koanf
// tags. Durations may be written as "30s" and lists from the environment
// as comma-separated strings.
func (l *Loader) Unmarshal(target any) error {
	if l.strict {
		scratch := reflect.New(reflect.TypeOf(target).Elem()).Interface()
		if err := decode(l.fileK, scratch, true); err != nil {
			return err
		}
	}
	return decode(l.k, target, false)
}

func decode(k *koanf.Koanf, target any, errorUnused bool) error {
	err := k.UnmarshalWithConf("", target, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc()),
			ErrorUnused:      errorUnused,
			WeaklyTypedInput: true,
			Result:           target,
			TagName:          "koanf",
		},
	})
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

package confloader

import (
	"fmt"
	"maps"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the prefix of environment variables Load reads.
const DefaultEnvPrefix = "SABLEDB_"

// Loader reads configuration sources. It holds no loaded state, so Load
// can run again after the file changes.
type Loader struct {
	path      string
	envPrefix string
	overrides map[string]any
}

// Option configures a Loader.
type Option func(*Loader)

// WithFile sets the YAML file. Without it only the environment and
// overrides are read.
func WithFile(path string) Option {
	return func(l *Loader) {
		l.path = path
	}
}

// WithEnvPrefix replaces DefaultEnvPrefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithOverrides sets values that win over the file and the environment.
// Keys are dotted paths such as "server.workers".
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		if l.overrides == nil {
			l.overrides = make(map[string]any, len(values))
		}
		maps.Copy(l.overrides, values)
	}
}

// New creates a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the config file path, or "".
func (l *Loader) Path() string {
	return l.path
}

// Load reads every source and unmarshals into target. Keys no source sets
// keep the values target already holds.
func (l *Loader) Load(target any) error {
	k := koanf.New(".")

	if l.path != "" {
		if err := k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
			return fmt.Errorf("confloader: read %s: %w", l.path, err)
		}
	}
	if err := k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return fmt.Errorf("confloader: read environment: %w", err)
	}
	if len(l.overrides) > 0 {
		if err := k.Load(overrides(l.overrides), nil); err != nil {
			return fmt.Errorf("confloader: apply overrides: %w", err)
		}
	}

	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("confloader: decode: %w", err)
	}
	return nil
}

// envKey maps SABLEDB_SERVER__MAX_FRAME_SIZE to server.max_frame_size. A
// double underscore nests so keys can keep single ones.
func (l *Loader) envKey(name string) string {
	name = strings.ToLower(strings.TrimPrefix(name, l.envPrefix))
	return strings.ReplaceAll(name, "__", ".")
}

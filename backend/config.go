package backend

import (
	"os"
	"strings"
)

const DefaultPrefix = "COMPANYATLAS"

// Config is the explicit configuration shared by every backend, keyed by
// backend name then by key. It is read-only once built: NewConfig copies the
// input and nothing writes to it afterwards.
type Config struct {
	prefix string
	values map[string]map[string]string
	lookup func(string) (string, bool)
}

type ConfigOption func(*Config)

// WithLookupEnv replaces os.LookupEnv, mostly for tests.
func WithLookupEnv(fn func(string) (string, bool)) ConfigOption {
	return func(c *Config) {
		c.lookup = fn
	}
}

func WithPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		if prefix != "" {
			c.prefix = strings.ToUpper(prefix)
		}
	}
}

func NewConfig(values map[string]map[string]string, opts ...ConfigOption) Config {
	cfg := Config{
		prefix: DefaultPrefix,
		values: make(map[string]map[string]string, len(values)),
		lookup: os.LookupEnv,
	}

	for backendName, keys := range values {
		copied := make(map[string]string, len(keys))
		for k, v := range keys {
			copied[strings.ToLower(k)] = v
		}

		cfg.values[strings.ToLower(backendName)] = copied
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

func (c Config) Prefix() string {
	if c.prefix == "" {
		return DefaultPrefix
	}

	return c.prefix
}

// EnvName is the environment variable consulted for key of backendName,
// PREFIX_BACKEND_KEY.
func (c Config) EnvName(backendName, key string) string {
	return strings.ToUpper(c.Prefix() + "_" + backendName + "_" + key)
}

// Resolve looks key up in the explicit configuration, then the environment,
// then falls back to def. The boolean reports whether a non-empty value was
// found in any of the three.
func (c Config) Resolve(backendName, key, def string) (string, bool) {
	if keys, ok := c.values[strings.ToLower(backendName)]; ok {
		if v, ok := keys[strings.ToLower(key)]; ok && v != "" {
			return v, true
		}
	}

	lookup := c.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup(c.EnvName(backendName, key)); ok && v != "" {
		return v, true
	}

	if def != "" {
		return def, true
	}

	return "", false
}

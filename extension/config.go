package extension

import (
	"time"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/condition"
)

// Cache backends selectable from configuration.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config holds the rowguard extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.rowguard" or "rowguard" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DefaultPosture is "allow" (default) or "deny".
	DefaultPosture string `json:"default_posture" mapstructure:"default_posture" yaml:"default_posture"`

	// KnownVariables extends the built-in row condition variables. When
	// empty, any placeholder name is accepted.
	KnownVariables []string `json:"known_variables" mapstructure:"known_variables" yaml:"known_variables"`

	// Dialect is "ansi" (default) or "mysql" and selects string escaping in
	// rendered row predicates.
	Dialect string `json:"dialect" mapstructure:"dialect" yaml:"dialect"`

	// Cache selects the decision cache: "memory" (default), "redis" or "none".
	Cache string `json:"cache" mapstructure:"cache" yaml:"cache"`

	// CacheTTL is the lifetime of a cached decision.
	CacheTTL time.Duration `json:"cache_ttl" mapstructure:"cache_ttl" yaml:"cache_ttl"`

	// CacheMaxSize bounds the in-memory cache.
	CacheMaxSize int `json:"cache_max_size" mapstructure:"cache_max_size" yaml:"cache_max_size"`

	// RedisAddrs are the Redis endpoints used when Cache is "redis".
	RedisAddrs []string `json:"redis_addrs" mapstructure:"redis_addrs" yaml:"redis_addrs"`

	// BundlePath is a YAML policy bundle imported on start.
	BundlePath string `json:"bundle_path" mapstructure:"bundle_path" yaml:"bundle_path"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultPosture: string(rowguard.PostureAllow),
		Cache:          CacheMemory,
		CacheTTL:       5 * time.Minute,
		CacheMaxSize:   10000,
	}
}

// engineConfig translates the extension settings into engine configuration.
func (c Config) engineConfig() rowguard.Config {
	cfg := rowguard.DefaultConfig()
	if c.DefaultPosture != "" {
		cfg.DefaultPosture = rowguard.Posture(c.DefaultPosture)
	}
	cfg.Dialect = condition.Dialect(c.Dialect)
	cfg.CacheTTL = c.CacheTTL
	cfg.KnownVariables = c.KnownVariables
	return cfg
}

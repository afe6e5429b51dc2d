package rowguard

import (
	"time"

	"github.com/xraph/rowguard/condition"
)

// Posture is the outcome used when no policy governs a dimension.
type Posture string

const (
	// PostureAllow leaves rows and columns unrestricted when no policy applies.
	PostureAllow Posture = "allow"

	// PostureDeny hides every row and column when no policy applies.
	PostureDeny Posture = "deny"
)

// Config holds configuration for the rowguard engine.
type Config struct {
	// DefaultPosture applies to a dimension (rows or columns) no policy
	// governs, and to principals that cannot be resolved. Defaults to allow.
	DefaultPosture Posture `json:"default_posture,omitempty"`

	// DenyPredicate is the always-false row predicate emitted for denied rows.
	// Defaults to "1 = 0".
	DenyPredicate string `json:"deny_predicate,omitempty"`

	// Dialect selects string literal escaping in rendered row predicates.
	// Empty means condition.DialectANSI. Use condition.DialectMySQL when
	// predicates run on MySQL with backslash escapes enabled.
	Dialect condition.Dialect `json:"dialect,omitempty"`

	// CacheTTL is the time-to-live for cached decisions.
	// Zero means the cache's own default.
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`

	// KnownVariables restricts row condition placeholders to the built-in
	// variables plus these names. Empty accepts any placeholder.
	KnownVariables []string `json:"known_variables,omitempty"`

	// ValidateRowSyntax parses row conditions as SQL expressions at write
	// time. Defaults to true.
	ValidateRowSyntax *bool `json:"validate_row_syntax,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	t := true
	return Config{
		DefaultPosture:    PostureAllow,
		DenyPredicate:     "1 = 0",
		ValidateRowSyntax: &t,
	}
}

func (c Config) rowSyntaxEnabled() bool { return c.ValidateRowSyntax == nil || *c.ValidateRowSyntax }

// knownVariables returns the allowed placeholder names, or nil for any.
func (c Config) knownVariables() []string {
	if len(c.KnownVariables) == 0 {
		return nil
	}
	return append(append([]string{}, BuiltinVariables...), c.KnownVariables...)
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultPosture == "" {
		c.DefaultPosture = d.DefaultPosture
	}
	if c.DenyPredicate == "" {
		c.DenyPredicate = d.DenyPredicate
	}
	return c
}

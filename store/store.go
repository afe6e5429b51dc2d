// Package store defines the aggregate persistence interface. The policy and
// changelog packages each define their own store interface and the composite
// Store composes them. Backends: Memory, SQLite, Postgres and MongoDB.
package store

import (
	"context"

	"github.com/xraph/rowguard/changelog"
	"github.com/xraph/rowguard/policy"
)

// Store is the aggregate persistence interface.
// A single backend implements every subsystem store.
type Store interface {
	policy.Store
	changelog.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Package redis provides a decision cache shared between engine replicas,
// backed by Redis.
//
// Each decision is stored under its own key with a TTL. For every subject
// of a decision the key is also added to an index set named after
// (tenant, resource, subject), so invalidating a policy scope deletes exactly
// the decisions that policy could affect.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/column"
	"github.com/xraph/rowguard/id"
)

// Compile-time interface check.
var _ rowguard.Cache = (*Cache)(nil)

// Cache is a Redis-backed decision cache.
type Cache struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option configures the cache.
type Option func(*Cache)

// WithPrefix namespaces every key. Defaults to "rowguard:".
func WithPrefix(p string) Option { return func(c *Cache) { c.prefix = p } }

// WithTTL sets the default entry time-to-live. Defaults to five minutes;
// non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// New wraps an existing client.
func New(client goredis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{client: client, prefix: "rowguard:", ttl: 5 * time.Minute}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *Cache) decisionKey(k *rowguard.DecisionKey) string {
	return c.prefix + "dec:" + k.String()
}

func (c *Cache) indexKey(tenantID, resourceID string, s rowguard.Subject) string {
	return c.prefix + "idx:" + tenantID + "|" + resourceID + "|" + s.String()
}

func (c *Cache) tenantKey(tenantID string) string {
	return c.prefix + "tenant:" + tenantID
}

// Get returns a cached decision. Undecodable entries count as misses.
func (c *Cache) Get(ctx context.Context, key *rowguard.DecisionKey) (*rowguard.Decision, bool) {
	data, err := c.client.Get(ctx, c.decisionKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	d, err := decode(data)
	if err != nil {
		return nil, false
	}
	return d, true
}

// Set stores a decision and registers it in the scope and tenant indexes.
func (c *Cache) Set(ctx context.Context, key *rowguard.DecisionKey, d *rowguard.Decision, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := encode(d)
	if err != nil {
		return fmt.Errorf("redis cache: encode: %w", err)
	}

	dk := c.decisionKey(key)
	tk := c.tenantKey(key.TenantID)
	_, err = c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, dk, data, ttl)
		for _, s := range key.Subjects {
			ik := c.indexKey(key.TenantID, key.ResourceID, s)
			pipe.SAdd(ctx, ik, dk)
			pipe.Expire(ctx, ik, ttl)
			pipe.SAdd(ctx, tk, ik)
		}
		pipe.SAdd(ctx, tk, dk)
		pipe.Expire(ctx, tk, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis cache: set: %w", err)
	}
	return nil
}

// Invalidate deletes every decision indexed under the scope.
func (c *Cache) Invalidate(ctx context.Context, tenantID string, scope rowguard.ScopeKey) error {
	ik := c.indexKey(tenantID, scope.ResourceID, scope.Subject())
	keys, err := c.client.SMembers(ctx, ik).Result()
	if err != nil {
		return fmt.Errorf("redis cache: invalidate: %w", err)
	}
	return c.del(ctx, append(keys, ik)...)
}

// InvalidateTenant deletes every decision and index of a tenant.
func (c *Cache) InvalidateTenant(ctx context.Context, tenantID string) error {
	tk := c.tenantKey(tenantID)
	keys, err := c.client.SMembers(ctx, tk).Result()
	if err != nil {
		return fmt.Errorf("redis cache: invalidate tenant: %w", err)
	}
	return c.del(ctx, append(keys, tk)...)
}

// del removes keys in batches.
func (c *Cache) del(ctx context.Context, keys ...string) error {
	const batch = 500
	for len(keys) > 0 {
		n := min(batch, len(keys))
		if err := c.client.Del(ctx, keys[:n]...).Err(); err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("redis cache: delete: %w", err)
		}
		keys = keys[n:]
	}
	return nil
}

// ──────────────────────────────────────────────────
// Wire format
// ──────────────────────────────────────────────────

// wireDecision is the msgpack form of a decision. Column sets carry an
// explicit presence flag since nil (all columns) and empty (no columns)
// mean different things.
type wireDecision struct {
	Granted    bool     `msgpack:"g"`
	Predicate  *string  `msgpack:"p,omitempty"`
	HasVisible bool     `msgpack:"hv"`
	Visible    []string `msgpack:"v,omitempty"`
	Denied     []string `msgpack:"d,omitempty"`
	Matched    []string `msgpack:"m,omitempty"`
	RowPolicy  string   `msgpack:"r,omitempty"`
	Reason     string   `msgpack:"why,omitempty"`
	Until      int64    `msgpack:"u,omitempty"`
}

func encode(d *rowguard.Decision) ([]byte, error) {
	w := wireDecision{
		Granted:    d.Granted,
		Predicate:  d.RowPredicate,
		HasVisible: d.VisibleColumns != nil,
		Visible:    d.VisibleColumns.Sorted(),
		Denied:     d.DeniedColumns.Sorted(),
		RowPolicy:  d.RowPolicyID.String(),
		Reason:     d.Reason,
	}
	if !d.ValidUntil.IsZero() {
		w.Until = d.ValidUntil.UnixNano()
	}
	for _, pid := range d.MatchedPolicyIDs {
		w.Matched = append(w.Matched, pid.String())
	}
	return msgpack.Marshal(&w)
}

func decode(data []byte) (*rowguard.Decision, error) {
	var w wireDecision
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	d := &rowguard.Decision{
		Granted:          w.Granted,
		RowPredicate:     w.Predicate,
		Reason:           w.Reason,
		MatchedPolicyIDs: make([]id.PolicyID, 0, len(w.Matched)),
	}
	if w.Until != 0 {
		d.ValidUntil = time.Unix(0, w.Until).UTC()
	}
	if w.HasVisible {
		d.VisibleColumns = column.NewSet(w.Visible...)
	}
	if len(w.Denied) > 0 {
		d.DeniedColumns = column.NewSet(w.Denied...)
	}
	for _, s := range w.Matched {
		pid, err := id.ParsePolicyID(s)
		if err != nil {
			return nil, err
		}
		d.MatchedPolicyIDs = append(d.MatchedPolicyIDs, pid)
	}
	if w.RowPolicy != "" {
		pid, err := id.ParsePolicyID(w.RowPolicy)
		if err != nil {
			return nil, err
		}
		d.RowPolicyID = pid
	}
	return d, nil
}

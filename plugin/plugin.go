// Package plugin defines lifecycle hooks for rowguard. Plugins are told about
// evaluations and policy mutations and may react with logging, metrics,
// audit export or cache warming.
//
// Each hook is its own interface so a plugin opts in only to the events it
// cares about.
package plugin

import (
	"context"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
)

// Plugin is the base interface all plugins must implement.
type Plugin interface {
	// Name returns a unique human-readable name for the plugin.
	Name() string
}

// ──────────────────────────────────────────────────
// Evaluation hooks
// ──────────────────────────────────────────────────

// BeforeEvaluate is called before a decision is computed.
// The req parameter is *rowguard.EvaluateRequest (passed as any to avoid an import cycle).
type BeforeEvaluate interface {
	OnBeforeEvaluate(ctx context.Context, req any) error
}

// AfterEvaluate is called after a decision is computed or served from cache.
// The req parameter is *rowguard.EvaluateRequest; decision is *rowguard.Decision.
type AfterEvaluate interface {
	OnAfterEvaluate(ctx context.Context, req, decision any) error
}

// ──────────────────────────────────────────────────
// Policy lifecycle hooks
// ──────────────────────────────────────────────────

// PolicyCreated is called after a policy is created.
type PolicyCreated interface {
	OnPolicyCreated(ctx context.Context, p *policy.Policy) error
}

// PolicyUpdated is called after a policy is replaced. prev is the stored
// version before the update.
type PolicyUpdated interface {
	OnPolicyUpdated(ctx context.Context, prev, p *policy.Policy) error
}

// PolicyEnabled is called after a policy is switched to active.
type PolicyEnabled interface {
	OnPolicyEnabled(ctx context.Context, p *policy.Policy) error
}

// PolicyDisabled is called after a policy is switched to disabled.
type PolicyDisabled interface {
	OnPolicyDisabled(ctx context.Context, p *policy.Policy) error
}

// PolicyDeleted is called after a policy is soft-deleted.
type PolicyDeleted interface {
	OnPolicyDeleted(ctx context.Context, polID id.PolicyID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

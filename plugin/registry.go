package plugin

import (
	"context"
	"log/slog"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
)

// entry pairs a hook with the plugin name for logging.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered plugins and dispatches lifecycle events.
// It type-caches plugins at registration time so emit calls iterate
// only over plugins implementing the relevant hook.
type Registry struct {
	plugins []Plugin
	logger  *slog.Logger

	beforeEvaluate []entry[BeforeEvaluate]
	afterEvaluate  []entry[AfterEvaluate]
	policyCreated  []entry[PolicyCreated]
	policyUpdated  []entry[PolicyUpdated]
	policyEnabled  []entry[PolicyEnabled]
	policyDisabled []entry[PolicyDisabled]
	policyDeleted  []entry[PolicyDeleted]
	shutdown       []entry[Shutdown]
}

// NewRegistry creates a plugin registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

func collect[H any](list []entry[H], name string, p Plugin) []entry[H] {
	if h, ok := p.(H); ok {
		return append(list, entry[H]{name, h})
	}
	return list
}

// Register adds a plugin and type-asserts it into all applicable
// hook caches. Plugins are notified in registration order.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
	name := p.Name()

	r.beforeEvaluate = collect(r.beforeEvaluate, name, p)
	r.afterEvaluate = collect(r.afterEvaluate, name, p)
	r.policyCreated = collect(r.policyCreated, name, p)
	r.policyUpdated = collect(r.policyUpdated, name, p)
	r.policyEnabled = collect(r.policyEnabled, name, p)
	r.policyDisabled = collect(r.policyDisabled, name, p)
	r.policyDeleted = collect(r.policyDeleted, name, p)
	r.shutdown = collect(r.shutdown, name, p)
}

// Plugins returns all registered plugins.
func (r *Registry) Plugins() []Plugin { return r.plugins }

// EmitBeforeEvaluate notifies all plugins that implement BeforeEvaluate.
func (r *Registry) EmitBeforeEvaluate(ctx context.Context, req any) {
	for _, e := range r.beforeEvaluate {
		if err := e.hook.OnBeforeEvaluate(ctx, req); err != nil {
			r.logHookError("OnBeforeEvaluate", e.name, err)
		}
	}
}

// EmitAfterEvaluate notifies all plugins that implement AfterEvaluate.
func (r *Registry) EmitAfterEvaluate(ctx context.Context, req, decision any) {
	for _, e := range r.afterEvaluate {
		if err := e.hook.OnAfterEvaluate(ctx, req, decision); err != nil {
			r.logHookError("OnAfterEvaluate", e.name, err)
		}
	}
}

// EmitPolicyCreated notifies all plugins that implement PolicyCreated.
func (r *Registry) EmitPolicyCreated(ctx context.Context, p *policy.Policy) {
	for _, e := range r.policyCreated {
		if err := e.hook.OnPolicyCreated(ctx, p); err != nil {
			r.logHookError("OnPolicyCreated", e.name, err)
		}
	}
}

// EmitPolicyUpdated notifies all plugins that implement PolicyUpdated.
func (r *Registry) EmitPolicyUpdated(ctx context.Context, prev, p *policy.Policy) {
	for _, e := range r.policyUpdated {
		if err := e.hook.OnPolicyUpdated(ctx, prev, p); err != nil {
			r.logHookError("OnPolicyUpdated", e.name, err)
		}
	}
}

// EmitPolicyEnabled notifies all plugins that implement PolicyEnabled.
func (r *Registry) EmitPolicyEnabled(ctx context.Context, p *policy.Policy) {
	for _, e := range r.policyEnabled {
		if err := e.hook.OnPolicyEnabled(ctx, p); err != nil {
			r.logHookError("OnPolicyEnabled", e.name, err)
		}
	}
}

// EmitPolicyDisabled notifies all plugins that implement PolicyDisabled.
func (r *Registry) EmitPolicyDisabled(ctx context.Context, p *policy.Policy) {
	for _, e := range r.policyDisabled {
		if err := e.hook.OnPolicyDisabled(ctx, p); err != nil {
			r.logHookError("OnPolicyDisabled", e.name, err)
		}
	}
}

// EmitPolicyDeleted notifies all plugins that implement PolicyDeleted.
func (r *Registry) EmitPolicyDeleted(ctx context.Context, polID id.PolicyID) {
	for _, e := range r.policyDeleted {
		if err := e.hook.OnPolicyDeleted(ctx, polID); err != nil {
			r.logHookError("OnPolicyDeleted", e.name, err)
		}
	}
}

// EmitShutdown notifies all plugins that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors never reach the caller.
func (r *Registry) logHookError(hook, pluginName string, err error) {
	r.logger.Warn("plugin hook error",
		slog.String("hook", hook),
		slog.String("plugin", pluginName),
		slog.String("error", err.Error()),
	)
}

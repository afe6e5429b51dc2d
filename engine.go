package rowguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/rowguard/condition"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/plugin"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/store"
)

// Engine evaluates data permission policies and manages their lifecycle.
// Evaluation takes no locks and is safe for concurrent use.
type Engine struct {
	store    store.Store
	resolver SubjectResolver
	cache    Cache
	plugins  *plugin.Registry
	logger   *slog.Logger
	config   Config
	now      func() time.Time
}

// NewEngine creates a new rowguard engine with the given options.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		resolver: DirectResolver{},
		logger:   slog.Default(),
		config:   DefaultConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		return nil, errors.New("rowguard: store is required")
	}
	e.config = e.config.withDefaults()
	switch e.config.DefaultPosture {
	case PostureAllow, PostureDeny:
	default:
		return nil, fmt.Errorf("rowguard: unknown default posture %q", e.config.DefaultPosture)
	}
	if !e.config.Dialect.Valid() {
		return nil, fmt.Errorf("rowguard: unknown dialect %q", e.config.Dialect)
	}
	return e, nil
}

// Store returns the underlying composite store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry (may be nil).
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

// Start performs any startup initialization.
func (e *Engine) Start(_ context.Context) error { return nil }

// Stop notifies plugins of shutdown.
func (e *Engine) Stop(ctx context.Context) error {
	if e.plugins != nil {
		e.plugins.EmitShutdown(ctx)
	}
	return nil
}

// EvaluateRequest is the input of one evaluation. Plugins receive it.
type EvaluateRequest struct {
	Principal    *Principal          `json:"principal"`
	ResourceType policy.ResourceType `json:"resource_type"`
	ResourceID   string              `json:"resource_id"`
	Operation    policy.Operation    `json:"operation"`
}

// Evaluate decides what principal p may see when performing op on the
// resource. Finding no policy is not an error; failing to read policies is,
// and is reported as ErrStoreUnavailable.
func (e *Engine) Evaluate(ctx context.Context, p *Principal, rt policy.ResourceType, resourceID string, op policy.Operation) (*Decision, error) {
	return e.Decide(ctx, &EvaluateRequest{Principal: p, ResourceType: rt, ResourceID: resourceID, Operation: op})
}

// Decide is Evaluate with a request struct.
func (e *Engine) Decide(ctx context.Context, req *EvaluateRequest) (*Decision, error) {
	start := time.Now()

	if !req.Operation.Single() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, req.Operation.String())
	}
	if !req.ResourceType.Valid() || req.ResourceID == "" {
		return nil, fmt.Errorf("%w: %s/%q", ErrInvalidResource, req.ResourceType, req.ResourceID)
	}

	scope := scopeFromContext(ctx)

	if e.plugins != nil {
		e.plugins.EmitBeforeEvaluate(ctx, req)
	}

	// 1. Expand the principal. Failure means no subject can match.
	subjects, err := e.expandPrincipal(ctx, req.Principal)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.Warn("rowguard: principal unresolvable, applying default posture",
			slog.String("resource", req.ResourceID),
			slog.String("posture", string(e.config.DefaultPosture)),
			slog.String("error", err.Error()),
		)
		d := e.resolve(nil, nil)
		d.Reason = "principal unresolvable: " + err.Error()
		return e.finish(ctx, req, d, start), nil
	}

	vars := VarsFor(req.Principal, scope.tenantID)
	key := &DecisionKey{
		TenantID:     scope.tenantID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Operation:    req.Operation,
		Subjects:     subjects,
		VarsDigest:   digestVars(vars),
	}

	now := e.now()

	// 2. Cache hit? Entries past a validity boundary count as misses.
	if e.cache != nil && key.VarsDigest != "" {
		if cached, ok := e.cache.Get(ctx, key); ok && cached.freshAt(now) {
			return e.finish(ctx, req, cached.clone(), start), nil
		}
	}

	// 3. Load candidate policies for the resource.
	candidates, err := e.store.ListPoliciesForResource(ctx, scope.tenantID, req.ResourceType, req.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	// 4. Match and resolve.
	matched := Match(candidates, req.ResourceType, req.ResourceID, req.Operation, subjects, now)
	d := e.resolve(matched, vars)
	d.ValidUntil = NextBoundary(candidates, now)

	// 5. Cache the decision, no longer than its validity.
	if e.cache != nil && key.VarsDigest != "" {
		if err := e.cache.Set(ctx, key, d, e.cacheTTL(d, now)); err != nil {
			e.logger.Warn("rowguard: cache set failed", slog.String("key", key.String()), slog.String("error", err.Error()))
		}
	}

	return e.finish(ctx, req, d.clone(), start), nil
}

// cacheTTL caps the configured TTL at the decision's validity.
func (e *Engine) cacheTTL(d *Decision, now time.Time) time.Duration {
	ttl := e.config.CacheTTL
	if d.ValidUntil.IsZero() {
		return ttl
	}
	if left := d.ValidUntil.Sub(now); ttl <= 0 || left < ttl {
		return left
	}
	return ttl
}

// resolve turns matched policies into a decision.
func (e *Engine) resolve(matched []*policy.Policy, vars condition.Vars) *Decision {
	sortByPrecedence(matched)

	rows := e.resolveRows(matched, vars)
	cols := e.resolveColumns(matched)

	ids := make([]id.PolicyID, len(matched))
	for i, p := range matched {
		ids[i] = p.ID
	}

	reason := rows.reason
	if len(matched) == 0 {
		reason = fmt.Sprintf("no policy matched, default %s", e.config.DefaultPosture)
	}
	return &Decision{
		Granted:          rows.granted,
		RowPredicate:     rows.predicate,
		VisibleColumns:   cols.visible,
		DeniedColumns:    cols.denied,
		MatchedPolicyIDs: ids,
		RowPolicyID:      rows.policyID,
		Reason:           reason,
	}
}

func (e *Engine) finish(ctx context.Context, req *EvaluateRequest, d *Decision, start time.Time) *Decision {
	d.EvalTimeNs = time.Since(start).Nanoseconds()
	if e.plugins != nil {
		e.plugins.EmitAfterEvaluate(ctx, req, d)
	}
	return d
}

// CheckPermission reports whether the principal may perform op on the
// resource at all, i.e. whether the decision is granted.
func (e *Engine) CheckPermission(ctx context.Context, p *Principal, rt policy.ResourceType, resourceID string, op policy.Operation) (bool, error) {
	d, err := e.Evaluate(ctx, p, rt, resourceID, op)
	if err != nil {
		return false, err
	}
	return d.Granted, nil
}

package rowguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/rowguard/changelog"
	"github.com/xraph/rowguard/condition"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
)

// MutationResult is returned by policy writes. Warnings lists existing
// policies the written one overlaps with; they never block the write.
type MutationResult struct {
	Policy   *policy.Policy `json:"policy"`
	Warnings []Conflict     `json:"warnings,omitempty"`
}

// PolicyPage is one page of a policy listing.
type PolicyPage struct {
	Items  []*policy.Policy `json:"items"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// CreatePolicy validates and persists a new policy granted by actor. The
// caller's policy is left untouched; the stored version is returned in the
// result.
func (e *Engine) CreatePolicy(ctx context.Context, actor string, in *policy.Policy) (*MutationResult, error) {
	p := in.Clone()
	scope := scopeFromContext(ctx)
	now := e.now().UTC()

	if p.ID.IsNil() {
		p.ID = id.NewPolicyID()
	}
	if p.TenantID == "" {
		p.TenantID = scope.tenantID
	}
	if p.AppID == "" {
		p.AppID = scope.appID
	}
	if p.Status == "" {
		p.Status = policy.StatusActive
	}
	if p.GrantedBy == "" {
		p.GrantedBy = actor
	}
	p.GrantedAt = now
	p.CreatedBy, p.CreatedAt = actor, now
	p.UpdatedBy, p.UpdatedAt = actor, now
	p.Deleted, p.DeletedBy, p.DeletedAt = false, "", nil
	p.Version = 1

	if err := e.validate(p); err != nil {
		return nil, err
	}
	warnings, err := e.DetectConflicts(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreatePolicy(ctx, p); err != nil {
		return nil, e.mapStoreError(p.ID, err)
	}

	e.invalidate(ctx, p.TenantID, ScopeOf(p))
	e.recordChange(ctx, changelog.ActionCreated, actor, p)
	if e.plugins != nil {
		e.plugins.EmitPolicyCreated(ctx, p)
	}
	e.logger.Info("rowguard: policy created",
		slog.String("policy_id", p.ID.String()),
		slog.String("resource", p.ResourceID),
		slog.String("subject", p.Subject().String()),
		slog.Int("conflicts", len(warnings)),
	)
	return &MutationResult{Policy: p, Warnings: warnings}, nil
}

// UpdatePolicy replaces a stored policy with in. Identity, tenancy, grant
// and creation fields are carried over from the stored version. The caller's
// policy is left untouched.
func (e *Engine) UpdatePolicy(ctx context.Context, actor string, in *policy.Policy) (*MutationResult, error) {
	p := in.Clone()
	prev, err := e.loadLive(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	p.TenantID, p.AppID = prev.TenantID, prev.AppID
	p.GrantedBy, p.GrantedAt = prev.GrantedBy, prev.GrantedAt
	p.CreatedBy, p.CreatedAt = prev.CreatedBy, prev.CreatedAt
	p.UpdatedBy, p.UpdatedAt = actor, e.now().UTC()
	p.Deleted, p.DeletedBy, p.DeletedAt = false, "", nil
	p.Version = prev.Version + 1
	if p.Status == "" {
		p.Status = prev.Status
	}

	if err := e.validate(p); err != nil {
		return nil, err
	}
	warnings, err := e.DetectConflicts(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdatePolicy(ctx, p); err != nil {
		return nil, e.mapStoreError(p.ID, err)
	}

	e.invalidate(ctx, p.TenantID, ScopeOf(prev), ScopeOf(p))
	e.recordChange(ctx, changelog.ActionUpdated, actor, p)
	if e.plugins != nil {
		e.plugins.EmitPolicyUpdated(ctx, prev, p)
	}
	return &MutationResult{Policy: p, Warnings: warnings}, nil
}

// EnablePolicy switches a policy to active.
func (e *Engine) EnablePolicy(ctx context.Context, actor string, polID id.PolicyID) (*policy.Policy, error) {
	return e.setStatus(ctx, actor, polID, policy.StatusActive)
}

// DisablePolicy switches a policy to disabled. Disabled policies never match.
func (e *Engine) DisablePolicy(ctx context.Context, actor string, polID id.PolicyID) (*policy.Policy, error) {
	return e.setStatus(ctx, actor, polID, policy.StatusDisabled)
}

func (e *Engine) setStatus(ctx context.Context, actor string, polID id.PolicyID, status policy.Status) (*policy.Policy, error) {
	p, err := e.loadLive(ctx, polID)
	if err != nil {
		return nil, err
	}
	if p.Status == status {
		return p, nil
	}

	p.Status = status
	p.UpdatedBy, p.UpdatedAt = actor, e.now().UTC()
	p.Version++
	if err := e.store.UpdatePolicy(ctx, p); err != nil {
		return nil, e.mapStoreError(polID, err)
	}

	e.invalidate(ctx, p.TenantID, ScopeOf(p))
	if status == policy.StatusActive {
		e.recordChange(ctx, changelog.ActionEnabled, actor, p)
		if e.plugins != nil {
			e.plugins.EmitPolicyEnabled(ctx, p)
		}
	} else {
		e.recordChange(ctx, changelog.ActionDisabled, actor, p)
		if e.plugins != nil {
			e.plugins.EmitPolicyDisabled(ctx, p)
		}
	}
	return p, nil
}

// DeletePolicy soft-deletes a policy. The record stays readable through
// GetPolicy and the change log but never matches again.
func (e *Engine) DeletePolicy(ctx context.Context, actor string, polID id.PolicyID) error {
	p, err := e.loadLive(ctx, polID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	if err := e.store.SoftDeletePolicy(ctx, polID, actor, now); err != nil {
		return e.mapStoreError(polID, err)
	}
	p.Deleted, p.DeletedBy, p.DeletedAt = true, actor, &now
	p.UpdatedBy, p.UpdatedAt = actor, now
	p.Version++

	e.invalidate(ctx, p.TenantID, ScopeOf(p))
	e.recordChange(ctx, changelog.ActionDeleted, actor, p)
	if e.plugins != nil {
		e.plugins.EmitPolicyDeleted(ctx, polID)
	}
	return nil
}

// GetPolicy returns a policy by id, including soft-deleted ones.
func (e *Engine) GetPolicy(ctx context.Context, polID id.PolicyID) (*policy.Policy, error) {
	p, err := e.store.GetPolicy(ctx, polID)
	if err != nil {
		return nil, e.mapStoreError(polID, err)
	}
	if t := scopeFromContext(ctx).tenantID; t != "" && p.TenantID != t {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, polID)
	}
	return p, nil
}

// ListPolicies returns one page of policies. The tenant defaults to the
// context tenant.
func (e *Engine) ListPolicies(ctx context.Context, filter *policy.ListFilter) (*PolicyPage, error) {
	f := policy.ListFilter{}
	if filter != nil {
		f = *filter
	}
	if f.TenantID == "" {
		f.TenantID = scopeFromContext(ctx).tenantID
	}

	items, err := e.store.ListPolicies(ctx, &f)
	if err != nil {
		return nil, fmt.Errorf("rowguard: list policies: %w", err)
	}
	total, err := e.store.CountPolicies(ctx, &f)
	if err != nil {
		return nil, fmt.Errorf("rowguard: count policies: %w", err)
	}
	if items == nil {
		items = []*policy.Policy{}
	}
	return &PolicyPage{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// ListChanges returns policy change entries, newest first.
func (e *Engine) ListChanges(ctx context.Context, filter *changelog.QueryFilter) ([]*changelog.Entry, error) {
	f := changelog.QueryFilter{}
	if filter != nil {
		f = *filter
	}
	if f.TenantID == "" {
		f.TenantID = scopeFromContext(ctx).tenantID
	}
	entries, err := e.store.ListChanges(ctx, &f)
	if err != nil {
		return nil, fmt.Errorf("rowguard: list changes: %w", err)
	}
	return entries, nil
}

// loadLive fetches a policy for mutation, rejecting deleted ones.
func (e *Engine) loadLive(ctx context.Context, polID id.PolicyID) (*policy.Policy, error) {
	p, err := e.GetPolicy(ctx, polID)
	if err != nil {
		return nil, err
	}
	if p.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrPolicyDeleted, polID)
	}
	return p, nil
}

func (e *Engine) mapStoreError(polID id.PolicyID, err error) error {
	switch {
	case errors.Is(err, policy.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, polID)
	case errors.Is(err, policy.ErrAlreadyExists):
		return fmt.Errorf("%w: %s", ErrPolicyExists, polID)
	}
	return fmt.Errorf("rowguard: policy %s: %w", polID, err)
}

// validate checks structure and, for row policies, the condition template.
func (e *Engine) validate(p *policy.Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	if !p.PermissionType.GovernsRows() {
		return nil
	}
	err := condition.Validate(p.RowCondition, condition.Options{
		KnownVariables: e.config.knownVariables(),
		SkipSyntax:     !e.config.rowSyntaxEnabled(),
	})
	if err != nil {
		verr := &policy.ValidationError{Field: "row_condition", Rule: "invalid template", Err: err}
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, verr)
	}
	return nil
}

// invalidate drops cached decisions for each scope. Failures are logged.
func (e *Engine) invalidate(ctx context.Context, tenantID string, scopes ...ScopeKey) {
	if e.cache == nil {
		return
	}
	seen := make(map[ScopeKey]struct{}, len(scopes))
	for _, s := range scopes {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		if err := e.cache.Invalidate(ctx, tenantID, s); err != nil {
			e.logger.Warn("rowguard: cache invalidation failed",
				slog.String("tenant", tenantID),
				slog.String("resource", s.ResourceID),
				slog.String("subject", s.Subject().String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// recordChange appends a change entry. Failures are logged.
func (e *Engine) recordChange(ctx context.Context, action changelog.Action, actor string, p *policy.Policy) {
	snapshot, err := json.Marshal(p)
	if err != nil {
		e.logger.Warn("rowguard: snapshot policy", slog.String("policy_id", p.ID.String()), slog.String("error", err.Error()))
	}
	entry := &changelog.Entry{
		ID:         id.NewChangeID(),
		TenantID:   p.TenantID,
		AppID:      p.AppID,
		PolicyID:   p.ID,
		Action:     action,
		Actor:      actor,
		ResourceID: p.ResourceID,
		Version:    p.Version,
		Snapshot:   snapshot,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.store.AppendChange(ctx, entry); err != nil {
		e.logger.Warn("rowguard: append change log",
			slog.String("policy_id", p.ID.String()),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
	}
}

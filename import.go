package rowguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/rowguard/bundle"
	"github.com/xraph/rowguard/policy"
)

// ImportBundle applies every declaration of b. Declarations with an id that
// already exists update that policy; the rest are created. Every policy is
// validated before anything is written, so a bad declaration aborts the
// whole import.
func (e *Engine) ImportBundle(ctx context.Context, actor string, b *bundle.Bundle) ([]*MutationResult, error) {
	policies, err := b.ToPolicies()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	for i, p := range policies {
		if p.TenantID == "" {
			p.TenantID = scopeFromContext(ctx).tenantID
		}
		draft := p.Clone()
		if draft.Status == "" {
			draft.Status = policy.StatusActive
		}
		if err := e.validate(draft); err != nil {
			return nil, fmt.Errorf("bundle policy %d (%s): %w", i, p.Name, err)
		}
	}

	results := make([]*MutationResult, 0, len(policies))
	for _, p := range policies {
		res, err := e.upsert(ctx, actor, p)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	e.logger.Info("rowguard: bundle imported",
		slog.String("tenant", scopeFromContext(ctx).tenantID),
		slog.Int("policies", len(results)),
	)
	return results, nil
}

func (e *Engine) upsert(ctx context.Context, actor string, p *policy.Policy) (*MutationResult, error) {
	if p.ID.IsNil() {
		return e.CreatePolicy(ctx, actor, p)
	}
	_, err := e.GetPolicy(ctx, p.ID)
	switch {
	case err == nil:
		return e.UpdatePolicy(ctx, actor, p)
	case errors.Is(err, ErrPolicyNotFound):
		return e.CreatePolicy(ctx, actor, p)
	default:
		return nil, err
	}
}

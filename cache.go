package rowguard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/xraph/rowguard/condition"
	"github.com/xraph/rowguard/policy"
)

// Cache stores evaluated decisions. Implementations must be safe for
// concurrent use. Errors from Set and the invalidation methods are logged by
// the engine and never fail the caller.
type Cache interface {
	// Get returns a cached decision, if available.
	Get(ctx context.Context, key *DecisionKey) (*Decision, bool)

	// Set stores a decision. A zero ttl means the cache default.
	Set(ctx context.Context, key *DecisionKey, d *Decision, ttl time.Duration) error

	// Invalidate removes every decision that a policy in scope could affect.
	Invalidate(ctx context.Context, tenantID string, scope ScopeKey) error

	// InvalidateTenant removes all cached decisions for a tenant.
	InvalidateTenant(ctx context.Context, tenantID string) error
}

// ScopeKey identifies the decisions a policy mutation can change.
type ScopeKey struct {
	ResourceID  string             `json:"resource_id"`
	SubjectType policy.SubjectType `json:"subject_type"`
	SubjectID   string             `json:"subject_id"`
}

// ScopeOf returns the cache scope of a policy.
func ScopeOf(p *policy.Policy) ScopeKey {
	return ScopeKey{ResourceID: p.ResourceID, SubjectType: p.SubjectType, SubjectID: p.SubjectID}
}

// Subject returns the subject part of the scope.
func (s ScopeKey) Subject() Subject { return Subject{Type: s.SubjectType, ID: s.SubjectID} }

// DecisionKey identifies one cached evaluation.
type DecisionKey struct {
	TenantID     string
	ResourceType policy.ResourceType
	ResourceID   string
	Operation    policy.Operation
	Subjects     []Subject
	// VarsDigest fingerprints the template variables the predicate was
	// rendered with.
	VarsDigest string
}

// String renders the key as "tenant|type|resource|op|subjects|digest".
func (k *DecisionKey) String() string {
	subs := make([]string, len(k.Subjects))
	for i, s := range k.Subjects {
		subs[i] = s.String()
	}
	return strings.Join([]string{
		k.TenantID,
		string(k.ResourceType),
		k.ResourceID,
		k.Operation.String(),
		strings.Join(subs, ","),
		k.VarsDigest,
	}, "|")
}

// Covers reports whether a mutation in scope could change this decision.
func (k *DecisionKey) Covers(scope ScopeKey) bool {
	if k.ResourceID != scope.ResourceID {
		return false
	}
	want := scope.Subject()
	for _, s := range k.Subjects {
		if s == want {
			return true
		}
	}
	return false
}

func digestVars(vars condition.Vars) string {
	data, err := json.Marshal(vars)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

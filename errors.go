package rowguard

import "errors"

var (
	// ErrPolicyNotFound is returned when a policy cannot be found.
	ErrPolicyNotFound = errors.New("rowguard: policy not found")

	// ErrInvalidPolicy is returned when a policy fails validation. The
	// violated rule is available as a *policy.ValidationError.
	ErrInvalidPolicy = errors.New("rowguard: invalid policy")

	// ErrPolicyExists is returned when creating a policy whose id is taken.
	ErrPolicyExists = errors.New("rowguard: policy already exists")

	// ErrPolicyDeleted is returned when mutating a soft-deleted policy.
	ErrPolicyDeleted = errors.New("rowguard: policy is deleted")

	// ErrPrincipalUnresolvable is returned by a SubjectResolver that cannot
	// expand a principal. Evaluate turns it into the default decision.
	ErrPrincipalUnresolvable = errors.New("rowguard: principal cannot be resolved")

	// ErrStoreUnavailable wraps policy store failures during evaluation.
	// It is retriable and distinct from "no policy matched".
	ErrStoreUnavailable = errors.New("rowguard: policy store unavailable")

	// ErrInvalidOperation is returned when Evaluate receives an operation
	// that is not exactly one known operation.
	ErrInvalidOperation = errors.New("rowguard: invalid operation")

	// ErrInvalidResource is returned when Evaluate receives an unknown
	// resource type or an empty resource id.
	ErrInvalidResource = errors.New("rowguard: invalid resource")
)

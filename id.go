package rowguard

import "github.com/xraph/rowguard/id"

// ID is the primary identifier type for rowguard entities.
type ID = id.ID

// PolicyID identifies a data permission policy.
type PolicyID = id.PolicyID

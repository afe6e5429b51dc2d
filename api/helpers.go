package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/id"
)

// mapError maps domain errors to Forge HTTP errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, rowguard.ErrPolicyNotFound) {
		return forge.NotFound(err.Error())
	}
	if errors.Is(err, rowguard.ErrInvalidPolicy) ||
		errors.Is(err, rowguard.ErrInvalidOperation) ||
		errors.Is(err, rowguard.ErrInvalidResource) {
		return forge.BadRequest(err.Error())
	}
	if errors.Is(err, rowguard.ErrPolicyExists) || errors.Is(err, rowguard.ErrPolicyDeleted) {
		return forge.BadRequest(err.Error())
	}
	return err
}

// actor is the user performing a mutation, taken from the authenticated
// request context.
func actor(ctx forge.Context) string {
	if userID := forge.UserIDFromContext(ctx.Context()); userID != "" {
		return userID
	}
	return "anonymous"
}

func policyIDParam(ctx forge.Context) (id.PolicyID, error) {
	polID, err := id.ParsePolicyID(ctx.Param("policyId"))
	if err != nil {
		return polID, forge.BadRequest(fmt.Sprintf("invalid policy ID: %v", err))
	}
	return polID, nil
}

func parseTime(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, forge.BadRequest("invalid " + field + " timestamp")
	}
	return &t, nil
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

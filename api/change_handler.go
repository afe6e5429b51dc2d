package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard/changelog"
	"github.com/xraph/rowguard/id"
)

func (a *API) registerChangeRoutes(router forge.Router) error {
	g := router.Group("/v1", forge.WithGroupTags("changes"))

	return g.GET("/changes", a.listChanges,
		forge.WithSummary("Query policy changes"),
		forge.WithDescription("Returns the policy change log, newest first, with optional filters."),
		forge.WithOperationID("listPolicyChanges"),
		forge.WithRequestSchema(ListChangesRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Change list", []*changelog.Entry{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) listChanges(ctx forge.Context, req *ListChangesRequest) ([]*changelog.Entry, error) {
	filter := &changelog.QueryFilter{
		Action:     changelog.Action(req.Action),
		Actor:      req.Actor,
		ResourceID: req.ResourceID,
		Limit:      defaultLimit(req.Limit),
		Offset:     req.Offset,
	}

	if req.PolicyID != "" {
		polID, err := id.ParsePolicyID(req.PolicyID)
		if err != nil {
			return nil, forge.BadRequest(fmt.Sprintf("invalid policy ID: %v", err))
		}
		filter.PolicyID = polID
	}

	var err error
	if filter.After, err = parseTime("after", req.After); err != nil {
		return nil, err
	}
	if filter.Before, err = parseTime("before", req.Before); err != nil {
		return nil, err
	}

	entries, err := a.eng.ListChanges(ctx.Context(), filter)
	if err != nil {
		return nil, mapError(err)
	}

	return entries, ctx.JSON(http.StatusOK, entries)
}

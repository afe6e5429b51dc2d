package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/policy"
)

func (a *API) registerStatsRoutes(router forge.Router) error {
	g := router.Group("/v1", forge.WithGroupTags("statistics"))

	return g.GET("/stats", a.getStats,
		forge.WithSummary("Policy statistics"),
		forge.WithDescription("Counts policies by status, resource, subject, permission type and effect."),
		forge.WithOperationID("getPolicyStats"),
		forge.WithRequestSchema(StatsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Statistics", &rowguard.Stats{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) getStats(ctx forge.Context, req *StatsRequest) (*rowguard.Stats, error) {
	stats, err := a.eng.GetStatistics(ctx.Context(), &rowguard.StatsFilter{
		ResourceType: policy.ResourceType(req.ResourceType),
		ResourceID:   req.ResourceID,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return stats, ctx.JSON(http.StatusOK, stats)
}

package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard"
)

func (a *API) registerEvaluateRoutes(router forge.Router) error {
	g := router.Group("/v1", forge.WithGroupTags("evaluation"))

	if err := g.POST("/evaluate", a.evaluate,
		forge.WithSummary("Evaluate data permissions"),
		forge.WithDescription("Returns the row predicate and visible columns for the principal on the resource."),
		forge.WithOperationID("evaluate"),
		forge.WithRequestSchema(EvaluateRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Decision", &rowguard.Decision{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/enforce", a.enforce,
		forge.WithSummary("Enforce data permissions"),
		forge.WithDescription("Returns 200 with the decision if granted, 403 if every row is denied."),
		forge.WithOperationID("enforce"),
		forge.WithRequestSchema(EvaluateRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Granted", &rowguard.Decision{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.POST("/batch-evaluate", a.batchEvaluate,
		forge.WithSummary("Batch evaluate"),
		forge.WithDescription("Evaluates several resources or operations in one request."),
		forge.WithOperationID("batchEvaluate"),
		forge.WithRequestSchema(BatchEvaluateRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Batch results", BatchEvaluateResponse{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) decide(ctx forge.Context, req *EvaluateRequest) (*rowguard.Decision, error) {
	if req.Principal.ID == "" || req.ResourceType == "" || req.ResourceID == "" {
		return nil, forge.BadRequest("principal.id, resource_type and resource_id are required")
	}
	er, err := req.toEngine()
	if err != nil {
		return nil, mapError(err)
	}
	d, err := a.eng.Decide(ctx.Context(), er)
	if err != nil {
		return nil, mapError(err)
	}
	return d, nil
}

func (a *API) evaluate(ctx forge.Context, req *EvaluateRequest) (*rowguard.Decision, error) {
	d, err := a.decide(ctx, req)
	if err != nil {
		return nil, err
	}
	return d, ctx.JSON(http.StatusOK, d)
}

func (a *API) enforce(ctx forge.Context, req *EvaluateRequest) (*rowguard.Decision, error) {
	d, err := a.decide(ctx, req)
	if err != nil {
		return nil, err
	}
	if !d.Granted {
		return d, ctx.JSON(http.StatusForbidden, d)
	}
	return d, ctx.JSON(http.StatusOK, d)
}

func (a *API) batchEvaluate(ctx forge.Context, req *BatchEvaluateRequest) (*BatchEvaluateResponse, error) {
	if len(req.Evaluations) == 0 {
		return nil, forge.BadRequest("evaluations cannot be empty")
	}

	results := make([]*rowguard.Decision, len(req.Evaluations))
	for i := range req.Evaluations {
		d, err := a.decide(ctx, &req.Evaluations[i])
		if err != nil {
			return nil, err
		}
		results[i] = d
	}

	resp := &BatchEvaluateResponse{Results: results}
	return resp, ctx.JSON(http.StatusOK, resp)
}

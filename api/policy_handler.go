package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/policy"
)

func (a *API) registerPolicyRoutes(router forge.Router) error {
	g := router.Group("/v1", forge.WithGroupTags("policies"))

	if err := g.POST("/policies", a.createPolicy,
		forge.WithSummary("Create policy"),
		forge.WithDescription("Creates a data permission policy. Overlapping policies are reported as warnings."),
		forge.WithOperationID("createPolicy"),
		forge.WithRequestSchema(PolicyRequest{}),
		forge.WithCreatedResponse(&rowguard.MutationResult{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/policies/conflicts", a.detectConflicts,
		forge.WithSummary("Detect conflicts"),
		forge.WithDescription("Lists live policies a candidate would overlap without saving it."),
		forge.WithOperationID("detectPolicyConflicts"),
		forge.WithRequestSchema(PolicyRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Conflicts", []rowguard.Conflict{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.GET("/policies/:policyId", a.getPolicy,
		forge.WithSummary("Get policy"),
		forge.WithOperationID("getPolicy"),
		forge.WithResponseSchema(http.StatusOK, "Policy details", &policy.Policy{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.PUT("/policies/:policyId", a.updatePolicy,
		forge.WithSummary("Update policy"),
		forge.WithDescription("Replaces every mutable field of the policy."),
		forge.WithOperationID("updatePolicy"),
		forge.WithRequestSchema(PolicyRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated policy", &rowguard.MutationResult{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/policies/:policyId/enable", a.enablePolicy,
		forge.WithSummary("Enable policy"),
		forge.WithOperationID("enablePolicy"),
		forge.WithResponseSchema(http.StatusOK, "Enabled policy", &policy.Policy{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.POST("/policies/:policyId/disable", a.disablePolicy,
		forge.WithSummary("Disable policy"),
		forge.WithOperationID("disablePolicy"),
		forge.WithResponseSchema(http.StatusOK, "Disabled policy", &policy.Policy{}),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	if err := g.DELETE("/policies/:policyId", a.deletePolicy,
		forge.WithSummary("Delete policy"),
		forge.WithDescription("Soft-deletes the policy. It stays readable but never matches again."),
		forge.WithOperationID("deletePolicy"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		return err
	}

	return g.GET("/policies", a.listPolicies,
		forge.WithSummary("List policies"),
		forge.WithOperationID("listPolicies"),
		forge.WithRequestSchema(ListPoliciesRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Policy list", ListResponse[*policy.Policy]{}),
		forge.WithErrorResponses(),
	)
}

func (a *API) createPolicy(ctx forge.Context, req *PolicyRequest) (*rowguard.MutationResult, error) {
	p, err := req.toPolicy()
	if err != nil {
		return nil, mapError(err)
	}

	res, err := a.eng.CreatePolicy(ctx.Context(), actor(ctx), p)
	if err != nil {
		return nil, mapError(err)
	}

	return res, ctx.JSON(http.StatusCreated, res)
}

func (a *API) detectConflicts(ctx forge.Context, req *PolicyRequest) ([]rowguard.Conflict, error) {
	p, err := req.toPolicy()
	if err != nil {
		return nil, mapError(err)
	}
	if p.Status == "" {
		p.Status = policy.StatusActive
	}

	conflicts, err := a.eng.DetectConflicts(ctx.Context(), p)
	if err != nil {
		return nil, mapError(err)
	}

	return conflicts, ctx.JSON(http.StatusOK, conflicts)
}

func (a *API) getPolicy(ctx forge.Context, _ *GetPolicyRequest) (*policy.Policy, error) {
	polID, err := policyIDParam(ctx)
	if err != nil {
		return nil, err
	}

	p, err := a.eng.GetPolicy(ctx.Context(), polID)
	if err != nil {
		return nil, mapError(err)
	}

	return p, ctx.JSON(http.StatusOK, p)
}

func (a *API) updatePolicy(ctx forge.Context, req *PolicyRequest) (*rowguard.MutationResult, error) {
	polID, err := policyIDParam(ctx)
	if err != nil {
		return nil, err
	}

	p, err := req.toPolicy()
	if err != nil {
		return nil, mapError(err)
	}
	p.ID = polID

	res, err := a.eng.UpdatePolicy(ctx.Context(), actor(ctx), p)
	if err != nil {
		return nil, mapError(err)
	}

	return res, ctx.JSON(http.StatusOK, res)
}

func (a *API) enablePolicy(ctx forge.Context, _ *GetPolicyRequest) (*policy.Policy, error) {
	polID, err := policyIDParam(ctx)
	if err != nil {
		return nil, err
	}

	p, err := a.eng.EnablePolicy(ctx.Context(), actor(ctx), polID)
	if err != nil {
		return nil, mapError(err)
	}

	return p, ctx.JSON(http.StatusOK, p)
}

func (a *API) disablePolicy(ctx forge.Context, _ *GetPolicyRequest) (*policy.Policy, error) {
	polID, err := policyIDParam(ctx)
	if err != nil {
		return nil, err
	}

	p, err := a.eng.DisablePolicy(ctx.Context(), actor(ctx), polID)
	if err != nil {
		return nil, mapError(err)
	}

	return p, ctx.JSON(http.StatusOK, p)
}

func (a *API) deletePolicy(ctx forge.Context, _ *GetPolicyRequest) (*struct{}, error) {
	polID, err := policyIDParam(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.eng.DeletePolicy(ctx.Context(), actor(ctx), polID); err != nil {
		return nil, mapError(err)
	}

	return nil, ctx.NoContent(http.StatusNoContent)
}

func (a *API) listPolicies(ctx forge.Context, req *ListPoliciesRequest) (*ListResponse[*policy.Policy], error) {
	filter := &policy.ListFilter{
		ResourceType:   policy.ResourceType(req.ResourceType),
		ResourceID:     req.ResourceID,
		SubjectType:    policy.SubjectType(req.SubjectType),
		SubjectID:      req.SubjectID,
		PermissionType: policy.PermissionType(req.PermissionType),
		Effect:         policy.Effect(req.Effect),
		Status:         policy.Status(req.Status),
		Search:         req.Search,
		Limit:          defaultLimit(req.Limit),
		Offset:         req.Offset,
	}
	switch req.Deleted {
	case "":
	case "include":
		filter.IncludeDeleted = true
	case "only":
		filter.DeletedOnly = true
	default:
		return nil, forge.BadRequest("deleted must be 'include' or 'only'")
	}

	page, err := a.eng.ListPolicies(ctx.Context(), filter)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &ListResponse[*policy.Policy]{
		Items:  page.Items,
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	return resp, ctx.JSON(http.StatusOK, resp)
}

package api

import (
	"github.com/xraph/rowguard"
)

// BatchEvaluateResponse contains results for multiple evaluations.
type BatchEvaluateResponse struct {
	Results []*rowguard.Decision `json:"results" description:"Decisions in request order"`
}

// ListResponse wraps a list of items with pagination metadata.
type ListResponse[T any] struct {
	Items  []T   `json:"items" description:"List of items"`
	Total  int64 `json:"total" description:"Total count"`
	Limit  int   `json:"limit" description:"Page size"`
	Offset int   `json:"offset" description:"Page offset"`
}

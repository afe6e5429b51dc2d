// Package api provides HTTP handlers for the rowguard data permission engine.
package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard"
)

// API wires all rowguard HTTP handlers together.
type API struct {
	eng    *rowguard.Engine
	router forge.Router
}

// New creates an API from an Engine and a Forge router.
func New(eng *rowguard.Engine, router forge.Router) *API {
	return &API{eng: eng, router: router}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	if err := a.RegisterRoutes(a.router); err != nil {
		panic("rowguard: register routes: " + err.Error())
	}
	return a.router.Handler()
}

// RegisterRoutes registers all API routes into the given Forge router.
func (a *API) RegisterRoutes(router forge.Router) error {
	registerers := []func(forge.Router) error{
		a.registerEvaluateRoutes,
		a.registerPolicyRoutes,
		a.registerStatsRoutes,
		a.registerChangeRoutes,
	}
	for _, fn := range registerers {
		if err := fn(router); err != nil {
			return err
		}
	}
	return nil
}

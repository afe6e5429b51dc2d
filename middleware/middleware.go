// Package middleware provides HTTP data permission middleware for rowguard.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/xraph/forge"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/policy"
)

// PrincipalFunc builds the principal for a request. Returning nil denies it.
type PrincipalFunc func(ctx context.Context) *rowguard.Principal

// Option configures the middleware.
type Option func(*settings)

type settings struct {
	principal     PrincipalFunc
	resourceParam string
	logger        *slog.Logger
}

// WithPrincipal sets how the request principal is built. The default uses
// the Forge user ID with no roles, department or position.
func WithPrincipal(fn PrincipalFunc) Option {
	return func(s *settings) { s.principal = fn }
}

// WithResourceParam reads the resource ID from a route parameter instead of
// the fixed value passed to Require.
func WithResourceParam(name string) Option {
	return func(s *settings) { s.resourceParam = name }
}

// WithLogger sets the logger used for evaluation failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// Require enforces that the request principal may perform op on the
// resource. Requests whose decision is not granted get 403; evaluation
// failures get 503.
func Require(eng *rowguard.Engine, rt policy.ResourceType, resourceID string, op policy.Operation, opts ...Option) forge.Middleware {
	s := &settings{principal: forgePrincipal, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	return func(next forge.Handler) forge.Handler {
		return func(ctx forge.Context) error {
			p := s.principal(ctx.Context())
			if p == nil {
				return writeError(ctx, 403, "access denied")
			}

			rid := resourceID
			if s.resourceParam != "" {
				rid = ctx.Param(s.resourceParam)
			}

			granted, err := eng.CheckPermission(ctx.Context(), p, rt, rid, op)
			if err != nil {
				s.logger.Error("rowguard: middleware evaluation failed",
					slog.String("resource", rid),
					slog.String("operation", op.String()),
					slog.String("error", err.Error()),
				)
				return writeError(ctx, 503, "permission evaluation unavailable")
			}
			if !granted {
				return writeError(ctx, 403, "access denied")
			}
			return next(ctx)
		}
	}
}

// forgePrincipal uses the authenticated Forge user ID.
func forgePrincipal(ctx context.Context) *rowguard.Principal {
	if userID := forge.UserIDFromContext(ctx); userID != "" {
		return &rowguard.Principal{ID: userID}
	}
	return nil
}

func writeError(ctx forge.Context, status int, msg string) error {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.Response().WriteHeader(status)
	return json.NewEncoder(ctx.Response()).Encode(map[string]string{"error": msg})
}

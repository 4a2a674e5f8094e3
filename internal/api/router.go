package api

import (
	"net/http"

	"github.com/kuitang/thoughtflow/internal/auth"
	"github.com/kuitang/thoughtflow/internal/obs"
	"github.com/kuitang/thoughtflow/internal/ratelimit"
)

// NewRouter assembles the full middleware chain around the API routes:
// request correlation, access logging and panic recovery on everything, and
// per-owner rate limiting plus bearer auth on the protected routes.
func NewRouter(h *Handler, authMW *auth.Middleware, limiter *ratelimit.RateLimiter) http.Handler {
	limit := ratelimit.Middleware(limiter, authMW.OwnerFromRequest)
	protect := func(next http.Handler) http.Handler {
		return limit(authMW.RequireAuth(next))
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux, protect)

	var handler http.Handler = mux
	handler = obs.RecoverMiddleware(handler)
	handler = obs.AccessLogMiddleware("api", handler)
	handler = obs.RequestContextMiddleware(handler)
	return handler
}

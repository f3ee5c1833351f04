package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "mailflow/internal/api/context"
	"mailflow/internal/api/handlers"
	"mailflow/internal/api/middleware"
	"mailflow/internal/pkg/errors"
	"mailflow/internal/platform/auth"
)

type Dependencies struct {
	AuthHandler       *handlers.AuthHandler
	WebhookHandler    *handlers.WebhookHandler
	TriggerHandler    *handlers.TriggerHandler
	CronHandler       *handlers.CronHandler
	AutomationHandler *handlers.AutomationHandler
	ConnectionHandler *handlers.ConnectionHandler
	SigningKeyHandler *handlers.SigningKeyHandler
	HealthHandler     *handlers.HealthHandler
	AuthMiddleware    *middleware.AuthMiddleware
	TenantMiddleware  *middleware.TenantMiddleware
	CronMiddleware    *middleware.CronAuthMiddleware
	RateLimiter       *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/health", wrap(deps.HealthHandler.Check))

	// Authentication
	router.POST("/api/v1/auth/login", wrap(deps.AuthHandler.Login))
	router.POST("/api/v1/auth/refresh", wrap(deps.AuthHandler.Refresh))

	authMid := deps.AuthMiddleware
	tenantMid := deps.TenantMiddleware
	cronMid := deps.CronMiddleware
	limiter := deps.RateLimiter

	// Inbound provider webhooks. Signature verification replaces session
	// auth on this surface.
	router.POST("/integrations/:provider/webhooks",
		chain(deps.WebhookHandler.Receive, limiter.Limit("webhook")))
	router.GET("/integrations/:provider/webhooks", wrap(deps.WebhookHandler.Health))

	// Internal automation trigger. httprouter rejects a static
	// /integrations/trigger next to the :provider wildcard above, so the
	// trigger endpoint shares the wildcard route and checks the segment
	// itself.
	triggerRoute := chain(deps.TriggerHandler.Trigger, authMid.Handle, tenantMid.Handle, limiter.Limit("api_write"))
	router.POST("/integrations/:provider", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if ps.ByName("provider") != "trigger" {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Not found", nil)
			return
		}
		triggerRoute(w, r, ps)
	})

	// Cron jobs: platform dispatcher hits GET, operators POST a single job
	router.GET("/cron/:job", chain(deps.CronHandler.RunNamed, cronMid.Handle))
	router.POST("/cron", chain(deps.CronHandler.RunFromBody, cronMid.Handle))

	// Automation rules
	router.POST("/api/v1/automations",
		chain(deps.AutomationHandler.Create, authMid.Handle, tenantMid.Handle, requireRole("admin", "owner"), limiter.Limit("api_write")))
	router.GET("/api/v1/automations",
		chain(deps.AutomationHandler.List, authMid.Handle, tenantMid.Handle, limiter.Limit("api_read")))
	router.GET("/api/v1/automations/:automation_id",
		chain(deps.AutomationHandler.Get, authMid.Handle, tenantMid.Handle, limiter.Limit("api_read")))
	router.PATCH("/api/v1/automations/:automation_id",
		chain(deps.AutomationHandler.Update, authMid.Handle, tenantMid.Handle, requireRole("admin", "owner"), limiter.Limit("api_write")))
	router.DELETE("/api/v1/automations/:automation_id",
		chain(deps.AutomationHandler.Delete, authMid.Handle, tenantMid.Handle, requireRole("admin", "owner"), limiter.Limit("api_write")))
	router.GET("/api/v1/automations/:automation_id/logs",
		chain(deps.AutomationHandler.Logs, authMid.Handle, tenantMid.Handle, limiter.Limit("api_read")))
	router.GET("/api/v1/executions",
		chain(deps.AutomationHandler.RecentExecutions, authMid.Handle, tenantMid.Handle, limiter.Limit("api_read")))

	// Provider connections
	router.POST("/api/v1/connections",
		chain(deps.ConnectionHandler.Create, authMid.Handle, tenantMid.Handle, requireRole("admin", "owner"), limiter.Limit("api_write")))
	router.GET("/api/v1/connections",
		chain(deps.ConnectionHandler.List, authMid.Handle, tenantMid.Handle, limiter.Limit("api_read")))
	router.PATCH("/api/v1/connections/:connection_id",
		chain(deps.ConnectionHandler.UpdateState, authMid.Handle, tenantMid.Handle, requireRole("admin", "owner"), limiter.Limit("api_write")))

	// Webhook signing keys
	router.POST("/api/v1/webhooks/keys",
		chain(deps.SigningKeyHandler.Rotate, authMid.Handle, requireRole("admin", "owner"), limiter.Limit("api_write")))
	router.GET("/api/v1/webhooks/keys",
		chain(deps.SigningKeyHandler.List, authMid.Handle, limiter.Limit("api_read")))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}

package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/care-portal/internal/handler"
	"github.com/iliyamo/care-portal/internal/middleware"
	"github.com/iliyamo/care-portal/internal/model"
)

// RegisterRoutes registers the unauthenticated health endpoints.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterAuth registers account routes. Register, login, refresh and
// logout need no session; /v1/me requires a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret))
	e.POST("/v1/admin/users", a.CreateUser,
		middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin))
}

// RegisterPublicSigning registers the token-addressed recipient routes
// behind the rate limiter.
func RegisterPublicSigning(e *echo.Echo, p *handler.PublicSigningHandler, limiter echo.MiddlewareFunc) {
	g := e.Group("/sign", limiter)
	g.GET("/:token", p.View)
	g.POST("/:token", p.Sign)
	g.POST("/:token/decline", p.Decline)
}

// Operator bundles the handlers behind /v1 for ADMIN and WORKER users.
type Operator struct {
	Requests  *handler.SigningRequestHandler
	Templates *handler.TemplateHandler
	Documents *handler.SignedDocumentHandler
	Audit     *handler.AuditHandler
	// TemplateCache wraps the template list.
	TemplateCache echo.MiddlewareFunc
}

// RegisterOperator registers the operator dashboard. Reads are open to
// ADMIN and WORKER; writes and audit reads are ADMIN only.
func RegisterOperator(e *echo.Echo, o Operator, jwtSecret string) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	staff := middleware.RequireRole(model.RoleAdmin, model.RoleWorker)
	admin := middleware.RequireRole(model.RoleAdmin)

	g.POST("/signing-requests", o.Requests.Create, admin)
	g.GET("/signing-requests", o.Requests.List, staff)
	g.GET("/signing-requests/:id", o.Requests.Get, staff)
	g.POST("/signing-requests/:id/send", o.Requests.Send, admin)
	g.POST("/signing-requests/:id/remind", o.Requests.Remind, admin)
	g.POST("/signing-requests/:id/void", o.Requests.Void, admin)
	g.GET("/signing-requests/:id/audit", o.Requests.Audit, admin)
	g.GET("/signing-requests/:id/certificate", o.Requests.Certificate, admin)

	g.GET("/audit/events", o.Audit.Events, admin)
	g.GET("/audit/stats", o.Audit.Stats, admin)

	cache := o.TemplateCache
	if cache == nil {
		cache = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	g.GET("/templates", o.Templates.List, staff, cache)
	g.GET("/templates/:id", o.Templates.Get, staff)
	g.POST("/templates", o.Templates.Create, admin)
	g.PUT("/templates/:id", o.Templates.Update, admin)
	g.DELETE("/templates/:id", o.Templates.Deactivate, admin)

	g.GET("/signed-documents", o.Documents.List, staff)
	g.GET("/signed-documents/:id", o.Documents.Get, staff)
	g.GET("/signed-documents/:id/artifact", o.Documents.Artifact, staff)
	g.GET("/signed-documents/:id/verify", o.Documents.Verify, admin)
}

// RegisterClient registers the CLIENT dashboard under /v1/my.
func RegisterClient(e *echo.Echo, d *handler.SignedDocumentHandler, jwtSecret string) {
	g := e.Group("/v1/my", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleClient))
	g.GET("/signing-requests", d.MyRequests)
	g.GET("/signed-documents", d.Mine)
	g.GET("/signed-documents/:id", d.Get)
	g.GET("/signed-documents/:id/artifact", d.Artifact)
}

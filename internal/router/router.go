// Package router registers the HTTP routes of the carpool API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/lascruzadas/carpool/internal/handler"
	"github.com/lascruzadas/carpool/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication and
// belong to no resource.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the account endpoints.  Register, login,
// refresh and logout live under /v1/auth and need no session; /v1/me
// needs a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	e.GET("/v1/me", a.Me,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(handler.RoleUser, handler.RoleAdmin))
}

// RegisterPublic registers the read-only ride listings guests may browse.
// cache wraps the feed, which every caller sees the same way.
func RegisterPublic(e *echo.Echo, r *handler.RideHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/rides/feed", r.Feed, cache)
	e.GET("/v1/rides/:id", r.Get)
	e.GET("/v1/events/:id/rides", r.ListForEvent)
}

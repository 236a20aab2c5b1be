package router

import (
	"github.com/labstack/echo/v4"

	"github.com/lascruzadas/carpool/internal/handler"
	"github.com/lascruzadas/carpool/internal/middleware"
)

// RegisterRides registers the authenticated ride and queue endpoints.
// limit guards the endpoints that book seats or touch the queue.
func RegisterRides(e *echo.Echo, r *handler.RideHandler, q *handler.QueueHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(handler.RoleUser, handler.RoleAdmin),
	)
	g.POST("/rides", r.Create)
	g.DELETE("/rides/:id", r.Delete)
	g.POST("/rides/:id/seats", r.BookSeat, limit)
	g.DELETE("/rides/:id/seats", r.Leave)
	g.DELETE("/rides/:id/seats/:seat", r.LeaveSeat)
	g.POST("/rides/:id/promote", r.Promote, limit)

	g.POST("/events/:id/queue", q.Join, limit)
	g.GET("/events/:id/queue/me", q.Status)
	g.POST("/events/:id/queue/next", q.Next, limit)
}

// RegisterAdmin registers maintenance endpoints for ADMIN users.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(handler.RoleAdmin),
	)
	g.POST("/rides/reconcile", a.Reconcile)
}

// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/carline/pickup-queue/internal/handler"
	"github.com/carline/pickup-queue/internal/middleware"
	"github.com/carline/pickup-queue/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check, used by load balancers to
// verify the service is up.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the authentication routes.  Unauthenticated
// operations (register, login, token exchange) live under /v1/auth;
// /v1/me sits behind the JWT middleware.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Rotates the refresh token and returns a fresh pair.
	g.POST("/refresh", a.Refresh)
	// Issues a new access token without rotating the refresh token.
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout accepts a refresh_token in the body, so it does not
	// require a JWT.  Authenticated clients may instead call the
	// protected /v1/logout below with an empty body to revoke every
	// session at once.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
	auth.POST("/logout", a.Logout)
}

// RegisterPublic registers unauthenticated browse endpoints.  The
// school directory is the kiosk bootstrap call, so it goes through the
// response cache.
func RegisterPublic(e *echo.Echo, s *handler.SchoolHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/schools", s.List, cache)
}

// RegisterParent registers the parent-facing registry endpoints:
// students, vehicles and the links between them.  Everything here is
// scoped to the authenticated parent; ownership is enforced in the
// repositories.
func RegisterParent(e *echo.Echo, st *handler.StudentHandler, v *handler.VehicleHandler, jwtSecret string) {
	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleParent, model.RoleStaff, model.RoleAdmin))

	g.POST("/students", st.Create)
	g.GET("/students", st.List)
	g.GET("/students/:id", st.Get)
	g.PUT("/students/:id", st.Update)
	g.DELETE("/students/:id", st.Delete)

	g.POST("/vehicles", v.Create)
	g.GET("/vehicles", v.List)
	g.DELETE("/vehicles/:id", v.Delete)
	g.POST("/vehicles/:id/students", v.LinkStudent)
	g.DELETE("/vehicles/:id/students/:studentId", v.UnlinkStudent)
}

// RegisterPickup registers the queue endpoints.  The scan routes take
// the rate limiter: they are the hot write path and the one exposed to
// unattended kiosks.
func RegisterPickup(e *echo.Echo, sc *handler.ScanHandler, qv *handler.QueueViewHandler, ws *handler.WSHandler, sch *handler.SchoolHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(jwtSecret))

	// Queue mutations.
	g.POST("/schools/:id/scan", sc.Scan, limiter)
	g.POST("/schools/:id/scan-vehicle", sc.ScanVehicle, limiter)
	g.DELETE("/queue/:id", sc.Dequeue)

	// Queue views: snapshot for polling clients, websocket for live
	// school rooms.
	g.GET("/schools/:id/queue", qv.SchoolQueue)
	g.GET("/schools/:id/queue/ws", ws.QueueSocket)
	g.GET("/my-queue", qv.MyQueue)

	// School administration.
	admin := e.Group("/v1")
	admin.Use(middleware.JWTAuth(jwtSecret))
	admin.Use(middleware.RequireRole(model.RoleAdmin))
	admin.POST("/schools", sch.Create)
}

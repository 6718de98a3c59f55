package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-booking/internal/handler"
	"github.com/iliyamo/concert-booking/internal/middleware"
)

// RegisterPublisher registers PUBLISHER-scoped endpoints.  Publishing news
// requires a valid JWT carrying the PUBLISHER role.
func RegisterPublisher(e *echo.Echo, n *handler.NewsHandler, jwtSecret string) {
	g := e.Group(
		"/v1/news",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RolePublisher),
	)
	g.POST("", n.Publish)
}

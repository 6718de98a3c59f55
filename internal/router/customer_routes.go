package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-booking/internal/handler"
	"github.com/iliyamo/concert-booking/internal/middleware"
)

// RegisterCustomer registers the booking endpoints under /v1.  All routes
// require a valid JWT.  The rate limiter runs after authentication so
// buckets are keyed by user rather than by IP.
func RegisterCustomer(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	if limiter == nil {
		limiter = noop
	}
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleCustomer, middleware.RolePublisher),
	)
	g.POST("/reservations", h.Reserve, limiter)
	g.POST("/reservations/confirmation", h.Confirm, limiter)
	g.GET("/bookings", h.ListBookings)
}

package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-booking/internal/handler"
)

// RegisterRoutes registers the probes that do not require authentication.
// /healthz reports liveness; /readyz additionally checks the database and
// /stats exposes the in-memory counters.
func RegisterRoutes(e *echo.Echo, db handler.Pinger, stats echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if db != nil {
		e.GET("/readyz", handler.Ready(db))
	}
	if stats != nil {
		e.GET("/stats", stats)
	}
}

// RegisterPublic registers unauthenticated endpoints: the venue layout,
// served through the response cache, and the news subscription
// endpoints.  Subscribers are identified by the id they get at signup,
// not by a user account.
func RegisterPublic(e *echo.Echo, r *handler.ReservationHandler, n *handler.NewsHandler, cache echo.MiddlewareFunc) {
	if cache == nil {
		cache = noop
	}
	e.GET("/v1/venue/layout", r.Layout, cache)

	e.POST("/v1/news/subscriptions", n.Signup)
	e.GET("/v1/news/subscribe", n.Subscribe)
	e.DELETE("/v1/news/subscribe/:id", n.Unsubscribe)
}

func noop(next echo.HandlerFunc) echo.HandlerFunc { return next }

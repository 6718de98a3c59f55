package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/concert-booking/internal/news"
    "github.com/iliyamo/concert-booking/internal/reservation"
)

// Pinger is implemented by *sql.DB.
type Pinger interface {
    PingContext(ctx context.Context) error
}

// Health answers liveness probes with a plain "ok".
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// Ready returns a readiness probe that fails with 503 while the
// database is unreachable.
func Ready(db Pinger) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second)
        defer cancel()
        if err := db.PingContext(ctx); err != nil {
            return c.String(http.StatusServiceUnavailable, "database unavailable")
        }
        return c.String(http.StatusOK, "ready")
    }
}

// Stats reports in-memory counters: holds by status, armed expiry
// timers, bookings waiting to be saved and news subscribers.
func Stats(svc *reservation.Service, b *news.Broker) echo.HandlerFunc {
    return func(c echo.Context) error {
        holds, timers := svc.Stats()
        total, waiting := b.Subscribers()
        return c.JSON(http.StatusOK, echo.Map{
            "holds":            holds,
            "armed_timers":     timers,
            "unsaved_bookings": svc.Unsaved(),
            "news": echo.Map{
                "head":        b.Head(),
                "subscribers": total,
                "waiting":     waiting,
            },
        })
    }
}

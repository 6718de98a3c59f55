package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/concert-booking/internal/reservation"
)

// Error kinds returned in the "error" field of failed responses.
const (
    KindInvalidPerformance    = "INVALID_PERFORMANCE"
    KindInsufficientSeats     = "INSUFFICIENT_SEATS"
    KindPaymentMethodRequired = "PAYMENT_METHOD_REQUIRED"
    KindReservationExpired    = "RESERVATION_EXPIRED"
    KindUnauthenticated       = "UNAUTHENTICATED"
    KindForbidden             = "FORBIDDEN"
    KindLockTimeout           = "LOCK_TIMEOUT"
    KindBadRequest            = "BAD_REQUEST"
    KindInternal              = "INTERNAL"
)

var errorKinds = []struct {
    err    error
    kind   string
    status int
}{
    {reservation.ErrInvalidPerformance, KindInvalidPerformance, http.StatusBadRequest},
    {reservation.ErrInsufficientSeats, KindInsufficientSeats, http.StatusBadRequest},
    {reservation.ErrPaymentMethodRequired, KindPaymentMethodRequired, http.StatusBadRequest},
    {reservation.ErrReservationExpired, KindReservationExpired, http.StatusBadRequest},
    {reservation.ErrForbidden, KindForbidden, http.StatusUnauthorized},
    {reservation.ErrLockTimeout, KindLockTimeout, http.StatusServiceUnavailable},
}

// writeError renders err as {"error": kind, "message": text}.  Errors
// outside the reservation taxonomy are logged and reported as INTERNAL
// without their text.
func writeError(c echo.Context, log *zap.Logger, err error) error {
    for _, k := range errorKinds {
        if errors.Is(err, k.err) {
            if k.kind == KindLockTimeout {
                c.Response().Header().Set("Retry-After", "1")
            }
            return c.JSON(k.status, echo.Map{"error": k.kind, "message": err.Error()})
        }
    }
    log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": KindInternal, "message": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
    return c.JSON(http.StatusBadRequest, echo.Map{"error": KindBadRequest, "message": msg})
}

func unauthenticated(c echo.Context) error {
    return c.JSON(http.StatusUnauthorized, echo.Map{"error": KindUnauthenticated, "message": "authentication required"})
}

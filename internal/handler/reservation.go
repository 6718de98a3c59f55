package handler

import (
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/concert-booking/internal/middleware"
    "github.com/iliyamo/concert-booking/internal/model"
    "github.com/iliyamo/concert-booking/internal/reservation"
    "github.com/iliyamo/concert-booking/internal/seatmap"
)

// ReservationHandler exposes the reserve and confirm workflows.  All
// routes except Layout expect JWTAuth to have run.
type ReservationHandler struct {
    Service *reservation.Service
    Log     *zap.Logger
}

// NewReservationHandler constructs a ReservationHandler.  svc must be
// non-nil.
func NewReservationHandler(svc *reservation.Service, log *zap.Logger) *ReservationHandler {
    if svc == nil {
        panic("nil service passed to NewReservationHandler")
    }
    if log == nil {
        log = zap.NewNop()
    }
    return &ReservationHandler{Service: svc, Log: log}
}

type reserveRequest struct {
    ConcertID uint64 `json:"concert_id"`
    Date      string `json:"date"`
    PriceBand string `json:"price_band"`
    SeatCount int    `json:"seat_count"`
}

// parseDate accepts RFC 3339 timestamps and the "YYYY-MM-DD HH:MM:SS"
// form (UTC) used elsewhere in the booking system.
func parseDate(s string) (time.Time, bool) {
    if t, err := time.Parse(time.RFC3339, s); err == nil {
        return t, true
    }
    if t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
        return t, true
    }
    return time.Time{}, false
}

// Reserve handles POST /v1/reservations.  On success the caller gets
// the held seats and the deadline by which they must be confirmed.
func (h *ReservationHandler) Reserve(c echo.Context) error {
    userID, ok := middleware.UserID(c)
    if !ok {
        return unauthenticated(c)
    }
    var body reserveRequest
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    if body.ConcertID == 0 {
        return badRequest(c, "concert_id is required")
    }
    date, ok := parseDate(body.Date)
    if !ok {
        return badRequest(c, "date must be an RFC 3339 timestamp")
    }

    res, err := h.Service.Reserve(c.Request().Context(), reservation.ReserveRequest{
        Key:       model.NewPartitionKey(body.ConcertID, date, model.PriceBand(strings.ToUpper(body.PriceBand))),
        Owner:     userID,
        SeatCount: body.SeatCount,
    })
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, res)
}

// Confirm handles POST /v1/reservations/confirmation.
func (h *ReservationHandler) Confirm(c echo.Context) error {
    userID, ok := middleware.UserID(c)
    if !ok {
        return unauthenticated(c)
    }
    var body struct {
        HoldID string `json:"hold_id"`
    }
    if err := c.Bind(&body); err != nil || strings.TrimSpace(body.HoldID) == "" {
        return badRequest(c, "hold_id is required")
    }
    if _, err := h.Service.Confirm(c.Request().Context(), body.HoldID, userID); err != nil {
        return writeError(c, h.Log, err)
    }
    return c.NoContent(http.StatusNoContent)
}

type bookingView struct {
    ID          uint64       `json:"id,omitempty"`
    HoldID      string       `json:"hold_id"`
    ConcertID   uint64       `json:"concert_id"`
    Date        time.Time    `json:"date"`
    PriceBand   string       `json:"price_band"`
    Seats       []model.Seat `json:"seats"`
    ConfirmedAt time.Time    `json:"confirmed_at"`
}

// ListBookings handles GET /v1/bookings and returns the caller's
// confirmed bookings, oldest first.
func (h *ReservationHandler) ListBookings(c echo.Context) error {
    userID, ok := middleware.UserID(c)
    if !ok {
        return unauthenticated(c)
    }
    bookings := h.Service.Bookings(userID)
    items := make([]bookingView, 0, len(bookings))
    for _, b := range bookings {
        items = append(items, bookingView{
            ID:          b.ID,
            HoldID:      b.HoldID,
            ConcertID:   b.Key.ConcertID,
            Date:        b.Key.Date,
            PriceBand:   string(b.Key.Band),
            Seats:       b.Seats,
            ConfirmedAt: b.ConfirmedAt,
        })
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}

type bandView struct {
    seatmap.Band
    Capacity int `json:"capacity"`
}

// Layout handles GET /v1/venue/layout.  The response only depends on
// the configured hall, so it is served through the response cache.
func (h *ReservationHandler) Layout(c echo.Context) error {
    layout := h.Service.Layout()
    bands := make(map[model.PriceBand]bandView, len(layout.Bands))
    for _, name := range layout.BandNames() {
        bands[name] = bandView{Band: layout.Bands[name], Capacity: layout.Capacity(name)}
    }
    return c.JSON(http.StatusOK, echo.Map{"bands": bands})
}

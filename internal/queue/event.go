// Package queue defines message payloads exchanged over the message broker.
package queue

import (
    "time"

    "github.com/iliyamo/concert-booking/internal/model"
)

// BookingConfirmedQueue is the durable queue booking.confirmed events are
// routed to.
const BookingConfirmedQueue = "booking.confirmed"

// BookingConfirmedEvent is published when a hold is successfully confirmed.
// It carries enough information for downstream consumers to log or notify
// without querying the primary database.
type BookingConfirmedEvent struct {
    BookingID     uint64   `json:"booking_id,omitempty"`
    HoldID        string   `json:"hold_id"`
    UserID        uint64   `json:"user_id"`
    ConcertID     uint64   `json:"concert_id"`
    PerformanceAt string   `json:"performance_at"`
    PriceBand     string   `json:"price_band"`
    SeatLabels    []string `json:"seats"`
    ConfirmedAt   string   `json:"confirmed_at"`
}

// NewBookingConfirmedEvent flattens a booking into its wire form.  Times
// are rendered as RFC 3339 in UTC.
func NewBookingConfirmedEvent(b model.Booking) BookingConfirmedEvent {
    labels := make([]string, 0, len(b.Seats))
    for _, s := range b.Seats {
        labels = append(labels, s.String())
    }
    return BookingConfirmedEvent{
        BookingID:     b.ID,
        HoldID:        b.HoldID,
        UserID:        b.Owner,
        ConcertID:     b.Key.ConcertID,
        PerformanceAt: b.Key.Date.UTC().Format(time.RFC3339),
        PriceBand:     string(b.Key.Band),
        SeatLabels:    labels,
        ConfirmedAt:   b.ConfirmedAt.UTC().Format(time.RFC3339),
    }
}

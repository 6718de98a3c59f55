package model

import (
    "fmt"
    "time"
)

// PriceBand names one of the seating tiers of the venue.  Every seat
// belongs to exactly one band and all seats of a hold share the same
// band.
type PriceBand string

const (
    PriceBandA PriceBand = "A"
    PriceBandB PriceBand = "B"
    PriceBandC PriceBand = "C"
)

// Seat identifies a physical seat by its row and its number within
// the row.  Seats carry no generated id; two seats are the same seat
// when both coordinates match.
//
// Fields:
//  Row    – 1-based row index counted from the stage.
//  Number – 1-based seat number within the row.
type Seat struct {
    Row    int `json:"row"`    // booking_seats.seat_row
    Number int `json:"number"` // booking_seats.seat_number
}

func (s Seat) String() string { return fmt.Sprintf("R%d-S%d", s.Row, s.Number) }

// PartitionKey is the unit of seat contention: one price band of one
// concert performance.  A seat in band A at one date is independent of
// every other band, date and concert, so all allocation races are
// scoped to this key.
//
// Fields:
//  ConcertID – concert being performed.
//  Date      – scheduled start of the performance (UTC, second precision).
//  Band      – price band of the requested seats.
type PartitionKey struct {
    ConcertID uint64    // bookings.concert_id
    Date      time.Time // bookings.performance_at
    Band      PriceBand // bookings.price_band
}

// NewPartitionKey builds a key with its date normalised so that keys
// for the same performance compare equal regardless of the time zone
// or monotonic reading carried by the caller's time.Time.
func NewPartitionKey(concertID uint64, date time.Time, band PriceBand) PartitionKey {
    return PartitionKey{ConcertID: concertID, Date: date.UTC().Truncate(time.Second), Band: band}
}

// String renders the key in the form used for map lookups and logs.
func (k PartitionKey) String() string {
    return fmt.Sprintf("%d|%s|%s", k.ConcertID, k.Date.UTC().Format(time.RFC3339), k.Band)
}

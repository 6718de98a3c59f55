package model

import "time"

// HoldStatus is the lifecycle state of a hold.  PENDING is the only
// non-terminal state; a hold moves to CONFIRMED when its owner
// confirms it or to EXPIRED when its time-to-live elapses first.
type HoldStatus string

const (
    HoldPending   HoldStatus = "PENDING"
    HoldConfirmed HoldStatus = "CONFIRMED"
    HoldExpired   HoldStatus = "EXPIRED"
)

// Hold is an unconfirmed, time-bounded reservation of one or more
// seats in a single partition.  While PENDING its seats are excluded
// from availability for the partition.  EXPIRED holds are dropped
// from the ledger; CONFIRMED holds are kept as bookings and never
// change again.
//
// Fields:
//  ID        – opaque hold identifier returned to the client.
//  Key       – partition the seats were taken from.
//  Owner     – user who placed the hold.
//  Seats     – distinct seats held, never empty.
//  CreatedAt – when the hold was created.
//  ExpiresAt – when the hold is released if still PENDING.
//  Status    – current lifecycle state.
type Hold struct {
    ID        string
    Key       PartitionKey
    Owner     uint64
    Seats     []Seat
    CreatedAt time.Time
    ExpiresAt time.Time
    Status    HoldStatus
}

// Booking is a confirmed hold.  It is the persisted form of a
// reservation once the owner has completed checkout.
//
// Fields:
//  ID          – database id (zero until stored).
//  HoldID      – id of the hold that was promoted.
//  Key         – partition the seats belong to.
//  Owner       – user who owns the booking.
//  Seats       – booked seats.
//  ConfirmedAt – when the hold was promoted.
type Booking struct {
    ID          uint64       // bookings.id
    HoldID      string       // bookings.hold_id
    Key         PartitionKey // bookings.concert_id, performance_at, price_band
    Owner       uint64       // bookings.user_id
    Seats       []Seat       // booking_seats rows
    ConfirmedAt time.Time    // bookings.confirmed_at
}

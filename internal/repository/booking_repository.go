package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/concert-booking/internal/model"
)

// BookingRepo persists confirmed bookings.  A booking is one row of
// bookings plus one booking_seats row per seat; both are written in a
// single transaction.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a BookingRepo bound to db.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// SaveBooking inserts b and its seats and returns the generated id.
// Saving the same hold again returns the id of the stored booking, so
// a retry after an ambiguous failure is harmless.
func (r *BookingRepo) SaveBooking(ctx context.Context, b model.Booking) (id uint64, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const q = `INSERT INTO bookings (hold_id, user_id, concert_id, performance_at, price_band, confirmed_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.HoldID, b.Owner, b.Key.ConcertID, b.Key.Date.UTC(), string(b.Key.Band), b.ConfirmedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			_ = tx.Rollback()
			return r.idForHold(ctx, b.HoldID)
		}
		return 0, err
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	id = uint64(lastID)

	if err = insertSeatsTx(ctx, tx, id, b.Seats); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *BookingRepo) idForHold(ctx context.Context, holdID string) (uint64, error) {
	var id uint64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM bookings WHERE hold_id = ?`, holdID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("booking for hold %s: %w", holdID, err)
	}
	return id, nil
}

// insertSeatsTx writes all seats of a booking in one statement.
func insertSeatsTx(ctx context.Context, tx *sql.Tx, bookingID uint64, seats []model.Seat) error {
	if len(seats) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO booking_seats (booking_id, seat_row, seat_number) VALUES `)
	args := make([]interface{}, 0, len(seats)*3)
	for i, s := range seats {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?)")
		args = append(args, bookingID, s.Row, s.Number)
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// ListConfirmed returns every stored booking with its seats, ordered
// by id.  It is used to rebuild the in-memory ledger at startup.
func (r *BookingRepo) ListConfirmed(ctx context.Context) ([]model.Booking, error) {
	const q = `SELECT b.id, b.hold_id, b.user_id, b.concert_id, b.performance_at, b.price_band, b.confirmed_at,
                      bs.seat_row, bs.seat_number
               FROM bookings b
               JOIN booking_seats bs ON bs.booking_id = b.id
               ORDER BY b.id, bs.seat_row, bs.seat_number`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		var (
			b        model.Booking
			band     string
			date     time.Time
			row, num int
		)
		if err := rows.Scan(&b.ID, &b.HoldID, &b.Owner, &b.Key.ConcertID, &date, &band, &b.ConfirmedAt, &row, &num); err != nil {
			return nil, err
		}
		seat := model.Seat{Row: row, Number: num}
		if n := len(out); n > 0 && out[n-1].ID == b.ID {
			out[n-1].Seats = append(out[n-1].Seats, seat)
			continue
		}
		b.Key = model.NewPartitionKey(b.Key.ConcertID, date, model.PriceBand(band))
		b.ConfirmedAt = b.ConfirmedAt.UTC()
		b.Seats = []model.Seat{seat}
		out = append(out, b)
	}
	return out, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"time"
)

// ConcertRepo reads the concert schedule.  A concert runs at a date
// when a concert_dates row exists for that exact start time.
type ConcertRepo struct {
	db *sql.DB
}

// NewConcertRepo returns a ConcertRepo bound to db.
func NewConcertRepo(db *sql.DB) *ConcertRepo { return &ConcertRepo{db: db} }

// RunsAt reports whether concertID is scheduled to start at date.
func (r *ConcertRepo) RunsAt(ctx context.Context, concertID uint64, date time.Time) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM concert_dates WHERE concert_id = ? AND performance_at = ?)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, q, concertID, date.UTC()).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

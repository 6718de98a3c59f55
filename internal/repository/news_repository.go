package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/concert-booking/internal/model"
)

// NewsRepo stores the news feed.  The sequence number assigned by the
// broker is the primary key, so replaying the table restores the feed
// in publication order.
type NewsRepo struct {
	db *sql.DB
}

// NewNewsRepo returns a NewsRepo bound to db.
func NewNewsRepo(db *sql.DB) *NewsRepo { return &NewsRepo{db: db} }

// Insert stores one published item.
func (r *NewsRepo) Insert(ctx context.Context, item model.NewsItem) error {
	const q = `INSERT INTO news_items (seq, published_at, content) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, item.Seq, item.Timestamp.UTC(), item.Content); err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("news item %d: %w", item.Seq, ErrConflict)
		}
		return err
	}
	return nil
}

// List returns every stored item ordered by sequence number.
func (r *NewsRepo) List(ctx context.Context) ([]model.NewsItem, error) {
	const q = `SELECT seq, published_at, content FROM news_items ORDER BY seq`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.NewsItem
	for rows.Next() {
		var it model.NewsItem
		if err := rows.Scan(&it.Seq, &it.Timestamp, &it.Content); err != nil {
			return nil, err
		}
		it.Timestamp = it.Timestamp.UTC()
		out = append(out, it)
	}
	return out, rows.Err()
}

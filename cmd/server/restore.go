package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/concert-booking/internal/model"
	"github.com/iliyamo/concert-booking/internal/news"
	"github.com/iliyamo/concert-booking/internal/reservation"
)

type bookingSource interface {
	ListConfirmed(ctx context.Context) ([]model.Booking, error)
}

type newsSource interface {
	List(ctx context.Context) ([]model.NewsItem, error)
}

// restore replays persisted bookings into the ledger and persisted news
// into the broker so a restart neither resells seats nor reuses sequence
// numbers.
func restore(ctx context.Context, ledger *reservation.Ledger, bookings bookingSource,
	broker *news.Broker, items newsSource, log *zap.Logger) error {
	bs, err := bookings.ListConfirmed(ctx)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	for _, b := range bs {
		if err := ledger.RestoreBooking(ctx, b); err != nil {
			return fmt.Errorf("restore booking %d: %w", b.ID, err)
		}
	}

	feed, err := items.List(ctx)
	if err != nil {
		return fmt.Errorf("load news: %w", err)
	}
	if err := broker.Restore(feed); err != nil {
		return err
	}
	log.Info("state restored", zap.Int("bookings", len(bs)), zap.Int("news", len(feed)))
	return nil
}

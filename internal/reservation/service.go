package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/concert-booking/internal/model"
	"github.com/iliyamo/concert-booking/internal/seatmap"
)

// PerformanceCatalog answers whether a concert is scheduled at a date.
type PerformanceCatalog interface {
	RunsAt(ctx context.Context, concertID uint64, date time.Time) (bool, error)
}

// PaymentDirectory answers whether a user has a payment method on file.
type PaymentDirectory interface {
	HasPaymentMethod(ctx context.Context, userID uint64) (bool, error)
}

// BookingStore persists confirmed bookings and returns their id.
type BookingStore interface {
	SaveBooking(ctx context.Context, b model.Booking) (uint64, error)
}

// EventPublisher announces confirmed bookings to other services.
type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, b model.Booking) error
}

// ReserveRequest asks for SeatCount seats of one partition on behalf
// of Owner.
type ReserveRequest struct {
	Key       model.PartitionKey
	Owner     uint64
	SeatCount int
}

// Reservation is the result of a successful Reserve: a pending hold
// that must be confirmed before ExpiresAt.
type Reservation struct {
	HoldID    string             `json:"hold_id"`
	Key       model.PartitionKey `json:"-"`
	Seats     []model.Seat       `json:"seats"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// Service runs the reserve and confirm workflows on top of a Ledger.
type Service struct {
	layout    seatmap.Layout
	ledger    *Ledger
	scheduler *ExpiryScheduler
	catalog   PerformanceCatalog
	payments  PaymentDirectory
	store     BookingStore
	events    EventPublisher
	log       *zap.Logger

	mu      sync.Mutex
	unsaved []model.Booking // confirmed but not yet accepted by store
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithBookingStore persists every confirmed booking through s.
func WithBookingStore(s BookingStore) ServiceOption {
	return func(svc *Service) { svc.store = s }
}

// WithEventPublisher publishes a booking.confirmed event through p
// after every confirmation.
func WithEventPublisher(p EventPublisher) ServiceOption {
	return func(svc *Service) { svc.events = p }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(log *zap.Logger) ServiceOption {
	return func(svc *Service) {
		if log != nil {
			svc.log = log
		}
	}
}

// NewService wires a Service.  catalog and payments are required.
func NewService(layout seatmap.Layout, ledger *Ledger, scheduler *ExpiryScheduler,
	catalog PerformanceCatalog, payments PaymentDirectory, opts ...ServiceOption) *Service {
	s := &Service{
		layout:    layout,
		ledger:    ledger,
		scheduler: scheduler,
		catalog:   catalog,
		payments:  payments,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout returns the seat layout the service allocates from.
func (s *Service) Layout() seatmap.Layout { return s.layout }

// Reserve places a pending hold on req.SeatCount seats of req.Key.
// The seats are selected and held under the partition lock, so two
// concurrent reservations never receive the same seat.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if req.SeatCount <= 0 {
		return nil, ErrInvalidSeatCount
	}
	if !s.layout.HasBand(req.Key.Band) {
		return nil, ErrUnknownPriceBand
	}
	key := model.NewPartitionKey(req.Key.ConcertID, req.Key.Date, req.Key.Band)

	ok, err := s.catalog.RunsAt(ctx, key.ConcertID, key.Date)
	if err != nil {
		return nil, fmt.Errorf("check performance: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: concert %d is not scheduled at %s",
			ErrInvalidPerformance, key.ConcertID, key.Date.Format(time.RFC3339))
	}

	var hold model.Hold
	err = s.ledger.WithPartitionLock(ctx, key, func(p *Partition) error {
		seats, ok := s.layout.SelectSeats(key.Band, req.SeatCount, p.UnavailableSeats())
		if !ok {
			return ErrInsufficientSeats
		}
		h, err := p.CreateHold(req.Owner, seats)
		if err != nil {
			return err
		}
		hold = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.scheduler.Arm(hold.ID, hold.ExpiresAt.Sub(s.ledger.Now()))
	s.log.Info("hold created",
		zap.String("hold_id", hold.ID),
		zap.Uint64("user_id", hold.Owner),
		zap.String("partition", key.String()),
		zap.Int("seats", len(hold.Seats)),
		zap.Time("expires_at", hold.ExpiresAt))

	return &Reservation{
		HoldID:    hold.ID,
		Key:       key,
		Seats:     hold.Seats,
		ExpiresAt: hold.ExpiresAt,
	}, nil
}

// Confirm turns the caller's pending hold into a booking.  A caller
// without a payment method loses the hold immediately.
func (s *Service) Confirm(ctx context.Context, holdID string, owner uint64) (*model.Booking, error) {
	has, err := s.payments.HasPaymentMethod(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("check payment method: %w", err)
	}
	if !has {
		if err := s.ledger.ReleaseOwned(holdID, owner); err == nil {
			s.scheduler.Cancel(holdID)
			s.log.Info("hold released: no payment method",
				zap.String("hold_id", holdID), zap.Uint64("user_id", owner))
		}
		return nil, ErrPaymentMethodRequired
	}

	b, err := s.ledger.Promote(holdID, owner)
	switch {
	case errors.Is(err, ErrHoldNotFound), errors.Is(err, ErrHoldExpired):
		s.scheduler.Cancel(holdID)
		return nil, ErrReservationExpired
	case errors.Is(err, ErrNotOwner):
		return nil, ErrForbidden
	case err != nil:
		return nil, err
	}
	s.scheduler.Cancel(holdID)

	// the booking stands even if the caller goes away now
	ctx = context.WithoutCancel(ctx)
	if s.store != nil {
		if err := s.save(ctx, &b); err != nil {
			s.log.Error("persist booking failed; queued for retry",
				zap.String("hold_id", holdID), zap.Error(err))
			s.mu.Lock()
			s.unsaved = append(s.unsaved, b)
			s.mu.Unlock()
		}
	}
	if s.events != nil {
		if err := s.events.PublishBookingConfirmed(ctx, b); err != nil {
			s.log.Warn("publish booking.confirmed failed", zap.String("hold_id", holdID), zap.Error(err))
		}
	}

	s.log.Info("hold confirmed",
		zap.String("hold_id", holdID),
		zap.Uint64("user_id", owner),
		zap.String("partition", b.Key.String()))
	return &b, nil
}

func (s *Service) save(ctx context.Context, b *model.Booking) error {
	id, err := s.store.SaveBooking(ctx, *b)
	if err != nil {
		return err
	}
	b.ID = id
	s.ledger.SetBookingID(b.HoldID, id)
	return nil
}

// RetryUnsaved saves the confirmed bookings whose earlier save failed
// and returns those that are still unsaved.
func (s *Service) RetryUnsaved(ctx context.Context) []model.Booking {
	s.mu.Lock()
	batch := s.unsaved
	s.unsaved = nil
	s.mu.Unlock()
	if s.store == nil || len(batch) == 0 {
		return nil
	}

	var failed []model.Booking
	for i := range batch {
		if err := s.save(ctx, &batch[i]); err != nil {
			s.log.Warn("retry persist booking failed", zap.String("hold_id", batch[i].HoldID), zap.Error(err))
			failed = append(failed, batch[i])
			continue
		}
		s.log.Info("booking persisted on retry",
			zap.String("hold_id", batch[i].HoldID), zap.Uint64("booking_id", batch[i].ID))
	}

	s.mu.Lock()
	s.unsaved = append(failed, s.unsaved...)
	left := append([]model.Booking(nil), s.unsaved...)
	s.mu.Unlock()
	return left
}

// RunRetries calls RetryUnsaved every interval until ctx is done.
func (s *Service) RunRetries(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.RetryUnsaved(ctx)
		}
	}
}

// Unsaved returns the number of confirmed bookings waiting to be saved.
func (s *Service) Unsaved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unsaved)
}

// Bookings lists the confirmed bookings of owner, oldest first.
func (s *Service) Bookings(owner uint64) []model.Booking {
	return s.ledger.BookingsFor(owner)
}

// Stats reports the ledger counters together with the number of
// armed expiry timers.
func (s *Service) Stats() (Stats, int) {
	return s.ledger.Stats(), s.scheduler.Pending()
}

package reservation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/concert-booking/internal/model"
	"github.com/iliyamo/concert-booking/internal/reservation"
	"github.com/iliyamo/concert-booking/internal/seatmap"
)

type MockCatalog struct{ mock.Mock }

func (m *MockCatalog) RunsAt(ctx context.Context, concertID uint64, date time.Time) (bool, error) {
	args := m.Called(ctx, concertID, date)
	return args.Bool(0), args.Error(1)
}

type MockPayments struct{ mock.Mock }

func (m *MockPayments) HasPaymentMethod(ctx context.Context, userID uint64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type MockStore struct{ mock.Mock }

func (m *MockStore) SaveBooking(ctx context.Context, b model.Booking) (uint64, error) {
	args := m.Called(ctx, b)
	return args.Get(0).(uint64), args.Error(1)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) PublishBookingConfirmed(ctx context.Context, b model.Booking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

var performance = time.Date(2026, 6, 12, 19, 30, 0, 0, time.UTC)

// tenSeats is a hall with a single price band of ten seats.
func tenSeats() seatmap.Layout {
	return seatmap.Layout{Bands: map[model.PriceBand]seatmap.Band{
		model.PriceBandA: {Rows: []seatmap.RowRange{{First: 1, Last: 1}}, SeatsPerRow: 10},
	}}
}

type fixture struct {
	svc       *reservation.Service
	ledger    *reservation.Ledger
	scheduler *reservation.ExpiryScheduler
	catalog   *MockCatalog
	payments  *MockPayments
}

func newFixture(t *testing.T, layout seatmap.Layout, ttl time.Duration, ledgerOpts []reservation.LedgerOption, opts ...reservation.ServiceOption) *fixture {
	t.Helper()
	catalog := new(MockCatalog)
	catalog.On("RunsAt", mock.Anything, uint64(7), performance).Return(true, nil).Maybe()
	catalog.On("RunsAt", mock.Anything, mock.Anything, mock.Anything).Return(false, nil).Maybe()
	payments := new(MockPayments)
	payments.On("HasPaymentMethod", mock.Anything, uint64(1)).Return(true, nil).Maybe()
	payments.On("HasPaymentMethod", mock.Anything, uint64(2)).Return(true, nil).Maybe()
	payments.On("HasPaymentMethod", mock.Anything, mock.Anything).Return(false, nil).Maybe()

	ledger := reservation.NewLedger(ttl, ledgerOpts...)
	scheduler := reservation.NewExpiryScheduler(ledger, nil)
	t.Cleanup(scheduler.Stop)
	return &fixture{
		svc:       reservation.NewService(layout, ledger, scheduler, catalog, payments, opts...),
		ledger:    ledger,
		scheduler: scheduler,
		catalog:   catalog,
		payments:  payments,
	}
}

func request(owner uint64, count int) reservation.ReserveRequest {
	return reservation.ReserveRequest{
		Key:       model.NewPartitionKey(7, performance, model.PriceBandA),
		Owner:     owner,
		SeatCount: count,
	}
}

func TestReserve_Success(t *testing.T) {
	f := newFixture(t, tenSeats(), time.Minute, nil)

	res, err := f.svc.Reserve(context.Background(), request(1, 3))
	require.NoError(t, err)
	assert.NotEmpty(t, res.HoldID)
	assert.Equal(t, []model.Seat{{Row: 1, Number: 1}, {Row: 1, Number: 2}, {Row: 1, Number: 3}}, res.Seats)
	assert.WithinDuration(t, time.Now().Add(time.Minute), res.ExpiresAt, 5*time.Second)
	assert.Equal(t, 1, f.scheduler.Pending())

	res2, err := f.svc.Reserve(context.Background(), request(2, 2))
	require.NoError(t, err)
	assert.Equal(t, []model.Seat{{Row: 1, Number: 4}, {Row: 1, Number: 5}}, res2.Seats)
}

func TestReserve_InvalidPerformance(t *testing.T) {
	f := newFixture(t, tenSeats(), time.Minute, nil)

	cases := map[string]reservation.ReserveRequest{
		"zero seats":    request(1, 0),
		"negative":      request(1, -2),
		"unknown band":  {Key: model.NewPartitionKey(7, performance, model.PriceBandB), Owner: 1, SeatCount: 1},
		"not scheduled": {Key: model.NewPartitionKey(7, performance.Add(24*time.Hour), model.PriceBandA), Owner: 1, SeatCount: 1},
		"other concert": {Key: model.NewPartitionKey(8, performance, model.PriceBandA), Owner: 1, SeatCount: 1},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Reserve(context.Background(), req)
			assert.ErrorIs(t, err, reservation.ErrInvalidPerformance)
		})
	}
	assert.Equal(t, 0, f.scheduler.Pending())
}

func TestReserve_CatalogError(t *testing.T) {
	catalog := new(MockCatalog)
	boom := errors.New("db down")
	catalog.On("RunsAt", mock.Anything, mock.Anything, mock.Anything).Return(false, boom)
	ledger := reservation.NewLedger(time.Minute)
	scheduler := reservation.NewExpiryScheduler(ledger, nil)
	defer scheduler.Stop()
	svc := reservation.NewService(tenSeats(), ledger, scheduler, catalog, new(MockPayments))

	_, err := svc.Reserve(context.Background(), request(1, 1))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, reservation.ErrInvalidPerformance)
}

func TestReserve_InsufficientSeatsLeavesPartitionUnchanged(t *testing.T) {
	f := newFixture(t, tenSeats(), time.Minute, nil)
	_, err := f.svc.Reserve(context.Background(), request(1, 8))
	require.NoError(t, err)

	before, err := f.ledger.UnavailableSeats(context.Background(), request(1, 1).Key)
	require.NoError(t, err)

	_, err = f.svc.Reserve(context.Background(), request(2, 3))
	assert.ErrorIs(t, err, reservation.ErrInsufficientSeats)

	after, err := f.ledger.UnavailableSeats(context.Background(), request(1, 1).Key)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, f.scheduler.Pending())
}

func TestReserve_ConcurrentRequestsForLastSeats(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, tenSeats(), time.Minute, nil)

		var (
			wg   sync.WaitGroup
			errs [2]error
		)
		for j := range errs {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				_, errs[j] = f.svc.Reserve(context.Background(), request(uint64(j+1), 6))
			}(j)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				require.ErrorIs(t, err, reservation.ErrInsufficientSeats)
			}
		}
		require.Equal(t, 1, succeeded)

		_, err := f.svc.Reserve(context.Background(), request(1, 4))
		require.NoError(t, err)
		_, err = f.svc.Reserve(context.Background(), request(1, 1))
		require.ErrorIs(t, err, reservation.ErrInsufficientSeats)
	}
}

func TestReserve_ConcurrentHoldsAreDisjoint(t *testing.T) {
	f := newFixture(t, seatmap.DefaultLayout(), time.Minute, nil)
	capacity := seatmap.DefaultLayout().Capacity(model.PriceBandA)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seats = make(map[model.Seat]string)
		dupes int
		total int
	)
	for i := 0; i < 120; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Reserve(context.Background(), request(uint64(i%2+1), 2))
			if err != nil {
				assert.ErrorIs(t, err, reservation.ErrInsufficientSeats)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, s := range res.Seats {
				if _, ok := seats[s]; ok {
					dupes++
				}
				seats[s] = res.HoldID
				total++
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, dupes)
	assert.Equal(t, capacity, total)
	assert.Len(t, seats, capacity)
}

func TestReserve_ExpiredHoldFreesSeats(t *testing.T) {
	f := newFixture(t, tenSeats(), 30*time.Millisecond, nil)

	res, err := f.svc.Reserve(context.Background(), request(1, 10))
	require.NoError(t, err)
	_, err = f.svc.Reserve(context.Background(), request(2, 1))
	require.ErrorIs(t, err, reservation.ErrInsufficientSeats)

	assert.Eventually(t, func() bool {
		_, err := f.svc.Reserve(context.Background(), request(2, 10))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err = f.svc.Confirm(context.Background(), res.HoldID, 1)
	assert.ErrorIs(t, err, reservation.ErrReservationExpired)
}

func TestReserve_LockTimeout(t *testing.T) {
	f := newFixture(t, tenSeats(), time.Minute, []reservation.LedgerOption{reservation.WithLockWait(20 * time.Millisecond)})
	key := request(1, 1).Key

	entered := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = f.ledger.WithPartitionLock(context.Background(), key, func(*reservation.Partition) error {
			close(entered)
			<-done
			return nil
		})
	}()
	<-entered

	_, err := f.svc.Reserve(context.Background(), request(1, 1))
	assert.ErrorIs(t, err, reservation.ErrLockTimeout)
	close(done)

	assert.Eventually(t, func() bool {
		_, err := f.svc.Reserve(context.Background(), request(1, 1))
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestConfirm_Success(t *testing.T) {
	store := new(MockStore)
	store.On("SaveBooking", mock.Anything, mock.AnythingOfType("model.Booking")).Return(uint64(99), nil).Once()
	events := new(MockPublisher)
	events.On("PublishBookingConfirmed", mock.Anything, mock.MatchedBy(func(b model.Booking) bool {
		return b.ID == 99 && b.Owner == 1 && len(b.Seats) == 2
	})).Return(nil).Once()

	f := newFixture(t, tenSeats(), time.Minute, nil,
		reservation.WithBookingStore(store), reservation.WithEventPublisher(events))

	res, err := f.svc.Reserve(context.Background(), request(1, 2))
	require.NoError(t, err)

	b, err := f.svc.Confirm(context.Background(), res.HoldID, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), b.ID)
	assert.Equal(t, res.Seats, b.Seats)
	assert.Equal(t, 0, f.scheduler.Pending())

	bookings := f.svc.Bookings(1)
	require.Len(t, bookings, 1)
	assert.Equal(t, res.HoldID, bookings[0].HoldID)
	assert.Equal(t, uint64(99), bookings[0].ID)

	_, err = f.svc.Confirm(context.Background(), res.HoldID, 1)
	assert.ErrorIs(t, err, reservation.ErrReservationExpired)

	// confirmed seats are never handed out again
	_, err = f.svc.Reserve(context.Background(), request(2, 9))
	assert.ErrorIs(t, err, reservation.ErrInsufficientSeats)

	store.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestConfirm_PersistenceFailureKeepsBooking(t *testing.T) {
	store := new(MockStore)
	store.On("SaveBooking", mock.Anything, mock.Anything).Return(uint64(0), errors.New("deadlock")).Twice()
	store.On("SaveBooking", mock.Anything, mock.MatchedBy(func(b model.Booking) bool {
		return b.Owner == 1 && len(b.Seats) == 1
	})).Return(uint64(42), nil).Once()
	events := new(MockPublisher)
	events.On("PublishBookingConfirmed", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	f := newFixture(t, tenSeats(), time.Minute, nil,
		reservation.WithBookingStore(store), reservation.WithEventPublisher(events))
	res, err := f.svc.Reserve(context.Background(), request(1, 1))
	require.NoError(t, err)

	b, err := f.svc.Confirm(context.Background(), res.HoldID, 1)
	require.NoError(t, err)
	assert.Zero(t, b.ID)
	assert.Len(t, f.svc.Bookings(1), 1)
	assert.Equal(t, 1, f.svc.Unsaved())

	// the store is still down
	left := f.svc.RetryUnsaved(context.Background())
	require.Len(t, left, 1)
	assert.Equal(t, res.HoldID, left[0].HoldID)

	assert.Empty(t, f.svc.RetryUnsaved(context.Background()))
	assert.Zero(t, f.svc.Unsaved())
	assert.Equal(t, uint64(42), f.svc.Bookings(1)[0].ID)
	store.AssertExpectations(t)
}

func TestRunRetries_SavesInBackground(t *testing.T) {
	store := new(MockStore)
	store.On("SaveBooking", mock.Anything, mock.Anything).Return(uint64(0), errors.New("gone away")).Once()
	store.On("SaveBooking", mock.Anything, mock.Anything).Return(uint64(5), nil)

	f := newFixture(t, tenSeats(), time.Minute, nil, reservation.WithBookingStore(store))
	res, err := f.svc.Reserve(context.Background(), request(1, 2))
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), res.HoldID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, f.svc.Unsaved())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.svc.RunRetries(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool { return f.svc.Unsaved() == 0 }, time.Second, 5*time.Millisecond)
}

func TestConfirm_Errors(t *testing.T) {
	f := newFixture(t, tenSeats(), time.Minute, nil)
	res, err := f.svc.Reserve(context.Background(), request(1, 2))
	require.NoError(t, err)

	t.Run("unknown hold", func(t *testing.T) {
		_, err := f.svc.Confirm(context.Background(), "does-not-exist", 1)
		assert.ErrorIs(t, err, reservation.ErrReservationExpired)
	})

	t.Run("other user", func(t *testing.T) {
		_, err := f.svc.Confirm(context.Background(), res.HoldID, 2)
		assert.ErrorIs(t, err, reservation.ErrForbidden)
		h, ok := f.ledger.Get(res.HoldID)
		require.True(t, ok)
		assert.Equal(t, model.HoldPending, h.Status)
	})

	t.Run("payment check fails", func(t *testing.T) {
		payments := new(MockPayments)
		payments.On("HasPaymentMethod", mock.Anything, uint64(1)).Return(false, errors.New("timeout"))
		svc := reservation.NewService(tenSeats(), f.ledger, f.scheduler, f.catalog, payments)
		_, err := svc.Confirm(context.Background(), res.HoldID, 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, reservation.ErrPaymentMethodRequired)
		_, ok := f.ledger.Get(res.HoldID)
		assert.True(t, ok)
	})
}

func TestConfirm_PaymentMethodRequiredReleasesHold(t *testing.T) {
	f := newFixture(t, tenSeats(), time.Minute, nil)
	const noCard = uint64(3)

	res, err := f.svc.Reserve(context.Background(), request(noCard, 10))
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), res.HoldID, noCard)
	assert.ErrorIs(t, err, reservation.ErrPaymentMethodRequired)
	assert.Equal(t, 0, f.scheduler.Pending())

	_, err = f.svc.Reserve(context.Background(), request(1, 10))
	assert.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), res.HoldID, noCard)
	assert.ErrorIs(t, err, reservation.ErrPaymentMethodRequired)
}

func TestConfirm_PaymentMethodRequiredKeepsOtherUsersHold(t *testing.T) {
	f := newFixture(t, tenSeats(), time.Minute, nil)
	res, err := f.svc.Reserve(context.Background(), request(1, 2))
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), res.HoldID, 3)
	assert.ErrorIs(t, err, reservation.ErrPaymentMethodRequired)

	_, err = f.svc.Confirm(context.Background(), res.HoldID, 1)
	assert.NoError(t, err)
}

func TestConfirm_AfterDeadlineBeforeTimer(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f := newFixture(t, tenSeats(), time.Minute, []reservation.LedgerOption{reservation.WithClock(clock)})

	res, err := f.svc.Reserve(context.Background(), request(1, 1))
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	_, err = f.svc.Confirm(context.Background(), res.HoldID, 1)
	assert.ErrorIs(t, err, reservation.ErrReservationExpired)
	assert.Empty(t, f.svc.Bookings(1))
}

func TestConfirm_RacesExpiry(t *testing.T) {
	f := newFixture(t, tenSeats(), 2*time.Millisecond, nil)

	for i := 0; i < 50; i++ {
		res, err := f.svc.Reserve(context.Background(), request(1, 1))
		if errors.Is(err, reservation.ErrInsufficientSeats) {
			break
		}
		require.NoError(t, err)

		time.Sleep(time.Duration(i%4) * time.Millisecond)
		b, err := f.svc.Confirm(context.Background(), res.HoldID, 1)
		if err != nil {
			require.ErrorIs(t, err, reservation.ErrReservationExpired)
			_, ok := f.ledger.Get(res.HoldID)
			assert.False(t, ok)
			continue
		}
		// a confirmed hold is never released by its timer
		time.Sleep(5 * time.Millisecond)
		h, ok := f.ledger.Get(b.HoldID)
		require.True(t, ok)
		assert.Equal(t, model.HoldConfirmed, h.Status)
	}
}

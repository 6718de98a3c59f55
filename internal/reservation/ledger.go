// Package reservation implements seat allocation for concert
// performances: the ledger of holds and bookings, the timers that
// release unconfirmed holds, and the service that ties them to the
// seat map and the external collaborators.
package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-booking/internal/model"
)

// Ledger is the single source of truth for holds and bookings.  Seat
// allocation is serialised per partition; holds that belong to other
// partitions never wait on each other.  The status of every hold is
// guarded by a mutex of its own so that confirmation and expiry of the
// same hold are mutually exclusive.
type Ledger struct {
	ttl      time.Duration
	lockWait time.Duration
	now      func() time.Time
	log      *zap.Logger

	partitions sync.Map // PartitionKey.String() -> *partition
	holds      sync.Map // hold id -> *entry
}

// partition owns the holds of one PartitionKey.  sem is a one-slot
// channel used as a mutex so that waiting for it can be abandoned when
// the caller's context ends.  entries is only touched while sem is
// held.
type partition struct {
	key     model.PartitionKey
	sem     chan struct{}
	entries map[string]*entry
}

// entry wraps a hold with the mutex that guards its status.  The seat
// slice, key and owner never change after creation and may be read
// without the mutex.
type entry struct {
	mu          sync.Mutex
	hold        model.Hold
	confirmedAt time.Time
	bookingID   uint64
	part        *partition
}

// LedgerOption customises a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the time source.  Tests use it to move holds
// past their deadline without sleeping.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLockWait bounds how long WithPartitionLock waits for a busy
// partition.  Zero waits as long as the caller's context allows.
func WithLockWait(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.lockWait = d
		}
	}
}

// WithLedgerLogger sets the logger.
func WithLedgerLogger(log *zap.Logger) LedgerOption {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLedger returns an empty ledger whose holds live for ttl.
func NewLedger(ttl time.Duration, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		ttl: ttl,
		now: time.Now,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TTL returns the lifetime given to new holds.
func (l *Ledger) TTL() time.Duration { return l.ttl }

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time { return l.now() }

func (l *Ledger) partitionFor(key model.PartitionKey) *partition {
	id := key.String()
	if p, ok := l.partitions.Load(id); ok {
		return p.(*partition)
	}
	p, _ := l.partitions.LoadOrStore(id, &partition{
		key:     key,
		sem:     make(chan struct{}, 1),
		entries: make(map[string]*entry),
	})
	return p.(*partition)
}

func (p *partition) lock(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrLockTimeout
	}
}

func (p *partition) unlock() { <-p.sem }

// Partition is the view of a locked partition handed to the
// WithPartitionLock callback.  It is only valid inside the callback.
type Partition struct {
	l        *Ledger
	p        *partition
	released bool
}

// Key returns the partition's key.
func (tx *Partition) Key() model.PartitionKey { return tx.p.key }

// UnavailableSeats returns every seat held by a pending hold or a
// confirmed booking of the partition.
func (tx *Partition) UnavailableSeats() map[model.Seat]struct{} {
	out := make(map[model.Seat]struct{})
	if tx.released {
		return out
	}
	for _, e := range tx.p.entries {
		for _, s := range e.hold.Seats {
			out[s] = struct{}{}
		}
	}
	return out
}

// CreateHold records a new pending hold of seats for owner.
func (tx *Partition) CreateHold(owner uint64, seats []model.Seat) (model.Hold, error) {
	if tx.released {
		return model.Hold{}, ErrPartitionReleased
	}
	now := tx.l.now()
	h := model.Hold{
		ID:        uuid.NewString(),
		Key:       tx.p.key,
		Owner:     owner,
		Seats:     append([]model.Seat(nil), seats...),
		CreatedAt: now,
		ExpiresAt: now.Add(tx.l.ttl),
		Status:    model.HoldPending,
	}
	e := &entry{hold: h, part: tx.p}
	tx.p.entries[h.ID] = e
	tx.l.holds.Store(h.ID, e)
	return h, nil
}

// WithPartitionLock runs fn while holding the exclusive lock of the
// partition identified by key.  The lock is released when fn returns,
// whatever its result.  ErrLockTimeout is returned when the lock
// cannot be acquired before ctx ends or the configured wait elapses.
func (l *Ledger) WithPartitionLock(ctx context.Context, key model.PartitionKey, fn func(*Partition) error) error {
	if l.lockWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.lockWait)
		defer cancel()
	}
	p := l.partitionFor(key)
	if err := p.lock(ctx); err != nil {
		l.log.Warn("partition lock timeout", zap.String("partition", key.String()))
		return err
	}
	defer p.unlock()
	tx := &Partition{l: l, p: p}
	defer func() { tx.released = true }()
	return fn(tx)
}

// UnavailableSeats takes the partition lock and returns the seats
// that are held or booked.  Callers that go on to create a hold must
// use WithPartitionLock instead so the read and the write happen under
// the same lock.
func (l *Ledger) UnavailableSeats(ctx context.Context, key model.PartitionKey) (map[model.Seat]struct{}, error) {
	var out map[model.Seat]struct{}
	err := l.WithPartitionLock(ctx, key, func(p *Partition) error {
		out = p.UnavailableSeats()
		return nil
	})
	return out, err
}

func (l *Ledger) lookup(holdID string) (*entry, bool) {
	v, ok := l.holds.Load(holdID)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// Get returns a copy of the hold with the given id.
func (l *Ledger) Get(holdID string) (model.Hold, bool) {
	e, ok := l.lookup(holdID)
	if !ok {
		return model.Hold{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyHold(e.hold), true
}

// Promote turns the pending hold into a confirmed booking.  It fails
// with ErrHoldNotFound, ErrNotOwner or ErrHoldExpired.  A hold whose
// deadline has passed is expired here even if its timer has not fired
// yet, so a confirmation never succeeds after the TTL.
func (l *Ledger) Promote(holdID string, owner uint64) (model.Booking, error) {
	e, ok := l.lookup(holdID)
	if !ok {
		return model.Booking{}, ErrHoldNotFound
	}
	e.mu.Lock()
	if e.hold.Owner != owner {
		e.mu.Unlock()
		return model.Booking{}, ErrNotOwner
	}
	if e.hold.Status != model.HoldPending {
		e.mu.Unlock()
		return model.Booking{}, ErrHoldExpired
	}
	now := l.now()
	if !now.Before(e.hold.ExpiresAt) {
		e.hold.Status = model.HoldExpired
		e.mu.Unlock()
		l.drop(e)
		return model.Booking{}, ErrHoldExpired
	}
	e.hold.Status = model.HoldConfirmed
	e.confirmedAt = now
	b := bookingOf(e)
	e.mu.Unlock()
	return b, nil
}

// Release expires the hold if it is still pending and frees its seats.
// It reports whether anything was released; releasing an unknown,
// confirmed or already expired hold is a no-op.
func (l *Ledger) Release(holdID string) bool {
	e, ok := l.lookup(holdID)
	if !ok {
		return false
	}
	e.mu.Lock()
	if e.hold.Status != model.HoldPending {
		e.mu.Unlock()
		return false
	}
	e.hold.Status = model.HoldExpired
	e.mu.Unlock()
	l.drop(e)
	return true
}

// ReleaseOwned is Release restricted to the hold's owner.
func (l *Ledger) ReleaseOwned(holdID string, owner uint64) error {
	e, ok := l.lookup(holdID)
	if !ok {
		return ErrHoldNotFound
	}
	e.mu.Lock()
	if e.hold.Owner != owner {
		e.mu.Unlock()
		return ErrNotOwner
	}
	if e.hold.Status != model.HoldPending {
		e.mu.Unlock()
		return ErrHoldExpired
	}
	e.hold.Status = model.HoldExpired
	e.mu.Unlock()
	l.drop(e)
	return nil
}

// drop removes an expired entry from the ledger.  Its seats stay
// unavailable until the partition map no longer holds it, which only
// errs on the side of caution.
func (l *Ledger) drop(e *entry) {
	l.holds.Delete(e.hold.ID)
	p := e.part
	_ = p.lock(context.Background())
	delete(p.entries, e.hold.ID)
	p.unlock()
	l.log.Debug("hold released",
		zap.String("hold_id", e.hold.ID),
		zap.String("partition", p.key.String()),
		zap.Int("seats", len(e.hold.Seats)))
}

// SetBookingID records the persistent id assigned to a confirmed
// hold.
func (l *Ledger) SetBookingID(holdID string, id uint64) {
	if e, ok := l.lookup(holdID); ok {
		e.mu.Lock()
		e.bookingID = id
		e.mu.Unlock()
	}
}

// RestoreBooking inserts an already confirmed booking, typically read
// back from the database at startup.  Its seats become unavailable in
// its partition.
func (l *Ledger) RestoreBooking(ctx context.Context, b model.Booking) error {
	key := model.NewPartitionKey(b.Key.ConcertID, b.Key.Date, b.Key.Band)
	return l.WithPartitionLock(ctx, key, func(tx *Partition) error {
		e := &entry{
			hold: model.Hold{
				ID:        b.HoldID,
				Key:       key,
				Owner:     b.Owner,
				Seats:     append([]model.Seat(nil), b.Seats...),
				CreatedAt: b.ConfirmedAt,
				ExpiresAt: b.ConfirmedAt,
				Status:    model.HoldConfirmed,
			},
			confirmedAt: b.ConfirmedAt,
			bookingID:   b.ID,
			part:        tx.p,
		}
		tx.p.entries[b.HoldID] = e
		l.holds.Store(b.HoldID, e)
		return nil
	})
}

// BookingsFor lists the confirmed bookings of owner, oldest first.
func (l *Ledger) BookingsFor(owner uint64) []model.Booking {
	var out []model.Booking
	l.holds.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.hold.Owner == owner && e.hold.Status == model.HoldConfirmed {
			out = append(out, bookingOf(e))
		}
		e.mu.Unlock()
		return true
	})
	sortBookings(out)
	return out
}

// Stats counts the holds currently tracked by the ledger.
type Stats struct {
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
}

// Stats returns a snapshot of the ledger's counters.
func (l *Ledger) Stats() Stats {
	var s Stats
	l.holds.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		switch e.hold.Status {
		case model.HoldPending:
			s.Pending++
		case model.HoldConfirmed:
			s.Confirmed++
		}
		e.mu.Unlock()
		return true
	})
	return s
}

// bookingOf must be called with e.mu held.
func bookingOf(e *entry) model.Booking {
	return model.Booking{
		ID:          e.bookingID,
		HoldID:      e.hold.ID,
		Key:         e.hold.Key,
		Owner:       e.hold.Owner,
		Seats:       append([]model.Seat(nil), e.hold.Seats...),
		ConfirmedAt: e.confirmedAt,
	}
}

func sortBookings(bs []model.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].ConfirmedAt.Equal(bs[j].ConfirmedAt) {
			return bs[i].ConfirmedAt.Before(bs[j].ConfirmedAt)
		}
		return bs[i].HoldID < bs[j].HoldID
	})
}

func copyHold(h model.Hold) model.Hold {
	h.Seats = append([]model.Seat(nil), h.Seats...)
	return h
}

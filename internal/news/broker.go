// Package news keeps the append-only news feed and delivers new items
// to long-polling subscribers.
//
// A subscriber is identified by an opaque id and owns a cursor: the
// sequence number of the last item it has been sent.  While a request
// of the subscriber is parked it owns a Waiter, a one-shot channel that
// receives the items published after the cursor.  Each item reaches a
// subscriber at most once per cursor advance and always in sequence
// order.
package news

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-booking/internal/model"
)

var (
	// ErrUnknownSubscriber is returned for ids that never signed up or
	// have unsubscribed.
	ErrUnknownSubscriber = errors.New("unknown subscriber")
	// ErrEmptyContent is returned by Publish for blank items.
	ErrEmptyContent = errors.New("news content must not be empty")
)

// Waiter is a parked subscription request.  Its channel receives
// exactly one batch: the new items, or an empty batch when the waiter
// is replaced or the subscriber unsubscribes.
type Waiter struct {
	ch chan []model.NewsItem

	// cursor range covered by the batch sent to ch; set under the
	// broker lock when the batch is sent.
	from, to int64
	flushed  bool
}

func newWaiter() *Waiter { return &Waiter{ch: make(chan []model.NewsItem, 1)} }

// C returns the channel the batch is delivered on.
func (w *Waiter) C() <-chan []model.NewsItem { return w.ch }

type subscriber struct {
	cursor int64
	waiter *Waiter
	seen   time.Time // last signup, request or delivery
}

// Store persists published items.  An item reaches subscribers only
// after Insert succeeded.
type Store interface {
	Insert(ctx context.Context, item model.NewsItem) error
}

// Broker is safe for concurrent use.  Publishing never blocks on slow
// subscribers since every waiter channel has room for its one batch.
type Broker struct {
	now   func() time.Time
	log   *zap.Logger
	store Store

	pub  sync.Mutex // serialises Publish so sequence numbers are assigned in order
	seq  int64      // last assigned sequence number; guarded by pub
	mu   sync.Mutex
	feed []model.NewsItem // Seq strictly increasing, gaps allowed
	subs map[string]*subscriber
}

// Option customises a Broker.
type Option func(*Broker)

// WithClock overrides the time stamped on published items.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// WithStore persists every item before it is delivered.
func WithStore(s Store) Option {
	return func(b *Broker) { b.store = s }
}

// NewBroker returns a broker with an empty feed.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		now:  time.Now,
		log:  zap.NewNop(),
		subs: make(map[string]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) head() int64 {
	if n := len(b.feed); n > 0 {
		return b.feed[n-1].Seq
	}
	return 0
}

// Head returns the sequence number of the newest item, zero when the
// feed is empty.
func (b *Broker) Head() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head()
}

// Restore seeds an empty feed with persisted items.  Sequence numbers
// must be positive and distinct; a gap left by an item that was never
// stored is skipped.
func (b *Broker) Restore(items []model.NewsItem) error {
	sorted := append([]model.NewsItem(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	var prev int64
	gaps := 0
	for _, it := range sorted {
		if it.Seq <= prev {
			return fmt.Errorf("restore news: seq %d is not above %d", it.Seq, prev)
		}
		if it.Seq != prev+1 {
			gaps++
		}
		prev = it.Seq
	}
	b.pub.Lock()
	defer b.pub.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seq > 0 {
		return errors.New("restore news: feed is not empty")
	}
	b.feed = sorted
	b.seq = prev
	if gaps > 0 {
		b.log.Warn("news feed restored with gaps", zap.Int("gaps", gaps), zap.Int64("head", prev))
	}
	return nil
}

// Signup issues a new subscriber id whose cursor starts at the current
// head, so only items published from now on are delivered.
func (b *Broker) Signup() string {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = &subscriber{cursor: b.head(), seen: b.now()}
	b.mu.Unlock()
	b.log.Info("news subscriber signed up", zap.String("subscriber_id", id))
	return id
}

// Register parks a request for subscriberID and returns its waiter.
//
// lastSeen, when given, moves the cursor to that sequence number so a
// reconnecting client resumes where it left off.  A subscriber seen for
// the first time without lastSeen starts at the head.  A previous
// waiter of the same subscriber is released with an empty batch.  If
// items newer than the cursor already exist the new waiter is flushed
// at once.
func (b *Broker) Register(subscriberID string, lastSeen *int64) *Waiter {
	w := newWaiter()

	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subscriberID]
	if !ok {
		sub = &subscriber{cursor: b.head()}
		b.subs[subscriberID] = sub
	}
	sub.seen = b.now()
	if lastSeen != nil {
		sub.cursor = clamp(*lastSeen, 0, b.head())
	}
	if sub.waiter != nil {
		b.flush(sub, nil)
	}
	sub.waiter = w
	if sub.cursor < b.head() {
		b.flush(sub, b.since(sub.cursor))
	}
	return w
}

// Publish stores content as the next item of the feed and flushes
// every parked waiter.  If the store rejects the item nothing is
// delivered and its sequence number is skipped, since the insert may
// have committed anyway.
func (b *Broker) Publish(ctx context.Context, content string) (model.NewsItem, error) {
	if content == "" {
		return model.NewsItem{}, ErrEmptyContent
	}

	b.pub.Lock()
	defer b.pub.Unlock()

	b.seq++
	item := model.NewsItem{
		Seq:       b.seq,
		Timestamp: b.now().UTC(),
		Content:   content,
	}

	if b.store != nil {
		if err := b.store.Insert(ctx, item); err != nil {
			return model.NewsItem{}, fmt.Errorf("store news item %d: %w", item.Seq, err)
		}
	}

	b.mu.Lock()
	b.feed = append(b.feed, item)
	delivered := 0
	for _, sub := range b.subs {
		if sub.waiter != nil && sub.cursor < b.head() {
			b.flush(sub, b.since(sub.cursor))
			delivered++
		}
	}
	b.mu.Unlock()

	b.log.Info("news published", zap.Int64("seq", item.Seq), zap.Int("delivered", delivered))
	return item, nil
}

// Unsubscribe releases a parked waiter with an empty batch and forgets
// the subscriber.
func (b *Broker) Unsubscribe(subscriberID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[subscriberID]
	if !ok {
		return ErrUnknownSubscriber
	}
	if sub.waiter != nil {
		b.flush(sub, nil)
	}
	delete(b.subs, subscriberID)
	b.log.Info("news subscriber left", zap.String("subscriber_id", subscriberID))
	return nil
}

// Withdraw detaches w after its request stopped waiting without
// reading from it, typically on timeout.  It returns the batch that
// was flushed into w in the meantime, if any, so the caller can still
// send it; an empty result means nothing was pending.
func (b *Broker) Withdraw(subscriberID string, w *Waiter) []model.NewsItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[subscriberID]; ok {
		sub.seen = b.now()
		if sub.waiter == w {
			sub.waiter = nil
		}
	}
	select {
	case items := <-w.ch:
		return items
	default:
		return nil
	}
}

// Rewind detaches w after its client went away.  A batch flushed into
// w that was never read is put back by moving the cursor to where it
// was before the flush, unless the cursor has moved since.
func (b *Broker) Rewind(subscriberID string, w *Waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[subscriberID]
	if !ok {
		return
	}
	sub.seen = b.now()
	if sub.waiter == w {
		sub.waiter = nil
		return
	}
	select {
	case items := <-w.ch:
		if w.flushed && len(items) > 0 && sub.cursor == w.to {
			sub.cursor = w.from
		}
	default:
	}
}

// Evict forgets subscribers without a parked request that have not
// been seen for idle and returns how many were removed.
func (b *Broker) Evict(idle time.Duration) int {
	cutoff := b.now().Add(-idle)
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, sub := range b.subs {
		if sub.waiter == nil && sub.seen.Before(cutoff) {
			delete(b.subs, id)
			n++
		}
	}
	return n
}

// RunEviction calls Evict every idle/2 until ctx is done.
func (b *Broker) RunEviction(ctx context.Context, idle time.Duration) {
	t := time.NewTicker(idle / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := b.Evict(idle); n > 0 {
				b.log.Info("idle news subscribers evicted", zap.Int("count", n))
			}
		}
	}
}

// Subscribers returns the number of known subscribers and how many of
// them have a parked request.
func (b *Broker) Subscribers() (total, waiting int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		total++
		if sub.waiter != nil {
			waiting++
		}
	}
	return total, waiting
}

// since returns a copy of the items after seq.  Callers hold b.mu.
func (b *Broker) since(seq int64) []model.NewsItem {
	i := sort.Search(len(b.feed), func(i int) bool { return b.feed[i].Seq > seq })
	return append([]model.NewsItem(nil), b.feed[i:]...)
}

// flush sends items to the subscriber's waiter, advances the cursor
// past them and clears the waiter.  Callers hold b.mu.
func (b *Broker) flush(sub *subscriber, items []model.NewsItem) {
	w := sub.waiter
	sub.waiter = nil
	if items == nil {
		items = []model.NewsItem{}
	}
	w.from = sub.cursor
	if n := len(items); n > 0 {
		sub.cursor = items[n-1].Seq
	}
	w.to = sub.cursor
	w.flushed = true
	sub.seen = b.now()
	w.ch <- items
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

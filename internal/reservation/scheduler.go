package reservation

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Releaser frees a pending hold.  Release must be a no-op for holds
// that are no longer pending.
type Releaser interface {
	Release(holdID string) bool
}

// ExpiryScheduler releases holds that are still pending when their
// time-to-live elapses.  Each armed hold gets its own timer; firing
// delegates to the Releaser, which decides under the hold's own lock
// whether there is anything left to release.
type ExpiryScheduler struct {
	releaser Releaser
	log      *zap.Logger

	mu      sync.Mutex
	timers  map[string]armed
	gen     uint64
	stopped bool
	expired int64
}

// armed is a pending timer.  gen tells a stale timer apart from the
// one currently registered for the same hold.
type armed struct {
	t   *time.Timer
	gen uint64
}

// NewExpiryScheduler returns a scheduler that releases holds through r.
func NewExpiryScheduler(r Releaser, log *zap.Logger) *ExpiryScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExpiryScheduler{
		releaser: r,
		log:      log,
		timers:   make(map[string]armed),
	}
}

// Arm schedules the release of holdID after ttl.  Arming a hold that
// is already armed replaces its timer.
func (s *ExpiryScheduler) Arm(holdID string, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[holdID]; ok {
		old.t.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[holdID] = armed{t: time.AfterFunc(ttl, func() { s.fire(holdID, gen) }), gen: gen}
}

func (s *ExpiryScheduler) fire(holdID string, gen uint64) {
	s.mu.Lock()
	if cur, ok := s.timers[holdID]; !ok || cur.gen != gen {
		// cancelled or re-armed after this timer was started
		s.mu.Unlock()
		return
	}
	delete(s.timers, holdID)
	s.mu.Unlock()

	if s.releaser.Release(holdID) {
		s.mu.Lock()
		s.expired++
		s.mu.Unlock()
		s.log.Info("hold expired", zap.String("hold_id", holdID))
	}
}

// Cancel disarms the timer of holdID.  It reports whether a timer was
// pending.  A timer that already started firing is not interrupted;
// the release it performs is a no-op once the hold is confirmed.
func (s *ExpiryScheduler) Cancel(holdID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.timers[holdID]
	if !ok {
		return false
	}
	a.t.Stop()
	delete(s.timers, holdID)
	return true
}

// Pending returns the number of armed timers.
func (s *ExpiryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Expired returns how many holds this scheduler has released.
func (s *ExpiryScheduler) Expired() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// Stop disarms every timer.  Arm is a no-op afterwards.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.timers {
		a.t.Stop()
		delete(s.timers, id)
	}
	s.stopped = true
	s.log.Info("expiry scheduler stopped")
}

package reservation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/concert-booking/internal/model"
)

type recordingReleaser struct {
	mu       sync.Mutex
	released []string
}

func (r *recordingReleaser) Release(holdID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, holdID)
	return true
}

func (r *recordingReleaser) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.released...)
}

func TestExpiryScheduler_Fires(t *testing.T) {
	r := &recordingReleaser{}
	s := NewExpiryScheduler(r, nil)
	defer s.Stop()

	s.Arm("h1", 10*time.Millisecond)
	assert.Equal(t, 1, s.Pending())

	assert.Eventually(t, func() bool { return len(r.calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"h1"}, r.calls())
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, int64(1), s.Expired())
}

func TestExpiryScheduler_Cancel(t *testing.T) {
	r := &recordingReleaser{}
	s := NewExpiryScheduler(r, nil)
	defer s.Stop()

	s.Arm("h1", 20*time.Millisecond)
	assert.True(t, s.Cancel("h1"))
	assert.False(t, s.Cancel("h1"))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, r.calls())
}

func TestExpiryScheduler_RearmReplacesTimer(t *testing.T) {
	r := &recordingReleaser{}
	s := NewExpiryScheduler(r, nil)
	defer s.Stop()

	s.Arm("h1", 10*time.Millisecond)
	s.Arm("h1", time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.calls())
	assert.Equal(t, 1, s.Pending())
}

func TestExpiryScheduler_Stop(t *testing.T) {
	r := &recordingReleaser{}
	s := NewExpiryScheduler(r, nil)

	s.Arm("h1", 10*time.Millisecond)
	s.Stop()
	s.Arm("h2", 0)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r.calls())
	assert.Equal(t, 0, s.Pending())
}

func TestExpiryScheduler_ReleasesLedgerHold(t *testing.T) {
	l := NewLedger(20 * time.Millisecond)
	s := NewExpiryScheduler(l, nil)
	defer s.Stop()

	h := holdSeats(t, l, testKey, 1, model.Seat{Row: 1, Number: 1})
	s.Arm(h.ID, l.TTL())

	assert.Eventually(t, func() bool {
		_, ok := l.Get(h.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

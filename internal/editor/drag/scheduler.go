package drag

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const DefaultFrameInterval = 16 * time.Millisecond

// Scheduler runs frame callbacks. Schedule returns a function that cancels
// the callback if it has not started yet.
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}

// RateScheduler runs callbacks on a timer, never more often than once per
// interval.
type RateScheduler struct {
	limiter *rate.Limiter
}

func NewRateScheduler(interval time.Duration) *RateScheduler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &RateScheduler{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (r *RateScheduler) Schedule(fn func()) func() {
	res := r.limiter.Reserve()
	t := time.AfterFunc(res.Delay(), fn)
	return func() {
		if t.Stop() {
			res.Cancel()
		}
	}
}

// ManualScheduler holds at most one callback until Flush is called. Tests
// and the CLI use it to step frames deterministically.
type ManualScheduler struct {
	mu      sync.Mutex
	pending func()
	seq     uint64
}

func (m *ManualScheduler) Schedule(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := m.seq
	m.pending = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.seq == id {
			m.pending = nil
		}
	}
}

// Pending reports whether a callback is waiting.
func (m *ManualScheduler) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// Flush runs the waiting callback, if any, and reports whether one ran.
func (m *ManualScheduler) Flush() bool {
	m.mu.Lock()
	fn := m.pending
	m.pending = nil
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

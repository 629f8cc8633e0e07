package modify

import (
	"sync"
	"time"
)

// TickScheduler drives a queue's slices. Start invokes step repeatedly until
// step returns true or Stop is called; implementations must never run two
// step calls concurrently.
type TickScheduler interface {
	Start(step func() bool)
	Stop()
}

// IntervalScheduler steps on a fixed wall-clock period from a single
// goroutine, which keeps the never-overlap invariant for free: a slow slice
// just delays the next tick.
type IntervalScheduler struct {
	interval time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

func NewIntervalScheduler(interval time.Duration) *IntervalScheduler {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &IntervalScheduler{interval: interval, stop: make(chan struct{})}
}

func (s *IntervalScheduler) Start(step func() bool) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if step() {
					return
				}
			}
		}
	}()
}

func (s *IntervalScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
}

package recording

import (
	"sync"

	"blockledger/internal/audit"
)

// Queue is the unbounded buffer between capture sites and the batch writer.
// Any number of producers may Enqueue concurrently; exactly one consumer
// drains. Enqueue never blocks and never drops an accepted activity, which
// is why this is a mutex-guarded slice and not a bounded channel: capture
// bursts must not lose history.
type Queue struct {
	mu      sync.Mutex
	pending []*audit.Activity
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends one activity in capture order. A nil activity is a no-op.
func (q *Queue) Enqueue(a *audit.Activity) {
	if a == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, a)
	q.mu.Unlock()
}

// Drain removes and returns up to max activities in capture order. Returns
// nil when nothing is pending. max <= 0 drains everything.
func (q *Queue) Drain(max int) []*audit.Activity {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}
	out := make([]*audit.Activity, n)
	copy(out, q.pending[:n])
	rest := len(q.pending) - n
	copy(q.pending, q.pending[n:])
	for i := rest; i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = q.pending[:rest]
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

package modify

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"blockledger/internal/audit"
)

// ErrNotPreviewing is returned by Cancel on a commit-mode run; commits are
// durable and cannot be walked back.
var ErrNotPreviewing = errors.New("only preview runs can be cancelled")

// Queue executes one rollback or restore over an ordered activity list.
// One instance is one logical run: Preview or Apply may be called once, and
// only a preview may be cancelled. The scheduler owns slice timing; the
// queue owns everything else.
type Queue struct {
	direction   Direction
	access      BlockAccess
	initiator   Initiator
	sched       TickScheduler
	maxPerSlice int
	onComplete  func(QueueResult)

	mu        sync.Mutex
	pending   []*audit.Activity
	offset    int // preview read position; commits pop instead
	processed int
	mode      Mode
	running   bool
	done      bool
	undo      []StateChange
	skipped   int
	planned   int
	applied   int
}

// NewQueue builds a run over activities, applying each in the given
// direction against access. onComplete receives the terminal result; nil is
// allowed.
func NewQueue(initiator Initiator, activities []*audit.Activity, dir Direction,
	access BlockAccess, sched TickScheduler, maxPerSlice int, onComplete func(QueueResult)) (*Queue, error) {

	if access == nil {
		return nil, fmt.Errorf("modification queue requires world access")
	}
	if sched == nil {
		return nil, fmt.Errorf("modification queue requires a scheduler")
	}
	if maxPerSlice <= 0 {
		maxPerSlice = 1000
	}
	return &Queue{
		direction:   dir,
		access:      access,
		initiator:   initiator,
		sched:       sched,
		maxPerSlice: maxPerSlice,
		onComplete:  onComplete,
		pending:     activities,
	}, nil
}

// Preview runs the queue against the initiator's view only. No shared world
// state changes and no pending item is removed.
func (q *Queue) Preview() error {
	if q.initiator == nil {
		return fmt.Errorf("preview requires an initiator to render to")
	}
	return q.execute(Preview)
}

// Apply runs the queue against shared world state.
func (q *Queue) Apply() error {
	return q.execute(Commit)
}

func (q *Queue) execute(mode Mode) error {
	q.mu.Lock()
	if q.running || q.done {
		q.mu.Unlock()
		return fmt.Errorf("modification queue already ran")
	}
	q.mode = mode

	if len(q.pending) == 0 {
		q.done = true
		result := q.resultLocked()
		q.mu.Unlock()
		q.finish(result)
		return nil
	}

	q.running = true
	q.mu.Unlock()

	q.sched.Start(q.step)
	return nil
}

// step processes one bounded slice. Returns true once the pending list is
// exhausted, which stops the scheduler.
func (q *Queue) step() bool {
	q.mu.Lock()
	if q.done {
		q.mu.Unlock()
		return true
	}

	for n := 0; n < q.maxPerSlice; n++ {
		item, ok := q.nextLocked()
		if !ok {
			break
		}
		q.bookLocked(q.applyLocked(item))
		q.processed++
	}

	if q.remainingLocked() > 0 {
		q.mu.Unlock()
		return false
	}

	q.running = false
	q.done = true
	result := q.resultLocked()
	q.mu.Unlock()

	q.finish(result)
	return true
}

// nextLocked yields the next unprocessed item. Previews advance a read
// offset so the list survives for cancellation bookkeeping; commits consume
// the list.
func (q *Queue) nextLocked() (*audit.Activity, bool) {
	if q.mode == Preview {
		if q.offset >= len(q.pending) {
			return nil, false
		}
		item := q.pending[q.offset]
		q.offset++
		return item, true
	}
	if len(q.pending) == 0 {
		return nil, false
	}
	item := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return item, true
}

func (q *Queue) remainingLocked() int {
	if q.mode == Preview {
		return len(q.pending) - q.offset
	}
	return len(q.pending)
}

// applyLocked runs one activity in the current mode. Apply failures skip the
// item; the run continues with the next one.
func (q *Queue) applyLocked(a *audit.Activity) Result {
	t := a.Action.Type()
	if !t.Reversible() {
		return Result{Activity: a, Status: Skipped}
	}

	act, ok := a.Action.(*audit.BlockAction)
	if !ok {
		// Entity and item activities have no cell representation to
		// rewrite here; host-side handlers own those.
		return Result{Activity: a, Status: Skipped}
	}

	target := targetBlock(act, q.direction)
	current, ok := q.access.BlockAt(a.Pos)
	if !ok {
		log.Printf("modify: %s at %d,%d,%d skipped, location unavailable",
			t.Key(), a.Pos.X, a.Pos.Y, a.Pos.Z)
		return Result{Activity: a, Status: Skipped}
	}
	if current.Equal(target) {
		return Result{Activity: a, Status: Skipped}
	}

	change := &StateChange{Pos: a.Pos, Old: current, New: target}
	if q.mode == Preview {
		q.initiator.ShowBlock(a.Pos, target)
		return Result{Activity: a, Change: change, Status: Planned}
	}

	if !q.access.SetBlockAt(a.Pos, target) {
		log.Printf("modify: %s at %d,%d,%d skipped, world rejected mutation",
			t.Key(), a.Pos.X, a.Pos.Y, a.Pos.Z)
		return Result{Activity: a, Status: Skipped}
	}
	return Result{Activity: a, Change: change, Status: Applied}
}

// bookLocked folds one result into the run counters and the undo buffer.
func (q *Queue) bookLocked(r Result) {
	switch r.Status {
	case Planned:
		q.planned++
	case Applied:
		q.applied++
	default:
		q.skipped++
	}
	if r.Change != nil {
		q.undo = append(q.undo, *r.Change)
	}
}

// Cancel aborts an in-flight or finished preview, restoring the initiator's
// view to its pre-preview representation in reverse apply order. Commits are
// durable and cannot be cancelled.
func (q *Queue) Cancel() error {
	q.mu.Lock()
	if q.mode != Preview {
		q.mu.Unlock()
		return ErrNotPreviewing
	}
	q.sched.Stop()

	for i := len(q.undo) - 1; i >= 0; i-- {
		q.initiator.ShowBlock(q.undo[i].Pos, q.undo[i].Old)
	}
	q.undo = nil
	q.running = false
	q.done = true
	q.mu.Unlock()

	q.finish(QueueResult{Mode: Preview, Direction: q.direction, State: Complete})
	return nil
}

func (q *Queue) resultLocked() QueueResult {
	state := Complete
	if q.mode == Preview {
		state = Incomplete
	}
	return QueueResult{
		Mode:      q.mode,
		Direction: q.direction,
		State:     state,
		Skipped:   q.skipped,
		Planned:   q.planned,
		Applied:   q.applied,
	}
}

func (q *Queue) finish(result QueueResult) {
	if q.onComplete != nil {
		q.onComplete(result)
	}
}

// Processed reports how many items have been consumed so far across slices.
func (q *Queue) Processed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processed
}

// Remaining reports how many pending items are left.
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remainingLocked()
}

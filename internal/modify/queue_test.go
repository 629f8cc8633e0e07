package modify

import (
	"testing"

	"github.com/google/uuid"

	"blockledger/internal/audit"
	"blockledger/internal/world"
)

// stepScheduler hands slice stepping to the test.
type stepScheduler struct {
	step    func() bool
	stopped bool
}

func (s *stepScheduler) Start(step func() bool) { s.step = step }
func (s *stepScheduler) Stop()                  { s.stopped = true }

// runToCompletion drives slices until the queue reports done.
func (s *stepScheduler) runToCompletion(t *testing.T) {
	t.Helper()
	if s.step == nil {
		t.Fatalf("scheduler never started")
	}
	for i := 0; i < 10_000; i++ {
		if s.step() {
			return
		}
	}
	t.Fatalf("queue never completed")
}

// viewInitiator records per-cell view state the way a client render would.
type viewInitiator struct {
	shown map[world.Vec3i][]world.Block
}

func newViewInitiator() *viewInitiator {
	return &viewInitiator{shown: make(map[world.Vec3i][]world.Block)}
}

func (v *viewInitiator) ShowBlock(pos world.Vec3i, b world.Block) {
	v.shown[pos] = append(v.shown[pos], b)
}

func (v *viewInitiator) last(pos world.Vec3i) (world.Block, bool) {
	s := v.shown[pos]
	if len(s) == 0 {
		return world.Block{}, false
	}
	return s[len(s)-1], true
}

func breakActivity(t *testing.T, reversible bool, pos world.Vec3i, oldMaterial string) *audit.Activity {
	t.Helper()
	at := audit.NewBlockActionType("block-break", audit.ResultRemoves, reversible)
	action, err := audit.NewBlockAction(at, world.Air(), world.Block{Material: oldMaterial}, "")
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	w := audit.WorldRef{UUID: uuid.MustParse("5e6a3722-8b5c-4d51-9862-f3c561e2a025"), Name: "overworld"}
	a, err := audit.NewActivity(action, w, pos, 100, nil, "lava")
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	return a
}

func placeActivity(t *testing.T, pos world.Vec3i, material string) *audit.Activity {
	t.Helper()
	at := audit.NewBlockActionType("block-place", audit.ResultCreates, true)
	action, err := audit.NewBlockAction(at, world.Block{Material: material}, world.Air(), "")
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	w := audit.WorldRef{UUID: uuid.MustParse("5e6a3722-8b5c-4d51-9862-f3c561e2a025"), Name: "overworld"}
	a, err := audit.NewActivity(action, w, pos, 100, nil, "lava")
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	return a
}

func TestQueue_RollbackBreak_RecreatesOldMaterial(t *testing.T) {
	pos := world.Vec3i{X: 10, Y: 64, Z: 10}
	access := world.NewStore(256, 0)
	sched := &stepScheduler{}

	var result QueueResult
	q, err := NewQueue(nil, []*audit.Activity{breakActivity(t, true, pos, "stone")},
		Rollback, access, sched, 1000, func(r QueueResult) { result = r })
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	sched.runToCompletion(t)

	if result.Applied != 1 || result.Skipped != 0 {
		t.Fatalf("result = %+v, want applied=1 skipped=0", result)
	}
	if result.State != Complete {
		t.Fatalf("state = %s", result.State)
	}
	b, _ := access.BlockAt(pos)
	if b.Material != "stone" {
		t.Fatalf("world reports %q, want stone", b.Material)
	}
}

func TestQueue_IrreversibleKind_SkippedUnchanged(t *testing.T) {
	pos := world.Vec3i{X: 10, Y: 64, Z: 10}
	access := world.NewStore(256, 0)
	sched := &stepScheduler{}

	var result QueueResult
	q, err := NewQueue(nil, []*audit.Activity{breakActivity(t, false, pos, "stone")},
		Rollback, access, sched, 1000, func(r QueueResult) { result = r })
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	sched.runToCompletion(t)

	if result.Skipped != 1 || result.Applied != 0 {
		t.Fatalf("result = %+v, want skipped=1 applied=0", result)
	}
	if b, _ := access.BlockAt(pos); !b.IsAir() {
		t.Fatalf("world mutated: %q", b.Material)
	}
}

func TestQueue_SliceCap_BoundsWorkPerStep(t *testing.T) {
	const items = 2500
	const perSlice = 1000

	activities := make([]*audit.Activity, 0, items)
	for i := 0; i < items; i++ {
		activities = append(activities, breakActivity(t, true,
			world.Vec3i{X: i % 100, Y: i / 100, Z: 0}, "stone"))
	}

	access := world.NewStore(256, 0)
	sched := &stepScheduler{}
	var result *QueueResult
	q, err := NewQueue(nil, activities, Rollback, access, sched, perSlice,
		func(r QueueResult) { result = &r })
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if sched.step() {
		t.Fatalf("completed after one slice")
	}
	if q.Processed() != 1000 {
		t.Fatalf("processed after slice 1 = %d", q.Processed())
	}
	if sched.step() {
		t.Fatalf("completed after two slices")
	}
	if q.Processed() != 2000 {
		t.Fatalf("processed after slice 2 = %d", q.Processed())
	}
	if !sched.step() {
		t.Fatalf("not complete after three slices")
	}
	if result == nil || result.State != Complete || result.Applied+result.Skipped != items {
		t.Fatalf("result = %+v", result)
	}
}

func TestQueue_Preview_PlansWithoutMutating(t *testing.T) {
	pos := world.Vec3i{X: 1, Y: 2, Z: 3}
	access := world.NewStore(256, 0)
	sched := &stepScheduler{}
	view := newViewInitiator()

	var result QueueResult
	q, err := NewQueue(view, []*audit.Activity{breakActivity(t, true, pos, "stone")},
		Rollback, access, sched, 1000, func(r QueueResult) { result = r })
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Preview(); err != nil {
		t.Fatalf("preview: %v", err)
	}
	sched.runToCompletion(t)

	if result.Planned != 1 || result.Applied != 0 {
		t.Fatalf("result = %+v, want planned=1", result)
	}
	if result.State != Incomplete {
		t.Fatalf("preview state = %s, want incomplete", result.State)
	}
	if b, _ := access.BlockAt(pos); !b.IsAir() {
		t.Fatalf("preview mutated world: %q", b.Material)
	}
	if shown, ok := view.last(pos); !ok || shown.Material != "stone" {
		t.Fatalf("view shows %+v, want stone", shown)
	}
	if q.Remaining() != 0 {
		t.Fatalf("preview left %d unread", q.Remaining())
	}
}

func TestQueue_PreviewCancel_RestoresViewAndPending(t *testing.T) {
	pos := world.Vec3i{X: 1, Y: 2, Z: 3}
	access := world.NewStore(256, 0)
	access.SetBlockAt(pos, world.Block{Material: "dirt"})
	sched := &stepScheduler{}
	view := newViewInitiator()

	var results []QueueResult
	q, err := NewQueue(view, []*audit.Activity{breakActivity(t, true, pos, "stone")},
		Rollback, access, sched, 1000, func(r QueueResult) { results = append(results, r) })
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Preview(); err != nil {
		t.Fatalf("preview: %v", err)
	}
	sched.runToCompletion(t)

	if err := q.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !sched.stopped {
		t.Fatalf("cancel left scheduler running")
	}

	last := results[len(results)-1]
	if last.State != Complete || last.Skipped != 0 || last.Planned != 0 || last.Applied != 0 {
		t.Fatalf("cancel result = %+v, want complete all-zero", last)
	}
	// View ends on the pre-preview state.
	if shown, ok := view.last(pos); !ok || shown.Material != "dirt" {
		t.Fatalf("view shows %+v after cancel, want dirt", shown)
	}
	// Durable world untouched throughout.
	if b, _ := access.BlockAt(pos); b.Material != "dirt" {
		t.Fatalf("world = %q, want dirt", b.Material)
	}
}

func TestQueue_CancelBeforeFirstSlice_CompletesZero(t *testing.T) {
	access := world.NewStore(256, 0)
	sched := &stepScheduler{}
	view := newViewInitiator()

	var result QueueResult
	q, err := NewQueue(view, []*audit.Activity{breakActivity(t, true, world.Vec3i{Y: 1}, "stone")},
		Rollback, access, sched, 1000, func(r QueueResult) { result = r })
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Preview(); err != nil {
		t.Fatalf("preview: %v", err)
	}
	if err := q.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.State != Complete || result.Planned != 0 {
		t.Fatalf("result = %+v", result)
	}
}

func TestQueue_CommitCannotCancel(t *testing.T) {
	access := world.NewStore(256, 0)
	sched := &stepScheduler{}
	q, err := NewQueue(nil, []*audit.Activity{breakActivity(t, true, world.Vec3i{Y: 1}, "stone")},
		Rollback, access, sched, 1000, nil)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := q.Cancel(); err == nil {
		t.Fatalf("commit cancel succeeded")
	}
}

func TestQueue_EmptyList_CompletesImmediately(t *testing.T) {
	access := world.NewStore(256, 0)
	sched := &stepScheduler{}

	var result QueueResult
	q, err := NewQueue(nil, nil, Rollback, access, sched, 1000,
		func(r QueueResult) { result = r })
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if sched.step != nil {
		t.Fatalf("scheduler started for empty list")
	}
	if result.State != Complete || result.Applied != 0 {
		t.Fatalf("result = %+v", result)
	}
}

func TestQueue_RestorePlace_ReappliesCreation(t *testing.T) {
	pos := world.Vec3i{X: 4, Y: 5, Z: 6}
	access := world.NewStore(256, 0)
	sched := &stepScheduler{}

	q, err := NewQueue(nil, []*audit.Activity{placeActivity(t, pos, "vine")},
		Restore, access, sched, 1000, nil)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	sched.runToCompletion(t)

	if b, _ := access.BlockAt(pos); b.Material != "vine" {
		t.Fatalf("world = %q, want vine", b.Material)
	}
}

func TestQueue_NoStateChange_Skips(t *testing.T) {
	pos := world.Vec3i{X: 4, Y: 5, Z: 6}
	access := world.NewStore(256, 0)
	access.SetBlockAt(pos, world.Block{Material: "stone"})
	sched := &stepScheduler{}

	var result QueueResult
	q, err := NewQueue(nil, []*audit.Activity{breakActivity(t, true, pos, "stone")},
		Rollback, access, sched, 1000, func(r QueueResult) { result = r })
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	sched.runToCompletion(t)

	if result.Skipped != 1 || result.Applied != 0 {
		t.Fatalf("result = %+v, want skipped=1", result)
	}
}

func TestQueue_OutOfBoundsTarget_SkipsAndContinues(t *testing.T) {
	access := world.NewStore(16, 0)
	sched := &stepScheduler{}

	activities := []*audit.Activity{
		breakActivity(t, true, world.Vec3i{X: 0, Y: 100, Z: 0}, "stone"),
		breakActivity(t, true, world.Vec3i{X: 0, Y: 5, Z: 0}, "stone"),
	}
	var result QueueResult
	q, err := NewQueue(nil, activities, Rollback, access, sched, 1000,
		func(r QueueResult) { result = r })
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	sched.runToCompletion(t)

	if result.Skipped != 1 || result.Applied != 1 {
		t.Fatalf("result = %+v, want skipped=1 applied=1", result)
	}
}

func TestQueue_SecondRun_Rejected(t *testing.T) {
	access := world.NewStore(256, 0)
	q, err := NewQueue(nil, nil, Rollback, access, &stepScheduler{}, 1000, nil)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := q.Apply(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := q.Apply(); err == nil {
		t.Fatalf("second run accepted")
	}
}

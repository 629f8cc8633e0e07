package recording

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"blockledger/internal/audit"
	"blockledger/internal/world"
)

func testActivity(t *testing.T, ts int64) *audit.Activity {
	t.Helper()
	at := audit.NewBlockActionType("block-break", audit.ResultRemoves, true)
	action, err := audit.NewBlockAction(at, world.Block{Material: "stone"}, world.Air(), "")
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	w := audit.WorldRef{UUID: uuid.MustParse("5e6a3722-8b5c-4d51-9862-f3c561e2a025"), Name: "overworld"}
	a, err := audit.NewActivity(action, w, world.Vec3i{X: int(ts)}, ts, nil, "lava")
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	return a
}

func TestQueue_DrainPreservesOrder(t *testing.T) {
	q := NewQueue()
	for i := int64(1); i <= 5; i++ {
		q.Enqueue(testActivity(t, i))
	}
	got := q.Drain(0)
	if len(got) != 5 {
		t.Fatalf("drained %d, want 5", len(got))
	}
	for i, a := range got {
		if a.Timestamp != int64(i+1) {
			t.Fatalf("position %d has timestamp %d", i, a.Timestamp)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after full drain")
	}
}

func TestQueue_DrainMax_LeavesRemainder(t *testing.T) {
	q := NewQueue()
	for i := int64(1); i <= 5; i++ {
		q.Enqueue(testActivity(t, i))
	}
	first := q.Drain(3)
	if len(first) != 3 || first[2].Timestamp != 3 {
		t.Fatalf("first drain = %d items ending %d", len(first), first[len(first)-1].Timestamp)
	}
	second := q.Drain(3)
	if len(second) != 2 || second[0].Timestamp != 4 {
		t.Fatalf("second drain = %d items starting %d", len(second), second[0].Timestamp)
	}
}

func TestQueue_NilEnqueue_Ignored(t *testing.T) {
	q := NewQueue()
	q.Enqueue(nil)
	if q.Len() != 0 {
		t.Fatalf("nil enqueue counted")
	}
}

// Many producers, one drainer: every item shows up exactly once, and each
// producer's own items keep their relative order.
func TestQueue_ConcurrentProducers_NoLossNoReorder(t *testing.T) {
	const producers = 8
	const perProducer = 500

	// Encode (producer, seq) in the timestamp, built up front so the
	// goroutines only enqueue.
	batches := make([][]*audit.Activity, producers)
	for p := range batches {
		for i := 0; i < perProducer; i++ {
			batches[p] = append(batches[p], testActivity(t, int64(p*1_000_000+i+1)))
		}
	}

	q := NewQueue()
	var wg sync.WaitGroup
	for _, batch := range batches {
		wg.Add(1)
		go func(batch []*audit.Activity) {
			defer wg.Done()
			for _, a := range batch {
				q.Enqueue(a)
			}
		}(batch)
	}

	done := make(chan struct{})
	var drained []*audit.Activity
	go func() {
		defer close(done)
		for len(drained) < producers*perProducer {
			drained = append(drained, q.Drain(64)...)
		}
	}()
	wg.Wait()
	<-done

	if q.Len() != 0 {
		t.Fatalf("%d items left after drain", q.Len())
	}

	seen := make(map[int64]bool, len(drained))
	lastSeq := make(map[int]int)
	for _, a := range drained {
		if seen[a.Timestamp] {
			t.Fatalf("item %d drained twice", a.Timestamp)
		}
		seen[a.Timestamp] = true
		p := int(a.Timestamp / 1_000_000)
		seq := int(a.Timestamp % 1_000_000)
		if seq <= lastSeq[p] {
			t.Fatalf("producer %d reordered: %d after %d", p, seq, lastSeq[p])
		}
		lastSeq[p] = seq
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("drained %d unique items, want %d", len(seen), producers*perProducer)
	}
}

package recording

import (
	"context"
	"log"
	"time"

	"blockledger/internal/audit"
)

// Batch stages activities inside one storage transaction.
type Batch interface {
	Add(*audit.Activity) error
	Commit() error
	Rollback() error
}

// BatchStore is the slice of the storage adapter the recorder needs.
type BatchStore interface {
	BeginBatch() (Batch, error)
}

// DiscardLog receives batches that permanently failed to persist. The zstd
// JSONL writer in persistence/log satisfies it.
type DiscardLog interface {
	Write(v any) error
}

type discardEntry struct {
	Reason    string `json:"reason"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	World     string `json:"world"`
	Action    string `json:"action"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Z         int    `json:"z"`
	Cause     string `json:"cause"`
}

type RecorderConfig struct {
	Interval    time.Duration // cadence of drain cycles
	MaxPerCycle int           // max activities written per cycle
	MaxRetries  int           // batch attempts before the discard log
}

func (c *RecorderConfig) normalize() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxPerCycle <= 0 {
		c.MaxPerCycle = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Recorder drains the queue on a fixed cadence and writes one batch per
// cycle. It runs on a single goroutine, so two cycles can never overlap: a
// slow write simply delays the next tick.
type Recorder struct {
	queue   *Queue
	store   BatchStore
	discard DiscardLog
	cfg     RecorderConfig

	// holdover keeps a drained-but-unwritten batch across cycles so a
	// transient storage failure loses nothing.
	holdover []*audit.Activity
	attempts int
}

func NewRecorder(queue *Queue, store BatchStore, discard DiscardLog, cfg RecorderConfig) *Recorder {
	cfg.normalize()
	return &Recorder{queue: queue, store: store, discard: discard, cfg: cfg}
}

// Run drives drain cycles until ctx is cancelled. A final cycle flushes
// whatever is pending on shutdown.
func (r *Recorder) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Flush()
			return
		case <-t.C:
			r.cycle()
		}
	}
}

// Flush cycles until the queue and any holdover batch are empty. A batch
// that keeps failing is still bounded by MaxRetries, so this terminates.
func (r *Recorder) Flush() {
	for {
		r.cycle()
		if len(r.holdover) == 0 && r.queue.Len() == 0 {
			return
		}
	}
}

// cycle performs one drain-and-write pass.
func (r *Recorder) cycle() {
	if len(r.holdover) == 0 {
		r.holdover = r.queue.Drain(r.cfg.MaxPerCycle)
		r.attempts = 0
	}
	if len(r.holdover) == 0 {
		return
	}

	err := r.writeBatch(r.holdover)
	if err == nil {
		r.holdover = nil
		r.attempts = 0
		return
	}

	r.attempts++
	if r.attempts < r.cfg.MaxRetries {
		log.Printf("recorder: batch of %d failed (attempt %d/%d), will retry: %v",
			len(r.holdover), r.attempts, r.cfg.MaxRetries, err)
		return
	}

	// Poison batch: keep the full context in the discard log, then drop it
	// so one bad record cannot stall the writer forever.
	log.Printf("recorder: dropping batch of %d after %d attempts: %v",
		len(r.holdover), r.attempts, err)
	r.logDiscards(r.holdover, err)
	r.holdover = nil
	r.attempts = 0
}

func (r *Recorder) writeBatch(activities []*audit.Activity) error {
	batch, err := r.store.BeginBatch()
	if err != nil {
		return err
	}
	for _, a := range activities {
		if err := batch.Add(a); err != nil {
			_ = batch.Rollback()
			return err
		}
	}
	return batch.Commit()
}

func (r *Recorder) logDiscards(activities []*audit.Activity, cause error) {
	if r.discard == nil {
		return
	}
	for _, a := range activities {
		e := discardEntry{
			Reason:    "persist-failed",
			Attempts:  r.attempts,
			Error:     cause.Error(),
			Timestamp: a.Timestamp,
			World:     a.World.UUID.String(),
			Action:    a.Action.Type().Key(),
			X:         a.Pos.X,
			Y:         a.Pos.Y,
			Z:         a.Pos.Z,
			Cause:     a.CauseText(),
		}
		if err := r.discard.Write(e); err != nil {
			log.Printf("recorder: discard log write failed: %v", err)
			return
		}
	}
}

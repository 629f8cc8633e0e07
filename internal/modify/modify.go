// Package modify replays or reverses recorded activities against live world
// state in bounded slices, so large rollbacks never stall the host's own
// tick work.
package modify

import (
	"blockledger/internal/audit"
	"blockledger/internal/world"
)

// Status is the per-item outcome of one apply attempt.
type Status uint8

const (
	Skipped Status = iota
	Planned
	Applied
)

func (s Status) String() string {
	switch s {
	case Planned:
		return "planned"
	case Applied:
		return "applied"
	default:
		return "skipped"
	}
}

// State is the terminal outcome of a queue run. Previews finish Incomplete:
// nothing durable happened, the pending work still exists from storage's
// point of view.
type State uint8

const (
	Incomplete State = iota
	Complete
)

func (s State) String() string {
	if s == Complete {
		return "complete"
	}
	return "incomplete"
}

// Mode selects whether an apply mutates shared world state or only the
// initiator's view.
type Mode uint8

const (
	Preview Mode = iota
	Commit
)

func (m Mode) String() string {
	if m == Commit {
		return "commit"
	}
	return "preview"
}

// Direction selects which way a reversible activity is replayed.
type Direction uint8

const (
	Rollback Direction = iota
	Restore
)

func (d Direction) String() string {
	if d == Restore {
		return "restore"
	}
	return "rollback"
}

// StateChange is the old/new pair one apply produced at a cell. Retained only
// for the lifetime of a run, to support cancelling a preview.
type StateChange struct {
	Pos world.Vec3i
	Old world.Block
	New world.Block
}

// Result is the outcome of applying one activity.
type Result struct {
	Activity *audit.Activity
	Change   *StateChange
	Status   Status
}

// QueueResult aggregates one full run.
type QueueResult struct {
	Mode      Mode
	Direction Direction
	State     State
	Skipped   int
	Planned   int
	Applied   int
}

// BlockAccess is the slice of live world state the engine mutates.
// *world.Store satisfies it.
type BlockAccess interface {
	BlockAt(pos world.Vec3i) (world.Block, bool)
	SetBlockAt(pos world.Vec3i, b world.Block) bool
}

// Initiator is the actor a run reports to. ShowBlock renders a cell state to
// that actor's view only; previews and cancellation use it, commits never do.
type Initiator interface {
	ShowBlock(pos world.Vec3i, b world.Block)
}

// targetBlock resolves what a cell should become when a block activity is
// replayed in the given direction. Rollback reverts the cell to its
// pre-change state: for a removal that re-creates the removed material, for
// a creation it reverts to whatever was replaced. Restore re-applies the
// recorded change.
func targetBlock(act *audit.BlockAction, dir Direction) world.Block {
	if dir == Rollback {
		return act.Replaced
	}
	return act.Block
}

package audit

import (
	"fmt"

	"github.com/google/uuid"

	"blockledger/internal/world"
)

// WorldRef identifies the world an activity happened in.
type WorldRef struct {
	UUID uuid.UUID
	Name string
}

// PlayerRef identifies a player cause.
type PlayerRef struct {
	UUID uuid.UUID
	Name string
}

// Activity is one recorded occurrence of a world change. Immutable once
// built; capture sites hand it to the recording queue and never touch it
// again.
type Activity struct {
	// ID is the storage row id for activities read back from the database;
	// zero for freshly captured ones.
	ID int64

	Action    Action
	World     WorldRef
	Pos       world.Vec3i
	Timestamp int64 // seconds since epoch

	// Exactly one of Player / Cause is set.
	Player *PlayerRef
	Cause  string
}

// NewActivity validates the required-field invariants at construction time:
// an action, a world, a timestamp, and a player identity XOR a cause string.
func NewActivity(action Action, w WorldRef, pos world.Vec3i, ts int64, player *PlayerRef, cause string) (*Activity, error) {
	if action == nil {
		return nil, fmt.Errorf("activity requires an action")
	}
	if w.UUID == uuid.Nil {
		return nil, fmt.Errorf("activity requires a world")
	}
	if ts <= 0 {
		return nil, fmt.Errorf("activity requires a timestamp")
	}
	if player == nil && cause == "" {
		return nil, fmt.Errorf("activity requires a player or a cause")
	}
	if player != nil && cause != "" {
		return nil, fmt.Errorf("activity cannot have both a player and a cause")
	}
	if player != nil && player.UUID == uuid.Nil {
		return nil, fmt.Errorf("player cause requires a uuid")
	}
	return &Activity{Action: action, World: w, Pos: pos, Timestamp: ts, Player: player, Cause: cause}, nil
}

// CauseText renders whoever caused the activity for operator output.
func (a *Activity) CauseText() string {
	if a.Player != nil {
		return a.Player.Name
	}
	return a.Cause
}

// GroupedActivity is a summarized query row: n occurrences collapsed into one
// record with averaged coordinates and timestamp. Never enqueued or replayed.
type GroupedActivity struct {
	Action    Action
	World     WorldRef
	AvgX      float64
	AvgY      float64
	AvgZ      float64
	AvgTime   float64
	Player    *PlayerRef
	Cause     string
	Count     int64
	TotalRows int64
}

func (g *GroupedActivity) CauseText() string {
	if g.Player != nil {
		return g.Player.Name
	}
	return g.Cause
}

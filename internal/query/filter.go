package query

import (
	"fmt"

	"github.com/google/uuid"

	"blockledger/internal/world"
)

type Sort uint8

const (
	SortDescending Sort = iota
	SortAscending
)

func (s Sort) String() string {
	if s == SortAscending {
		return "asc"
	}
	return "desc"
}

// Filter is the structured description of what to read back from the ledger.
// Zero values mean "no constraint". Validate before handing it to storage.
type Filter struct {
	// Exactly-one-of location constraints: a single cell, or a min/max box.
	Location *world.Vec3i
	Min      *world.Vec3i
	Max      *world.Vec3i

	WorldUUID uuid.UUID

	ActionKeys  []string
	Materials   []string
	EntityTypes []string
	PlayerNames []string
	Cause       string

	// Epoch seconds; zero means unbounded.
	After  int64
	Before int64

	// Grouped collapses activities sharing dimensions into summary rows.
	Grouped bool

	// Lookup marks history-browsing queries. Non-lookup queries feed the
	// modification engine and get the reversible-only rail plus the
	// replay-safety ordering.
	Lookup bool

	Sort   Sort
	Limit  int
	Offset int
}

// Validate fails fast on filters that could never execute sensibly.
func (f *Filter) Validate() error {
	if f.Location != nil && (f.Min != nil || f.Max != nil) {
		return fmt.Errorf("filter cannot combine a single location with a bounding box")
	}
	if (f.Min == nil) != (f.Max == nil) {
		return fmt.Errorf("filter bounding box requires both min and max corners")
	}
	if f.Min != nil && f.Max != nil {
		if f.Min.X > f.Max.X || f.Min.Y > f.Max.Y || f.Min.Z > f.Max.Z {
			return fmt.Errorf("filter bounding box min exceeds max")
		}
	}
	if f.After < 0 || f.Before < 0 {
		return fmt.Errorf("filter timestamps cannot be negative")
	}
	if f.After > 0 && f.Before > 0 && f.After > f.Before {
		return fmt.Errorf("filter time range is inverted: after %d > before %d", f.After, f.Before)
	}
	if f.Limit < 0 {
		return fmt.Errorf("filter limit cannot be negative")
	}
	if f.Offset < 0 {
		return fmt.Errorf("filter offset cannot be negative")
	}
	if f.Grouped && !f.Lookup {
		return fmt.Errorf("grouped rows cannot feed a rollback or restore")
	}
	return nil
}

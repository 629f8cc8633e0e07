package query

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"blockledger/internal/world"
)

//go:embed filter.schema.json
var filterSchemaJSON string

var filterSchema = jsonschema.MustCompileString("filter.schema.json", filterSchemaJSON)

type coordDoc struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

type filterDoc struct {
	World       string    `json:"world"`
	At          *coordDoc `json:"at"`
	Min         *coordDoc `json:"min"`
	Max         *coordDoc `json:"max"`
	Actions     []string  `json:"actions"`
	Materials   []string  `json:"materials"`
	EntityTypes []string  `json:"entity_types"`
	Players     []string  `json:"players"`
	Cause       string    `json:"cause"`
	After       int64     `json:"after"`
	Before      int64     `json:"before"`
	Grouped     bool      `json:"grouped"`
	Lookup      bool      `json:"lookup"`
	Sort        string    `json:"sort"`
	Limit       int       `json:"limit"`
	Offset      int       `json:"offset"`
}

// ParseJSON turns an operator-supplied JSON filter document into a validated
// Filter. The document is checked against the embedded schema before any
// field parsing, so malformed input fails with a precise message and nothing
// half-built.
func ParseJSON(raw []byte) (*Filter, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("filter is not valid JSON: %w", err)
	}
	if err := filterSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("filter rejected by schema: %w", err)
	}

	var doc filterDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	f := &Filter{
		ActionKeys:  doc.Actions,
		Materials:   doc.Materials,
		EntityTypes: doc.EntityTypes,
		PlayerNames: doc.Players,
		Cause:       doc.Cause,
		After:       doc.After,
		Before:      doc.Before,
		Grouped:     doc.Grouped,
		Lookup:      doc.Lookup,
		Limit:       doc.Limit,
		Offset:      doc.Offset,
	}
	if doc.World != "" {
		id, err := uuid.Parse(doc.World)
		if err != nil {
			return nil, fmt.Errorf("filter world: %w", err)
		}
		f.WorldUUID = id
	}
	if doc.At != nil {
		f.Location = &world.Vec3i{X: doc.At.X, Y: doc.At.Y, Z: doc.At.Z}
	}
	if doc.Min != nil {
		f.Min = &world.Vec3i{X: doc.Min.X, Y: doc.Min.Y, Z: doc.Min.Z}
	}
	if doc.Max != nil {
		f.Max = &world.Vec3i{X: doc.Max.X, Y: doc.Max.Y, Z: doc.Max.Z}
	}
	if doc.Sort == "asc" {
		f.Sort = SortAscending
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

package audit

import (
	"fmt"
	"sort"
	"strings"
)

// ErrDuplicateAction is wrapped by Registry.Register on key collisions.
var ErrDuplicateAction = fmt.Errorf("action type already registered")

// Registry owns every ActionType known to the process. One instance is built
// at startup and handed to whoever needs it; there is no package-level state.
type Registry struct {
	types map[string]*ActionType
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*ActionType)}
}

// NewDefaultRegistry returns a registry preloaded with the built-in action
// types recorded by the standard capture adapters.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range []*ActionType{
		NewBlockActionType("block-break", ResultRemoves, true),
		NewBlockActionType("block-place", ResultCreates, true),
		NewEntityActionType("entity-kill", ResultRemoves, true),
		NewEntityActionType("hanging-break", ResultRemoves, true),
		NewItemActionType("item-drop", ResultRemoves, true),
		NewEntityActionType("vehicle-enter", ResultNone, false),
		NewEntityActionType("vehicle-place", ResultCreates, false),
	} {
		// Built-in keys are distinct; a failure here is a programming error.
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Register(t *ActionType) error {
	if t == nil || t.key == "" {
		return fmt.Errorf("action type requires a key")
	}
	if _, ok := r.types[t.key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateAction, t.key)
	}
	r.types[t.key] = t
	return nil
}

func (r *Registry) ActionType(key string) (*ActionType, bool) {
	t, ok := r.types[key]
	return t, ok
}

func (r *Registry) ActionTypes() []*ActionType {
	out := make([]*ActionType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (r *Registry) ActionTypesInFamily(family string) []*ActionType {
	var out []*ActionType
	for _, t := range r.ActionTypes() {
		if strings.EqualFold(t.familyKey, family) {
			out = append(out, t)
		}
	}
	return out
}

// ReversibleKeys lists the keys of every reversible action type, in key
// order. The query builder uses it as the implicit rollback filter.
func (r *Registry) ReversibleKeys() []string {
	var keys []string
	for _, t := range r.ActionTypes() {
		if t.reversible {
			keys = append(keys, t.key)
		}
	}
	return keys
}

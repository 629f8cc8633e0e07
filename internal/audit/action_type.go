package audit

import "strings"

// ResultType describes what an action does to its target.
type ResultType uint8

const (
	ResultNone ResultType = iota
	ResultCreates
	ResultRemoves
)

func (r ResultType) String() string {
	switch r {
	case ResultCreates:
		return "creates"
	case ResultRemoves:
		return "removes"
	default:
		return "none"
	}
}

// TargetKind selects the Action variant an ActionType produces.
type TargetKind uint8

const (
	TargetBlock TargetKind = iota
	TargetEntity
	TargetItem
)

func (k TargetKind) String() string {
	switch k {
	case TargetBlock:
		return "block"
	case TargetEntity:
		return "entity"
	default:
		return "item"
	}
}

// ActionType is the registered descriptor of a class of world changes.
// Immutable after construction; registered once, shared everywhere.
type ActionType struct {
	key        string
	familyKey  string
	target     TargetKind
	resultType ResultType
	reversible bool
}

func newActionType(key string, target TargetKind, result ResultType, reversible bool) *ActionType {
	return &ActionType{
		key:        key,
		familyKey:  familyOf(key),
		target:     target,
		resultType: result,
		reversible: reversible,
	}
}

func NewBlockActionType(key string, result ResultType, reversible bool) *ActionType {
	return newActionType(key, TargetBlock, result, reversible)
}

func NewEntityActionType(key string, result ResultType, reversible bool) *ActionType {
	return newActionType(key, TargetEntity, result, reversible)
}

func NewItemActionType(key string, result ResultType, reversible bool) *ActionType {
	return newActionType(key, TargetItem, result, reversible)
}

func (t *ActionType) Key() string            { return t.key }
func (t *ActionType) FamilyKey() string      { return t.familyKey }
func (t *ActionType) Target() TargetKind     { return t.target }
func (t *ActionType) ResultType() ResultType { return t.resultType }
func (t *ActionType) Reversible() bool       { return t.reversible }

// familyOf derives the family key from the action key: the text after the
// last dash, so "block-break" and "hanging-break" share the "break" family.
func familyOf(key string) string {
	if i := strings.LastIndexByte(key, '-'); i >= 0 && i+1 < len(key) {
		return key[i+1:]
	}
	return key
}

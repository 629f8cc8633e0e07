package audit

import (
	"fmt"

	"blockledger/internal/world"
)

// Action is one concrete change instance. Exactly one variant exists per
// TargetKind; consumers dispatch with a type switch rather than growing this
// interface.
type Action interface {
	Type() *ActionType
	Descriptor() string
}

// BlockAction carries both temporal directions of a cell change: the state
// the action left behind and the state it replaced. That is enough to replay
// the change either way: rollback puts Replaced back, restore puts Block
// back.
type BlockAction struct {
	actionType *ActionType
	descriptor string

	Block    world.Block // state after the recorded action
	Replaced world.Block // state before the recorded action
}

func NewBlockAction(t *ActionType, block, replaced world.Block, descriptor string) (*BlockAction, error) {
	if t == nil || t.target != TargetBlock {
		return nil, fmt.Errorf("block actions require a block action type")
	}
	if descriptor == "" {
		// The subject of a removal is what used to be there.
		if block.IsAir() {
			descriptor = replaced.Material
		} else {
			descriptor = block.Material
		}
	}
	return &BlockAction{actionType: t, descriptor: descriptor, Block: block, Replaced: replaced}, nil
}

func (a *BlockAction) Type() *ActionType  { return a.actionType }
func (a *BlockAction) Descriptor() string { return a.descriptor }

func (a *BlockAction) HasCustomData() bool { return len(a.Block.Custom) > 0 }

// EntityAction records a change to a live entity (kill, hanging break, ...).
// Data is the serialized entity state needed for respawn on rollback.
type EntityAction struct {
	actionType *ActionType
	descriptor string

	EntityType string
	Data       []byte
}

func NewEntityAction(t *ActionType, entityType string, data []byte, descriptor string) (*EntityAction, error) {
	if t == nil || t.target != TargetEntity {
		return nil, fmt.Errorf("entity actions require an entity action type")
	}
	if entityType == "" {
		return nil, fmt.Errorf("entity actions require an entity type")
	}
	if descriptor == "" {
		descriptor = entityType
	}
	return &EntityAction{actionType: t, descriptor: descriptor, EntityType: entityType, Data: data}, nil
}

func (a *EntityAction) Type() *ActionType  { return a.actionType }
func (a *EntityAction) Descriptor() string { return a.descriptor }

// ItemAction records an item stack leaving or entering the world.
type ItemAction struct {
	actionType *ActionType
	descriptor string

	Material string
	Quantity int
}

func NewItemAction(t *ActionType, material string, quantity int, descriptor string) (*ItemAction, error) {
	if t == nil || t.target != TargetItem {
		return nil, fmt.Errorf("item actions require an item action type")
	}
	if material == "" {
		return nil, fmt.Errorf("item actions require a material")
	}
	if quantity <= 0 {
		quantity = 1
	}
	if descriptor == "" {
		descriptor = fmt.Sprintf("%d %s", quantity, material)
	}
	return &ItemAction{actionType: t, descriptor: descriptor, Material: material, Quantity: quantity}, nil
}

func (a *ItemAction) Type() *ActionType  { return a.actionType }
func (a *ItemAction) Descriptor() string { return a.descriptor }

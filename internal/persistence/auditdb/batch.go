package auditdb

import (
	"database/sql"
	"fmt"
	"strings"

	"blockledger/internal/audit"
	"blockledger/internal/recording"
	"blockledger/internal/world"
)

// customDataVersion tags rows in activities_custom_data so future format
// changes can coexist with old payloads.
const customDataVersion = 1

// ActivityBatch stages one recorder cycle inside a single transaction.
// Either every staged row commits or none does; the transaction is released
// on every exit path.
type ActivityBatch struct {
	tx   *sql.Tx
	res  *resolver
	done bool

	shared *dimCache
}

// BeginBatch opens a transaction-scoped batch accumulator. Implements
// recording.BatchStore.
func (s *Store) BeginBatch() (recording.Batch, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	return &ActivityBatch{
		tx:     tx,
		res:    newResolver(tx, s.cache),
		shared: s.cache,
	}, nil
}

// Add stages one activity row, resolving every dimension id inside the
// batch's transaction.
func (b *ActivityBatch) Add(a *audit.Activity) error {
	if b.done {
		return fmt.Errorf("batch already closed")
	}
	if a == nil {
		return fmt.Errorf("nil activity")
	}

	worldID, err := b.res.worldID(a.World.UUID, a.World.Name)
	if err != nil {
		return fmt.Errorf("resolve world: %w", err)
	}
	actionID, err := b.res.actionID(a.Action.Type().Key())
	if err != nil {
		return fmt.Errorf("resolve action: %w", err)
	}

	var causeID int64
	if a.Player != nil {
		playerID, err := b.res.playerID(a.Player.UUID, a.Player.Name)
		if err != nil {
			return fmt.Errorf("resolve player: %w", err)
		}
		causeID, err = b.res.playerCauseID(playerID, a.Player.UUID)
		if err != nil {
			return fmt.Errorf("resolve player cause: %w", err)
		}
	} else {
		causeID, err = b.res.textCauseID(a.Cause)
		if err != nil {
			return fmt.Errorf("resolve cause: %w", err)
		}
	}

	var materialID, oldMaterialID, entityTypeID any
	var customData []byte
	switch act := a.Action.(type) {
	case *audit.BlockAction:
		mat := act.Block.Material
		if mat == "" {
			mat = world.AirMaterial
		}
		id, err := b.res.materialID(normalizeMaterial(mat), act.Block.Data)
		if err != nil {
			return fmt.Errorf("resolve material: %w", err)
		}
		materialID = id
		oldMat := act.Replaced.Material
		if oldMat == "" {
			oldMat = world.AirMaterial
		}
		oldID, err := b.res.materialID(normalizeMaterial(oldMat), act.Replaced.Data)
		if err != nil {
			return fmt.Errorf("resolve old material: %w", err)
		}
		oldMaterialID = oldID
		customData = act.Block.Custom
	case *audit.EntityAction:
		id, err := b.res.entityTypeID(normalizeMaterial(act.EntityType))
		if err != nil {
			return fmt.Errorf("resolve entity type: %w", err)
		}
		entityTypeID = id
		customData = act.Data
	case *audit.ItemAction:
		id, err := b.res.materialID(normalizeMaterial(act.Material), "")
		if err != nil {
			return fmt.Errorf("resolve item material: %w", err)
		}
		materialID = id
	default:
		return fmt.Errorf("unknown action variant %T", a.Action)
	}

	res, err := b.tx.Exec(`INSERT INTO activities
		(timestamp, world_id, x, y, z, action_id, material_id, old_material_id, entity_type_id, cause_id, descriptor)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Timestamp, worldID, a.Pos.X, a.Pos.Y, a.Pos.Z,
		actionID, materialID, oldMaterialID, entityTypeID, causeID, a.Action.Descriptor())
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}

	if len(customData) > 0 {
		activityID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := b.tx.Exec(`INSERT INTO activities_custom_data (activity_id, version, data)
			VALUES (?, ?, ?)`, activityID, customDataVersion, string(customData)); err != nil {
			return fmt.Errorf("insert custom data: %w", err)
		}
	}
	return nil
}

// Commit flushes the batch and promotes its staged dimension ids into the
// shared cache.
func (b *ActivityBatch) Commit() error {
	if b.done {
		return fmt.Errorf("batch already closed")
	}
	b.done = true
	if err := b.tx.Commit(); err != nil {
		return err
	}
	b.shared.absorb(b.res.staged)
	return nil
}

// Rollback discards the whole batch, staged cache entries included.
func (b *ActivityBatch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.tx.Rollback()
}

// normalizeMaterial lowercases material and entity names so the dimension
// tables never split on case.
func normalizeMaterial(s string) string {
	return strings.ToLower(s)
}

// blockFromRow rebuilds the recorded block state from dimension columns.
func blockFromRow(material, data sql.NullString, custom sql.NullString) world.Block {
	b := world.Block{}
	if material.Valid {
		b.Material = material.String
	}
	if data.Valid {
		b.Data = data.String
	}
	if custom.Valid && custom.String != "" {
		b.Custom = []byte(custom.String)
	}
	if b.Material == "" {
		b.Material = world.AirMaterial
	}
	return b
}

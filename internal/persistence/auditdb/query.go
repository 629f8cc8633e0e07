package auditdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"blockledger/internal/audit"
	"blockledger/internal/query"
	"blockledger/internal/world"
)

// Page is one window of query results: single activities for replay-bound
// queries, summary rows for grouped ones. TotalRows is the window-independent
// match count so callers can page.
type Page struct {
	Activities []*audit.Activity
	Grouped    []*audit.GroupedActivity
	TotalRows  int64
}

// Query builds and executes one filter against the ledger.
func (s *Store) Query(ctx context.Context, f *query.Filter) (*Page, error) {
	sqlStr, params, err := s.buildQuery(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, params...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	page := &Page{}
	if f.Grouped {
		for rows.Next() {
			g, err := s.scanGrouped(rows)
			if err != nil {
				return nil, err
			}
			page.Grouped = append(page.Grouped, g)
			page.TotalRows = g.TotalRows
		}
	} else {
		for rows.Next() {
			a, total, err := s.scanActivity(rows)
			if err != nil {
				return nil, err
			}
			page.Activities = append(page.Activities, a)
			page.TotalRows = total
		}
	}
	return page, rows.Err()
}

// buildQuery translates a filter into parameterized SQL. Mirrors the grouped
// and single field sets, the reversible-only rail, and the replay-safety
// ordering described in the package docs.
func (s *Store) buildQuery(f *query.Filter) (string, []any, error) {
	if f == nil {
		return "", nil, fmt.Errorf("nil filter")
	}
	if err := f.Validate(); err != nil {
		return "", nil, err
	}

	actionKeys, impossible, err := s.effectiveActionKeys(f)
	if err != nil {
		return "", nil, err
	}

	var fields []string
	if f.Grouped {
		fields = []string{
			"worlds.world_uuid", "worlds.world",
			"actions.action",
			"materials.material",
			"entity_types.entity_type",
			"causes.cause",
			"players.player_uuid", "players.player",
			"activities.descriptor",
			"AVG(activities.x) AS x", "AVG(activities.y) AS y", "AVG(activities.z) AS z",
			"AVG(activities.timestamp) AS timestamp",
			"COUNT(*) AS group_count",
			"COUNT(*) OVER() AS total_rows",
		}
	} else {
		fields = []string{
			"activities.activity_id",
			"activities.timestamp",
			"activities.x", "activities.y", "activities.z",
			"worlds.world_uuid", "worlds.world",
			"actions.action",
			"materials.material", "materials.data",
			"old_materials.material AS old_material", "old_materials.data AS old_material_data",
			"entity_types.entity_type",
			"causes.cause",
			"players.player_uuid", "players.player",
			"activities.descriptor",
			"custom_data.data AS custom_data",
			"COALESCE(custom_data.version, 0) AS data_version",
			"COUNT(*) OVER() AS total_rows",
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(" FROM activities")
	b.WriteString(" JOIN actions ON actions.action_id = activities.action_id")
	b.WriteString(" JOIN causes ON causes.cause_id = activities.cause_id")
	b.WriteString(" JOIN worlds ON worlds.world_id = activities.world_id")
	b.WriteString(" LEFT JOIN players ON players.player_id = causes.player_id")
	b.WriteString(" LEFT JOIN entity_types ON entity_types.entity_type_id = activities.entity_type_id")
	b.WriteString(" LEFT JOIN materials ON materials.material_id = activities.material_id")
	b.WriteString(" LEFT JOIN materials AS old_materials ON old_materials.material_id = activities.old_material_id")
	if !f.Grouped {
		b.WriteString(" LEFT JOIN activities_custom_data AS custom_data ON custom_data.activity_id = activities.activity_id")
	}

	var conditions []string
	var params []any

	if impossible {
		conditions = append(conditions, "1 = 0")
	}

	if f.Location != nil {
		conditions = append(conditions, "(activities.x = ? AND activities.y = ? AND activities.z = ?)")
		params = append(params, f.Location.X, f.Location.Y, f.Location.Z)
	} else if f.Min != nil && f.Max != nil {
		conditions = append(conditions,
			"(activities.x BETWEEN ? AND ?)",
			"(activities.y BETWEEN ? AND ?)",
			"(activities.z BETWEEN ? AND ?)")
		params = append(params, f.Min.X, f.Max.X, f.Min.Y, f.Max.Y, f.Min.Z, f.Max.Z)
	}

	if f.WorldUUID != uuid.Nil {
		conditions = append(conditions, "worlds.world_uuid = ?")
		params = append(params, f.WorldUUID.String())
	}

	if len(actionKeys) > 0 {
		cond, p := inCondition("actions.action", actionKeys)
		conditions = append(conditions, cond)
		params = append(params, p...)
	}

	if len(f.Materials) > 0 {
		lowered := make([]string, len(f.Materials))
		for i, m := range f.Materials {
			lowered[i] = normalizeMaterial(m)
		}
		// The subject material lives in old_material for removals and in
		// material for creations, so the filter matches either side.
		in, p := placeholders(lowered)
		conditions = append(conditions,
			"(materials.material IN ("+in+") OR old_materials.material IN ("+in+"))")
		params = append(params, p...)
		params = append(params, p...)
	}

	if len(f.EntityTypes) > 0 {
		lowered := make([]string, len(f.EntityTypes))
		for i, e := range f.EntityTypes {
			lowered[i] = normalizeMaterial(e)
		}
		cond, p := inCondition("entity_types.entity_type", lowered)
		conditions = append(conditions, cond)
		params = append(params, p...)
	}

	if len(f.PlayerNames) > 0 {
		cond, p := inCondition("players.player", f.PlayerNames)
		conditions = append(conditions, cond)
		params = append(params, p...)
	}

	if f.Cause != "" {
		conditions = append(conditions, "causes.cause = ?")
		params = append(params, f.Cause)
	}

	switch {
	case f.After > 0 && f.Before > 0:
		conditions = append(conditions, "activities.timestamp BETWEEN ? AND ?")
		params = append(params, f.After, f.Before)
	case f.After > 0:
		conditions = append(conditions, "activities.timestamp > ?")
		params = append(params, f.After)
	case f.Before > 0:
		conditions = append(conditions, "activities.timestamp < ?")
		params = append(params, f.Before)
	}

	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}

	if f.Grouped {
		b.WriteString(" GROUP BY worlds.world_uuid, activities.action_id, materials.material," +
			" entity_types.entity_type, causes.cause, players.player_uuid, activities.descriptor")
	}

	orderSQL, orderParams := s.orderBy(f)
	b.WriteString(orderSQL)
	params = append(params, orderParams...)

	if f.Limit > 0 {
		b.WriteString(" LIMIT ? OFFSET ?")
		params = append(params, f.Limit, f.Offset)
	}

	return b.String(), params, nil
}

// effectiveActionKeys applies the reversible-only rail. Lookup queries keep
// every requested kind; replay-bound queries silently drop irreversible
// kinds, and with no explicit request they restrict to every reversible kind.
// The bool result marks a query that can match nothing (every requested kind
// was dropped).
func (s *Store) effectiveActionKeys(f *query.Filter) ([]string, bool, error) {
	if len(f.ActionKeys) > 0 {
		var keys []string
		for _, key := range f.ActionKeys {
			t, ok := s.registry.ActionType(key)
			if !ok {
				return nil, false, fmt.Errorf("unknown action kind %q", key)
			}
			if f.Lookup || t.Reversible() {
				keys = append(keys, key)
			}
		}
		if len(keys) == 0 {
			return nil, true, nil
		}
		return keys, false, nil
	}

	if !f.Lookup {
		keys := s.registry.ReversibleKeys()
		if len(keys) == 0 {
			return nil, true, nil
		}
		return keys, false, nil
	}
	return nil, false, nil
}

// orderBy picks timestamp ordering for lookups and the replay-safety
// ordering for everything feeding the modification engine: attached-material
// tiers sort after their supports, then x/z ascending, then y descending for
// top-down-rebuilt materials and ascending for the rest. The attached
// material may sit on either side of the change (old_material for a removal
// being rolled back, material for a creation being restored), so both
// columns are consulted.
func (s *Store) orderBy(f *query.Filter) (string, []any) {
	dir := "DESC"
	if f.Sort == query.SortAscending {
		dir = "ASC"
	}

	if f.Lookup && f.Grouped {
		return " ORDER BY AVG(activities.timestamp) " + dir, nil
	}
	if f.Lookup {
		return " ORDER BY activities.timestamp " + dir, nil
	}

	var b strings.Builder
	var params []any
	b.WriteString(" ORDER BY ")

	if len(s.ordering.Tiers) > 0 {
		b.WriteString("CASE")
		for i, tier := range s.ordering.Tiers {
			in, inParams := placeholders(tier)
			fmt.Fprintf(&b, " WHEN materials.material IN (%s) OR old_materials.material IN (%s) THEN %d", in, in, i+1)
			params = append(params, inParams...)
			params = append(params, inParams...)
		}
		b.WriteString(" ELSE 0 END ASC, ")
	}

	b.WriteString("activities.x ASC, activities.z ASC")

	if len(s.ordering.TopDown) > 0 {
		in, inParams := placeholders(s.ordering.TopDown)
		cond := "materials.material IN (" + in + ") OR old_materials.material IN (" + in + ")"
		b.WriteString(", CASE WHEN COALESCE(" + cond + ", 0) THEN activities.y END DESC")
		params = append(params, inParams...)
		params = append(params, inParams...)
		b.WriteString(", CASE WHEN NOT COALESCE(" + cond + ", 0) THEN activities.y END ASC")
		params = append(params, inParams...)
		params = append(params, inParams...)
	} else {
		b.WriteString(", activities.y ASC")
	}

	return b.String(), params
}

func inCondition(field string, values []string) (string, []any) {
	in, params := placeholders(values)
	return field + " IN (" + in + ")", params
}

func placeholders(values []string) (string, []any) {
	params := make([]any, len(values))
	for i, v := range values {
		params[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(values)), ","), params
}

func (s *Store) scanActivity(rows *sql.Rows) (*audit.Activity, int64, error) {
	var (
		activityID, timestamp          int64
		x, y, z                        int
		worldUUID                      string
		worldName                      sql.NullString
		actionKey                      string
		material, materialData         sql.NullString
		oldMaterial, oldMaterialData   sql.NullString
		entityType, cause              sql.NullString
		playerUUID, playerName         sql.NullString
		descriptor, customData         sql.NullString
		dataVersion, totalRows         int64
	)
	if err := rows.Scan(&activityID, &timestamp, &x, &y, &z,
		&worldUUID, &worldName, &actionKey,
		&material, &materialData, &oldMaterial, &oldMaterialData,
		&entityType, &cause, &playerUUID, &playerName,
		&descriptor, &customData, &dataVersion, &totalRows); err != nil {
		return nil, 0, fmt.Errorf("scan activity: %w", err)
	}

	action, err := s.rebuildAction(actionKey, material, materialData, oldMaterial, oldMaterialData,
		entityType, customData, descriptor.String)
	if err != nil {
		return nil, 0, err
	}

	w, player, causeText, err := identityFromRow(worldUUID, worldName, playerUUID, playerName, cause)
	if err != nil {
		return nil, 0, err
	}

	a, err := audit.NewActivity(action, w, world.Vec3i{X: x, Y: y, Z: z}, timestamp, player, causeText)
	if err != nil {
		return nil, 0, fmt.Errorf("rebuild activity %d: %w", activityID, err)
	}
	a.ID = activityID
	return a, totalRows, nil
}

func (s *Store) scanGrouped(rows *sql.Rows) (*audit.GroupedActivity, error) {
	var (
		worldUUID              string
		worldName              sql.NullString
		actionKey              string
		material               sql.NullString
		entityType, cause      sql.NullString
		playerUUID, playerName sql.NullString
		descriptor             sql.NullString
		avgX, avgY, avgZ       float64
		avgTime                float64
		groupCount, totalRows  int64
	)
	if err := rows.Scan(&worldUUID, &worldName, &actionKey,
		&material, &entityType, &cause, &playerUUID, &playerName, &descriptor,
		&avgX, &avgY, &avgZ, &avgTime, &groupCount, &totalRows); err != nil {
		return nil, fmt.Errorf("scan grouped activity: %w", err)
	}

	action, err := s.rebuildAction(actionKey, material, sql.NullString{}, sql.NullString{}, sql.NullString{},
		entityType, sql.NullString{}, descriptor.String)
	if err != nil {
		return nil, err
	}

	w, player, causeText, err := identityFromRow(worldUUID, worldName, playerUUID, playerName, cause)
	if err != nil {
		return nil, err
	}

	return &audit.GroupedActivity{
		Action:    action,
		World:     w,
		AvgX:      avgX,
		AvgY:      avgY,
		AvgZ:      avgZ,
		AvgTime:   avgTime,
		Player:    player,
		Cause:     causeText,
		Count:     groupCount,
		TotalRows: totalRows,
	}, nil
}

// rebuildAction reconstructs the action variant for a stored row, dispatching
// on the registered type's target kind.
func (s *Store) rebuildAction(actionKey string, material, materialData, oldMaterial, oldMaterialData,
	entityType, customData sql.NullString, descriptor string) (audit.Action, error) {

	t, ok := s.registry.ActionType(actionKey)
	if !ok {
		return nil, fmt.Errorf("stored action kind %q is not registered", actionKey)
	}

	switch t.Target() {
	case audit.TargetBlock:
		block := blockFromRow(material, materialData, customData)
		replaced := blockFromRow(oldMaterial, oldMaterialData, sql.NullString{})
		return audit.NewBlockAction(t, block, replaced, descriptor)
	case audit.TargetEntity:
		var data []byte
		if customData.Valid && customData.String != "" {
			data = []byte(customData.String)
		}
		return audit.NewEntityAction(t, entityType.String, data, descriptor)
	default:
		return audit.NewItemAction(t, material.String, 1, descriptor)
	}
}

func identityFromRow(worldUUID string, worldName, playerUUID, playerName, cause sql.NullString) (audit.WorldRef, *audit.PlayerRef, string, error) {
	wid, err := uuid.Parse(worldUUID)
	if err != nil {
		return audit.WorldRef{}, nil, "", fmt.Errorf("stored world uuid: %w", err)
	}
	w := audit.WorldRef{UUID: wid, Name: worldName.String}

	if playerUUID.Valid && playerUUID.String != "" {
		pid, err := uuid.Parse(playerUUID.String)
		if err != nil {
			return audit.WorldRef{}, nil, "", fmt.Errorf("stored player uuid: %w", err)
		}
		return w, &audit.PlayerRef{UUID: pid, Name: playerName.String}, "", nil
	}
	return w, nil, cause.String, nil
}

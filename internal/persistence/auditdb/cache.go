package auditdb

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// dimCache maps dimension natural keys to their surrogate row ids so repeat
// values cost no round trip. No eviction: the distinct materials, causes,
// players, worlds and action keys in a world's history plateau quickly.
//
// Ids resolved inside a batch transaction are staged in a private overlay and
// only promoted here on commit, so a rolled-back batch can never leave the
// cache pointing at rows that were never persisted. The on-disk unique
// indexes stay the correctness backstop for out-of-process writers.
type dimCache struct {
	mu          sync.Mutex
	actions     map[string]int64
	worlds      map[uuid.UUID]int64
	players     map[uuid.UUID]int64
	causes      map[string]int64 // "p:<uuid>" for player causes, "c:<text>" otherwise
	entityTypes map[string]int64
	materials   map[string]int64 // "<material>|<data>"
}

func newDimCache() *dimCache {
	return &dimCache{
		actions:     make(map[string]int64),
		worlds:      make(map[uuid.UUID]int64),
		players:     make(map[uuid.UUID]int64),
		causes:      make(map[string]int64),
		entityTypes: make(map[string]int64),
		materials:   make(map[string]int64),
	}
}

func (c *dimCache) absorb(o *dimCache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range o.actions {
		c.actions[k] = v
	}
	for k, v := range o.worlds {
		c.worlds[k] = v
	}
	for k, v := range o.players {
		c.players[k] = v
	}
	for k, v := range o.causes {
		c.causes[k] = v
	}
	for k, v := range o.entityTypes {
		c.entityTypes[k] = v
	}
	for k, v := range o.materials {
		c.materials[k] = v
	}
}

// querier is satisfied by both *sql.DB and *sql.Tx; dimension resolution runs
// inside the batch transaction so a crash never half-persists a batch.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// getOrCreate is the shared check/insert/recheck dance. An insert losing a
// uniqueness race is treated as a miss and re-read.
func getOrCreate(q querier, selectSQL string, insertSQL string, selectArgs, insertArgs []any) (int64, error) {
	var id int64
	err := q.QueryRow(selectSQL, selectArgs...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	res, insErr := q.Exec(insertSQL, insertArgs...)
	if insErr == nil {
		return res.LastInsertId()
	}

	// Likely a unique-constraint race with another writer; re-read.
	if err := q.QueryRow(selectSQL, selectArgs...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert failed (%v) and re-read failed: %w", insErr, err)
	}
	return id, nil
}

// resolver answers dimension lookups for one batch: shared cache first, then
// this batch's staged entries, then the database inside the batch's tx.
type resolver struct {
	q      querier
	shared *dimCache
	staged *dimCache
}

func newResolver(q querier, shared *dimCache) *resolver {
	return &resolver{q: q, shared: shared, staged: newDimCache()}
}

func cached[K comparable](shared, staged *dimCache, pick func(*dimCache) map[K]int64, key K) (int64, bool) {
	shared.mu.Lock()
	id, ok := pick(shared)[key]
	shared.mu.Unlock()
	if ok {
		return id, true
	}
	id, ok = pick(staged)[key]
	return id, ok
}

func (r *resolver) actionID(key string) (int64, error) {
	pick := func(c *dimCache) map[string]int64 { return c.actions }
	if id, ok := cached(r.shared, r.staged, pick, key); ok {
		return id, nil
	}
	id, err := getOrCreate(r.q,
		`SELECT action_id FROM actions WHERE action = ?`,
		`INSERT INTO actions (action) VALUES (?)`,
		[]any{key}, []any{key})
	if err != nil {
		return 0, err
	}
	r.staged.actions[key] = id
	return id, nil
}

func (r *resolver) worldID(id uuid.UUID, name string) (int64, error) {
	pick := func(c *dimCache) map[uuid.UUID]int64 { return c.worlds }
	if wid, ok := cached(r.shared, r.staged, pick, id); ok {
		return wid, nil
	}
	wid, err := getOrCreate(r.q,
		`SELECT world_id FROM worlds WHERE world_uuid = ?`,
		`INSERT INTO worlds (world_uuid, world) VALUES (?, ?)`,
		[]any{id.String()}, []any{id.String(), name})
	if err != nil {
		return 0, err
	}
	r.staged.worlds[id] = wid
	return wid, nil
}

func (r *resolver) playerID(id uuid.UUID, name string) (int64, error) {
	pick := func(c *dimCache) map[uuid.UUID]int64 { return c.players }
	if pid, ok := cached(r.shared, r.staged, pick, id); ok {
		return pid, nil
	}
	pid, err := getOrCreate(r.q,
		`SELECT player_id FROM players WHERE player_uuid = ?`,
		`INSERT INTO players (player_uuid, player) VALUES (?, ?)`,
		[]any{id.String()}, []any{id.String(), name})
	if err != nil {
		return 0, err
	}
	r.staged.players[id] = pid
	return pid, nil
}

func (r *resolver) playerCauseID(playerRowID int64, playerUUID uuid.UUID) (int64, error) {
	key := "p:" + playerUUID.String()
	pick := func(c *dimCache) map[string]int64 { return c.causes }
	if id, ok := cached(r.shared, r.staged, pick, key); ok {
		return id, nil
	}
	id, err := getOrCreate(r.q,
		`SELECT cause_id FROM causes WHERE player_id = ?`,
		`INSERT INTO causes (cause, player_id) VALUES (NULL, ?)`,
		[]any{playerRowID}, []any{playerRowID})
	if err != nil {
		return 0, err
	}
	r.staged.causes[key] = id
	return id, nil
}

func (r *resolver) textCauseID(cause string) (int64, error) {
	key := "c:" + cause
	pick := func(c *dimCache) map[string]int64 { return c.causes }
	if id, ok := cached(r.shared, r.staged, pick, key); ok {
		return id, nil
	}
	id, err := getOrCreate(r.q,
		`SELECT cause_id FROM causes WHERE cause = ?`,
		`INSERT INTO causes (cause, player_id) VALUES (?, NULL)`,
		[]any{cause}, []any{cause})
	if err != nil {
		return 0, err
	}
	r.staged.causes[key] = id
	return id, nil
}

func (r *resolver) entityTypeID(entityType string) (int64, error) {
	pick := func(c *dimCache) map[string]int64 { return c.entityTypes }
	if id, ok := cached(r.shared, r.staged, pick, entityType); ok {
		return id, nil
	}
	id, err := getOrCreate(r.q,
		`SELECT entity_type_id FROM entity_types WHERE entity_type = ?`,
		`INSERT INTO entity_types (entity_type) VALUES (?)`,
		[]any{entityType}, []any{entityType})
	if err != nil {
		return 0, err
	}
	r.staged.entityTypes[entityType] = id
	return id, nil
}

func (r *resolver) materialID(material, data string) (int64, error) {
	key := material + "|" + data
	pick := func(c *dimCache) map[string]int64 { return c.materials }
	if id, ok := cached(r.shared, r.staged, pick, key); ok {
		return id, nil
	}
	id, err := getOrCreate(r.q,
		`SELECT material_id FROM materials WHERE material = ? AND data = ?`,
		`INSERT INTO materials (material, data) VALUES (?, ?)`,
		[]any{material, data}, []any{material, data})
	if err != nil {
		return 0, err
	}
	r.staged.materials[key] = id
	return id, nil
}

package auditdb

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// Schema versions:
//   v1 - initial layout, no descriptor column and no coordinate index
//   v2 - activities.descriptor, idx_activities_pos_ts
const currentSchemaVersion = "v2"

var schemaStmts = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS actions (
		action_id INTEGER PRIMARY KEY,
		action TEXT NOT NULL UNIQUE
	);`,
	`CREATE TABLE IF NOT EXISTS worlds (
		world_id INTEGER PRIMARY KEY,
		world_uuid TEXT NOT NULL UNIQUE,
		world TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS players (
		player_id INTEGER PRIMARY KEY,
		player_uuid TEXT NOT NULL UNIQUE,
		player TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS causes (
		cause_id INTEGER PRIMARY KEY,
		cause TEXT,
		player_id INTEGER REFERENCES players(player_id)
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_causes_cause ON causes(cause) WHERE cause IS NOT NULL;`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_causes_player ON causes(player_id) WHERE player_id IS NOT NULL;`,
	`CREATE TABLE IF NOT EXISTS entity_types (
		entity_type_id INTEGER PRIMARY KEY,
		entity_type TEXT NOT NULL UNIQUE
	);`,
	`CREATE TABLE IF NOT EXISTS materials (
		material_id INTEGER PRIMARY KEY,
		material TEXT NOT NULL,
		data TEXT NOT NULL DEFAULT '',
		UNIQUE(material, data)
	);`,
	`CREATE TABLE IF NOT EXISTS activities (
		activity_id INTEGER PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		world_id INTEGER NOT NULL REFERENCES worlds(world_id),
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		z INTEGER NOT NULL,
		action_id INTEGER NOT NULL REFERENCES actions(action_id),
		material_id INTEGER REFERENCES materials(material_id),
		old_material_id INTEGER REFERENCES materials(material_id),
		entity_type_id INTEGER REFERENCES entity_types(entity_type_id),
		cause_id INTEGER NOT NULL REFERENCES causes(cause_id),
		descriptor TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_activities_pos_ts ON activities(x, z, y, timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_activities_world_ts ON activities(world_id, timestamp);`,
	`CREATE TABLE IF NOT EXISTS activities_custom_data (
		extra_id INTEGER PRIMARY KEY,
		activity_id INTEGER NOT NULL UNIQUE REFERENCES activities(activity_id),
		version INTEGER NOT NULL DEFAULT 0,
		data TEXT
	);`,
}

// prepareSchema creates the current layout on a fresh database or walks the
// migration chain on an older one. Safe to call repeatedly; a current schema
// is left untouched.
func prepareSchema(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return err
	}

	switch version {
	case "":
		// Fresh database.
		for _, stmt := range schemaStmts {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("create schema: %w", err)
			}
		}
		if err := setSchemaVersion(db, currentSchemaVersion); err != nil {
			return err
		}
		return nil
	case currentSchemaVersion:
		return nil
	default:
		return migrate(db, version)
	}
}

// migration is one named, forward-only schema step. run executes inside a
// transaction; a failure rolls the whole step back and aborts startup.
type migration struct {
	from string
	to   string
	name string
	run  func(*sql.Tx) error
}

var migrations = []migration{
	{
		from: "v1",
		to:   "v2",
		name: "add descriptor column and coordinate index",
		run: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`ALTER TABLE activities ADD COLUMN descriptor TEXT`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_activities_pos_ts ON activities(x, z, y, timestamp)`); err != nil {
				return err
			}
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_activities_world_ts ON activities(world_id, timestamp)`)
			return err
		},
	},
}

func migrate(db *sql.DB, from string) error {
	version := from
	for version != currentSchemaVersion {
		m, ok := findMigration(version)
		if !ok {
			return fmt.Errorf("no migration path from schema %q to %q", version, currentSchemaVersion)
		}
		log.Printf("auditdb: migrating schema %s -> %s (%s)", m.from, m.to, m.name)
		if err := runMigration(db, m); err != nil {
			return fmt.Errorf("migration %s -> %s: %w", m.from, m.to, err)
		}
		version = m.to
	}
	log.Printf("auditdb: schema now %s", version)
	return nil
}

func findMigration(from string) (migration, bool) {
	for _, m := range migrations {
		if m.from == from {
			return m, true
		}
	}
	return migration{}, false
}

func runMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := m.run(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`INSERT INTO meta (k, v) VALUES ('schema_ver', ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v`, m.to); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func schemaVersion(db *sql.DB) (string, error) {
	// The meta table may not exist yet on a fresh file.
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'meta'`).Scan(&exists)
	if err != nil {
		return "", err
	}
	if exists == 0 {
		return "", nil
	}
	var v string
	err = db.QueryRow(`SELECT v FROM meta WHERE k = 'schema_ver'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func setSchemaVersion(db *sql.DB, v string) error {
	_, err := db.Exec(`INSERT INTO meta (k, v) VALUES ('schema_ver', ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v`, v)
	return err
}

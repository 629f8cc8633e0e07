package auditdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"blockledger/internal/audit"
	"blockledger/internal/config"
	"blockledger/internal/query"
)

// Store is the durable ledger: normalized dimension tables plus the
// activities fact table, on sqlite.
//
// Writes funnel through one recorder goroutine (batches) while reads may come
// from anywhere; MaxOpenConns(1) plus WAL keeps that safe without SQLITE_BUSY
// churn. The dimension cache is the in-process fast path; the unique indexes
// on every dimension table are the correctness backstop if another writer
// ever touches the same file.
type Store struct {
	db       *sql.DB
	registry *audit.Registry
	ordering config.Ordering

	cache *dimCache
}

func Open(path string, registry *audit.Registry, ordering config.Ordering) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if registry == nil {
		return nil, fmt.Errorf("nil action registry")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		registry: registry,
		ordering: ordering,
		cache:    newDimCache(),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SchemaVersion reports the version marker in the meta table.
func (s *Store) SchemaVersion() (string, error) {
	return schemaVersion(s.db)
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads and lets lookups read
	// while the recorder writes.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

// minEngineVersion is the oldest sqlite release with window functions,
// which the pagination totals depend on.
const minEngineVersion = "3.25.0"

// DescribeDatabase logs engine diagnostics at startup. Best effort:
// everything here is warnings, nothing is fatal.
func (s *Store) DescribeDatabase() {
	var version string
	if err := s.db.QueryRow("SELECT sqlite_version()").Scan(&version); err == nil {
		log.Printf("auditdb: sqlite %s", version)
		if olderVersion(version, minEngineVersion) {
			log.Printf("auditdb: sqlite %s is older than %s; paginated lookups will fail", version, minEngineVersion)
		}
	}
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err == nil {
		log.Printf("auditdb: journal_mode=%s", journalMode)
		if journalMode != "wal" {
			log.Printf("auditdb: journal_mode is not WAL; concurrent lookups will contend with the recorder")
		}
	}
	var pageSize, freelist int64
	_ = s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	_ = s.db.QueryRow("PRAGMA freelist_count").Scan(&freelist)
	log.Printf("auditdb: page_size=%d freelist_count=%d", pageSize, freelist)
}

// olderVersion compares dotted numeric versions segment by segment.
func olderVersion(have, want string) bool {
	hs := strings.Split(have, ".")
	ws := strings.Split(want, ".")
	for i := 0; i < len(hs) && i < len(ws); i++ {
		h, err1 := strconv.Atoi(hs[i])
		w, err2 := strconv.Atoi(ws[i])
		if err1 != nil || err2 != nil {
			return false
		}
		if h != w {
			return h < w
		}
	}
	return len(hs) < len(ws)
}

// LookupAsync runs a lookup on its own goroutine and hands the outcome to fn.
// The caller's goroutine never blocks on storage.
func (s *Store) LookupAsync(ctx context.Context, f *query.Filter, fn func(*Page, error)) {
	go func() {
		page, err := s.Query(ctx, f)
		fn(page, err)
	}()
}

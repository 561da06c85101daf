package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tidewater-io/tidewater/store"
)

// Registry schema. The table layout is load-bearing: registries written by
// earlier deployments must keep working.
const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS blobs (
		name TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		error TEXT,
		processor TEXT
	)`
	createIndexSQL = `CREATE INDEX IF NOT EXISTS idx_status ON blobs(status)`

	selectCompletedSQL  = `SELECT name FROM blobs WHERE status = 'completed'`
	insertClaimSQL      = `INSERT INTO blobs (name, status, started_at, processor)
		VALUES (?, 'processing', ?, ?) ON CONFLICT(name) DO NOTHING`
	updateCompletedSQL  = `UPDATE blobs SET status='completed', completed_at=? WHERE name=?`
	updateFailedSQL     = `UPDATE blobs SET status='failed', error=? WHERE name=?`
	deleteProcessingSQL = `DELETE FROM blobs WHERE name=? AND status='processing'`
)

// RegistryTracker records processing state in a local SQLite file. It needs
// only read access on the object store, but is NOT safe across replicas:
// each replica would keep its own independent registry.
type RegistryTracker struct {
	db        *sql.DB
	processor string
}

// NewRegistryTracker opens (or creates) the registry database at path.
func NewRegistryTracker(path, processor string) (*RegistryTracker, error) {
	dsn := path
	if !strings.Contains(path, ":memory:") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, schema := range []string{createTableSQL, createIndexSQL} {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("create registry schema: %w", err)
		}
	}

	log.Info().Str("path", path).Msg("Registry state tracker initialized")
	return &RegistryTracker{db: db, processor: processor}, nil
}

// FilterCandidates excludes blobs recorded as completed. Failed and leftover
// processing rows stay candidates (a leftover processing row blocks Claim
// until Release deletes it).
func (t *RegistryTracker) FilterCandidates(ctx context.Context, blobs []store.BlobInfo) ([]store.BlobInfo, error) {
	rows, err := t.db.QueryContext(ctx, selectCompletedSQL)
	if err != nil {
		return nil, fmt.Errorf("query completed blobs: %w", err)
	}
	defer rows.Close()

	completed := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan completed blob: %w", err)
		}
		completed[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed blobs: %w", err)
	}

	candidates := make([]store.BlobInfo, 0, len(blobs))
	for _, blob := range blobs {
		if _, done := completed[blob.Name]; !done {
			candidates = append(candidates, blob)
		}
	}
	return candidates, nil
}

// Claim inserts a processing row for the blob. The primary key makes the
// insert atomic: zero rows affected means a record already exists in some
// state and must be driven by a later transition, not a fresh claim.
func (t *RegistryTracker) Claim(ctx context.Context, name string) (bool, error) {
	res, err := t.db.ExecContext(ctx, insertClaimSQL, name, nowISO(), t.processor)
	if err != nil {
		return false, fmt.Errorf("claim blob %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim blob %s: %w", name, err)
	}
	return affected == 1, nil
}

func (t *RegistryTracker) MarkCompleted(ctx context.Context, name string) error {
	if _, err := t.db.ExecContext(ctx, updateCompletedSQL, nowISO(), name); err != nil {
		return fmt.Errorf("mark blob %s completed: %w", name, err)
	}
	return nil
}

func (t *RegistryTracker) MarkFailed(ctx context.Context, name, reason string) error {
	if _, err := t.db.ExecContext(ctx, updateFailedSQL, reason, name); err != nil {
		return fmt.Errorf("mark blob %s failed: %w", name, err)
	}
	return nil
}

// Release deletes the row only while it is still in processing, so the blob
// is rediscovered and reclaimed next cycle. Terminal rows survive.
func (t *RegistryTracker) Release(ctx context.Context, name string) error {
	if _, err := t.db.ExecContext(ctx, deleteProcessingSQL, name); err != nil {
		return fmt.Errorf("release blob %s: %w", name, err)
	}
	return nil
}

// WasLeaseRenewalCompromised always reports false: the registry strategy
// takes no leases.
func (t *RegistryTracker) WasLeaseRenewalCompromised(string) bool {
	return false
}

func (t *RegistryTracker) Close() {
	if err := t.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing registry database")
		return
	}
	log.Info().Msg("Registry state tracker closed")
}

package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go driver, no cgo — matches the teacher's own reason for preferring it
)

// quotaStore persists tenant quotas to a small SQLite database at the
// engine root, so Engine.SetQuota survives a process restart rather
// than resetting to the zero Quota on every Open. Grounded on the
// teacher's internal/store/sqlite_bm25.go for the sql.Open("sqlite",
// ...) + CREATE TABLE IF NOT EXISTS setup shape, generalized from a
// BM25 postings table to a one-row-per-tenant quota table.
type quotaStore struct {
	db *sql.DB
}

func openQuotaStore(root string) (*quotaStore, error) {
	path := filepath.Join(root, "quotas.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open quota store: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS quotas (
		tenant TEXT PRIMARY KEY,
		max_collections INTEGER NOT NULL,
		max_disk_bytes INTEGER NOT NULL,
		max_memory_bytes INTEGER NOT NULL,
		max_qps INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create quotas table: %w", err)
	}
	return &quotaStore{db: db}, nil
}

// loadAll returns every persisted tenant -> Quota mapping, used at
// Engine.Open to rehydrate e.quotas.
func (s *quotaStore) loadAll() (map[string]Quota, error) {
	rows, err := s.db.Query(`SELECT tenant, max_collections, max_disk_bytes, max_memory_bytes, max_qps FROM quotas`)
	if err != nil {
		return nil, fmt.Errorf("storage: load quotas: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Quota)
	for rows.Next() {
		var tenant string
		var q Quota
		if err := rows.Scan(&tenant, &q.MaxCollections, &q.MaxDiskBytes, &q.MaxMemoryBytes, &q.MaxQPS); err != nil {
			return nil, fmt.Errorf("storage: scan quota row: %w", err)
		}
		out[tenant] = q
	}
	return out, rows.Err()
}

// upsert persists tenant's quota, replacing any prior row.
func (s *quotaStore) upsert(tenant string, q Quota) error {
	_, err := s.db.Exec(`INSERT INTO quotas (tenant, max_collections, max_disk_bytes, max_memory_bytes, max_qps)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant) DO UPDATE SET
			max_collections = excluded.max_collections,
			max_disk_bytes = excluded.max_disk_bytes,
			max_memory_bytes = excluded.max_memory_bytes,
			max_qps = excluded.max_qps`,
		tenant, q.MaxCollections, q.MaxDiskBytes, q.MaxMemoryBytes, q.MaxQPS)
	if err != nil {
		return fmt.Errorf("storage: upsert quota: %w", err)
	}
	return nil
}

func (s *quotaStore) close() error {
	return s.db.Close()
}

// Package store persists session artifacts: extraction manifests, raw
// sub-agent results ("rough" dumps), and optimized contexts. Backed by
// SQLite so a caller can resume or audit a session after the fact.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hypercog/internal/logging"

	_ "modernc.org/sqlite"
)

// SessionStore wraps the session database.
type SessionStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the session database at path.
func Open(path string) (*SessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Get(logging.CategoryStore).Info("session store opened at %s", path)
	return &SessionStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS extractions (
	  id            TEXT PRIMARY KEY,
	  task          TEXT NOT NULL,
	  intent        TEXT,
	  file_count    INTEGER NOT NULL DEFAULT 0,
	  manifest_json TEXT NOT NULL,
	  created_at    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rough_results (
	  id            INTEGER PRIMARY KEY AUTOINCREMENT,
	  extraction_id TEXT NOT NULL,
	  backend       TEXT NOT NULL,
	  query         TEXT NOT NULL,
	  payload_json  TEXT NOT NULL,
	  created_at    INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rough_extraction
	ON rough_results(extraction_id);

	CREATE TABLE IF NOT EXISTS optimized_contexts (
	  id               INTEGER PRIMARY KEY AUTOINCREMENT,
	  extraction_id    TEXT NOT NULL,
	  subtask_id       TEXT,
	  payload_json     TEXT NOT NULL,
	  original_tokens  INTEGER NOT NULL,
	  optimized_tokens INTEGER NOT NULL,
	  created_at       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_optimized_extraction
	ON optimized_contexts(extraction_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveExtraction records a capture manifest.
func (s *SessionStore) SaveExtraction(id, task, intent string, fileCount int, manifestJSON string) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO extractions (id, task, intent, file_count, manifest_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, task, intent, fileCount, manifestJSON, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}

// Extraction is a stored capture manifest row.
type Extraction struct {
	ID           string
	Task         string
	Intent       string
	FileCount    int
	ManifestJSON string
	CreatedAt    time.Time
}

// GetExtraction loads a stored extraction by ID.
func (s *SessionStore) GetExtraction(id string) (*Extraction, error) {
	row := s.db.QueryRow(
		`SELECT id, task, intent, file_count, manifest_json, created_at
		 FROM extractions WHERE id = ?`, id)

	var e Extraction
	var created int64
	if err := row.Scan(&e.ID, &e.Task, &e.Intent, &e.FileCount, &e.ManifestJSON, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("extraction %q not found", id)
		}
		return nil, fmt.Errorf("failed to load extraction: %w", err)
	}
	e.CreatedAt = time.Unix(created, 0)
	return &e, nil
}

// SaveRoughResult records one raw sub-agent result before consolidation.
func (s *SessionStore) SaveRoughResult(extractionID, backend, query, payloadJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO rough_results (extraction_id, backend, query, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		extractionID, backend, query, payloadJSON, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save rough result: %w", err)
	}
	return nil
}

// RoughResult is a stored raw sub-agent result row.
type RoughResult struct {
	Backend     string
	Query       string
	PayloadJSON string
}

// ListRoughResults returns all raw results recorded for an extraction.
func (s *SessionStore) ListRoughResults(extractionID string) ([]RoughResult, error) {
	rows, err := s.db.Query(
		`SELECT backend, query, payload_json FROM rough_results
		 WHERE extraction_id = ? ORDER BY id`, extractionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rough results: %w", err)
	}
	defer rows.Close()

	var out []RoughResult
	for rows.Next() {
		var r RoughResult
		if err := rows.Scan(&r.Backend, &r.Query, &r.PayloadJSON); err != nil {
			return nil, fmt.Errorf("failed to scan rough result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveOptimized records a final optimized context. subtaskID is empty for
// whole-task optimization.
func (s *SessionStore) SaveOptimized(extractionID, subtaskID, payloadJSON string, originalTokens, optimizedTokens int) error {
	_, err := s.db.Exec(
		`INSERT INTO optimized_contexts (extraction_id, subtask_id, payload_json, original_tokens, optimized_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		extractionID, subtaskID, payloadJSON, originalTokens, optimizedTokens, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save optimized context: %w", err)
	}
	return nil
}

// CountOptimized returns the number of optimized artifacts for an extraction.
func (s *SessionStore) CountOptimized(extractionID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM optimized_contexts WHERE extraction_id = ?`, extractionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count optimized contexts: %w", err)
	}
	return n, nil
}

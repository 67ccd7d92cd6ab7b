package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists record embeddings in a local SQLite database. It is
// the default persistent backend for single-node deployments.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite embedding store, creating the database
// file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSQLiteSchema creates the embeddings table and indexes.
func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS record_embeddings (
		record_id TEXT PRIMARY KEY,
		vector TEXT NOT NULL,
		embedded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_embedded_at ON record_embeddings(embedded_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Get returns the stored embedding for a record, if present.
func (s *SQLiteStore) Get(ctx context.Context, recordID string) (*StoredEmbedding, bool, error) {
	var vectorJSON string
	var embeddedAt time.Time

	err := s.db.QueryRowContext(ctx,
		"SELECT vector, embedded_at FROM record_embeddings WHERE record_id = ?",
		recordID,
	).Scan(&vectorJSON, &embeddedAt)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query embedding: %w", err)
	}

	var vector []float32
	if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
		// Corrupted entry; drop it and report a miss so it gets recomputed.
		s.db.ExecContext(ctx, "DELETE FROM record_embeddings WHERE record_id = ?", recordID)
		return nil, false, nil
	}

	return &StoredEmbedding{Vector: vector, EmbeddedAt: embeddedAt}, true, nil
}

// Put stores or overwrites the embedding for a record.
func (s *SQLiteStore) Put(ctx context.Context, recordID string, emb *StoredEmbedding) error {
	vectorJSON, err := json.Marshal(emb.Vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO record_embeddings (record_id, vector, embedded_at)
		VALUES (?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			vector = excluded.vector,
			embedded_at = excluded.embedded_at
	`, recordID, string(vectorJSON), emb.EmbeddedAt)

	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// Delete removes the embedding for a record.
func (s *SQLiteStore) Delete(ctx context.Context, recordID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM record_embeddings WHERE record_id = ?", recordID)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

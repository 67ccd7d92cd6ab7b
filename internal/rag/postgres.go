package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists record embeddings in PostgreSQL, for deployments
// where multiple service instances share one embedding cache.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL embedding store on an existing
// connection. The schema is created if it does not exist.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS record_embeddings (
			record_id TEXT PRIMARY KEY,
			vector TEXT NOT NULL,
			embedded_at TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL embedding store from a
// connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Get returns the stored embedding for a record, if present.
func (s *PostgresStore) Get(ctx context.Context, recordID string) (*StoredEmbedding, bool, error) {
	var vectorJSON string
	var embeddedAt time.Time

	err := s.db.QueryRowContext(ctx,
		"SELECT vector, embedded_at FROM record_embeddings WHERE record_id = $1",
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
		s.db.ExecContext(ctx, "DELETE FROM record_embeddings WHERE record_id = $1", recordID)
		return nil, false, nil
	}

	return &StoredEmbedding{Vector: vector, EmbeddedAt: embeddedAt}, true, nil
}

// Put stores or overwrites the embedding for a record using an upsert.
func (s *PostgresStore) Put(ctx context.Context, recordID string, emb *StoredEmbedding) error {
	vectorJSON, err := json.Marshal(emb.Vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO record_embeddings (record_id, vector, embedded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (record_id) DO UPDATE SET
			vector = EXCLUDED.vector,
			embedded_at = EXCLUDED.embedded_at
	`, recordID, string(vectorJSON), emb.EmbeddedAt)

	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// Delete removes the embedding for a record.
func (s *PostgresStore) Delete(ctx context.Context, recordID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM record_embeddings WHERE record_id = $1", recordID)
	return err
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Package rag implements retrieval-augmented search over patient medical
// records: the record embedding store, the semantic retriever, and the
// history question-answering synthesizer.
package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// StoredEmbedding is a cached record embedding together with the time it was
// computed. EmbeddedAt is compared against the record's last content
// modification to detect staleness.
type StoredEmbedding struct {
	Vector     []float32 `json:"vector"`
	EmbeddedAt time.Time `json:"embedded_at"`
}

// Store persists record embeddings keyed by record ID. Implementations should
// treat Put as an idempotent overwrite: embeddings are a pure function of
// record content, so two concurrent writers storing the same value is a
// benign race.
type Store interface {
	Get(ctx context.Context, recordID string) (*StoredEmbedding, bool, error)
	Put(ctx context.Context, recordID string, emb *StoredEmbedding) error
	Delete(ctx context.Context, recordID string) error
	Close() error
}

// StoreConfig selects and configures the persistent embedding store backend.
type StoreConfig struct {
	Backend     string        `mapstructure:"backend"`
	SQLitePath  string        `mapstructure:"sqlite_path"`
	PostgresURL string        `mapstructure:"postgres_url"`
	RedisURL    string        `mapstructure:"redis_url"`
	CacheSize   int           `mapstructure:"cache_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// NewStore builds the configured store backend. Persistent backends are
// wrapped in the in-memory read-through cache so repeated retrievals over the
// same records avoid a round trip per record.
func NewStore(cfg StoreConfig, logger *logrus.Logger) (Store, error) {
	var (
		backend Store
		err     error
	)

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.CacheSize, cfg.CacheTTL), nil
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "data/embeddings.db"
		}
		backend, err = NewSQLiteStore(path)
	case "postgres":
		backend, err = NewPostgresStoreFromURL(cfg.PostgresURL)
	case "redis":
		backend, err = NewRedisStore(cfg.RedisURL, cfg.CacheTTL)
	default:
		return nil, fmt.Errorf("unknown embedding store backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return newCachedStore(backend, cfg.CacheSize, cfg.CacheTTL), nil
}

// cachedStore layers the in-memory LRU in front of a persistent backend.
// Reads fill the cache; writes and deletes go through to the backend and keep
// the cache coherent.
type cachedStore struct {
	backend Store
	cache   *MemoryStore
}

func newCachedStore(backend Store, size int, ttl time.Duration) *cachedStore {
	return &cachedStore{
		backend: backend,
		cache:   NewMemoryStore(size, ttl),
	}
}

func (s *cachedStore) Get(ctx context.Context, recordID string) (*StoredEmbedding, bool, error) {
	if emb, ok, _ := s.cache.Get(ctx, recordID); ok {
		return emb, true, nil
	}

	emb, ok, err := s.backend.Get(ctx, recordID)
	if err != nil || !ok {
		return nil, false, err
	}

	s.cache.Put(ctx, recordID, emb)
	return emb, true, nil
}

func (s *cachedStore) Put(ctx context.Context, recordID string, emb *StoredEmbedding) error {
	if err := s.backend.Put(ctx, recordID, emb); err != nil {
		return err
	}
	s.cache.Put(ctx, recordID, emb)
	return nil
}

func (s *cachedStore) Delete(ctx context.Context, recordID string) error {
	s.cache.Delete(ctx, recordID)
	return s.backend.Delete(ctx, recordID)
}

func (s *cachedStore) Close() error {
	return s.backend.Close()
}

// MemoryStore is an in-process embedding store backed by an expirable LRU.
// It is the default backend and also serves as the read-through cache in
// front of the persistent backends.
type MemoryStore struct {
	cache *expirable.LRU[string, *StoredEmbedding]
}

// NewMemoryStore creates an in-memory embedding store. A zero ttl disables
// expiry; a non-positive size falls back to a reasonable default.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 4096
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, *StoredEmbedding](size, nil, ttl),
	}
}

// Get returns the cached embedding for a record, if present.
func (s *MemoryStore) Get(_ context.Context, recordID string) (*StoredEmbedding, bool, error) {
	emb, ok := s.cache.Get(recordID)
	return emb, ok, nil
}

// Put stores the embedding for a record.
func (s *MemoryStore) Put(_ context.Context, recordID string, emb *StoredEmbedding) error {
	s.cache.Add(recordID, emb)
	return nil
}

// Delete removes the embedding for a record.
func (s *MemoryStore) Delete(_ context.Context, recordID string) error {
	s.cache.Remove(recordID)
	return nil
}

// Close releases the store. No-op for the in-memory backend.
func (s *MemoryStore) Close() error {
	return nil
}

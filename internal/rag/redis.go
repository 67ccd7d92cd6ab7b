package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists record embeddings in Redis with a TTL, for deployments
// that already run Redis and want embeddings shared across instances without
// a relational database.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a new Redis embedding store from a connection URL.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

// embeddingKey builds the cache key for a record embedding.
func embeddingKey(recordID string) string {
	return "embedding:record:" + recordID
}

// Get returns the stored embedding for a record, if present.
func (s *RedisStore) Get(ctx context.Context, recordID string) (*StoredEmbedding, bool, error) {
	val, err := s.client.Get(ctx, embeddingKey(recordID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding from Redis: %w", err)
	}

	var emb StoredEmbedding
	if err := json.Unmarshal([]byte(val), &emb); err != nil {
		// Remove corrupted cache entry
		s.client.Del(ctx, embeddingKey(recordID))
		return nil, false, nil
	}

	return &emb, true, nil
}

// Put stores or overwrites the embedding for a record.
func (s *RedisStore) Put(ctx context.Context, recordID string, emb *StoredEmbedding) error {
	payload, err := json.Marshal(emb)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	return s.client.Set(ctx, embeddingKey(recordID), payload, s.ttl).Err()
}

// Delete removes the embedding for a record.
func (s *RedisStore) Delete(ctx context.Context, recordID string) error {
	return s.client.Del(ctx, embeddingKey(recordID)).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// ContextStore is the external collaborator the Scheduler shares with
// the unrelated chat persistence layer. Keys are task uuids;
// disambiguation is by-key, not by any marker on the value: a context
// key belongs to the scheduler iff the TaskStore has a task with that
// uuid, which callers establish before touching this interface.
type ContextStore interface {
	// GetOrCreate returns the conversation record for key, creating an
	// empty one on first use.
	GetOrCreate(ctx context.Context, key string) (string, error)
	// Delete removes the conversation record for key.
	Delete(ctx context.Context, key string) error
}

// contextRecord is the opaque value the scheduler stores per task; its
// only meaningful field to the scheduler is Ref, handed back to the
// AgentRunner as context_ref.
type contextRecord struct {
	Ref       string    `json:"ref"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryContextStore is an in-process ContextStore backed by an LRU
// cache, suitable for single-node deployments without Redis.
type MemoryContextStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, contextRecord]
}

// NewMemoryContextStore builds a MemoryContextStore bounded to maxEntries.
func NewMemoryContextStore(maxEntries int) (*MemoryContextStore, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	c, err := lru.New[string, contextRecord](maxEntries)
	if err != nil {
		return nil, err
	}
	return &MemoryContextStore{cache: c}, nil
}

func (m *MemoryContextStore) GetOrCreate(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.cache.Get(key); ok {
		return rec.Ref, nil
	}
	rec := contextRecord{Ref: NewTaskUUID(), CreatedAt: time.Now().UTC()}
	m.cache.Add(key, rec)
	return rec.Ref, nil
}

func (m *MemoryContextStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(key)
	return nil
}

// RedisContextStore is a ContextStore backed by Redis, for multi-process
// deployments that front several scheduler replicas with a shared store
// (the scheduler itself remains single-process per task, but context
// records may be read by adjacent services).
type RedisContextStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisContextStore builds a RedisContextStore against client, keying
// records under prefix+uuid with the given TTL (0 disables expiry).
func NewRedisContextStore(client *redis.Client, prefix string, ttl time.Duration) *RedisContextStore {
	if prefix == "" {
		prefix = "scheduler:ctx:"
	}
	return &RedisContextStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisContextStore) redisKey(key string) string {
	return r.prefix + key
}

func (r *RedisContextStore) GetOrCreate(ctx context.Context, key string) (string, error) {
	rk := r.redisKey(key)

	data, err := r.client.Get(ctx, rk).Bytes()
	if err == nil {
		var rec contextRecord
		if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil {
			return rec.Ref, nil
		}
	} else if err != redis.Nil {
		return "", errPersistence(CodeIOError, fmt.Errorf("context store get: %w", err))
	}

	rec := contextRecord{Ref: NewTaskUUID(), CreatedAt: time.Now().UTC()}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := r.client.Set(ctx, rk, encoded, r.ttl).Err(); err != nil {
		return "", errPersistence(CodeIOError, fmt.Errorf("context store set: %w", err))
	}
	return rec.Ref, nil
}

func (r *RedisContextStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return errPersistence(CodeIOError, fmt.Errorf("context store delete: %w", err))
	}
	return nil
}

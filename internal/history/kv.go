package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryKV is a process-local KV.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string][]byte
}

func NewMemoryKV() *MemoryKV { return &MemoryKV{m: map[string][]byte{}} }

func (k *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	return append([]byte(nil), v...), ok, nil
}

func (k *MemoryKV) Set(_ context.Context, key string, val []byte) error {
	k.mu.Lock()
	k.m[key] = append([]byte(nil), val...)
	k.mu.Unlock()
	return nil
}

// RedisKV stores history lists in Redis. A zero TTL keeps keys forever.
type RedisKV struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisKV(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisKV {
	return &RedisKV{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (k *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := k.rdb.Get(ctx, k.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (k *RedisKV) Set(ctx context.Context, key string, val []byte) error {
	return k.rdb.Set(ctx, k.prefix+key, val, k.ttl).Err()
}

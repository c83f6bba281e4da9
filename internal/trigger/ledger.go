package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger remembers which notifications were already sent.
//
// Claim atomically records key until the given time and reports whether the
// caller won. Two racing claims for one key never both win.
type Ledger interface {
	Claim(ctx context.Context, key string, until time.Time) (bool, error)
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu         sync.Mutex
	m          map[string]time.Time
	maxEntries int
	now        func() time.Time
}

func NewMemoryLedger(maxEntries int) *MemoryLedger {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryLedger{m: map[string]time.Time{}, maxEntries: maxEntries, now: time.Now}
}

func (l *MemoryLedger) Claim(_ context.Context, key string, until time.Time) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.m[key]; ok && now.Before(cur) {
		return false, nil
	}
	l.m[key] = until

	for k, u := range l.m {
		if !now.Before(u) {
			delete(l.m, k)
		}
	}
	// Over the cap: drop the entries that expire first.
	for len(l.m) > l.maxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, u := range l.m {
			if minKey == "" || u.Before(minT) {
				minKey, minT = k, u
			}
		}
		delete(l.m, minKey)
	}
	return true, nil
}

func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// RedisLedger shares claims across processes with SET NX and a TTL.
type RedisLedger struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLedger(rdb redis.UniversalClient, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "hydronotify:dedup:"
	}
	return &RedisLedger{rdb: rdb, prefix: prefix, now: time.Now}
}

func (l *RedisLedger) Claim(ctx context.Context, key string, until time.Time) (bool, error) {
	ttl := until.Sub(l.now())
	if ttl <= 0 {
		return true, nil
	}
	return l.rdb.SetNX(ctx, l.prefix+key, until.UnixMilli(), ttl).Result()
}

// Claimer is implemented by storage.Store.
type Claimer interface {
	ClaimDedup(ctx context.Context, key string, until time.Time) (bool, error)
}

// StoreLedger keeps claims in the database so they survive restarts.
type StoreLedger struct{ c Claimer }

func NewStoreLedger(c Claimer) *StoreLedger { return &StoreLedger{c: c} }

func (l *StoreLedger) Claim(ctx context.Context, key string, until time.Time) (bool, error) {
	return l.c.ClaimDedup(ctx, key, until)
}

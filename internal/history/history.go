// Package history keeps the last messages shown to each user.
//
// Entries live as one JSON list per user in a KV store. The list is capped
// and evicts oldest first.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hydronotify/internal/model"
)

// DefaultCapacity is the per-user cap.
const DefaultCapacity = 50

var ErrNotFound = errors.New("message not found")

// KV is the storage the log needs. storage.Store satisfies it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
}

// Entry is one message in a user's history.
type Entry struct {
	ID           string          `json:"id"`
	Kind         model.EventKind `json:"type"`
	Text         string          `json:"text"`
	Read         bool            `json:"read"`
	At           time.Time       `json:"timestamp"`
	DeliveredVia model.Channel   `json:"delivered_via,omitempty"`
}

type Log struct {
	kv       KV
	capacity int
	prefix   string

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func New(kv KV, capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{kv: kv, capacity: capacity, prefix: "history:", users: map[string]*sync.Mutex{}}
}

func (l *Log) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.users[userID]
	if !ok {
		m = &sync.Mutex{}
		l.users[userID] = m
	}
	return m
}

func (l *Log) key(userID string) string { return l.prefix + strings.TrimSpace(userID) }

func (l *Log) load(ctx context.Context, userID string) ([]Entry, error) {
	raw, ok, err := l.kv.Get(ctx, l.key(userID))
	if err != nil {
		return nil, fmt.Errorf("history get: %w", err)
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var out []Entry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("history decode: %w", err)
	}
	return out, nil
}

func (l *Log) store(ctx context.Context, userID string, entries []Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("history encode: %w", err)
	}
	if err := l.kv.Set(ctx, l.key(userID), raw); err != nil {
		return fmt.Errorf("history set: %w", err)
	}
	return nil
}

// Append adds e and evicts the oldest entries beyond capacity. Empty ID and
// timestamp are filled in.
func (l *Log) Append(ctx context.Context, userID string, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	mu := l.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	entries, err := l.load(ctx, userID)
	if err != nil {
		return Entry{}, err
	}
	entries = append(entries, e)
	if over := len(entries) - l.capacity; over > 0 {
		entries = entries[over:]
	}
	return e, l.store(ctx, userID, entries)
}

// List returns entries newest first.
func (l *Log) List(ctx context.Context, userID string) ([]Entry, error) {
	mu := l.userLock(userID)
	mu.Lock()
	defer mu.Unlock()
	entries, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out, nil
}

func (l *Log) MarkRead(ctx context.Context, userID, id string) error {
	mu := l.userLock(userID)
	mu.Lock()
	defer mu.Unlock()
	entries, err := l.load(ctx, userID)
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ID == id {
			if entries[i].Read {
				return nil
			}
			entries[i].Read = true
			return l.store(ctx, userID, entries)
		}
	}
	return ErrNotFound
}

func (l *Log) Clear(ctx context.Context, userID string) error {
	mu := l.userLock(userID)
	mu.Lock()
	defer mu.Unlock()
	return l.store(ctx, userID, []Entry{})
}

// Unread counts unread entries.
func (l *Log) Unread(ctx context.Context, userID string) (int, error) {
	entries, err := l.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.Read {
			n++
		}
	}
	return n, nil
}

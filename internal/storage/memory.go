package storage

import (
	"context"
	"sync"
	"time"

	"hydronotify/internal/model"
)

type memoryStore struct {
	mu    sync.Mutex
	prefs map[string]model.Preference // by record ID
	dedup map[string]time.Time
	kv    map[string][]byte
	now   func() time.Time
}

// NewMemory returns an in-process Store.
func NewMemory() Store { return newMemory(time.Now) }

func newMemory(now func() time.Time) *memoryStore {
	return &memoryStore{
		prefs: map[string]model.Preference{},
		dedup: map[string]time.Time{},
		kv:    map[string][]byte{},
		now:   now,
	}
}

// PutPreference stores a raw record as-is. Tests use it to seed duplicates.
func (s *memoryStore) PutPreference(p model.Preference) {
	s.mu.Lock()
	s.prefs[p.ID] = p
	s.mu.Unlock()
}

func (s *memoryStore) PreferenceCandidates(_ context.Context, userID string) ([]model.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Preference
	for _, p := range s.prefs {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memoryStore) SavePreference(_ context.Context, userID string, u model.PreferenceUpdate) (model.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cands []model.Preference
	for _, p := range s.prefs {
		if p.UserID == userID {
			cands = append(cands, p)
		}
	}
	out, err := mergeSave(cands, userID, u, s.now())
	if err != nil {
		return model.Preference{}, err
	}
	s.prefs[out.ID] = out
	return out, nil
}

func (s *memoryStore) ReminderRecipients(context.Context) ([]model.Preference, error) {
	s.mu.Lock()
	rows := make([]model.Preference, 0, len(s.prefs))
	for _, p := range s.prefs {
		rows = append(rows, p)
	}
	s.mu.Unlock()
	return latestPerUser(rows), nil
}

func (s *memoryStore) ClaimDedup(_ context.Context, key string, until time.Time) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.dedup[key]; ok && now.Before(cur) {
		return false, nil
	}
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	return true, nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, val []byte) error {
	s.mu.Lock()
	s.kv[key] = append([]byte(nil), val...)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error { return nil }

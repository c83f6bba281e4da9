package storage

import (
	"context"
	"errors"
	"time"

	"hydronotify/internal/model"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")

	// ErrInvalidPreference wraps validation failures from SavePreference.
	ErrInvalidPreference = errors.New("invalid preference")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a libpq-style URL
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres pool size; 0 means pgx default
}

// Store is the persistence API used by the trigger, history and API layers.
type Store interface {
	// PreferenceCandidates returns every stored record for userID, in no
	// particular order. Use GetPreference to resolve them.
	PreferenceCandidates(ctx context.Context, userID string) ([]model.Preference, error)
	// SavePreference merges u onto the latest record and writes it back.
	SavePreference(ctx context.Context, userID string, u model.PreferenceUpdate) (model.Preference, error)
	// ReminderRecipients returns the latest record of every user with
	// reminders enabled and a periodic frequency.
	ReminderRecipients(ctx context.Context) ([]model.Preference, error)

	// ClaimDedup records key until the given time. It reports false when an
	// unexpired claim already exists. Check and set are atomic.
	ClaimDedup(ctx context.Context, key string, until time.Time) (bool, error)

	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error

	Close() error
}

// GetPreference returns the most recently updated record for userID.
func GetPreference(ctx context.Context, s Store, userID string) (model.Preference, bool, error) {
	if s == nil {
		return model.Preference{}, false, ErrDisabled
	}
	cands, err := s.PreferenceCandidates(ctx, userID)
	if err != nil {
		return model.Preference{}, false, err
	}
	p, ok := model.Latest(cands)
	return p, ok, nil
}

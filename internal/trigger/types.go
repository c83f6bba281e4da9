package trigger

import (
	"context"
	"errors"
	"time"

	"hydronotify/internal/compose"
	"hydronotify/internal/dispatch"
	"hydronotify/internal/model"
)

var (
	ErrStopped      = errors.New("trigger stopped")
	ErrNoPreference = errors.New("no notification preferences for user")
)

type Config struct {
	Workers   int
	QueueSize int
	// DedupWindow suppresses repeated non-threshold events with the same
	// text. Threshold events are deduplicated per local day regardless.
	DedupWindow time.Duration
	// Location is used for users without a timezone. Default Local.
	Location *time.Location
	// LedgerTimeout bounds one Claim call. Default 2s.
	LedgerTimeout time.Duration
}

type Status string

const (
	StatusRecorded  Status = "recorded"  // history only
	StatusSkipped   Status = "skipped"   // no preferences or reminders off
	StatusDuplicate Status = "duplicate" // already notified
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusNoRoute   Status = "no_route"
	StatusCanceled  Status = "canceled"
)

// Outcome is published on the outcome bus after each handled event.
type Outcome struct {
	EventID      string                  `json:"event_id"`
	UserID       string                  `json:"user_id"`
	Kind         model.EventKind         `json:"kind"`
	Label        string                  `json:"label,omitempty"`
	DedupKey     string                  `json:"dedup_key,omitempty"`
	Status       Status                  `json:"status"`
	Message      string                  `json:"message,omitempty"`
	DeliveredVia model.Channel           `json:"delivered_via,omitempty"`
	Attempts     []model.DeliveryAttempt `json:"attempts,omitempty"`
	Error        string                  `json:"error,omitempty"`
	At           time.Time               `json:"at"`

	diag error
}

// Diagnostics returns the per-channel errors behind a failed outcome.
func (o Outcome) Diagnostics() error { return o.diag }

// PreferenceSource is implemented by storage.Store.
type PreferenceSource interface {
	PreferenceCandidates(ctx context.Context, userID string) ([]model.Preference, error)
}

type Composer interface {
	Compose(ctx context.Context, req compose.Request) string
}

type Dispatcher interface {
	Dispatch(ctx context.Context, pref *model.Preference, message string) dispatch.Result
}

func statusOf(s dispatch.Status) Status {
	switch s {
	case dispatch.StatusDelivered:
		return StatusDelivered
	case dispatch.StatusFailed:
		return StatusFailed
	case dispatch.StatusNoRoute:
		return StatusNoRoute
	case dispatch.StatusCanceled:
		return StatusCanceled
	}
	return StatusSkipped
}

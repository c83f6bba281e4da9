package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hydronotify/internal/model"
)

// mergeSave applies u onto the latest of cands. A user without records gets
// a fresh one. The result is validated before any driver writes it.
func mergeSave(cands []model.Preference, userID string, u model.PreferenceUpdate, now time.Time) (model.Preference, error) {
	userID = strings.TrimSpace(userID)
	base, ok := model.Latest(cands)
	if !ok {
		base = model.Preference{ID: uuid.NewString(), UserID: userID}
	}
	out := u.Apply(base, now)
	if !out.UpdatedAt.After(base.UpdatedAt) {
		// Keep the saved record strictly newest even under clock skew.
		out.UpdatedAt = base.UpdatedAt.Add(time.Microsecond)
	}
	if err := out.Validate(); err != nil {
		return model.Preference{}, fmt.Errorf("%w: %w", ErrInvalidPreference, err)
	}
	return out, nil
}

// latestPerUser collapses duplicate rows and keeps reminder recipients.
func latestPerUser(rows []model.Preference) []model.Preference {
	byUser := map[string][]model.Preference{}
	order := []string{}
	for _, p := range rows {
		if _, ok := byUser[p.UserID]; !ok {
			order = append(order, p.UserID)
		}
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}
	out := make([]model.Preference, 0, len(order))
	for _, uid := range order {
		p, ok := model.Latest(byUser[uid])
		if !ok || !p.RemindersEnabled || p.Frequency.Hours() == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type EventKind string

const (
	KindInfo        EventKind = "info"
	KindTip         EventKind = "tip"
	KindReminder    EventKind = "reminder"
	KindAchievement EventKind = "achievement"
)

func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindInfo, KindTip, KindReminder, KindAchievement:
		return k, nil
	case "":
		return KindInfo, nil
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// MilestoneEvent is an ephemeral signal produced by the tracker (threshold
// crossings, streak changes) or the reminder scheduler. It is never persisted,
// apart from the capped message history.
type MilestoneEvent struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	RawText   string    `json:"raw_text"`
	UserID    string    `json:"user_id"`
	Threshold int       `json:"threshold,omitempty"` // 25/50/75/100; 0 when not a goal threshold
	Timestamp time.Time `json:"timestamp"`
}

// Notifiable reports whether the event should reach external channels.
// Info and tip events only land in the message history.
func (e MilestoneEvent) Notifiable() bool {
	return e.Kind == KindReminder || e.Kind == KindAchievement
}

var rePercent = regexp.MustCompile(`(\d{1,3})%`)

// Label is the milestone label handed to the composer. Achievements are
// always "goal completion"; otherwise raw text carrying a percentage wins.
func (e MilestoneEvent) Label() string {
	raw := strings.TrimSpace(e.RawText)
	switch {
	case e.Kind == KindAchievement, e.Threshold >= 100 && !rePercent.MatchString(raw):
		return "goal completion"
	case rePercent.MatchString(raw):
		return raw
	case e.Threshold > 0:
		return strconv.Itoa(e.Threshold) + "%"
	case raw != "":
		return raw
	}
	return "regular reminder"
}

// EffectiveThreshold is Threshold, or the milestone percentage named in the
// raw text when Threshold is unset. Achievements without either count as 100.
func (e MilestoneEvent) EffectiveThreshold() int {
	if e.Threshold > 0 {
		return e.Threshold
	}
	if m := rePercent.FindStringSubmatch(e.RawText); m != nil {
		switch pct, _ := strconv.Atoi(m[1]); pct {
		case 25, 50, 75, 100:
			return pct
		}
	}
	if e.Kind == KindAchievement {
		return 100
	}
	return 0
}

func (e MilestoneEvent) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("event: user id required")
	}
	if _, err := ParseEventKind(string(e.Kind)); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	switch e.Threshold {
	case 0, 25, 50, 75, 100:
	default:
		return fmt.Errorf("event: unsupported threshold %d", e.Threshold)
	}
	return nil
}

package main

import (
	"testing"

	"hydronotify/internal/model"
)

func TestPrefsSetUpdate(t *testing.T) {
	t.Parallel()
	c := &PrefsSetCmd{Channel: "WhatsApp", Phone: "+61412345678", Frequency: "none", Disable: true}
	u, err := c.update()
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if u.PreferredChannel == nil || *u.PreferredChannel != model.ChannelWhatsApp {
		t.Fatalf("channel = %v", u.PreferredChannel)
	}
	if u.Frequency == nil || *u.Frequency != model.FrequencyNone {
		t.Fatalf("frequency = %v", u.Frequency)
	}
	if u.RemindersEnabled == nil || *u.RemindersEnabled {
		t.Fatalf("reminders = %v, want false", u.RemindersEnabled)
	}
	if u.Email != nil || u.DisplayName != nil {
		t.Fatalf("unset fields leaked: %+v", u)
	}

	for _, bad := range []*PrefsSetCmd{{Channel: "fax"}, {Frequency: "daily"}, {Tone: "grumpy"}} {
		if _, err := bad.update(); err == nil {
			t.Fatalf("%+v: expected error", bad)
		}
	}
}

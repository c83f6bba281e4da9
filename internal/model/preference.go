package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // user timezones must resolve on minimal images
)

// Channel is one concrete delivery transport.
type Channel string

const (
	ChannelUnset    Channel = ""
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// UsesPhone reports whether the channel addresses a phone number.
func (c Channel) UsesPhone() bool { return c == ChannelSMS || c == ChannelWhatsApp }

func (c Channel) Valid() bool {
	switch c {
	case ChannelUnset, ChannelSMS, ChannelWhatsApp, ChannelEmail:
		return true
	}
	return false
}

func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return ChannelUnset, fmt.Errorf("unknown channel %q", s)
	}
	return c, nil
}

type Tone string

const (
	ToneKind      Tone = "kind"
	ToneFunny     Tone = "funny"
	ToneSarcastic Tone = "sarcastic"
	ToneRude      Tone = "rude"
	ToneCrude     Tone = "crude"
)

func ParseTone(s string) (Tone, error) {
	t := Tone(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case ToneKind, ToneFunny, ToneSarcastic, ToneRude, ToneCrude:
		return t, nil
	case "":
		return ToneKind, nil
	}
	return "", fmt.Errorf("unknown tone %q", s)
}

// Frequency is how often periodic reminders go out.
type Frequency string

const (
	FrequencyNone    Frequency = ""
	FrequencyHourly  Frequency = "hourly"
	Frequency2Hourly Frequency = "2hourly"
	Frequency3Hourly Frequency = "3hourly"
	Frequency4Hourly Frequency = "4hourly"
)

// Hours returns the reminder spacing in hours (0 when periodic reminders are off).
func (f Frequency) Hours() int {
	switch f {
	case FrequencyHourly:
		return 1
	case Frequency2Hourly:
		return 2
	case Frequency3Hourly:
		return 3
	case Frequency4Hourly:
		return 4
	}
	return 0
}

func (f Frequency) Every() time.Duration { return time.Duration(f.Hours()) * time.Hour }

func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if f == FrequencyNone || f.Hours() > 0 {
		return f, nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

// Preference is the per-user notification settings record.
//
// Records are never hard-deleted; reminders are turned off with
// RemindersEnabled=false.
type Preference struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	DisplayName      string    `json:"display_name,omitempty"`
	PreferredChannel Channel   `json:"preferred_channel"`
	RemindersEnabled bool      `json:"reminders_enabled"`
	PhoneNumber      string    `json:"phone_number,omitempty"`
	Email            string    `json:"email,omitempty"`
	Frequency        Frequency `json:"frequency,omitempty"`
	Tone             Tone      `json:"tone,omitempty"`
	Timezone         string    `json:"timezone,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

var (
	ErrPhoneRequired = errors.New("preferred channel requires a valid E.164 phone number")
	ErrEmailRequired = errors.New("preferred channel requires a valid email address")
)

// Validate enforces the channel/contact invariant:
// SMS and WhatsApp need a valid phone, Email needs a valid address.
func (p Preference) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("user id required")
	}
	if !p.PreferredChannel.Valid() {
		return fmt.Errorf("unknown channel %q", p.PreferredChannel)
	}
	if p.PhoneNumber != "" && !ValidPhone(p.PhoneNumber) {
		return fmt.Errorf("phone number %q is not E.164", p.PhoneNumber)
	}
	if p.Email != "" && !ValidEmail(p.Email) {
		return fmt.Errorf("email %q is not valid", p.Email)
	}
	switch {
	case p.PreferredChannel.UsesPhone() && !ValidPhone(p.PhoneNumber):
		return ErrPhoneRequired
	case p.PreferredChannel == ChannelEmail && !ValidEmail(p.Email):
		return ErrEmailRequired
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", p.Timezone, err)
		}
	}
	return nil
}

// Location resolves the user's timezone, falling back to def (or Local).
func (p Preference) Location(def *time.Location) *time.Location {
	if p.Timezone != "" {
		if loc, err := time.LoadLocation(p.Timezone); err == nil {
			return loc
		}
	}
	if def != nil {
		return def
	}
	return time.Local
}

// Latest picks the most-recently-updated of N candidate records.
// Ties on UpdatedAt are broken by the greater ID so the choice is deterministic.
//
// Multiple records per user come from legacy duplicate profile rows.
func Latest(cands []Preference) (Preference, bool) {
	if len(cands) == 0 {
		return Preference{}, false
	}
	sorted := append([]Preference(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].UpdatedAt.Equal(sorted[j].UpdatedAt) {
			return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})
	return sorted[0], true
}

// PreferenceUpdate is a partial save; nil fields keep their current value.
type PreferenceUpdate struct {
	DisplayName      *string    `json:"display_name,omitempty"`
	PreferredChannel *Channel   `json:"preferred_channel,omitempty"`
	RemindersEnabled *bool      `json:"reminders_enabled,omitempty"`
	PhoneNumber      *string    `json:"phone_number,omitempty"`
	Email            *string    `json:"email,omitempty"`
	Frequency        *Frequency `json:"frequency,omitempty"`
	Tone             *Tone      `json:"tone,omitempty"`
	Timezone         *string    `json:"timezone,omitempty"`
}

// Apply merges u onto base and stamps UpdatedAt.
func (u PreferenceUpdate) Apply(base Preference, now time.Time) Preference {
	out := base
	if u.DisplayName != nil {
		out.DisplayName = strings.TrimSpace(*u.DisplayName)
	}
	if u.PreferredChannel != nil {
		out.PreferredChannel = *u.PreferredChannel
	}
	if u.RemindersEnabled != nil {
		out.RemindersEnabled = *u.RemindersEnabled
	}
	if u.PhoneNumber != nil {
		out.PhoneNumber = strings.TrimSpace(*u.PhoneNumber)
	}
	if u.Email != nil {
		out.Email = strings.TrimSpace(*u.Email)
	}
	if u.Frequency != nil {
		out.Frequency = *u.Frequency
	}
	if u.Tone != nil {
		out.Tone = *u.Tone
	}
	if u.Timezone != nil {
		out.Timezone = strings.TrimSpace(*u.Timezone)
	}
	if out.Tone == "" {
		out.Tone = ToneKind
	}
	out.UpdatedAt = now.UTC()
	return out
}

package model

import (
	"errors"
	"testing"
	"time"
)

func TestValidPhone(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"+61412345678", true},
		{"+14155550100", true},
		{"+1", false},
		{"61412345678", false},
		{"+0412345678", false},
		{"+6141234567890123", false},
		{"+61 412 345 678", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidPhone(tt.in); got != tt.want {
			t.Fatalf("ValidPhone(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidEmail(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"a@example.com", true},
		{"first.last@sub.example.org", true},
		{"@example.com", false},
		{"a@example", false},
		{"a@.com", false},
		{"a@example.", false},
		{"a@@example.com", false},
		{"a b@example.com", false},
		{" a@example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidEmail(tt.in); got != tt.want {
			t.Fatalf("ValidEmail(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMasking(t *testing.T) {
	t.Parallel()
	if got := MaskPhone("+61412345678"); got != "+614*****678" {
		t.Fatalf("MaskPhone = %q", got)
	}
	if got := MaskEmail("alice@example.com"); got != "a***@example.com" {
		t.Fatalf("MaskEmail = %q", got)
	}
	if got := MaskTarget(ChannelSMS, "+123"); got != "****" {
		t.Fatalf("MaskTarget short = %q", got)
	}
}

func TestPreferenceValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    Preference
		want error
	}{
		{"sms without phone", Preference{UserID: "u", PreferredChannel: ChannelSMS}, ErrPhoneRequired},
		{"whatsapp without phone", Preference{UserID: "u", PreferredChannel: ChannelWhatsApp, Email: "a@b.co"}, ErrPhoneRequired},
		{"email without address", Preference{UserID: "u", PreferredChannel: ChannelEmail, PhoneNumber: "+61412345678"}, ErrEmailRequired},
		{"sms ok", Preference{UserID: "u", PreferredChannel: ChannelSMS, PhoneNumber: "+61412345678"}, nil},
		{"unset ok", Preference{UserID: "u"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}

	if err := (Preference{UserID: "u", PhoneNumber: "0412"}).Validate(); err == nil {
		t.Fatalf("expected malformed phone to be rejected")
	}
	if err := (Preference{UserID: "u", Timezone: "Mars/Olympus"}).Validate(); err == nil {
		t.Fatalf("expected unknown timezone to be rejected")
	}
}

func TestPhoneRoundTripsThroughUpdate(t *testing.T) {
	t.Parallel()
	phone := "+61412345678"
	ch := ChannelSMS
	p := PreferenceUpdate{PhoneNumber: &phone, PreferredChannel: &ch}.Apply(Preference{UserID: "u"}, time.Now())
	if p.PhoneNumber != phone {
		t.Fatalf("PhoneNumber = %q, want %q", p.PhoneNumber, phone)
	}
	if p.Tone != ToneKind {
		t.Fatalf("Tone = %q, want kind default", p.Tone)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestLatest(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cands := []Preference{
		{ID: "a", UpdatedAt: t0},
		{ID: "c", UpdatedAt: t0.Add(time.Hour)},
		{ID: "b", UpdatedAt: t0.Add(time.Hour)},
	}
	got, ok := Latest(cands)
	if !ok || got.ID != "c" {
		t.Fatalf("Latest = %q, %v, want c", got.ID, ok)
	}
	// Input order must not matter.
	rev := []Preference{cands[2], cands[1], cands[0]}
	if got, _ := Latest(rev); got.ID != "c" {
		t.Fatalf("Latest(reversed) = %q, want c", got.ID)
	}
	if _, ok := Latest(nil); ok {
		t.Fatalf("Latest(nil) should report not found")
	}
}

func TestEventLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ev   MilestoneEvent
		want string
	}{
		{MilestoneEvent{Kind: KindReminder, RawText: "Halfway there! 50% of your goal complete.", Threshold: 50}, "Halfway there! 50% of your goal complete."},
		{MilestoneEvent{Kind: KindAchievement, RawText: "You did it!", Threshold: 100}, "goal completion"},
		{MilestoneEvent{Kind: KindAchievement}, "goal completion"},
		{MilestoneEvent{Kind: KindAchievement, RawText: "100% done"}, "goal completion"},
		{MilestoneEvent{Kind: KindReminder, Threshold: 75}, "75%"},
		{MilestoneEvent{Kind: KindReminder, RawText: "Time for a glass of water"}, "Time for a glass of water"},
		{MilestoneEvent{Kind: KindReminder}, "regular reminder"},
	}
	for _, tt := range tests {
		if got := tt.ev.Label(); got != tt.want {
			t.Fatalf("Label(%+v) = %q, want %q", tt.ev, got, tt.want)
		}
	}
}

func TestEffectiveThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ev   MilestoneEvent
		want int
	}{
		{MilestoneEvent{Kind: KindReminder, Threshold: 75, RawText: "50% done"}, 75},
		{MilestoneEvent{Kind: KindReminder, RawText: "Halfway there! 50% of your goal complete."}, 50},
		{MilestoneEvent{Kind: KindReminder, RawText: "Only 40% left"}, 0},
		{MilestoneEvent{Kind: KindReminder, RawText: "Time for a glass of water"}, 0},
		{MilestoneEvent{Kind: KindAchievement, RawText: "You did it!"}, 100},
	}
	for _, tt := range tests {
		if got := tt.ev.EffectiveThreshold(); got != tt.want {
			t.Fatalf("EffectiveThreshold(%q) = %d, want %d", tt.ev.RawText, got, tt.want)
		}
	}
}

func TestEventNotifiable(t *testing.T) {
	t.Parallel()
	for kind, want := range map[EventKind]bool{
		KindInfo: false, KindTip: false, KindReminder: true, KindAchievement: true,
	} {
		if got := (MilestoneEvent{Kind: kind}).Notifiable(); got != want {
			t.Fatalf("Notifiable(%s) = %v, want %v", kind, got, want)
		}
	}
}

func TestParseFrequency(t *testing.T) {
	t.Parallel()
	f, err := ParseFrequency("3hourly")
	if err != nil || f.Every() != 3*time.Hour {
		t.Fatalf("ParseFrequency(3hourly) = %v, %v", f, err)
	}
	if _, err := ParseFrequency("daily"); err == nil {
		t.Fatalf("expected error for daily")
	}
}

package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hydronotify/internal/channel"
	"hydronotify/internal/model"
	"hydronotify/pkg/logx"
)

const (
	phone = "+61412345678"
	email = "ana@example.com"
)

// scripted fails or succeeds per channel and records every call in order.
type scripted struct {
	mu    sync.Mutex
	fail  map[model.Channel]error
	calls []model.Channel
	hook  func(ch model.Channel)
}

func (s *scripted) Send(_ context.Context, ch model.Channel, target, _ string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, ch)
	err := s.fail[ch]
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(ch)
	}
	if err != nil {
		return "", err
	}
	return "ref-" + string(ch), nil
}

func transportErr(ch model.Channel) error {
	return &channel.Error{Channel: ch, Code: channel.CodeTransport, Err: errors.New("provider 500")}
}

func allFail() map[model.Channel]error {
	return map[model.Channel]error{
		model.ChannelSMS:      transportErr(model.ChannelSMS),
		model.ChannelWhatsApp: transportErr(model.ChannelWhatsApp),
		model.ChannelEmail:    transportErr(model.ChannelEmail),
	}
}

func newTestDispatcher(s channel.Sender) *Dispatcher {
	return New(s, DefaultPolicy(), Config{RatePerSec: 1000}, logx.Nop())
}

func channelsOf(atts []model.DeliveryAttempt) []model.Channel {
	out := make([]model.Channel, len(atts))
	for i, a := range atts {
		out[i] = a.Channel
	}
	return out
}

func equalChannels(a, b []model.Channel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPlan(t *testing.T) {
	t.Parallel()
	pol := DefaultPolicy()
	tests := []struct {
		name      string
		pref      model.Preference
		want      []model.Channel
		defensive bool
		ok        bool
	}{
		{"sms", model.Preference{PreferredChannel: model.ChannelSMS, PhoneNumber: phone}, []model.Channel{"sms", "whatsapp", "email"}, false, true},
		{"whatsapp", model.Preference{PreferredChannel: model.ChannelWhatsApp, PhoneNumber: phone}, []model.Channel{"whatsapp", "email"}, false, true},
		{"email", model.Preference{PreferredChannel: model.ChannelEmail, Email: email, PhoneNumber: phone}, []model.Channel{"email"}, false, true},
		{"unset with phone", model.Preference{PhoneNumber: phone}, []model.Channel{"sms", "whatsapp", "email"}, false, true},
		{"unset without phone", model.Preference{Email: email}, nil, false, false},
		{"email pref without address", model.Preference{PreferredChannel: model.ChannelEmail, PhoneNumber: phone}, []model.Channel{"sms"}, true, true},
		{"sms pref without phone", model.Preference{PreferredChannel: model.ChannelSMS, Email: email}, nil, false, false},
		{"sms pref with malformed phone", model.Preference{PreferredChannel: model.ChannelSMS, PhoneNumber: "0412"}, nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := pol.Plan(tt.pref)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !equalChannels(r.Channels, tt.want) {
				t.Fatalf("route = %v, want %v", r.Channels, tt.want)
			}
			if r.Defensive != tt.defensive {
				t.Fatalf("defensive = %v, want %v", r.Defensive, tt.defensive)
			}
		})
	}
}

func TestDisabledPreferenceIsNoop(t *testing.T) {
	t.Parallel()
	s := &scripted{}
	d := newTestDispatcher(s)
	for _, p := range []*model.Preference{
		nil,
		{PreferredChannel: model.ChannelSMS, PhoneNumber: phone, Email: email, RemindersEnabled: false},
	} {
		res := d.Dispatch(context.Background(), p, "drink")
		if res.Status != StatusSkipped || res.DeliveredVia != "" || len(res.Attempts) != 0 || res.Err != nil {
			t.Fatalf("Dispatch = %+v, want silent no-op", res)
		}
	}
	if len(s.calls) != 0 {
		t.Fatalf("sender calls = %v, want none", s.calls)
	}
}

func TestSMSFailureFallsBackToWhatsAppOnlyWithoutEmail(t *testing.T) {
	t.Parallel()
	s := &scripted{fail: allFail()}
	d := newTestDispatcher(s)
	p := &model.Preference{UserID: "u1", RemindersEnabled: true, PreferredChannel: model.ChannelSMS, PhoneNumber: phone}

	res := d.Dispatch(context.Background(), p, "drink")
	if res.Status != StatusFailed || !errors.Is(res.Err, ErrDeliveryFailed) {
		t.Fatalf("Status = %s, Err = %v, want failed", res.Status, res.Err)
	}
	if got := channelsOf(res.Attempts); !equalChannels(got, []model.Channel{"sms", "whatsapp"}) {
		t.Fatalf("attempts = %v, want [sms whatsapp]", got)
	}
	if res.Err.Error() != "failed to send notification" {
		t.Fatalf("user-visible error = %q", res.Err)
	}
	if res.Diagnostics() == nil {
		t.Fatalf("expected per-channel diagnostics")
	}
}

func TestFullChainStopsAtFirstSuccess(t *testing.T) {
	t.Parallel()
	s := &scripted{fail: map[model.Channel]error{model.ChannelSMS: transportErr(model.ChannelSMS)}}
	d := newTestDispatcher(s)
	p := &model.Preference{RemindersEnabled: true, PreferredChannel: model.ChannelSMS, PhoneNumber: phone, Email: email}

	res := d.Dispatch(context.Background(), p, "drink")
	if !res.Delivered() || res.DeliveredVia != model.ChannelWhatsApp {
		t.Fatalf("Dispatch = %+v, want delivered via whatsapp", res)
	}
	if len(res.Attempts) != 2 || res.Attempts[1].ProviderRef != "ref-whatsapp" {
		t.Fatalf("attempts = %+v", res.Attempts)
	}
	if res.Attempts[0].Outcome != model.OutcomeTransportError || res.Attempts[1].Outcome != model.OutcomeSuccess {
		t.Fatalf("outcomes = %s, %s", res.Attempts[0].Outcome, res.Attempts[1].Outcome)
	}
}

func TestEmailNeverFallsBack(t *testing.T) {
	t.Parallel()
	for _, fail := range []bool{false, true} {
		s := &scripted{}
		if fail {
			s.fail = allFail()
		}
		d := newTestDispatcher(s)
		p := &model.Preference{RemindersEnabled: true, PreferredChannel: model.ChannelEmail, Email: email, PhoneNumber: phone}
		res := d.Dispatch(context.Background(), p, "drink")
		if len(res.Attempts) != 1 || res.Attempts[0].Channel != model.ChannelEmail {
			t.Fatalf("fail=%v attempts = %v, want exactly one email attempt", fail, channelsOf(res.Attempts))
		}
	}
}

func TestDefensiveSMS(t *testing.T) {
	t.Parallel()
	s := &scripted{}
	d := newTestDispatcher(s)
	p := &model.Preference{RemindersEnabled: true, PreferredChannel: model.ChannelEmail, PhoneNumber: phone}
	res := d.Dispatch(context.Background(), p, "drink")
	if res.DeliveredVia != model.ChannelSMS || len(res.Attempts) != 1 {
		t.Fatalf("Dispatch = %+v, want defensive sms", res)
	}
}

func TestNoRouteHasNoAttempts(t *testing.T) {
	t.Parallel()
	s := &scripted{}
	d := newTestDispatcher(s)
	p := &model.Preference{RemindersEnabled: true, PreferredChannel: model.ChannelSMS, Email: email}
	res := d.Dispatch(context.Background(), p, "drink")
	if res.Status != StatusNoRoute || len(res.Attempts) != 0 {
		t.Fatalf("Dispatch = %+v, want no_route with zero attempts", res)
	}
	if channel.CodeOf(res.Err) != channel.CodeConfig {
		t.Fatalf("CodeOf(Err) = %q, want CONFIG_ERROR", channel.CodeOf(res.Err))
	}
	if len(s.calls) != 0 {
		t.Fatalf("sender calls = %v", s.calls)
	}
}

func TestNeverTriesChannelTwice(t *testing.T) {
	t.Parallel()
	chans := []model.Channel{model.ChannelUnset, model.ChannelSMS, model.ChannelWhatsApp, model.ChannelEmail}
	phones := []string{"", phone, "0412 345"}
	emails := []string{"", email, "not-an-email"}

	// A real router so malformed targets produce validation errors.
	fail := &failingTransport{}
	router := channel.NewRouter(channel.RouterOptions{SMS: fail, WhatsApp: fail, Email: fail}, logx.Nop())
	d := New(router, DefaultPolicy(), Config{RatePerSec: 1000, RetryMax: 1, RetryBase: time.Millisecond}, logx.Nop())

	for _, ch := range chans {
		for _, ph := range phones {
			for _, em := range emails {
				p := &model.Preference{RemindersEnabled: true, PreferredChannel: ch, PhoneNumber: ph, Email: em}
				res := d.Dispatch(context.Background(), p, "drink")
				seen := map[model.Channel]bool{}
				for _, a := range res.Attempts {
					if seen[a.Channel] {
						t.Fatalf("pref %+v: channel %s tried twice: %v", p, a.Channel, channelsOf(res.Attempts))
					}
					seen[a.Channel] = true
				}
				if res.Delivered() {
					t.Fatalf("pref %+v delivered with failing transports", p)
				}
			}
		}
	}
}

type failingTransport struct{}

func (failingTransport) Deliver(context.Context, channel.Message) (string, error) {
	return "", errors.New("down")
}

func TestRetryStaysOnSameHop(t *testing.T) {
	t.Parallel()
	s := &scripted{fail: map[model.Channel]error{model.ChannelSMS: transportErr(model.ChannelSMS)}}
	d := New(s, DefaultPolicy(), Config{RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, logx.Nop())
	p := &model.Preference{RemindersEnabled: true, PreferredChannel: model.ChannelSMS, PhoneNumber: phone}

	res := d.Dispatch(context.Background(), p, "drink")
	if res.DeliveredVia != model.ChannelWhatsApp {
		t.Fatalf("DeliveredVia = %q, want whatsapp", res.DeliveredVia)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Tries != 3 || res.Attempts[1].Tries != 1 {
		t.Fatalf("attempts = %+v, want sms with 3 tries then whatsapp", res.Attempts)
	}
}

func TestConfigErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	s := &scripted{fail: map[model.Channel]error{
		model.ChannelWhatsApp: &channel.Error{Channel: model.ChannelWhatsApp, Code: channel.CodeConfig, Err: channel.ErrNotConfigured},
		model.ChannelEmail:    transportErr(model.ChannelEmail),
	}}
	d := New(s, DefaultPolicy(), Config{RatePerSec: 1000, RetryMax: 3, RetryBase: time.Millisecond}, logx.Nop())
	p := &model.Preference{RemindersEnabled: true, PreferredChannel: model.ChannelWhatsApp, PhoneNumber: phone, Email: email}

	res := d.Dispatch(context.Background(), p, "drink")
	if res.Attempts[0].Outcome != model.OutcomeConfigError || res.Attempts[0].Tries != 1 {
		t.Fatalf("whatsapp attempt = %+v, want one config_error try", res.Attempts[0])
	}
	if res.Attempts[1].Tries != 4 {
		t.Fatalf("email tries = %d, want 4", res.Attempts[1].Tries)
	}
}

func TestCancelMidChainDiscardsResult(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	s := &scripted{fail: allFail()}
	s.hook = func(ch model.Channel) {
		if ch == model.ChannelSMS {
			cancel()
		}
	}
	d := newTestDispatcher(s)
	p := &model.Preference{RemindersEnabled: true, PreferredChannel: model.ChannelSMS, PhoneNumber: phone, Email: email}

	res := d.Dispatch(ctx, p, "drink")
	if res.Status != StatusCanceled || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("Dispatch = %+v, want canceled", res)
	}
	if len(s.calls) != 1 {
		t.Fatalf("calls = %v, want chain to stop after cancel", s.calls)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > time.Second {
			t.Fatalf("retryDelay(%d) = %v out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("retryDelay(1) = %v, want ~100ms", d)
	}
}

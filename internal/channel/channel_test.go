package channel

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"gopkg.in/gomail.v2"

	"hydronotify/internal/model"
	"hydronotify/pkg/logx"
)

type fakeTransport struct {
	calls atomic.Int32
	ref   string
	err   error
	delay time.Duration
	last  atomic.Value // Message
}

func (f *fakeTransport) Deliver(ctx context.Context, m Message) (string, error) {
	f.calls.Add(1)
	f.last.Store(m)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.ref, f.err
}

func TestRouterValidation(t *testing.T) {
	t.Parallel()
	sms := &fakeTransport{ref: "SM1"}
	mail := &fakeTransport{ref: "<id>"}
	r := NewRouter(RouterOptions{SMS: sms, WhatsApp: sms, Email: mail}, logx.Nop())

	tests := []struct {
		name   string
		ch     model.Channel
		target string
		msg    string
	}{
		{"sms no plus", model.ChannelSMS, "0412345678", "hi"},
		{"whatsapp spaces", model.ChannelWhatsApp, "+61 412 345 678", "hi"},
		{"bad email", model.ChannelEmail, "alice@", "hi"},
		{"empty message", model.ChannelSMS, "+61412345678", "  "},
		{"unknown channel", model.Channel("pigeon"), "+61412345678", "hi"},
	}
	for _, tt := range tests {
		_, err := r.Send(context.Background(), tt.ch, tt.target, tt.msg)
		if CodeOf(err) != CodeValidation {
			t.Fatalf("%s: CodeOf = %q, want VALIDATION_ERROR (err=%v)", tt.name, CodeOf(err), err)
		}
	}
	if n := sms.calls.Load() + mail.calls.Load(); n != 0 {
		t.Fatalf("transport calls = %d, want 0 for invalid targets", n)
	}
}

func TestRouterConfigError(t *testing.T) {
	t.Parallel()
	r := NewRouter(RouterOptions{}, logx.Nop())
	_, err := r.Send(context.Background(), model.ChannelEmail, "a@example.com", "hi")
	if CodeOf(err) != CodeConfig {
		t.Fatalf("CodeOf = %q, want CONFIG_ERROR", CodeOf(err))
	}
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if r.Configured(model.ChannelSMS) {
		t.Fatalf("SMS should not be configured")
	}
}

func TestRouterTransportError(t *testing.T) {
	t.Parallel()
	boom := errors.New("provider 500")
	r := NewRouter(RouterOptions{SMS: &fakeTransport{err: boom}}, logx.Nop())
	_, err := r.Send(context.Background(), model.ChannelSMS, "+61412345678", "hi")
	if CodeOf(err) != CodeTransport || !errors.Is(err, boom) {
		t.Fatalf("err = %v (code %q), want wrapped transport error", err, CodeOf(err))
	}
	if Outcome(err) != model.OutcomeTransportError {
		t.Fatalf("Outcome = %q", Outcome(err))
	}
}

func TestRouterTimeoutIsTransportError(t *testing.T) {
	t.Parallel()
	slow := &fakeTransport{ref: "late", delay: time.Second}
	r := NewRouter(RouterOptions{SMS: slow, Timeout: 20 * time.Millisecond}, logx.Nop())
	start := time.Now()
	_, err := r.Send(context.Background(), model.ChannelSMS, "+61412345678", "hi")
	if CodeOf(err) != CodeTransport || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want transport deadline error", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("Send did not respect timeout")
	}
}

func TestRouterSuccess(t *testing.T) {
	t.Parallel()
	mail := &fakeTransport{ref: "<id@x>"}
	r := NewRouter(RouterOptions{Email: mail, Subject: "Drink"}, logx.Nop())
	ref, err := r.Send(context.Background(), model.ChannelEmail, "a@example.com", "hello")
	if err != nil || ref != "<id@x>" {
		t.Fatalf("Send = %q, %v", ref, err)
	}
	m := mail.last.Load().(Message)
	if m.Subject != "Drink" || m.To != "a@example.com" || m.Body != "hello" {
		t.Fatalf("message = %+v", m)
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()
	if CodeOf(nil) != "" || Outcome(nil) != model.OutcomeSuccess {
		t.Fatalf("nil error should be success")
	}
	if CodeOf(errors.New("x")) != CodeTransport {
		t.Fatalf("untyped error should classify as transport")
	}
	if CodeOf(context.DeadlineExceeded) != CodeTransport {
		t.Fatalf("deadline should classify as transport")
	}
	if Outcome(newError(model.ChannelSMS, CodeConfig, nil)) != model.OutcomeConfigError {
		t.Fatalf("config error outcome mismatch")
	}
}

type fakeTwilio struct {
	params *twilioApi.CreateMessageParams
	resp   *twilioApi.ApiV2010Message
	err    error
}

func (f *fakeTwilio) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = p
	return f.resp, f.err
}

func strp(s string) *string { return &s }

func TestTwilioWhatsAppPrefix(t *testing.T) {
	t.Parallel()
	api := &fakeTwilio{resp: &twilioApi.ApiV2010Message{Sid: strp("SM123"), Status: strp("queued")}}
	tr := newTwilio(api, TwilioConfig{SMSFrom: "+15550001111", WhatsAppFrom: "whatsapp:+15550002222"})

	ref, err := tr.Deliver(context.Background(), Message{Channel: model.ChannelWhatsApp, To: "+61412345678", Body: "hi"})
	if err != nil || ref != "SM123" {
		t.Fatalf("Deliver = %q, %v", ref, err)
	}
	if *api.params.To != "whatsapp:+61412345678" || *api.params.From != "whatsapp:+15550002222" {
		t.Fatalf("to/from = %s/%s", *api.params.To, *api.params.From)
	}

	if _, err := tr.Deliver(context.Background(), Message{Channel: model.ChannelSMS, To: "+61412345678", Body: "hi"}); err != nil {
		t.Fatalf("sms Deliver: %v", err)
	}
	if *api.params.To != "+61412345678" || *api.params.From != "+15550001111" {
		t.Fatalf("sms to/from = %s/%s", *api.params.To, *api.params.From)
	}
}

func TestTwilioMissingSenderIsConfigError(t *testing.T) {
	t.Parallel()
	tr := newTwilio(&fakeTwilio{}, TwilioConfig{SMSFrom: "+15550001111"})
	if tr.Supports(model.ChannelWhatsApp) {
		t.Fatalf("WhatsApp should not be supported without a sender number")
	}
	_, err := tr.Deliver(context.Background(), Message{Channel: model.ChannelWhatsApp, To: "+61412345678", Body: "hi"})
	if CodeOf(err) != CodeConfig {
		t.Fatalf("CodeOf = %q, want CONFIG_ERROR", CodeOf(err))
	}
}

func TestTwilioFailedStatus(t *testing.T) {
	t.Parallel()
	api := &fakeTwilio{resp: &twilioApi.ApiV2010Message{Sid: strp("SM9"), Status: strp("failed")}}
	tr := newTwilio(api, TwilioConfig{SMSFrom: "+15550001111"})
	_, err := tr.Deliver(context.Background(), Message{Channel: model.ChannelSMS, To: "+61412345678", Body: "hi"})
	if err == nil || CodeOf(err) != CodeTransport {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestNewTwilioRequiresCredentials(t *testing.T) {
	t.Parallel()
	if _, err := NewTwilio(TwilioConfig{SMSFrom: "+15550001111"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func TestEmailDeliver(t *testing.T) {
	t.Parallel()
	d := &fakeDialer{}
	tr := newEmail(d, EmailConfig{Host: "smtp.example.com", From: "noreply@hydro.example", FromName: "Hydro"})
	ref, err := tr.Deliver(context.Background(), Message{Channel: model.ChannelEmail, To: "a@example.com", Subject: "Hydration Reminder", Body: "Drink <water>"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !strings.HasSuffix(ref, "@hydro.example>") {
		t.Fatalf("ref = %q, want message id on sender domain", ref)
	}
	if len(d.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(d.sent))
	}
	m := d.sent[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "a@example.com" {
		t.Fatalf("To = %v", got)
	}
	if got := m.GetHeader("Message-ID"); len(got) != 1 || got[0] != ref {
		t.Fatalf("Message-ID = %v, want %s", got, ref)
	}
}

func TestNewEmailTLSMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cfg      EmailConfig
		wantSSL  bool
		wantPort int
	}{
		{EmailConfig{Host: "smtp.example.com", From: "a@example.com"}, false, 587},
		{EmailConfig{Host: "smtp.example.com", From: "a@example.com", ImplicitTLS: true}, true, 465},
		{EmailConfig{Host: "smtp.example.com", From: "a@example.com", Port: 2525, ImplicitTLS: true}, true, 2525},
	}
	for _, tt := range tests {
		tr, err := NewEmail(tt.cfg)
		if err != nil {
			t.Fatalf("NewEmail: %v", err)
		}
		d, ok := tr.dialer.(*gomail.Dialer)
		if !ok {
			t.Fatalf("dialer = %T", tr.dialer)
		}
		if d.SSL != tt.wantSSL || d.Port != tt.wantPort {
			t.Fatalf("ImplicitTLS %v: SSL = %v port = %d, want %v %d", tt.cfg.ImplicitTLS, d.SSL, d.Port, tt.wantSSL, tt.wantPort)
		}
	}
}

func TestEmailDialError(t *testing.T) {
	t.Parallel()
	tr := newEmail(&fakeDialer{err: errors.New("535 auth")}, EmailConfig{Host: "h", From: "a@b.co"})
	if _, err := tr.Deliver(context.Background(), Message{To: "x@y.co", Body: "b"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewEmail(EmailConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("NewEmail(empty) err = %v, want ErrNotConfigured", err)
	}
}

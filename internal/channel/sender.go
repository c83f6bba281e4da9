package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hydronotify/internal/model"
	"hydronotify/pkg/logx"
)

// Sender delivers one message over one channel. It never retries.
type Sender interface {
	Send(ctx context.Context, ch model.Channel, target, message string) (providerRef string, err error)
}

// Message is what a Transport puts on the wire.
type Message struct {
	Channel model.Channel
	To      string
	Body    string
	Subject string
}

// Transport is a provider binding. Deliver may block; Router bounds it.
type Transport interface {
	Deliver(ctx context.Context, m Message) (providerRef string, err error)
}

const defaultSendTimeout = 10 * time.Second

type RouterOptions struct {
	SMS      Transport
	WhatsApp Transport
	Email    Transport
	// Timeout bounds each Deliver call. Default 10s.
	Timeout time.Duration
	// Subject is the email subject line.
	Subject string
}

// Router is the Sender used in production: it validates the target, picks
// the channel's transport and bounds the provider call.
type Router struct {
	mu         sync.RWMutex
	transports map[model.Channel]Transport
	timeout    time.Duration
	subject    string
	log        logx.Logger
}

func NewRouter(opt RouterOptions, log logx.Logger) *Router {
	if opt.Timeout <= 0 {
		opt.Timeout = defaultSendTimeout
	}
	if strings.TrimSpace(opt.Subject) == "" {
		opt.Subject = "Hydration Reminder"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		transports: map[model.Channel]Transport{},
		timeout:    opt.Timeout,
		subject:    opt.Subject,
		log:        log.With(logx.String("comp", "channel")),
	}
	for ch, t := range map[model.Channel]Transport{
		model.ChannelSMS:      opt.SMS,
		model.ChannelWhatsApp: opt.WhatsApp,
		model.ChannelEmail:    opt.Email,
	} {
		if t != nil {
			r.transports[ch] = t
		} else {
			r.log.Warn("channel not configured; sends will fail with CONFIG_ERROR", logx.String("channel", string(ch)))
		}
	}
	return r
}

// Configured reports whether ch has a transport.
func (r *Router) Configured(ch model.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transports[ch] != nil
}

// SetTimeout changes the per-call bound at runtime.
func (r *Router) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultSendTimeout
	}
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

func (r *Router) Send(ctx context.Context, ch model.Channel, target, message string) (string, error) {
	if err := validateTarget(ch, target); err != nil {
		return "", err
	}
	if strings.TrimSpace(message) == "" {
		return "", newError(ch, CodeValidation, ErrEmptyMessage)
	}

	r.mu.RLock()
	t := r.transports[ch]
	timeout := r.timeout
	r.mu.RUnlock()
	if t == nil {
		return "", newError(ch, CodeConfig, ErrNotConfigured)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		ref string
		err error
	}
	// Buffered: an abandoned call finishes in the background and its result is dropped.
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("transport panic: %v", rec)}
			}
		}()
		ref, err := t.Deliver(cctx, Message{Channel: ch, To: target, Body: message, Subject: r.subject})
		done <- result{ref: ref, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			var ce *Error
			if errors.As(res.err, &ce) {
				return "", res.err
			}
			return "", newError(ch, CodeTransport, res.err)
		}
		return res.ref, nil
	case <-cctx.Done():
		return "", newError(ch, CodeTransport, cctx.Err())
	}
}

func validateTarget(ch model.Channel, target string) error {
	switch {
	case ch.UsesPhone():
		if !model.ValidPhone(target) {
			return newError(ch, CodeValidation, fmt.Errorf("%w: phone must be E.164", ErrInvalidTarget))
		}
	case ch == model.ChannelEmail:
		if !model.ValidEmail(target) {
			return newError(ch, CodeValidation, fmt.Errorf("%w: malformed email", ErrInvalidTarget))
		}
	default:
		return newError(ch, CodeValidation, fmt.Errorf("%w: unknown channel %q", ErrInvalidTarget, ch))
	}
	return nil
}

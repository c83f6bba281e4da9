package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hydronotify/internal/channel"
	"hydronotify/internal/model"
	"hydronotify/pkg/logx"
)

// ErrDeliveryFailed is the only failure shown to end users.
var ErrDeliveryFailed = errors.New("failed to send notification")

// ErrNoRoute means no channel could be tried for the preference.
var ErrNoRoute = fmt.Errorf("%w: no usable contact for any channel", channel.ErrNotConfigured)

type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusNoRoute   Status = "no_route"
	StatusCanceled  Status = "canceled"
)

// Result describes one dispatch. DeliveredVia is empty unless a channel
// succeeded.
type Result struct {
	Status       Status
	DeliveredVia model.Channel
	Attempts     []model.DeliveryAttempt
	// Err is nil, ErrDeliveryFailed, ErrNoRoute or the context error.
	Err error

	causes []error
}

func (r Result) Delivered() bool { return r.Status == StatusDelivered }

// Diagnostics joins the per-attempt errors for logs. Never show it to users.
func (r Result) Diagnostics() error { return errors.Join(r.causes...) }

type Config struct {
	// RatePerSec bounds provider calls across all dispatches. Default 10.
	RatePerSec int
	// RetryMax is the number of extra tries on the same channel after a
	// transport error. Default 0.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Dispatcher is safe for concurrent use; each Dispatch call is independent.
type Dispatcher struct {
	sender channel.Sender
	policy Policy
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(sender channel.Sender, policy Policy, cfg Config, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if len(policy.Chains) == 0 {
		policy = DefaultPolicy()
	}
	d := &Dispatcher{sender: sender, policy: policy, log: log.With(logx.String("comp", "dispatch"))}
	d.applyLocked(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	d.cfg = cfg
	// Token bucket: burst = rate per sec.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Dispatch walks the fallback chain for pref. A nil or disabled preference
// is a silent no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, pref *model.Preference, message string) Result {
	if pref == nil || !pref.RemindersEnabled {
		return Result{Status: StatusSkipped}
	}
	route, ok := d.policy.Plan(*pref)
	if !ok {
		d.log.Warn("no usable channel for user", logx.String("user", pref.UserID),
			logx.String("preferred", string(pref.PreferredChannel)))
		return Result{Status: StatusNoRoute, Err: ErrNoRoute, causes: []error{ErrNoRoute}}
	}
	if route.Defensive {
		d.log.Info("preferred channel has no contact; trying phone on file",
			logx.String("user", pref.UserID), logx.String("preferred", string(pref.PreferredChannel)))
	}

	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	d.mu.Unlock()

	res := Result{Attempts: make([]model.DeliveryAttempt, 0, len(route.Channels))}
	for _, ch := range route.Channels {
		target := Target(*pref, ch)
		if target == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return canceled(res, err)
		}

		att, err := d.attempt(ctx, cfg, lim, ch, target, message)
		if ctx.Err() != nil {
			// Torn down mid-chain; whatever came back is discarded.
			return canceled(res, ctx.Err())
		}
		res.Attempts = append(res.Attempts, att)
		if err == nil {
			res.Status = StatusDelivered
			res.DeliveredVia = ch
			d.log.Info("notification delivered", logx.String("user", pref.UserID),
				logx.String("channel", string(ch)), logx.Int("attempts", len(res.Attempts)))
			return res
		}
		res.causes = append(res.causes, err)
		d.log.Warn("channel attempt failed", logx.String("user", pref.UserID),
			logx.String("channel", string(ch)), logx.String("target", model.MaskTarget(ch, target)),
			logx.String("outcome", string(att.Outcome)), logx.Err(err))
	}

	if len(res.Attempts) == 0 {
		res.Status = StatusNoRoute
		res.Err = ErrNoRoute
		res.causes = append(res.causes, ErrNoRoute)
		return res
	}
	res.Status = StatusFailed
	res.Err = ErrDeliveryFailed
	d.log.Error("all channels failed", logx.String("user", pref.UserID),
		logx.Int("attempts", len(res.Attempts)), logx.Err(res.Diagnostics()))
	return res
}

// attempt sends on one channel, retrying transport errors up to RetryMax.
func (d *Dispatcher) attempt(ctx context.Context, cfg Config, lim *rate.Limiter, ch model.Channel, target, message string) (model.DeliveryAttempt, error) {
	att := model.DeliveryAttempt{Channel: ch, Target: target, Message: message}
	start := time.Now()
	maxTries := 1 + cfg.RetryMax

	var err error
	for try := 1; try <= maxTries; try++ {
		if lim != nil {
			if werr := lim.Wait(ctx); werr != nil {
				err = fmt.Errorf("rate limit wait: %w", werr)
				break
			}
		}
		att.Tries = try
		var ref string
		ref, err = d.sender.Send(ctx, ch, target, message)
		if err == nil {
			att.ProviderRef = ref
			break
		}
		if channel.CodeOf(err) != channel.CodeTransport || try == maxTries {
			break
		}
		delay := retryDelay(cfg, try)
		d.log.Debug("retrying channel", logx.String("channel", string(ch)),
			logx.Int("try", try), logx.Duration("delay", delay), logx.Err(err))
		if !sleep(ctx, delay) {
			err = ctx.Err()
			break
		}
	}

	att.Took = time.Since(start)
	att.Outcome = channel.Outcome(err)
	if err != nil {
		att.Error = err.Error()
	}
	return att, err
}

func canceled(res Result, err error) Result {
	res.Status = StatusCanceled
	res.DeliveredVia = ""
	res.Err = err
	return res
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// retryDelay is the wait before try attempt+1: base * 2^(attempt-1), capped,
// with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

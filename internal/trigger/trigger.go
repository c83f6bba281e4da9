package trigger

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"hydronotify/internal/compose"
	"hydronotify/internal/eventbus"
	"hydronotify/internal/history"
	"hydronotify/internal/model"
	rtsup "hydronotify/internal/runtime/supervisor"
	"hydronotify/pkg/logx"
)

type Deps struct {
	Events   eventbus.Bus[model.MilestoneEvent]
	Outcomes eventbus.Bus[Outcome] // optional
	Prefs    PreferenceSource
	Composer Composer
	Dispatch Dispatcher
	Ledger   Ledger       // optional; memory when nil
	History  *history.Log // optional
	Log      logx.Logger
}

type Trigger struct {
	d        Deps
	log      logx.Logger
	fallback *MemoryLedger
	now      func() time.Time

	mu    sync.Mutex
	cfg   Config
	sup   *rtsup.Supervisor
	unsub func()
}

func New(cfg Config, d Deps) *Trigger {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	t := &Trigger{
		d:        d,
		log:      d.Log.With(logx.String("comp", "trigger")),
		fallback: NewMemoryLedger(0),
		now:      time.Now,
	}
	if t.d.Ledger == nil {
		t.d.Ledger = t.fallback
	}
	t.applyLocked(cfg)
	return t
}

func (t *Trigger) Apply(cfg Config) {
	t.mu.Lock()
	t.applyLocked(cfg)
	t.mu.Unlock()
}

func (t *Trigger) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 2 * time.Second
	}
	t.cfg = cfg
}

func (t *Trigger) config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Start subscribes to the event bus and runs the worker pool. It is a no-op
// when already running.
func (t *Trigger) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sup != nil || t.d.Events == nil {
		return
	}
	ch, unsub := t.d.Events.Subscribe(t.cfg.QueueSize)
	t.unsub = unsub
	t.sup = rtsup.New(ctx, t.log)
	for i := 0; i < t.cfg.Workers; i++ {
		t.sup.GoRestart("trigger.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return c.Err()
				case ev, ok := <-ch:
					if !ok {
						return nil
					}
					t.Handle(c, ev)
				}
			}
		})
	}
	t.log.Info("trigger started", logx.Int("workers", t.cfg.Workers), logx.Int("queue", t.cfg.QueueSize))
}

// Stop unsubscribes, lets the workers drain what is buffered and waits until
// ctx is done. Past the deadline the workers are canceled.
func (t *Trigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	sup, unsub := t.sup, t.unsub
	t.sup, t.unsub = nil, nil
	t.mu.Unlock()
	if sup == nil {
		return nil
	}
	unsub()
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		return err
	}
	sup.Cancel()
	t.log.Info("trigger stopped")
	return nil
}

// Stats exposes worker health.
func (t *Trigger) Stats() []rtsup.TaskStats {
	t.mu.Lock()
	sup := t.sup
	t.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stats()
}

// Handle processes one event synchronously and returns its outcome.
func (t *Trigger) Handle(ctx context.Context, ev model.MilestoneEvent) (out Outcome) {
	cfg := t.config()
	out = Outcome{EventID: ev.ID, UserID: ev.UserID, Kind: ev.Kind, At: t.now().UTC()}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = t.now()
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("event handling panicked", logx.String("user", ev.UserID), logx.Any("panic", r))
			out.Status = StatusFailed
			out.Error = "internal error"
		}
		t.publish(out)
	}()

	if !ev.Notifiable() {
		t.record(ctx, ev, "")
		out.Status = StatusRecorded
		return out
	}
	out.Label = ev.Label()

	pref, ok, err := t.preference(ctx, ev.UserID)
	if err != nil {
		t.log.Warn("preference lookup failed", logx.String("user", ev.UserID), logx.Err(err))
	}
	// In-app history keeps the event even when nothing goes out.
	if !ok || !pref.RemindersEnabled {
		t.record(ctx, ev, "")
		out.Status = StatusSkipped
		return out
	}

	loc := pref.Location(cfg.Location)
	key, until := dedupKey(ev, loc, cfg.DedupWindow, t.now())
	out.DedupKey = key
	if key != "" && !t.claim(ctx, cfg, key, until) {
		out.Status = StatusDuplicate
		t.log.Debug("duplicate event suppressed", logx.String("user", ev.UserID), logx.String("key", key))
		return out
	}

	out = t.deliver(ctx, pref, out.Label, out)
	t.record(ctx, ev, out.DeliveredVia)
	return out
}

// Deliver composes and dispatches one message for userID without dedup.
// Reminders count as enabled for the duration of the call.
func (t *Trigger) Deliver(ctx context.Context, userID, label string) (Outcome, error) {
	out := Outcome{UserID: userID, Kind: model.KindReminder, Label: label, At: t.now().UTC()}
	pref, ok, err := t.preference(ctx, userID)
	if err != nil {
		return out, err
	}
	if !ok {
		return out, ErrNoPreference
	}
	pref.RemindersEnabled = true
	out = t.deliver(ctx, pref, label, out)
	t.publish(out)
	return out, nil
}

func (t *Trigger) deliver(ctx context.Context, pref model.Preference, label string, out Outcome) Outcome {
	msg := t.d.Composer.Compose(ctx, compose.Request{
		UserName:       displayName(pref),
		MilestoneLabel: label,
		Tone:           pref.Tone,
		Frequency:      pref.Frequency,
	})
	out.Message = msg

	res := t.d.Dispatch.Dispatch(ctx, &pref, msg)
	out.Status = statusOf(res.Status)
	out.DeliveredVia = res.DeliveredVia
	out.Attempts = res.Attempts
	if res.Err != nil {
		out.Error = res.Err.Error()
		out.diag = res.Diagnostics()
	}
	t.log.Info("milestone handled", logx.String("user", pref.UserID), logx.String("label", label),
		logx.String("status", string(out.Status)), logx.String("via", string(out.DeliveredVia)),
		logx.Int("attempts", len(out.Attempts)))
	return out
}

func (t *Trigger) preference(ctx context.Context, userID string) (model.Preference, bool, error) {
	if t.d.Prefs == nil {
		return model.Preference{}, false, nil
	}
	cands, err := t.d.Prefs.PreferenceCandidates(ctx, userID)
	if err != nil {
		return model.Preference{}, false, err
	}
	if len(cands) > 1 {
		t.log.Debug("duplicate preference records", logx.String("user", userID), logx.Int("records", len(cands)))
	}
	p, ok := model.Latest(cands)
	return p, ok, nil
}

// claim falls back to the in-process ledger when the shared one errors.
func (t *Trigger) claim(ctx context.Context, cfg Config, key string, until time.Time) bool {
	cctx, cancel := context.WithTimeout(ctx, cfg.LedgerTimeout)
	ok, err := t.d.Ledger.Claim(cctx, key, until)
	cancel()
	if err == nil {
		return ok
	}
	t.log.Warn("dedup ledger unavailable; using in-process ledger", logx.String("key", key), logx.Err(err))
	ok, _ = t.fallback.Claim(ctx, key, until)
	return ok
}

func (t *Trigger) record(ctx context.Context, ev model.MilestoneEvent, via model.Channel) {
	if t.d.History == nil {
		return
	}
	text := strings.TrimSpace(ev.RawText)
	if text == "" {
		text = ev.Label()
	}
	if _, err := t.d.History.Append(ctx, ev.UserID, history.Entry{
		ID: ev.ID, Kind: ev.Kind, Text: text, At: ev.Timestamp.UTC(), DeliveredVia: via,
	}); err != nil {
		t.log.Warn("history append failed", logx.String("user", ev.UserID), logx.Err(err))
	}
}

func (t *Trigger) publish(o Outcome) {
	if t.d.Outcomes != nil {
		t.d.Outcomes.Publish(o)
	}
}

// dedupKey returns "" when ev should not be deduplicated. Threshold events
// are keyed by the user's local date. The claim outlives that date by at
// least a day so late or replayed events for it still collide.
func dedupKey(ev model.MilestoneEvent, loc *time.Location, window time.Duration, now time.Time) (string, time.Time) {
	if pct := ev.EffectiveThreshold(); pct > 0 {
		local := ev.Timestamp.In(loc)
		y, m, d := local.Date()
		until := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
		if floor := now.Add(24 * time.Hour); until.Before(floor) {
			until = floor
		}
		return fmt.Sprintf("milestone:%s:%d:%s", ev.UserID, pct, local.Format("2006-01-02")), until
	}
	if window <= 0 {
		return "", time.Time{}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(ev.RawText)))
	return fmt.Sprintf("event:%s:%s:%x", ev.UserID, ev.Kind, h.Sum64()), now.Add(window)
}

func displayName(p model.Preference) string {
	if n := strings.TrimSpace(p.DisplayName); n != "" {
		return n
	}
	if at := strings.Index(p.Email, "@"); at > 0 {
		return p.Email[:at]
	}
	return compose.DefaultUserName
}

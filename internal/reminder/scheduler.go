// Package reminder publishes periodic hydration reminders on a cron
// schedule, honoring each user's frequency and the active hours window.
package reminder

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"hydronotify/internal/eventbus"
	"hydronotify/internal/model"
	"hydronotify/pkg/logx"
)

const (
	DefaultSchedule = "0 * * * *"
	Text            = "Time for a glass of water"
)

type Config struct {
	Enabled     bool
	Schedule    string
	Location    *time.Location
	ActiveFrom  int // local hour, inclusive
	ActiveUntil int // local hour, exclusive
	Timeout     time.Duration
}

// Recipients is implemented by storage.Store.
type Recipients interface {
	ReminderRecipients(ctx context.Context) ([]model.Preference, error)
}

type Scheduler struct {
	src    Recipients
	bus    eventbus.Bus[model.MilestoneEvent]
	log    logx.Logger
	parser cron.Parser

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
}

func New(cfg Config, src Recipients, bus eventbus.Bus[model.MilestoneEvent], log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		src:    src,
		bus:    bus,
		log:    log.With(logx.String("comp", "reminder")),
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	s.cfg = normalize(cfg)
	return s
}

func normalize(cfg Config) Config {
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.ActiveFrom < 0 || cfg.ActiveFrom > 23 {
		cfg.ActiveFrom = 0
	}
	if cfg.ActiveUntil <= 0 || cfg.ActiveUntil > 24 {
		cfg.ActiveUntil = 24
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return cfg
}

// Validate checks that the schedule parses.
func (s *Scheduler) Validate(spec string) error {
	_, err := s.parser.Parse(spec)
	return err
}

// Apply swaps the config; a running cron is restarted when the schedule or
// location changed.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = normalize(cfg)
	if err := s.Validate(cfg.Schedule); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return nil
	}
	if old.Schedule != cfg.Schedule || old.Location.String() != cfg.Location.String() || old.Enabled != cfg.Enabled {
		<-s.c.Stop().Done()
		s.c = nil
		return s.startLocked()
	}
	return nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	return s.startLocked()
}

func (s *Scheduler) startLocked() error {
	if !s.cfg.Enabled {
		s.log.Info("reminders disabled")
		return nil
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.cfg.Location))
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		s.mu.Lock()
		timeout := s.cfg.Timeout
		s.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.Tick(ctx, time.Now()); err != nil {
			s.log.Warn("reminder tick failed", logx.Err(err))
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("reminders started", logx.String("schedule", s.cfg.Schedule), logx.String("tz", s.cfg.Location.String()))
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Tick publishes a reminder for every recipient due at now and returns how
// many a subscriber accepted. Rejected reminders are logged as dropped.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	prefs, err := s.src.ReminderRecipients(ctx)
	if err != nil {
		return 0, err
	}
	n, dropped := 0, 0
	for _, p := range prefs {
		if !Due(p, now, cfg) {
			continue
		}
		delivered := s.bus.Publish(model.MilestoneEvent{
			ID:        uuid.NewString(),
			Kind:      model.KindReminder,
			RawText:   Text,
			UserID:    p.UserID,
			Timestamp: now,
		})
		if delivered == 0 {
			dropped++
			continue
		}
		n++
	}
	if dropped > 0 {
		s.log.Warn("reminders dropped; event queue full", logx.Int("dropped", dropped), logx.Int("published", n))
	}
	if n > 0 {
		s.log.Debug("reminders published", logx.Int("count", n))
	}
	return n, nil
}

// Due reports whether p should get a reminder at now: reminders on, a
// frequency that divides the user's local hour, and that hour inside the
// active window.
func Due(p model.Preference, now time.Time, cfg Config) bool {
	h := p.Frequency.Hours()
	if !p.RemindersEnabled || h <= 0 {
		return false
	}
	hour := now.In(p.Location(cfg.Location)).Hour()
	if hour < cfg.ActiveFrom || hour >= cfg.ActiveUntil {
		return false
	}
	return hour%h == 0
}

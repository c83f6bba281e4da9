// Package app wires the notification pipeline from a config file.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/redis/go-redis/v9"

	"hydronotify/internal/channel"
	"hydronotify/internal/compose"
	"hydronotify/internal/config"
	"hydronotify/internal/dispatch"
	"hydronotify/internal/eventbus"
	"hydronotify/internal/history"
	"hydronotify/internal/httpapi"
	"hydronotify/internal/ingest"
	"hydronotify/internal/milestone"
	"hydronotify/internal/model"
	"hydronotify/internal/observability/pprof"
	"hydronotify/internal/reminder"
	rtsup "hydronotify/internal/runtime/supervisor"
	"hydronotify/internal/storage"
	"hydronotify/internal/trigger"
	"hydronotify/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	store storage.Store
	rdb   *redis.Client

	events   eventbus.Bus[model.MilestoneEvent]
	outcomes eventbus.Bus[trigger.Outcome]

	router     *channel.Router
	dispatcher *dispatch.Dispatcher
	history    *history.Log
	tracker    *milestone.Tracker
	trigger    *trigger.Trigger
	reminders  *reminder.Scheduler
	ingest     *ingest.Consumer
	api        *httpapi.Server

	sup *rtsup.Supervisor
}

// Option adjusts how New builds the app.
type Option func(*options)

type options struct {
	logOut io.Writer
}

// WithLogOutput sends console logs to w instead of stdout.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOut = w }
}

// New builds every component. Missing channel or composer credentials only
// degrade that component; storage and config errors are fatal.
func New(cfgm *config.Manager, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	lc := mapLogConfig(cfg)
	lc.ConsoleOut = o.logOut
	logs, log := logx.New(lc)
	a := &App{cfgm: cfgm, logs: logs, log: log.With(logx.String("comp", "app"))}
	if err := a.build(cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if a.store, err = storage.Open(sc, log); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.rdb.Ping(pctx).Err(); err != nil {
			a.log.Warn("redis unreachable; dedup falls back per event", logx.String("addr", addr), logx.Err(err))
		}
		cancel()
	}

	a.events = eventbus.New[model.MilestoneEvent]()
	a.outcomes = eventbus.New[trigger.Outcome]()

	a.router = a.buildRouter(cfg, log)
	composer, err := a.buildComposer(cfg, log)
	if err != nil {
		return err
	}
	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return err
	}
	a.dispatcher = dispatch.New(a.router, dispatch.DefaultPolicy(), dc, log)

	histTTL, err := config.ParseDuration("history.ttl", cfg.History.TTL)
	if err != nil {
		return err
	}
	var histKV history.KV = a.store
	var ledger trigger.Ledger = trigger.NewStoreLedger(a.store)
	if a.rdb != nil {
		histKV = history.NewRedisKV(a.rdb, "hydronotify:", histTTL)
		ledger = trigger.NewRedisLedger(a.rdb, "")
	}
	a.history = history.New(histKV, cfg.History.Capacity)
	a.tracker = milestone.NewTracker(a.store, a.events)

	tc, err := mapTriggerConfig(cfg, loc)
	if err != nil {
		return err
	}
	a.trigger = trigger.New(tc, trigger.Deps{
		Events:   a.events,
		Outcomes: a.outcomes,
		Prefs:    a.store,
		Composer: composer,
		Dispatch: a.dispatcher,
		Ledger:   ledger,
		History:  a.history,
		Log:      log,
	})

	a.reminders = reminder.New(mapReminderConfig(cfg, loc), a.store, a.events, log)
	if err := a.reminders.Validate(scheduleOrDefault(cfg)); err != nil {
		return fmt.Errorf("reminders.schedule: %w", err)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		a.ingest, err = ingest.NewConsumer(ingest.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, a.events, log)
		if err != nil {
			return err
		}
	}

	if cfg.HTTP.Enabled {
		hc, err := mapHTTPConfig(cfg, loc)
		if err != nil {
			return err
		}
		if err := hc.CheckBind(); err != nil {
			return err
		}
		pprof.ApplyRates(hc.Pprof)
		a.api = httpapi.New(hc, httpapi.Deps{
			Prefs:    a.store,
			Events:   a.events,
			Tracker:  a.tracker,
			Notifier: a.trigger,
			History:  a.history,
			Health:   a.trigger.Stats,
			Log:      log,
		})
	}
	return nil
}

func (a *App) buildRouter(cfg *config.Config, log logx.Logger) *channel.Router {
	opt := channel.RouterOptions{Subject: cfg.Channels.Subject}
	if d, err := config.ParseDuration("channels.timeout", cfg.Channels.Timeout); err == nil {
		opt.Timeout = d
	}
	if tw, err := channel.NewTwilio(mapTwilioConfig(cfg)); err != nil {
		a.log.Warn("twilio disabled", logx.Err(err))
	} else {
		if tw.Supports(model.ChannelSMS) {
			opt.SMS = tw
		}
		if tw.Supports(model.ChannelWhatsApp) {
			opt.WhatsApp = tw
		}
	}
	if em, err := channel.NewEmail(mapEmailConfig(cfg)); err != nil {
		a.log.Warn("email disabled", logx.Err(err))
	} else {
		opt.Email = em
	}
	return channel.NewRouter(opt, log)
}

func (a *App) buildComposer(cfg *config.Config, log logx.Logger) (*compose.Composer, error) {
	opt, err := mapComposerOptions(cfg)
	if err != nil {
		return nil, err
	}
	var gen compose.Generator
	if cfg.Composer.Enabled {
		g, err := compose.NewGemini(cfg.Composer.Endpoint, cfg.Composer.Model, cfg.Composer.APIKey, nil)
		if err != nil {
			a.log.Warn("text generator disabled", logx.Err(err))
		} else {
			gen = g
		}
	}
	return compose.New(gen, opt, log), nil
}

func scheduleOrDefault(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Reminders.Schedule); s != "" {
		return s
	}
	return reminder.DefaultSchedule
}

func (a *App) Store() storage.Store                       { return a.store }
func (a *App) History() *history.Log                      { return a.history }
func (a *App) Trigger() *trigger.Trigger                  { return a.trigger }
func (a *App) Events() eventbus.Bus[model.MilestoneEvent] { return a.events }
func (a *App) Logger() logx.Logger                        { return a.log }

// Done is closed when the app supervisor stops.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the long-running parts and reports readiness to systemd.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, a.log)

	a.trigger.Start(a.sup.Context())
	if err := a.reminders.Start(); err != nil {
		return err
	}
	if a.ingest != nil {
		a.sup.GoRestart("kafka.ingest", a.ingest.Run, rtsup.WithBackoff(time.Second, 30*time.Second))
	}
	if a.api != nil {
		a.sup.GoRestart("http.serve", a.api.Run, rtsup.WithBackoff(500*time.Millisecond, 10*time.Second))
	}

	outcomes, unsub := a.outcomes.Subscribe(128)
	a.sup.Go("outcomes.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case o, ok := <-outcomes:
				if !ok {
					return nil
				}
				a.log.Debug("outcome", logx.String("user", o.UserID), logx.String("status", string(o.Status)),
					logx.String("via", string(o.DeliveredVia)))
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			return a.reminders.Validate(scheduleOrDefault(cfg))
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
		sub := a.cfgm.Subscribe(4)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			return a.reloadLoop(c, sub)
		})
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("notified systemd: ready")
	}
	a.log.Info("hydronotify started",
		logx.Bool("sms", a.router.Configured(model.ChannelSMS)),
		logx.Bool("whatsapp", a.router.Configured(model.ChannelWhatsApp)),
		logx.Bool("email", a.router.Configured(model.ChannelEmail)),
		logx.Bool("kafka", a.ingest != nil),
		logx.Bool("http", a.api != nil),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) error {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			if err := a.apply(last, next); err != nil {
				a.log.Warn("config apply failed", logx.Err(err))
				continue
			}
			last = next
		}
	}
}

// apply pushes the live-reloadable sections into running components.
func (a *App) apply(prev, next *config.Config) error {
	changed, attrs, restart := config.SummarizeChange(prev, next)
	if len(changed) == 0 {
		return nil
	}
	a.log.Info("config change", append([]logx.Field{logx.Strings("changed", changed)}, attrs...)...)
	if len(restart) > 0 {
		a.log.Warn("restart required for some changes", logx.Strings("sections", restart))
	}

	loc, err := next.Location()
	if err != nil {
		return err
	}
	dc, err := mapDispatchConfig(next)
	if err != nil {
		return err
	}
	tc, err := mapTriggerConfig(next, loc)
	if err != nil {
		return err
	}
	a.logs.Apply(mapLogConfig(next))
	a.dispatcher.Apply(dc)
	a.trigger.Apply(tc)
	if next.HTTP.Enabled {
		pprof.ApplyRates(mapPprofConfig(next.HTTP.Pprof))
	}
	return a.reminders.Apply(mapReminderConfig(next, loc))
}

// Stop drains the trigger, stops background work and closes connections.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	var errs []error
	a.reminders.Stop(ctx)
	if err := a.trigger.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("trigger: %w", err))
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	a.Close()
	return errors.Join(errs...)
}

// Close releases storage, redis and the log sinks. It is safe on a partly
// built App.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
		a.rdb = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

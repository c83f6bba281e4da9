package app

import (
	"strings"
	"time"

	"hydronotify/internal/channel"
	"hydronotify/internal/compose"
	"hydronotify/internal/config"
	"hydronotify/internal/dispatch"
	"hydronotify/internal/httpapi"
	"hydronotify/internal/observability/pprof"
	"hydronotify/internal/reminder"
	"hydronotify/internal/storage"
	"hydronotify/internal/trigger"
	"hydronotify/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.DurationOr("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		DSN:         strings.TrimSpace(cfg.Storage.DSN),
		BusyTimeout: busy,
		MaxConns:    cfg.Storage.MaxConns,
	}, nil
}

func mapComposerOptions(cfg *config.Config) (compose.Options, error) {
	timeout, err := config.DurationOr("composer.timeout", cfg.Composer.Timeout, 5*time.Second)
	if err != nil {
		return compose.Options{}, err
	}
	return compose.Options{Timeout: timeout, MaxRunes: cfg.Composer.MaxChars}, nil
}

func mapTwilioConfig(cfg *config.Config) channel.TwilioConfig {
	tw := cfg.Channels.Twilio
	return channel.TwilioConfig{
		AccountSID:     tw.AccountSID,
		AuthToken:      tw.AuthToken,
		SMSFrom:        tw.PhoneNumber,
		WhatsAppFrom:   tw.WhatsAppNumber,
		StatusCallback: tw.StatusCallback,
	}
}

func mapEmailConfig(cfg *config.Config) channel.EmailConfig {
	em := cfg.Channels.Email
	port := em.Port
	if port <= 0 {
		port = 587
	}
	return channel.EmailConfig{
		Host:        em.Host,
		Port:        port,
		Username:    em.Username,
		Password:    em.Password,
		From:        em.From,
		FromName:    em.FromName,
		ImplicitTLS: em.ImplicitTLS || port == 465,
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatcher
	base, err := config.DurationOr("dispatcher.retry_base", d.RetryBase, 500*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	maxDelay, err := config.DurationOr("dispatcher.retry_max_delay", d.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{RatePerSec: d.RatePerSec, RetryMax: d.RetryMax, RetryBase: base, RetryMaxDelay: maxDelay}, nil
}

func mapTriggerConfig(cfg *config.Config, loc *time.Location) (trigger.Config, error) {
	t := cfg.Trigger
	window, err := config.ParseDuration("trigger.dedup_window", t.DedupWindow)
	if err != nil {
		return trigger.Config{}, err
	}
	ledger, err := config.DurationOr("trigger.ledger_timeout", t.LedgerTimeout, 2*time.Second)
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{
		Workers:       t.Workers,
		QueueSize:     t.QueueSize,
		DedupWindow:   window,
		Location:      loc,
		LedgerTimeout: ledger,
	}, nil
}

func mapReminderConfig(cfg *config.Config, loc *time.Location) reminder.Config {
	r := cfg.Reminders
	return reminder.Config{
		Enabled:     r.Enabled,
		Schedule:    r.Schedule,
		Location:    loc,
		ActiveFrom:  r.ActiveFrom,
		ActiveUntil: r.ActiveUntil,
	}
}

func mapHTTPConfig(cfg *config.Config, loc *time.Location) (httpapi.Config, error) {
	h := cfg.HTTP
	rt, err := config.DurationOr("http.read_timeout", h.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := config.DurationOr("http.write_timeout", h.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	addr := strings.TrimSpace(h.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	return httpapi.Config{
		Addr:          addr,
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		Location:      loc,
		Pprof:         mapPprofConfig(h.Pprof),
	}, nil
}

func mapPprofConfig(p config.PprofConfig) pprof.Config {
	return pprof.Config{
		Enabled:              p.Enabled,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
		MemProfileRate:       p.MemProfileRate,
	}
}

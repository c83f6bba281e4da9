package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Location resolves Timezone, defaulting to Local.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// Validate checks every duration, enum and range in cfg. It does not check
// credentials; a missing credential only disables its channel.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path: required for sqlite"))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(errors.New("storage.dsn: required for postgres (or set DATABASE_URL)"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	_, err := ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	_, err = ParseDuration("composer.timeout", cfg.Composer.Timeout)
	add(err)
	_, err = ParseDuration("channels.timeout", cfg.Channels.Timeout)
	add(err)
	if p := cfg.Channels.Email.Port; p < 0 || p > 65535 {
		add(fmt.Errorf("channels.email.port: %d out of range", p))
	}

	if cfg.Dispatcher.RatePerSec < 0 {
		add(errors.New("dispatcher.rate_per_sec: must be >= 0"))
	}
	if cfg.Dispatcher.RetryMax < 0 {
		add(errors.New("dispatcher.retry_max: must be >= 0"))
	}
	_, err = ParseDuration("dispatcher.retry_base", cfg.Dispatcher.RetryBase)
	add(err)
	_, err = ParseDuration("dispatcher.retry_max_delay", cfg.Dispatcher.RetryMaxDelay)
	add(err)

	if cfg.Trigger.Workers < 0 || cfg.Trigger.QueueSize < 0 {
		add(errors.New("trigger: workers and queue_size must be >= 0"))
	}
	_, err = ParseDuration("trigger.dedup_window", cfg.Trigger.DedupWindow)
	add(err)
	_, err = ParseDuration("trigger.ledger_timeout", cfg.Trigger.LedgerTimeout)
	add(err)

	if cfg.History.Capacity < 0 {
		add(errors.New("history.capacity: must be >= 0"))
	}
	_, err = ParseDuration("history.ttl", cfg.History.TTL)
	add(err)

	r := cfg.Reminders
	if r.ActiveFrom < 0 || r.ActiveFrom > 23 || r.ActiveUntil < 0 || r.ActiveUntil > 24 {
		add(errors.New("reminders: active hours must be within 0..24"))
	} else if r.ActiveUntil != 0 && r.ActiveUntil <= r.ActiveFrom {
		add(errors.New("reminders: active_until must be after active_from"))
	}

	if len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.Topic) == "" {
		add(errors.New("kafka.topic: required when brokers are set"))
	}

	_, err = ParseDuration("http.read_timeout", cfg.HTTP.ReadTimeout)
	add(err)
	_, err = ParseDuration("http.write_timeout", cfg.HTTP.WriteTimeout)
	add(err)

	_, err = cfg.Location()
	add(err)
	return errors.Join(errs...)
}

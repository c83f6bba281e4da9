package config

import (
	"reflect"
	"sort"
	"strings"

	"hydronotify/pkg/logx"
)

// SummarizeChange returns the changed sections, safe log attrs (never
// secrets) and the subset of sections that only take effect after a
// restart. Logging, dispatcher, trigger and reminders are applied live.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	mark := func(section string, live bool, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if !live {
			restart = append(restart, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging", true,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatcher, newCfg.Dispatcher) {
		mark("dispatcher", true,
			logx.Int("dispatcher.rate_per_sec", newCfg.Dispatcher.RatePerSec),
			logx.Int("dispatcher.retry_max", newCfg.Dispatcher.RetryMax),
		)
	}
	if !reflect.DeepEqual(oldCfg.Trigger, newCfg.Trigger) || oldCfg.Timezone != newCfg.Timezone {
		mark("trigger", true,
			logx.String("trigger.dedup_window", newCfg.Trigger.DedupWindow),
			logx.String("timezone", newCfg.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		mark("reminders", true,
			logx.Bool("reminders.enabled", newCfg.Reminders.Enabled),
			logx.String("reminders.schedule", newCfg.Reminders.Schedule),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage", false,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Redis, newCfg.Redis) {
		mark("redis", false, logx.Bool("redis.enabled", strings.TrimSpace(newCfg.Redis.Addr) != ""))
	}
	if !reflect.DeepEqual(oldCfg.Composer, newCfg.Composer) {
		mark("composer", false,
			logx.Bool("composer.enabled", newCfg.Composer.Enabled),
			logx.Bool("composer.api_key_set", newCfg.Composer.APIKey != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) {
		tw, em := newCfg.Channels.Twilio, newCfg.Channels.Email
		mark("channels", false,
			logx.Bool("channels.twilio_set", tw.AccountSID != "" && tw.AuthToken != ""),
			logx.Bool("channels.sms_from_set", tw.PhoneNumber != ""),
			logx.Bool("channels.whatsapp_from_set", tw.WhatsAppNumber != ""),
			logx.Bool("channels.email_set", em.Host != "" && em.From != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.History, newCfg.History) {
		mark("history", false, logx.Int("history.capacity", newCfg.History.Capacity))
	}
	if !reflect.DeepEqual(oldCfg.Kafka, newCfg.Kafka) {
		mark("kafka", false, logx.Int("kafka.brokers", len(newCfg.Kafka.Brokers)), logx.String("kafka.topic", newCfg.Kafka.Topic))
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		mark("http", false,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", newCfg.HTTP.Token != ""),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays credentials and endpoints from the environment. Set
// variables win over the file.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil {
		return
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("TWILIO_ACCOUNT_SID", &cfg.Channels.Twilio.AccountSID)
	str("TWILIO_AUTH_TOKEN", &cfg.Channels.Twilio.AuthToken)
	str("TWILIO_PHONE_NUMBER", &cfg.Channels.Twilio.PhoneNumber)
	str("TWILIO_WHATSAPP_NUMBER", &cfg.Channels.Twilio.WhatsAppNumber)

	str("SMTP_HOST", &cfg.Channels.Email.Host)
	str("SMTP_USERNAME", &cfg.Channels.Email.Username)
	str("SMTP_PASSWORD", &cfg.Channels.Email.Password)
	str("SMTP_FROM_EMAIL", &cfg.Channels.Email.From)
	if v, ok := lookup("SMTP_PORT"); ok {
		if p, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && p > 0 {
			cfg.Channels.Email.Port = p
		}
	}

	if v, ok := lookup("GEMINI_API_KEY"); ok && strings.TrimSpace(v) != "" {
		cfg.Composer.APIKey = strings.TrimSpace(v)
		cfg.Composer.Enabled = true
	}

	if v, ok := lookup("DATABASE_URL"); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.DSN = strings.TrimSpace(v)
		if cfg.Storage.Driver == "" || cfg.Storage.Driver == "memory" {
			cfg.Storage.Driver = "postgres"
		}
	}
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	if v, ok := lookup("KAFKA_BROKERS"); ok && strings.TrimSpace(v) != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Kafka.Brokers = brokers
	}
	str("LOG_LEVEL", &cfg.Logging.Level)
}

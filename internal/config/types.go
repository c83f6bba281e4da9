package config

// Config is the on-disk configuration. Credentials are usually left empty
// here and supplied through the environment (see ApplyEnv).
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Redis      RedisConfig      `json:"redis,omitempty"`
	Composer   ComposerConfig   `json:"composer"`
	Channels   ChannelsConfig   `json:"channels"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Trigger    TriggerConfig    `json:"trigger"`
	History    HistoryConfig    `json:"history,omitempty"`
	Reminders  RemindersConfig  `json:"reminders"`
	Kafka      KafkaConfig      `json:"kafka,omitempty"`
	HTTP       HTTPConfig       `json:"http"`

	// Timezone applies to users without one. Default: local.
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// StorageConfig selects the preference/dedup/kv backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hydronotify.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; DATABASE_URL wins
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

// RedisConfig enables the shared dedup ledger and history KV when Addr is set.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
}

type ComposerConfig struct {
	Enabled  bool   `json:"enabled"`
	APIKey   string `json:"api_key,omitempty"` // do not log
	Endpoint string `json:"endpoint,omitempty"`
	Model    string `json:"model,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	MaxChars int    `json:"max_chars,omitempty"`
}

type ChannelsConfig struct {
	// Timeout bounds one provider call. Default 10s.
	Timeout string       `json:"timeout,omitempty"`
	Subject string       `json:"subject,omitempty"`
	Twilio  TwilioConfig `json:"twilio"`
	Email   EmailConfig  `json:"email"`
}

type TwilioConfig struct {
	AccountSID     string `json:"account_sid,omitempty"`
	AuthToken      string `json:"auth_token,omitempty"` // do not log
	PhoneNumber    string `json:"phone_number,omitempty"`
	WhatsAppNumber string `json:"whatsapp_number,omitempty"`
	StatusCallback string `json:"status_callback,omitempty"`
}

type EmailConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	From     string `json:"from,omitempty"`
	FromName string `json:"from_name,omitempty"`

	// ImplicitTLS forces SSL from the first byte. Port 465 implies it;
	// anything else uses STARTTLS.
	ImplicitTLS bool `json:"implicit_tls,omitempty"`
}

// DispatcherConfig controls provider pacing and per-hop retries.
//
// Defaults: rate_per_sec 10, retry_max 0, retry_base "500ms",
// retry_max_delay "10s".
type DispatcherConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type TriggerConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
	LedgerTimeout string `json:"ledger_timeout,omitempty"`
}

type HistoryConfig struct {
	Capacity int `json:"capacity,omitempty"`

	// TTL applies to redis-backed history only.
	TTL string `json:"ttl,omitempty"`
}

type RemindersConfig struct {
	Enabled     bool   `json:"enabled"`
	Schedule    string `json:"schedule,omitempty"`
	ActiveFrom  int    `json:"active_from,omitempty"`
	ActiveUntil int    `json:"active_until,omitempty"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"`
	GroupID string   `json:"group_id,omitempty"`
}

type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`

	Pprof PprofConfig `json:"pprof"`
}

// PprofConfig mounts /v1/debug/pprof. Rates apply on reload.
type PprofConfig struct {
	Enabled              bool `json:"enabled"`
	MutexProfileFraction int  `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int  `json:"block_profile_rate,omitempty"`
	MemProfileRate       int  `json:"mem_profile_rate,omitempty"`
}

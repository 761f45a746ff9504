package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	SendRates  SendRatesConfig  `mapstructure:"send_rates"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Relay      RelayConfig      `mapstructure:"relay"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	EventsTopic  string        `mapstructure:"events_topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DispatcherConfig holds every dispatch knob; none of these live as
// in-code constants.
type DispatcherConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	// StaleClaimAfter is how long a claimed job may sit in processing
	// before it is treated as orphaned and returned to pending.
	StaleClaimAfter time.Duration `mapstructure:"stale_claim_after"`
}

// RateLimitConfig is the per-organization HTTP request limit.
type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

// SendRatesConfig bounds outbound sends per second per channel kind.
type SendRatesConfig struct {
	Default SendRate            `mapstructure:"default"`
	Kinds   map[string]SendRate `mapstructure:"kinds"`
}

type SendRate struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

// Of returns the rate for a channel kind, falling back to the default.
func (s SendRatesConfig) Of(kind string) SendRate {
	if r, ok := s.Kinds[kind]; ok && r.RPS > 0 {
		return r
	}
	return s.Default
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"`
}

type ProviderConfig struct {
	Kind      string        `mapstructure:"kind"` // whatsapp|instagram|facebook|email
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	SendPath  string        `mapstructure:"send_path"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type RelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (ENGAGE_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (ENGAGE_*)
	v.SetEnvPrefix("ENGAGE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

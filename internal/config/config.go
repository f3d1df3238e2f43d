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
	HTTP       HTTPConfig     `mapstructure:"http"`
	Log        LogConfig      `mapstructure:"log"`
	MySQL      DatabaseConfig `mapstructure:"mysql"`
	ClickHouse DatabaseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
	Relay      RelayConfig    `mapstructure:"relay"`
	Consumer   ConsumerConfig `mapstructure:"consumer"`
	NodeID     int64          `mapstructure:"node_id"` // snowflake node, unique per instance
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
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval int           `mapstructure:"commit_interval_ms"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	DLTSuffix      string        `mapstructure:"dlt_suffix"`
}

// RelayConfig tunes the outbox relay scheduler.
type RelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	// Cutoff keeps rows from still-open transactions out of a claim.
	Cutoff     time.Duration `mapstructure:"cutoff"`
	ClaimLease time.Duration `mapstructure:"claim_lease"`
	FanOut     int           `mapstructure:"fan_out"`
	MaxRetry   int           `mapstructure:"max_retry"`
	// SentMode: "mark" keeps acked rows as SENT, "delete" drops them,
	// "archive" moves them to ClickHouse.
	SentMode string `mapstructure:"sent_mode"`
}

// ConsumerConfig tunes the dispatcher's retry wrapper and dedup cache.
type ConsumerConfig struct {
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`
	RetryMultiplier   float64       `mapstructure:"retry_multiplier"`
	RetryMaxAttempts  int           `mapstructure:"retry_max_attempts"`
	DedupTTL          time.Duration `mapstructure:"dedup_ttl"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (EVRELAY_*).
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

	// env override (EVRELAY_*)
	v.SetEnvPrefix("EVRELAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends selectable at startup.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the full process configuration, parsed from the environment.
type Config struct {
	Server     Server
	Storage    Storage
	Postgres   PostgresConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Router     RouterConfig
	Projection ProjectionConfig
}

// Server captures ops server and logging configuration.
type Server struct {
	OpsAddr         string        `env:"ACCOUNTS_OPS_ADDR" envDefault:":8081"`
	LogLevel        string        `env:"ACCOUNTS_LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"ACCOUNTS_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Storage selects where events, snapshots, checkpoints and the read model live.
type Storage struct {
	Backend string `env:"ACCOUNTS_STORAGE_BACKEND" envDefault:"memory"`
}

// PostgresConfig configures the shared database handles.
type PostgresConfig struct {
	URL             string        `env:"ACCOUNTS_POSTGRES_URL"`
	MaxOpenConns    int           `env:"ACCOUNTS_POSTGRES_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"ACCOUNTS_POSTGRES_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"ACCOUNTS_POSTGRES_CONN_MAX_LIFETIME" envDefault:"30m"`
	EnsureSchema    bool          `env:"ACCOUNTS_POSTGRES_ENSURE_SCHEMA" envDefault:"true"`
}

// RedisConfig configures the lease backend. An empty URL selects in-process leases.
type RedisConfig struct {
	URL          string        `env:"ACCOUNTS_REDIS_URL"`
	PoolSize     int           `env:"ACCOUNTS_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"ACCOUNTS_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"ACCOUNTS_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"ACCOUNTS_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"ACCOUNTS_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// KafkaConfig configures the event publication projection. No brokers disables it.
type KafkaConfig struct {
	Brokers           []string `env:"ACCOUNTS_KAFKA_BROKERS" envSeparator:","`
	Topic             string   `env:"ACCOUNTS_KAFKA_TOPIC" envDefault:"user-events"`
	Partitions        int32    `env:"ACCOUNTS_KAFKA_PARTITIONS" envDefault:"6"`
	ReplicationFactor int16    `env:"ACCOUNTS_KAFKA_REPLICATION_FACTOR" envDefault:"1"`
	ClientID          string   `env:"ACCOUNTS_KAFKA_CLIENT_ID" envDefault:"accounts"`
}

// RouterConfig tunes the command router and aggregate runtime.
type RouterConfig struct {
	AskTimeout       time.Duration `env:"ACCOUNTS_ASK_TIMEOUT" envDefault:"2m"`
	PassivateAfter   time.Duration `env:"ACCOUNTS_PASSIVATE_AFTER" envDefault:"2m"`
	MailboxSize      int           `env:"ACCOUNTS_MAILBOX_SIZE" envDefault:"128"`
	SnapshotEvery    int64         `env:"ACCOUNTS_SNAPSHOT_EVERY" envDefault:"100"`
	KeepSnapshots    int           `env:"ACCOUNTS_KEEP_SNAPSHOTS" envDefault:"2"`
	MaxAppendRetries int           `env:"ACCOUNTS_MAX_APPEND_RETRIES" envDefault:"3"`
	LeaseTTL         time.Duration `env:"ACCOUNTS_LEASE_TTL" envDefault:"30s"`
	LeaseWait        time.Duration `env:"ACCOUNTS_LEASE_WAIT" envDefault:"10s"`
}

// ProjectionConfig tunes projection runners.
type ProjectionConfig struct {
	SaveEvery        int           `env:"ACCOUNTS_PROJECTION_SAVE_EVERY" envDefault:"100"`
	SaveAfter        time.Duration `env:"ACCOUNTS_PROJECTION_SAVE_AFTER" envDefault:"500ms"`
	BatchSize        int           `env:"ACCOUNTS_PROJECTION_BATCH_SIZE" envDefault:"256"`
	PollInterval     time.Duration `env:"ACCOUNTS_PROJECTION_POLL_INTERVAL" envDefault:"250ms"`
	ConsistencyDelay time.Duration `env:"ACCOUNTS_PROJECTION_CONSISTENCY_DELAY" envDefault:"1s"`
	MinBackoff       time.Duration `env:"ACCOUNTS_PROJECTION_MIN_BACKOFF" envDefault:"1s"`
	MaxBackoff       time.Duration `env:"ACCOUNTS_PROJECTION_MAX_BACKOFF" envDefault:"30s"`
}

// FromEnv parses Config from the process environment and validates it.
func FromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns the configuration an empty environment produces.
func Defaults() Config {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: map[string]string{}})
	if err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Validate rejects combinations the process cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("ACCOUNTS_POSTGRES_URL is required for the %q backend", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Router.AskTimeout <= 0 {
		return fmt.Errorf("ask timeout must be positive")
	}
	if c.Router.SnapshotEvery <= 0 || c.Router.KeepSnapshots <= 0 {
		return fmt.Errorf("snapshot policy must be positive")
	}
	if c.Router.MaxAppendRetries < 1 {
		return fmt.Errorf("ACCOUNTS_MAX_APPEND_RETRIES must be at least 1, got %d", c.Router.MaxAppendRetries)
	}
	if c.Projection.SaveEvery <= 0 || c.Projection.SaveAfter <= 0 {
		return fmt.Errorf("checkpoint policy must be positive")
	}
	return nil
}

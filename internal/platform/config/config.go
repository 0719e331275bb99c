package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the complete service configuration. Every component receives the
// section it needs through its constructor; nothing reads the environment later.
type Config struct {
	Server     Server
	Postgres   PostgresConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Enrollment EnrollmentConfig
	Kafka      KafkaConfig
	LogLevel   string `env:"ENROLLD_LOG_LEVEL" envDefault:"info"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"ENROLLD_ADDR" envDefault:":8080"`
	AdminToken      string        `env:"ENROLLD_ADMIN_TOKEN"`
	ShutdownTimeout time.Duration `env:"ENROLLD_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxUploadBytes  int64         `env:"ENROLLD_MAX_UPLOAD_BYTES" envDefault:"20971520"`
}

// PostgresConfig points at the committed enrollment database.
type PostgresConfig struct {
	URL             string        `env:"ENROLLD_DATABASE_URL"`
	MaxOpenConns    int           `env:"ENROLLD_DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"ENROLLD_DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"ENROLLD_DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	TxTimeout       time.Duration `env:"ENROLLD_DB_TX_TIMEOUT" envDefault:"5s"`
}

// RedisConfig enables cross-process locking when URL is set.
type RedisConfig struct {
	URL          string        `env:"ENROLLD_REDIS_URL"`
	PoolSize     int           `env:"ENROLLD_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"ENROLLD_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"ENROLLD_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"ENROLLD_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"ENROLLD_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	LockTTL      time.Duration `env:"ENROLLD_REDIS_LOCK_TTL" envDefault:"30s"`
}

// StorageConfig locates the pending collection and the file tiers.
type StorageConfig struct {
	Root        string `env:"ENROLLD_STORAGE_ROOT" envDefault:"./data/uploads"`
	PendingFile string `env:"ENROLLD_PENDING_FILE" envDefault:"./data/pending.json"`
}

// EnrollmentConfig holds business tunables.
type EnrollmentConfig struct {
	GraceDays      int    `env:"ENROLLD_GRACE_DAYS" envDefault:"7"`
	RemoveOnCommit bool   `env:"ENROLLD_REMOVE_ON_COMMIT" envDefault:"false"`
	RulesFile      string `env:"ENROLLD_RULES_FILE"`
}

// KafkaConfig enables committed-enrollment events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `env:"ENROLLD_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `env:"ENROLLD_KAFKA_TOPIC" envDefault:"enrollment.committed"`
	// Used only when the topic is created at startup.
	TopicPartitions   int32 `env:"ENROLLD_KAFKA_TOPIC_PARTITIONS" envDefault:"3"`
	ReplicationFactor int16 `env:"ENROLLD_KAFKA_REPLICATION_FACTOR" envDefault:"1"`
	// How long publishing is skipped after repeated broker failures.
	BreakerCooldown time.Duration `env:"ENROLLD_KAFKA_BREAKER_COOLDOWN" envDefault:"30s"`
}

// GracePeriod returns the default time-to-complete window.
func (c EnrollmentConfig) GracePeriod() time.Duration {
	return time.Duration(c.GraceDays) * 24 * time.Hour
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Enrollment.GraceDays <= 0 {
		return Config{}, fmt.Errorf("ENROLLD_GRACE_DAYS must be positive, got %d", cfg.Enrollment.GraceDays)
	}
	return cfg, nil
}

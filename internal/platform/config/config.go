package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "ruletrace/pkg/platform/strings"
)

// Config captures process-level configuration so main stays lean. Pool sizing
// knobs are passed straight through to the drivers; tuning them is not this
// service's concern.
type Config struct {
	Addr string

	Redis    RedisConfig
	Postgres PostgresConfig

	// WorkingMemoryTTL is the retention window for case entries. Every
	// mutation re-arms it.
	WorkingMemoryTTL time.Duration

	Kafka KafkaConfig
}

// RedisConfig holds connection settings for the working-memory store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig holds connection settings for the rule graph store.
type PostgresConfig struct {
	DSN string
}

// KafkaConfig holds settings for the audit event publisher. Empty brokers
// disable publishing; events then stay in the audit store only.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	addr := os.Getenv("RULETRACE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	ttl := 24 * time.Hour
	if v := os.Getenv("WORKING_MEMORY_TTL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			ttl = time.Duration(hours) * time.Hour
		}
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = pstrings.DedupeAndTrim(strings.Split(v, ","))
	}
	topic := os.Getenv("KAFKA_AUDIT_TOPIC")
	if topic == "" {
		topic = "ruletrace.audit"
	}

	return Config{
		Addr: addr,
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
		WorkingMemoryTTL: ttl,
		Kafka: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
		},
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	platformstrings "cookieconsent/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	// TrustedProxies lists peers (addresses or CIDRs) whose forwarding
	// headers name the visitor IP. Empty means the socket peer is the visitor.
	TrustedProxies []string
}

// RedisConfig configures the optional script configuration cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// KafkaConfig configures the optional consent event stream.
type KafkaConfig struct {
	Brokers      []string
	ConsentTopic string
	Partitions   int32
	Replication  int16
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// WebhookConfig sizes the webhook worker pool.
type WebhookConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Config is the full process configuration.
type Config struct {
	Server          Server
	DatabaseURL     string
	Redis           RedisConfig
	Kafka           KafkaConfig
	Webhook         WebhookConfig
	ConsentTTL      time.Duration
	APIKeyPepper    string
	BootstrapAPIKey string
	BootstrapScript string
	LogLevel        string
}

// DefaultAPIKeyPepper is used when API_KEY_PEPPER is unset. Development only.
const DefaultAPIKeyPepper = "dev-pepper-change-in-production"

// FromEnv builds a Config from environment variables so main stays lean. A
// .env file in the working directory is loaded first when present; variables
// already set in the environment win.
func FromEnv() (Config, error) {
	_ = godotenv.Load()
	return fromLookup(os.Getenv)
}

func fromLookup(getenv func(string) string) (Config, error) {
	e := env{get: getenv}
	cfg := Config{
		Server: Server{
			Addr:            e.str("COOKIECONSENT_ADDR", ":8080"),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
			TrustedProxies:  e.list("TRUSTED_PROXIES"),
		},
		DatabaseURL: e.str("DATABASE_URL", ""),
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     e.duration("SCRIPT_CONFIG_CACHE_TTL", 60*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:      e.list("KAFKA_BROKERS"),
			ConsentTopic: e.str("KAFKA_CONSENT_TOPIC", "consent.history"),
			Partitions:   int32(e.integer("KAFKA_CONSENT_PARTITIONS", 3)),
			Replication:  int16(e.integer("KAFKA_REPLICATION_FACTOR", 1)),
		},
		Webhook: WebhookConfig{
			Workers:   e.integer("WEBHOOK_WORKERS", 4),
			QueueSize: e.integer("WEBHOOK_QUEUE_SIZE", 1000),
			Timeout:   e.duration("WEBHOOK_TIMEOUT", 5*time.Second),
		},
		ConsentTTL:      e.duration("CONSENT_TTL", 365*24*time.Hour),
		APIKeyPepper:    e.str("API_KEY_PEPPER", DefaultAPIKeyPepper),
		BootstrapAPIKey: e.str("BOOTSTRAP_API_KEY", ""),
		BootstrapScript: e.str("BOOTSTRAP_SCRIPT_ID", ""),
		LogLevel:        e.str("LOG_LEVEL", "info"),
	}
	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, nil
}

// env reads typed values and keeps the first parse error.
type env struct {
	get func(string) string
	err error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		e.fail(fmt.Errorf("%s: must be a positive integer, got %q", key, v))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		e.fail(fmt.Errorf("%s: must be a positive duration, got %q", key, v))
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	return platformstrings.SplitList(e.get(key))
}

func (e *env) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

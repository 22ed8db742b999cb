/*
Package config loads runtime settings from the environment.

SOURCES (later wins):
 1. struct-tag defaults
 2. .env in the working directory, if present
 3. process environment, every key prefixed with LEDGER_

EXAMPLE:

	LEDGER_STORE=sqlite LEDGER_SQLITE_PATH=/var/lib/pallets.db ./server
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment key.
const Prefix = "LEDGER"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Notifier modes.
const (
	NotifierLog     = "log"
	NotifierWebhook = "webhook"
	NotifierQueue   = "queue"
)

type Config struct {
	Env      string `envconfig:"ENV" default:"development"`
	Addr     string `envconfig:"ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	Store       string        `envconfig:"STORE" default:"memory"`
	SQLitePath  string        `envconfig:"SQLITE_PATH" default:"pallets.db"`
	PostgresDSN string        `envconfig:"POSTGRES_DSN"`
	PostgresMax int32         `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
	RedisAddr   string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPrefix string        `envconfig:"REDIS_PREFIX" default:"pallets:"`
	WatchEvery  time.Duration `envconfig:"WATCH_INTERVAL" default:"2s"`

	CatalogFile string `envconfig:"CATALOG_FILE" default:"catalog.yaml"`

	Notifier       string        `envconfig:"NOTIFIER" default:"log"`
	WebhookURL     string        `envconfig:"WEBHOOK_URL"`
	DefaultChannel string        `envconfig:"DEFAULT_CHANNEL" default:"pallet-ops"`
	NotifyRetries  int           `envconfig:"NOTIFY_RETRIES" default:"8"`
	NotifyRetain   time.Duration `envconfig:"NOTIFY_RETENTION" default:"24h"`
	WorkerThreads  int           `envconfig:"WORKER_CONCURRENCY" default:"5"`

	MinReasonLength         int    `envconfig:"MIN_REASON_LENGTH" default:"10"`
	MaxWriteAttempts        int    `envconfig:"MAX_WRITE_ATTEMPTS" default:"5"`
	SkipReconciliationAudit bool   `envconfig:"SKIP_RECONCILIATION_AUDIT" default:"false"`
	DocumentTimezone        string `envconfig:"DOCUMENT_TZ" default:"UTC"`

	DriftInterval      time.Duration `envconfig:"DRIFT_INTERVAL" default:"15m"`
	DriftAutoReconcile bool          `envconfig:"DRIFT_AUTO_RECONCILE" default:"false"`

	RateLimit   int      `envconfig:"RATE_LIMIT" default:"120"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`

	Scenarios bool `envconfig:"SCENARIOS" default:"true"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment without touching .env.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.Store = strings.ToLower(c.Store)
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return errors.New("config: LEDGER_POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}

	c.Notifier = strings.ToLower(c.Notifier)
	switch c.Notifier {
	case NotifierLog, NotifierQueue:
	case NotifierWebhook:
		if c.WebhookURL == "" {
			return errors.New("config: LEDGER_WEBHOOK_URL is required for the webhook notifier")
		}
	default:
		return fmt.Errorf("config: unknown notifier %q", c.Notifier)
	}

	if _, err := time.LoadLocation(c.DocumentTimezone); err != nil {
		return fmt.Errorf("config: document timezone: %w", err)
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}

// Location returns the document-number timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DocumentTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

const EnvDevelopment = "development"

type Config struct {
	STTWebSocketURL string `env:"STT_WEBSOCKET_URL,required"`
	Environment     string `env:"ENVIRONMENT" envDefault:"development"`

	Store       string `env:"STORE" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Postgres pool sizing; ignored with STORE=memory.
	DBMaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"16"`
	DBMinConns        int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	DBTraceSQL        bool          `env:"DB_TRACE_SQL"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"scribe"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"scribe"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	RelayMaxPending   int           `env:"RELAY_MAX_PENDING_FRAMES" envDefault:"512"`
	RelayDialTimeout  time.Duration `env:"RELAY_DIAL_TIMEOUT" envDefault:"10s"`
	RelayWriteTimeout time.Duration `env:"RELAY_WRITE_TIMEOUT" envDefault:"10s"`

	SynthWorkers   int `env:"SYNTH_WORKERS" envDefault:"4"`
	SynthQueueSize int `env:"SYNTH_QUEUE_SIZE" envDefault:"1024"`

	EventBufferSize int `env:"EVENT_BUFFER_SIZE" envDefault:"1024"`

	// Retention of 0 keeps transcripts forever.
	TranscriptRetention time.Duration `env:"TRANSCRIPT_RETENTION" envDefault:"0s"`
	MaintenanceInterval time.Duration `env:"MAINTENANCE_INTERVAL" envDefault:"1h"`

	HTTPAddr string `env:"HTTP_ADDR"`
	NodePort string `env:"NODE_PORT"`
	// WriteTimeout is 0 by default: relay and SSE connections are long-lived.
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// IsDevelopment reports whether development-only features (the /logs stream) are enabled.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile         string
	HTTPAddr        string
	LogLevel        string
	DatabaseURL     string
	Store           string
	STTWebSocketURL string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// A CLI upstream satisfies the required tag.
	opts := env.Options{}
	if overrides.STTWebSocketURL != "" {
		opts.Environment = env.ToMap(os.Environ())
		opts.Environment["STT_WEBSOCKET_URL"] = overrides.STTWebSocketURL
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.Store != "" {
		cfg.Store = overrides.Store
	}

	// HTTP_ADDR wins; NODE_PORT is the legacy way to pick the port.
	if cfg.HTTPAddr == "" {
		if cfg.NodePort != "" {
			cfg.HTTPAddr = ":" + cfg.NodePort
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.STTWebSocketURL)
	if err != nil {
		return fmt.Errorf("STT_WEBSOCKET_URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("STT_WEBSOCKET_URL must use ws:// or wss://, got %q", c.STTWebSocketURL)
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE=postgres")
		}
		if c.DBMaxConns < 1 {
			return fmt.Errorf("DB_MAX_CONNS must be >= 1, got %d", c.DBMaxConns)
		}
		if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", c.DBMaxConns, c.DBMinConns)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	if c.RelayMaxPending < 0 {
		return fmt.Errorf("RELAY_MAX_PENDING_FRAMES must be >= 0, got %d", c.RelayMaxPending)
	}
	if c.SynthWorkers < 1 {
		return fmt.Errorf("SYNTH_WORKERS must be >= 1, got %d", c.SynthWorkers)
	}
	if c.TranscriptRetention < 0 {
		return fmt.Errorf("TRANSCRIPT_RETENTION must be >= 0, got %s", c.TranscriptRetention)
	}
	if c.TranscriptRetention > 0 && c.MaintenanceInterval <= 0 {
		return fmt.Errorf("MAINTENANCE_INTERVAL must be > 0 when retention is enabled, got %s", c.MaintenanceInterval)
	}
	if c.SynthQueueSize < 1 {
		return fmt.Errorf("SYNTH_QUEUE_SIZE must be >= 1, got %d", c.SynthQueueSize)
	}
	return nil
}

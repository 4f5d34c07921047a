package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Set required env vars for all subtests
	cleanup := setEnvs(t, map[string]string{
		"STT_WEBSOCKET_URL": "ws://localhost:9000/stt",
		"DATABASE_URL":      "postgres://localhost/test",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.Environment != "development" || !cfg.IsDevelopment() {
			t.Errorf("Environment = %q, want development", cfg.Environment)
		}
		if cfg.Store != StorePostgres {
			t.Errorf("Store = %q, want postgres", cfg.Store)
		}
		if cfg.RelayMaxPending != 512 {
			t.Errorf("RelayMaxPending = %d, want 512", cfg.RelayMaxPending)
		}
		if cfg.RelayDialTimeout != 10*time.Second {
			t.Errorf("RelayDialTimeout = %v, want 10s", cfg.RelayDialTimeout)
		}
		if cfg.SynthWorkers != 4 || cfg.SynthQueueSize != 1024 {
			t.Errorf("synth = %d/%d, want 4/1024", cfg.SynthWorkers, cfg.SynthQueueSize)
		}
		if cfg.MQTTClientID != "scribe" || cfg.MQTTTopicPrefix != "scribe" {
			t.Errorf("mqtt = %q/%q, want scribe/scribe", cfg.MQTTClientID, cfg.MQTTTopicPrefix)
		}
		if cfg.MQTTBrokerURL != "" {
			t.Errorf("MQTTBrokerURL = %q, want empty", cfg.MQTTBrokerURL)
		}
		if cfg.TranscriptRetention != 0 || cfg.MaintenanceInterval != time.Hour {
			t.Errorf("retention = %v/%v, want 0/1h", cfg.TranscriptRetention, cfg.MaintenanceInterval)
		}
		if cfg.DBMaxConns != 16 || cfg.DBMinConns != 2 || cfg.DBMaxConnLifetime != 30*time.Minute || cfg.DBTraceSQL {
			t.Errorf("db pool = %d/%d/%v/%v, want 16/2/30m/false", cfg.DBMaxConns, cfg.DBMinConns, cfg.DBMaxConnLifetime, cfg.DBTraceSQL)
		}
		if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
			t.Errorf("CORSOrigins = %v, want [*]", cfg.CORSOrigins)
		}
		if cfg.WriteTimeout != 0 {
			t.Errorf("WriteTimeout = %v, want 0", cfg.WriteTimeout)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:         "nonexistent.env",
			HTTPAddr:        ":9090",
			LogLevel:        "debug",
			DatabaseURL:     "postgres://override/db",
			STTWebSocketURL: "wss://override/stt",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.STTWebSocketURL != "wss://override/stt" {
			t.Errorf("STTWebSocketURL = %q, want override", cfg.STTWebSocketURL)
		}
	})

	t.Run("node_port_fallback", func(t *testing.T) {
		restore := setEnvs(t, map[string]string{"NODE_PORT": "3000"})
		defer restore()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":3000" {
			t.Errorf("HTTPAddr = %q, want :3000", cfg.HTTPAddr)
		}
	})

	t.Run("http_addr_beats_node_port", func(t *testing.T) {
		restore := setEnvs(t, map[string]string{"NODE_PORT": "3000", "HTTP_ADDR": "127.0.0.1:8181"})
		defer restore()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != "127.0.0.1:8181" {
			t.Errorf("HTTPAddr = %q, want 127.0.0.1:8181", cfg.HTTPAddr)
		}
	})

	t.Run("memory_store_needs_no_database", func(t *testing.T) {
		restore := setEnvs(t, map[string]string{"STORE": "memory", "DATABASE_URL": ""})
		defer restore()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Store != StoreMemory {
			t.Errorf("Store = %q, want memory", cfg.Store)
		}
	})

	t.Run("db_pool_and_cors_from_env", func(t *testing.T) {
		restore := setEnvs(t, map[string]string{
			"DB_MAX_CONNS":         "32",
			"DB_MIN_CONNS":         "4",
			"DB_TRACE_SQL":         "true",
			"CORS_ALLOWED_ORIGINS": "https://a.example,https://b.example",
		})
		defer restore()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.DBMaxConns != 32 || cfg.DBMinConns != 4 || !cfg.DBTraceSQL {
			t.Errorf("db pool = %d/%d/%v, want 32/4/true", cfg.DBMaxConns, cfg.DBMinConns, cfg.DBTraceSQL)
		}
		if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
			t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
		}
	})

	t.Run("env_file_loaded", func(t *testing.T) {
		restore := setEnvs(t, map[string]string{"ENVIRONMENT": ""})
		os.Unsetenv("ENVIRONMENT")
		defer restore()

		path := t.TempDir() + "/test.env"
		if err := os.WriteFile(path, []byte("ENVIRONMENT=production\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		defer os.Unsetenv("ENVIRONMENT")

		cfg, err := Load(Overrides{EnvFile: path})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.IsDevelopment() {
			t.Errorf("Environment = %q, want production", cfg.Environment)
		}
	})
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		wantErr string
	}{
		{"missing_upstream", map[string]string{"STT_WEBSOCKET_URL": ""}, "STT_WEBSOCKET_URL"},
		{"http_upstream", map[string]string{"STT_WEBSOCKET_URL": "http://localhost:9000"}, "ws://"},
		{"postgres_without_dsn", map[string]string{"DATABASE_URL": ""}, "DATABASE_URL"},
		{"unknown_store", map[string]string{"STORE": "redis"}, "STORE"},
		{"negative_pending", map[string]string{"RELAY_MAX_PENDING_FRAMES": "-1"}, "RELAY_MAX_PENDING_FRAMES"},
		{"zero_db_max_conns", map[string]string{"DB_MAX_CONNS": "0"}, "DB_MAX_CONNS"},
		{"db_min_above_max", map[string]string{"DB_MAX_CONNS": "2", "DB_MIN_CONNS": "3"}, "DB_MIN_CONNS"},
		{"zero_workers", map[string]string{"SYNTH_WORKERS": "0"}, "SYNTH_WORKERS"},
		{"retention_without_interval", map[string]string{"TRANSCRIPT_RETENTION": "720h", "MAINTENANCE_INTERVAL": "0s"}, "MAINTENANCE_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := map[string]string{
				"STT_WEBSOCKET_URL": "ws://localhost:9000/stt",
				"DATABASE_URL":      "postgres://localhost/test",
			}
			for k, v := range tt.envs {
				base[k] = v
			}
			cleanup := setEnvs(t, base)
			defer cleanup()
			for k, v := range base {
				if v == "" {
					os.Unsetenv(k)
				}
			}

			_, err := Load(Overrides{EnvFile: "nonexistent.env"})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}

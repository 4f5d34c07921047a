package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/snarg/scribe/internal/api"
	"github.com/snarg/scribe/internal/config"
	"github.com/snarg/scribe/internal/database"
	"github.com/snarg/scribe/internal/events"
	"github.com/snarg/scribe/internal/metrics"
	"github.com/snarg/scribe/internal/mqttclient"
	"github.com/snarg/scribe/internal/relay"
	"github.com/snarg/scribe/internal/synth"
	"github.com/snarg/scribe/internal/transcript"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL DSN (overrides DATABASE_URL)")
	flag.StringVar(&overrides.Store, "store", "", "transcript store: postgres or memory (overrides STORE)")
	flag.StringVar(&overrides.STTWebSocketURL, "stt-url", "", "upstream STT WebSocket URL (overrides STT_WEBSOCKET_URL)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger. In development every line is also fanned out to /logs viewers.
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	var logHub *api.LogHub
	if cfg.IsDevelopment() {
		logHub = api.NewLogHub()
		out = zerolog.MultiLevelWriter(os.Stdout, logHub)
	}
	log := zerolog.New(out).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("environment", cfg.Environment).
		Str("store", cfg.Store).
		Msg("scribe starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Transcript store
	var store transcript.Store
	var db *database.DB
	switch cfg.Store {
	case config.StorePostgres:
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, database.PoolOptions{
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			MaxConnLifetime: cfg.DBMaxConnLifetime,
			TraceSQL:        cfg.DBTraceSQL,
		}, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		store = database.NewTranscriptStore(db)
	default:
		log.Warn().Msg("using in-memory transcript store; transcripts are lost on restart")
		store = transcript.NewMemoryStore()
	}

	// Retention
	if cfg.TranscriptRetention > 0 {
		if p, ok := store.(purger); ok {
			maintLog := log.With().Str("component", "maintenance").Logger()
			maintLog.Info().Dur("retention", cfg.TranscriptRetention).Dur("interval", cfg.MaintenanceInterval).Msg("transcript retention enabled")
			go runRetention(ctx, p, cfg.TranscriptRetention, cfg.MaintenanceInterval, maintLog)
		}
	}

	// Event bus for SSE subscribers
	eventBus := events.NewEventBus(cfg.EventBufferSize)

	// MQTT (optional)
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
	}

	// Synthesizer
	synthesizer := synth.NewSynthesizer(synth.Options{
		Store:     store,
		Workers:   cfg.SynthWorkers,
		QueueSize: cfg.SynthQueueSize,
		Publish: func(t *transcript.Transcript) {
			eventBus.Publish("transcript", t.SessionID, t)
			if mqtt != nil {
				mqtt.PublishTranscript(t)
			}
		},
		Log: log.With().Str("component", "synth").Logger(),
	})
	synthesizer.Start()

	// Relay gateway
	gateway, err := relay.NewGateway(relay.Options{
		UpstreamURL:  cfg.STTWebSocketURL,
		Sink:         synthesizer,
		MaxPending:   cfg.RelayMaxPending,
		DialTimeout:  cfg.RelayDialTimeout,
		WriteTimeout: cfg.RelayWriteTimeout,
		Log:          log.With().Str("component", "relay").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create relay gateway")
	}

	// Metrics
	var pool *pgxpool.Pool
	if db != nil {
		pool = db.Pool
	}
	prometheus.MustRegister(metrics.NewCollector(pool, liveStats{
		gateway: gateway,
		synth:   synthesizer,
		events:  eventBus,
	}))

	// HTTP Server
	opts := api.ServerOptions{
		Config:    cfg,
		Store:     store,
		Relay:     gateway,
		RelayInfo: gateway,
		Synth:     synthesizer,
		Events:    eventBus,
		Logs:      logHub,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	}
	if mqtt != nil {
		opts.MQTT = mqtt
	}
	srv := api.NewServer(opts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout. Hijacked relay connections are not
	// tracked by the server, so the gateway is closed explicitly, then the
	// synthesizer drains whatever the relay already handed it.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	gateway.Close()
	synthesizer.Stop()

	stats := synthesizer.Stats()
	log.Info().
		Int64("merged", stats.Completed).
		Int64("failed", stats.Failed).
		Int64("invalid", stats.Invalid).
		Int64("dropped", stats.Dropped).
		Int64("fragments_dropped", stats.FragmentsDropped).
		Msg("scribe stopped")
}

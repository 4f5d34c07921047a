package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

// PoolOptions sizes the transcript store's connection pool. Zero values keep
// the pgxpool defaults.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// TraceSQL logs every statement at debug level through the store logger.
	TraceSQL bool
}

func (o PoolOptions) validate() error {
	if o.MaxConns < 0 || o.MinConns < 0 {
		return errors.New("pool sizes must not be negative")
	}
	if o.MaxConns > 0 && o.MinConns > o.MaxConns {
		return fmt.Errorf("min conns (%d) exceeds max conns (%d)", o.MinConns, o.MaxConns)
	}
	return nil
}

func (o PoolOptions) apply(cfg *pgxpool.Config, log zerolog.Logger) {
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}
	if o.MinConns > 0 {
		cfg.MinConns = o.MinConns
	}
	if o.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = o.MaxConnLifetime
	}
	if o.TraceSQL {
		cfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   queryLogger{log: log},
			LogLevel: tracelog.LogLevelDebug,
		}
	}
}

// DB owns the pgx pool behind the Postgres transcript store.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect opens and pings the pool. Every log line from the pool, including
// traced SQL, carries store=postgres.
func Connect(ctx context.Context, databaseURL string, opts PoolOptions, log zerolog.Logger) (*DB, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("database pool options: %w", err)
	}
	log = log.With().Str("store", "postgres").Logger()

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		// pgx errors can echo the DSN, password included.
		return nil, fmt.Errorf("parse database url %s: invalid dsn", maskDSN(databaseURL))
	}
	opts.apply(cfg, log)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", maskDSN(databaseURL), err)
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Dur("max_conn_lifetime", cfg.MaxConnLifetime).
		Bool("trace_sql", opts.TraceSQL).
		Msg("transcript store connected")

	return &DB{Pool: pool, log: log}, nil
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

func (db *DB) Close() {
	stat := db.Pool.Stat()
	db.log.Info().
		Int32("acquired_conns", stat.AcquiredConns()).
		Int32("total_conns", stat.TotalConns()).
		Msg("closing transcript store pool")
	db.Pool.Close()
}

// queryLogger routes pgx trace output into zerolog.
type queryLogger struct {
	log zerolog.Logger
}

func (l queryLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	l.log.WithLevel(zerologLevel(level)).Fields(data).Msg(msg)
}

func zerologLevel(level tracelog.LogLevel) zerolog.Level {
	switch level {
	case tracelog.LogLevelTrace:
		return zerolog.TraceLevel
	case tracelog.LogLevelDebug:
		return zerolog.DebugLevel
	case tracelog.LogLevelInfo:
		return zerolog.InfoLevel
	case tracelog.LogLevelWarn:
		return zerolog.WarnLevel
	case tracelog.LogLevelError:
		return zerolog.ErrorLevel
	}
	return zerolog.NoLevel
}

var kvPassword = regexp.MustCompile(`password=('[^']*'|\S+)`)

// maskDSN hides the password in URL and keyword/value DSNs.
func maskDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		return kvPassword.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

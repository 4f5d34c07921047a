package database

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{
			"url_password_masked",
			"postgres://scribe:secret@db:5432/scribe?sslmode=disable",
			"postgres://scribe:%2A%2A%2A@db:5432/scribe?sslmode=disable",
		},
		{
			"url_without_user",
			"postgres://db:5432/scribe",
			"postgres://db:5432/scribe",
		},
		{
			"keyword_value_password_masked",
			"host=db user=scribe password=secret dbname=scribe",
			"host=db user=scribe password=*** dbname=scribe",
		},
		{
			"quoted_keyword_value_password_masked",
			"host=db password='s3 cret' dbname=scribe",
			"host=db password=*** dbname=scribe",
		},
		{
			"unparseable_url_hidden",
			"postgres://scribe:secret@db:notaport/scribe",
			"***",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskDSN(tt.dsn))
		})
	}
}

func TestConnectRejectsBadInput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("malformed_dsn", func(t *testing.T) {
		_, err := Connect(ctx, "postgres://scribe:secret@db:notaport/scribe", PoolOptions{}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse database url")
		assert.NotContains(t, err.Error(), "secret")
	})

	t.Run("min_above_max", func(t *testing.T) {
		_, err := Connect(ctx, "postgres://db/scribe", PoolOptions{MaxConns: 2, MinConns: 4}, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds max conns")
	})

	t.Run("negative_size", func(t *testing.T) {
		_, err := Connect(ctx, "postgres://db/scribe", PoolOptions{MaxConns: -1}, zerolog.Nop())
		require.Error(t, err)
	})
}

func TestPoolOptionsApply(t *testing.T) {
	t.Run("sizes_applied", func(t *testing.T) {
		cfg, err := pgxpool.ParseConfig("postgres://scribe@db:5432/scribe")
		require.NoError(t, err)

		PoolOptions{MaxConns: 8, MinConns: 1, MaxConnLifetime: 5 * time.Minute}.apply(cfg, zerolog.Nop())
		assert.Equal(t, int32(8), cfg.MaxConns)
		assert.Equal(t, int32(1), cfg.MinConns)
		assert.Equal(t, 5*time.Minute, cfg.MaxConnLifetime)
		assert.Nil(t, cfg.ConnConfig.Tracer)
	})

	t.Run("zero_keeps_pgx_defaults", func(t *testing.T) {
		cfg, err := pgxpool.ParseConfig("postgres://scribe@db:5432/scribe?pool_max_conns=3")
		require.NoError(t, err)

		PoolOptions{}.apply(cfg, zerolog.Nop())
		assert.Equal(t, int32(3), cfg.MaxConns)
	})

	t.Run("trace_sql_installs_tracer", func(t *testing.T) {
		cfg, err := pgxpool.ParseConfig("postgres://scribe@db:5432/scribe")
		require.NoError(t, err)

		PoolOptions{TraceSQL: true}.apply(cfg, zerolog.Nop())
		tracer, ok := cfg.ConnConfig.Tracer.(*tracelog.TraceLog)
		require.True(t, ok, "tracer is %T", cfg.ConnConfig.Tracer)
		assert.Equal(t, tracelog.LogLevelDebug, tracer.LogLevel)
	})
}

func TestQueryLogger(t *testing.T) {
	var buf bytes.Buffer
	l := queryLogger{log: zerolog.New(&buf).With().Str("store", "postgres").Logger()}

	l.Log(context.Background(), tracelog.LogLevelDebug, "Query", map[string]any{"sql": "SELECT 1"})

	line := buf.String()
	for _, want := range []string{`"level":"debug"`, `"store":"postgres"`, `"sql":"SELECT 1"`, `"message":"Query"`} {
		assert.True(t, strings.Contains(line, want), "log line %q missing %s", line, want)
	}
}

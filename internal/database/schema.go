package database

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transcripts (
    session_id       text        NOT NULL,
    message_id       text        NOT NULL,
    speaker          text        NOT NULL DEFAULT 'SPEAKER_00',
    raw_text         text        NOT NULL DEFAULT '',
    processed_text   text,
    corrected_text   text,
    concise_text     text,
    highlighted_text text,
    created_at       timestamptz NOT NULL DEFAULT now(),
    updated_at       timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, message_id)
)`

// InitSchema applies the base schema on a fresh database.
// It checks whether the "transcripts" table exists; if present it's a no-op.
func (db *DB) InitSchema(ctx context.Context) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'transcripts')`,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh database detected, applying schema")
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	db.log.Info().Msg("schema applied successfully")
	return nil
}

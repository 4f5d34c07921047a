package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/snarg/scribe/internal/transcript"
)

const transcriptColumns = `session_id, message_id, speaker, raw_text,
	processed_text, corrected_text, concise_text, highlighted_text,
	created_at, updated_at`

// TranscriptStore persists transcripts in Postgres.
// Merge holds a row lock for the duration of the merge, so concurrent merges
// for one key serialize even across processes.
type TranscriptStore struct {
	db *DB
}

var _ transcript.Store = (*TranscriptStore)(nil)

func NewTranscriptStore(db *DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

func scanTranscript(row pgx.Row) (*transcript.Transcript, error) {
	var t transcript.Transcript
	err := row.Scan(
		&t.SessionID, &t.MessageID, &t.Speaker, &t.RawText,
		&t.ProcessedText, &t.CorrectedText, &t.ConciseText, &t.HighlightedText,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Merge reads the row for key under FOR UPDATE, applies fn and writes the
// result back in a single transaction.
func (s *TranscriptStore) Merge(ctx context.Context, key transcript.Key, fn transcript.MergeFunc) (*transcript.Transcript, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Two passes at most: a concurrent insert of the same key makes our
	// insert a no-op, after which the row is locked and merged normally.
	for attempt := 0; attempt < 2; attempt++ {
		current, err := scanTranscript(tx.QueryRow(ctx, `
			SELECT `+transcriptColumns+`
			FROM transcripts
			WHERE session_id = $1 AND message_id = $2
			FOR UPDATE
		`, key.SessionID, key.MessageID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("select transcript: %w", err)
		}

		if current != nil {
			next := fn(current)
			_, err = tx.Exec(ctx, `
				UPDATE transcripts SET
					speaker = $3,
					raw_text = $4,
					processed_text = $5,
					corrected_text = $6,
					concise_text = $7,
					highlighted_text = $8,
					updated_at = $9
				WHERE session_id = $1 AND message_id = $2
			`, key.SessionID, key.MessageID, next.Speaker, next.RawText,
				next.ProcessedText, next.CorrectedText, next.ConciseText, next.HighlightedText,
				next.UpdatedAt)
			if err != nil {
				return nil, fmt.Errorf("update transcript: %w", err)
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("commit tx: %w", err)
			}
			return next, nil
		}

		next := fn(nil)
		tag, err := tx.Exec(ctx, `
			INSERT INTO transcripts (`+transcriptColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (session_id, message_id) DO NOTHING
		`, key.SessionID, key.MessageID, next.Speaker, next.RawText,
			next.ProcessedText, next.CorrectedText, next.ConciseText, next.HighlightedText,
			next.CreatedAt, next.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert transcript: %w", err)
		}
		if tag.RowsAffected() == 1 {
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("commit tx: %w", err)
			}
			return next, nil
		}
		s.db.log.Debug().Str("key", key.String()).Msg("transcript inserted concurrently, retrying as update")
	}
	return nil, fmt.Errorf("merge transcript %s: row vanished during merge", key)
}

// Get returns a single transcript or transcript.ErrNotFound.
func (s *TranscriptStore) Get(ctx context.Context, key transcript.Key) (*transcript.Transcript, error) {
	t, err := scanTranscript(s.db.Pool.QueryRow(ctx, `
		SELECT `+transcriptColumns+`
		FROM transcripts
		WHERE session_id = $1 AND message_id = $2
	`, key.SessionID, key.MessageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, transcript.ErrNotFound
	}
	return t, err
}

// ListBySession returns all transcripts for a session in creation order.
func (s *TranscriptStore) ListBySession(ctx context.Context, sessionID string) ([]*transcript.Transcript, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+transcriptColumns+`
		FROM transcripts
		WHERE session_id = $1
		ORDER BY created_at, message_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []*transcript.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TranscriptStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

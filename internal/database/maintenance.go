package database

import (
	"context"
	"time"
)

// PurgeOlderThan deletes transcripts whose last update is before cutoff.
// updated_at is indexed (see migrations), so this is a range delete.
func (s *TranscriptStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM transcripts WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

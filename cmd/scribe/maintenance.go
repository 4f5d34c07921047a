package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// runRetention deletes transcripts older than retention every interval until
// ctx is done.
func runRetention(ctx context.Context, p purger, retention, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeOnce(ctx, p, retention, log)
		}
	}
}

func purgeOnce(ctx context.Context, p purger, retention time.Duration, log zerolog.Logger) {
	cutoff := time.Now().Add(-retention)
	n, err := p.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("transcript retention purge failed")
		return
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("purged expired transcripts")
	}
}

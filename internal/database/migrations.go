package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations applied after InitSchema.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name:  "add transcripts session/created index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_transcripts_session_created ON transcripts (session_id, created_at)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_transcripts_session_created')`,
	},
	{
		name:  "add transcripts updated_at index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_transcripts_updated ON transcripts (updated_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_transcripts_updated')`,
	},
}

// Migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. A failed apply is returned as a
// *MigrationError carrying the SQL for the remaining migrations.
func (db *DB) Migrate(ctx context.Context) error {
	pending := pendingMigrations(func(check string) bool {
		var exists bool
		err := db.Pool.QueryRow(ctx, check).Scan(&exists)
		return err == nil && exists
	})
	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

func pendingMigrations(applied func(check string) bool) []migration {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" && applied(m.check) {
			continue
		}
		pending = append(pending, m)
	}
	return pending
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as a database superuser to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart scribe.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}

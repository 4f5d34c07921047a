package database

import (
	"errors"
	"strings"
	"testing"
)

func TestPendingMigrations(t *testing.T) {
	t.Run("all_pending_on_fresh_db", func(t *testing.T) {
		got := pendingMigrations(func(string) bool { return false })
		if len(got) != len(migrations) {
			t.Fatalf("pending = %d, want %d", len(got), len(migrations))
		}
	})

	t.Run("applied_are_skipped", func(t *testing.T) {
		first := migrations[0].check
		got := pendingMigrations(func(check string) bool { return check == first })
		if len(got) != len(migrations)-1 {
			t.Fatalf("pending = %d, want %d", len(got), len(migrations)-1)
		}
		for _, m := range got {
			if m.check == first {
				t.Errorf("migration %q should have been skipped", m.name)
			}
		}
	})
}

func TestMigrationError(t *testing.T) {
	cause := errors.New("permission denied")
	e := &MigrationError{failed: migrations[0], pending: migrations, err: cause}

	msg := e.Error()
	if !strings.Contains(msg, migrations[0].name) {
		t.Errorf("error should name the failed migration: %s", msg)
	}
	for _, m := range migrations {
		if !strings.Contains(msg, m.sql) {
			t.Errorf("error should include SQL for %q", m.name)
		}
	}
	if !errors.Is(e, cause) {
		t.Error("MigrationError should unwrap to its cause")
	}
}

package notifier

import (
	"testing"

	"github.com/voicetel/suitecrm-notifier/internal/database"
)

func newCleanupStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	store, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return store
}

func insertRecord(t *testing.T, store *database.SQLiteStore, eventID, sentAt string) {
	t.Helper()
	_, err := store.Exec(`
		INSERT INTO notification_log (event_id, user_id, subject, nb_open, link, sent_at)
		VALUES (?, 'alice', 'new_open_tickets', 1, '', datetime('now', ?))
	`, eventID, sentAt)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
}

func countRecords(t *testing.T, store *database.SQLiteStore) int {
	t.Helper()
	var n int
	if err := store.QueryRow("SELECT COUNT(*) FROM notification_log").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestCleanupOldNotifications(t *testing.T) {
	store := newCleanupStore(t)

	insertRecord(t, store, "old", "-120 days")
	insertRecord(t, store, "recent", "-5 days")
	insertRecord(t, store, "today", "-1 hours")

	if err := CleanupOldNotifications(store, 30); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if n := countRecords(t, store); n != 2 {
		t.Fatalf("expected 2 surviving records, got %d", n)
	}

	var survivor string
	err := store.QueryRow("SELECT event_id FROM notification_log ORDER BY sent_at LIMIT 1").Scan(&survivor)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if survivor != "recent" {
		t.Fatalf("expected the old record to be pruned, got oldest %q", survivor)
	}
}

func TestCleanupDefaultsRetention(t *testing.T) {
	store := newCleanupStore(t)

	insertRecord(t, store, "ancient", "-365 days")
	insertRecord(t, store, "recent", "-30 days")

	// Zero retention falls back to the 90 day default
	if err := CleanupOldNotifications(store, 0); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if n := countRecords(t, store); n != 1 {
		t.Fatalf("expected 1 surviving record, got %d", n)
	}
}

func TestVacuumDatabase(t *testing.T) {
	store := newCleanupStore(t)
	if err := VacuumDatabase(store); err != nil {
		t.Fatalf("vacuum failed: %v", err)
	}
}

package notifier

import (
	"log"
	"time"

	"github.com/voicetel/suitecrm-notifier/internal/database"
)

// CleanupOldNotifications removes old notification log records to prevent database bloat
func CleanupOldNotifications(store *database.SQLiteStore, retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = 90 // Default to 90 days
	}

	query := `
		DELETE FROM notification_log
		WHERE sent_at < datetime('now', '-' || ? || ' days')
	`

	result, err := store.Exec(query, retentionDays)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err == nil && rowsAffected > 0 {
		log.Printf("Cleaned up %d old notification records", rowsAffected)
	}

	return nil
}

// VacuumDatabase performs SQLite VACUUM to reclaim disk space
func VacuumDatabase(store *database.SQLiteStore) error {
	log.Printf("Performing database vacuum...")
	start := time.Now()

	_, err := store.Exec("VACUUM")
	if err != nil {
		return err
	}

	log.Printf("Database vacuum completed in %s", time.Since(start))
	return nil
}

package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/voicetel/suitecrm-notifier/internal/models"
)

// SQLiteStore is the standalone TokenStore backend. It also keeps a local
// log of every notification pushed to the host, for stats and cleanup.
type SQLiteStore struct {
	*sql.DB
}

func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// Set pragmas for better performance
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db}, nil
}

func (s *SQLiteStore) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS app_values (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_values (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, key)
	);

	CREATE TABLE IF NOT EXISTS notification_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		nb_open INTEGER NOT NULL DEFAULT 0,
		link TEXT,
		sent_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_notification_log_user ON notification_log(user_id, sent_at);
	`

	if _, err := s.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func (s *SQLiteStore) GetUserValue(userID, key string) (string, error) {
	var value string
	err := s.QueryRow(
		"SELECT value FROM user_values WHERE user_id = ? AND key = ?",
		userID, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read user value %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetUserValue(userID, key, value string) error {
	_, err := s.Exec(`
		INSERT INTO user_values (user_id, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, key)
		DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, userID, key, value)
	if err != nil {
		return fmt.Errorf("failed to set user value %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetAppValue(key string) (string, error) {
	var value string
	err := s.QueryRow("SELECT value FROM app_values WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read app value %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetAppValue(key, value string) error {
	_, err := s.Exec(`
		INSERT INTO app_values (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set app value %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) ForEachLinkedUser(fn func(userID string) error) error {
	rows, err := s.Query(
		"SELECT user_id FROM user_values WHERE key = ? AND value <> '' ORDER BY user_id",
		KeyToken,
	)
	if err != nil {
		return fmt.Errorf("failed to list linked users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		if err := fn(userID); err != nil {
			return err
		}
	}

	return rows.Err()
}

func (s *SQLiteStore) RecordNotification(ev models.NotificationEvent, nbOpen int) error {
	link, _ := ev.Params["link"].(string)
	_, err := s.Exec(`
		INSERT INTO notification_log (event_id, user_id, subject, nb_open, link, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.UserID, ev.Subject, nbOpen, link, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// GetNotificationStats returns statistics about pushed notifications
func (s *SQLiteStore) GetNotificationStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int
	err := s.QueryRow("SELECT COUNT(*) FROM notification_log").Scan(&total)
	if err != nil {
		return nil, err
	}
	stats["total_notifications"] = total

	var linked int
	err = s.QueryRow(
		"SELECT COUNT(*) FROM user_values WHERE key = ? AND value <> ''",
		KeyToken,
	).Scan(&linked)
	if err != nil {
		return nil, err
	}
	stats["linked_users"] = linked

	// Notifications by subject
	rows, err := s.Query(`
		SELECT subject, COUNT(*)
		FROM notification_log
		GROUP BY subject
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subjectCounts := make(map[string]int)
	for rows.Next() {
		var subject string
		var count int
		if err := rows.Scan(&subject, &count); err != nil {
			return nil, err
		}
		subjectCounts[subject] = count
	}
	stats["by_subject"] = subjectCounts

	// Notifications sent in last 24 hours
	var last24h int
	err = s.QueryRow(`
		SELECT COUNT(*)
		FROM notification_log
		WHERE sent_at > datetime('now', '-24 hours')
	`).Scan(&last24h)
	if err != nil {
		return nil, err
	}
	stats["sent_last_24h"] = last24h

	// Open-ticket volume over the last 7 days
	var avgOpen, maxOpen sql.NullFloat64
	err = s.QueryRow(`
		SELECT AVG(nb_open), MAX(nb_open)
		FROM notification_log
		WHERE sent_at > datetime('now', '-7 days')
	`).Scan(&avgOpen, &maxOpen)
	if err != nil {
		return nil, err
	}
	openStats := make(map[string]interface{})
	if avgOpen.Valid {
		openStats["average"] = avgOpen.Float64
	}
	if maxOpen.Valid {
		openStats["maximum"] = maxOpen.Float64
	}
	stats["open_tickets_7d"] = openStats

	return stats, nil
}

package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// HostDBStore is a TokenStore over the host platform's own MySQL database,
// for deployments where the notifier runs next to the platform and shares
// its per-user preferences and app config tables.
type HostDBStore struct {
	db     *sql.DB
	prefix string
}

func ConnectHostDB(dsn, tablePrefix string) (*HostDBStore, error) {
	// Use the DSN directly
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &HostDBStore{db: db, prefix: tablePrefix}, nil
}

func (h *HostDBStore) preferencesTable() string {
	return h.prefix + "preferences"
}

func (h *HostDBStore) appconfigTable() string {
	return h.prefix + "appconfig"
}

func (h *HostDBStore) GetUserValue(userID, key string) (string, error) {
	query := fmt.Sprintf(`
		SELECT configvalue FROM %s
		WHERE userid = ? AND appid = ? AND configkey = ?
	`, h.preferencesTable())

	var value string
	err := h.db.QueryRow(query, userID, appID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read user value %s: %w", key, err)
	}
	return value, nil
}

func (h *HostDBStore) SetUserValue(userID, key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (userid, appid, configkey, configvalue)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE configvalue = VALUES(configvalue)
	`, h.preferencesTable())

	if _, err := h.db.Exec(query, userID, appID, key, value); err != nil {
		return fmt.Errorf("failed to set user value %s: %w", key, err)
	}
	return nil
}

func (h *HostDBStore) GetAppValue(key string) (string, error) {
	query := fmt.Sprintf(`
		SELECT configvalue FROM %s
		WHERE appid = ? AND configkey = ?
	`, h.appconfigTable())

	var value string
	err := h.db.QueryRow(query, appID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read app value %s: %w", key, err)
	}
	return value, nil
}

func (h *HostDBStore) SetAppValue(key, value string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (appid, configkey, configvalue)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE configvalue = VALUES(configvalue)
	`, h.appconfigTable())

	if _, err := h.db.Exec(query, appID, key, value); err != nil {
		return fmt.Errorf("failed to set app value %s: %w", key, err)
	}
	return nil
}

func (h *HostDBStore) ForEachLinkedUser(fn func(userID string) error) error {
	query := fmt.Sprintf(`
		SELECT userid FROM %s
		WHERE appid = ? AND configkey = ? AND configvalue <> ''
		ORDER BY userid
	`, h.preferencesTable())

	rows, err := h.db.Query(query, appID, KeyToken)
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

func (h *HostDBStore) Close() error {
	return h.db.Close()
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// GetConfig returns a stored setting, or "" when the key is unset
func (s *SQLiteStorage) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storageErr(fmt.Sprintf("get config %s", key), err)
	}
	return value, nil
}

// SetConfig stores a setting
func (s *SQLiteStorage) SetConfig(ctx context.Context, key, value string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO config (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		if err != nil {
			return storageErr(fmt.Sprintf("set config %s", key), err)
		}
		return nil
	})
}

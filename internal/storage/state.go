package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// State keys.
const (
	keySubmitCursor = "submit_cursor"
	keyStatusLine   = "status_line"
)

// --- Tick state ---

func (s *Store) setState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	)
	return err
}

func (s *Store) getState(key string) (string, time.Time, error) {
	var value, updatedAt string
	err := s.db.QueryRow("SELECT value, updated_at FROM state WHERE key = ?", key).Scan(&value, &updatedAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	t, err := parseTime("updated_at", updatedAt)
	return value, t, err
}

// GetCursor returns the persisted submit cursor, or ErrNotFound when unset.
func (s *Store) GetCursor() (int, error) {
	v, _, err := s.getState(keySubmitCursor)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing cursor %q: %w", v, err)
	}
	return n, nil
}

// SetCursor persists the next source position to examine.
func (s *Store) SetCursor(position int) error {
	return s.setState(keySubmitCursor, strconv.Itoa(position))
}

// ClearCursor removes the cursor so the next scan starts from FirstDataRow.
func (s *Store) ClearCursor() error {
	_, err := s.db.Exec("DELETE FROM state WHERE key = ?", keySubmitCursor)
	return err
}

// SetStatusLine records a human-readable progress line.
func (s *Store) SetStatusLine(line string) error {
	return s.setState(keyStatusLine, line)
}

// StatusLine returns the last progress line and when it was written.
// An unset line is returned as "" with a zero time.
func (s *Store) StatusLine() (string, time.Time, error) {
	v, t, err := s.getState(keyStatusLine)
	if err == ErrNotFound {
		return "", time.Time{}, nil
	}
	return v, t, err
}

// --- Settings ---

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	)
	return err
}

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) AllSettings() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

package storage

import (
	"time"
)

// --- Schedules ---

// SaveSchedule registers a named tick. It reports false without touching the
// row when a schedule with the same name already exists.
func (s *Store) SaveSchedule(sc Schedule) (bool, error) {
	registered := sc.RegisteredAt
	if registered.IsZero() {
		registered = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO schedules (name, interval_minutes, registered_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		sc.Name, sc.IntervalMinutes, formatTime(registered),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteSchedule removes a registration. Deleting an unknown name is not an error.
func (s *Store) DeleteSchedule(name string) error {
	_, err := s.db.Exec("DELETE FROM schedules WHERE name = ?", name)
	return err
}

// ListSchedules returns all registrations ordered by name.
func (s *Store) ListSchedules() ([]Schedule, error) {
	rows, err := s.db.Query("SELECT name, interval_minutes, registered_at FROM schedules ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		var registeredAt string
		if err := rows.Scan(&sc.Name, &sc.IntervalMinutes, &registeredAt); err != nil {
			return nil, err
		}
		if sc.RegisteredAt, err = parseTime("registered_at", registeredAt); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

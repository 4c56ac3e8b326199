package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Ranking results ---

const resultColumns = `position, rank, sentinel, url, keyword, updated_at`

// GetResult returns the record stored at position, or ErrNotFound.
func (s *Store) GetResult(position int) (ResultRecord, error) {
	r, err := scanResult(s.db.QueryRow(`SELECT `+resultColumns+` FROM ranking_results WHERE position = ?`, position))
	if err == sql.ErrNoRows {
		return ResultRecord{}, ErrNotFound
	}
	return r, err
}

// PutResult writes r at its position, superseding whatever was there.
func (s *Store) PutResult(r ResultRecord) error {
	return upsertResult(s.db, r)
}

// PutResults writes all records in one transaction.
func (s *Store) PutResults(records []ResultRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning results transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if err := upsertResult(tx, r); err != nil {
			return fmt.Errorf("writing result at %d: %w", r.Position, err)
		}
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertResult(db execer, r ResultRecord) error {
	updated := r.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	var rank sql.NullInt64
	if r.Sentinel == "" {
		rank = sql.NullInt64{Int64: int64(r.Rank), Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO ranking_results (position, rank, sentinel, url, keyword, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(position) DO UPDATE SET
			rank = excluded.rank,
			sentinel = excluded.sentinel,
			url = excluded.url,
			keyword = excluded.keyword,
			updated_at = excluded.updated_at`,
		r.Position, rank, r.Sentinel, r.URL, r.Keyword, formatTime(updated),
	)
	return err
}

// ResolvedPositions maps each position holding a non-placeholder record to
// the keyword that record was written for.
func (s *Store) ResolvedPositions() (map[int]string, error) {
	rows, err := s.db.Query(`SELECT position, keyword FROM ranking_results WHERE sentinel != ?`, SentinelPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var p int
		var kw string
		if err := rows.Scan(&p, &kw); err != nil {
			return nil, err
		}
		out[p] = kw
	}
	return out, rows.Err()
}

// ListResults returns results in position order.
func (s *Store) ListResults(limit, offset int) ([]ResultRecord, error) {
	rows, err := s.db.Query(`SELECT `+resultColumns+` FROM ranking_results ORDER BY position ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ResultRecord
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ClearResults deletes every result record.
func (s *Store) ClearResults() error {
	_, err := s.db.Exec(`DELETE FROM ranking_results`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (ResultRecord, error) {
	var r ResultRecord
	var rank sql.NullInt64
	var updatedAt string
	if err := row.Scan(&r.Position, &rank, &r.Sentinel, &r.URL, &r.Keyword, &updatedAt); err != nil {
		return ResultRecord{}, err
	}
	if rank.Valid {
		r.Rank = int(rank.Int64)
	}
	t, err := parseTime("updated_at", updatedAt)
	if err != nil {
		return ResultRecord{}, err
	}
	r.UpdatedAt = t
	return r, nil
}

package storage

import (
	"database/sql"
	"fmt"
)

// --- Source rows ---

// ReplaceSourceRows swaps the whole source table for rows, numbering them
// from FirstDataRow in order, and clears the submit cursor so the next pass
// scans the new table from the top. Results and ledger rows are kept; the
// tracker compares their keywords with the new rows.
func (s *Store) ReplaceSourceRows(rows []SourceRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM source_rows`); err != nil {
		return fmt.Errorf("clearing source rows: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM state WHERE key = ?`, keySubmitCursor); err != nil {
		return fmt.Errorf("clearing cursor: %w", err)
	}
	if err := insertSourceRows(tx, FirstDataRow, rows); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendSourceRows adds rows after the last existing position and returns the
// position assigned to the first of them.
func (s *Store) AppendSourceRows(rows []SourceRow) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var last sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(position) FROM source_rows`).Scan(&last); err != nil {
		return 0, fmt.Errorf("reading last position: %w", err)
	}
	start := FirstDataRow
	if last.Valid {
		start = int(last.Int64) + 1
	}
	if err := insertSourceRows(tx, start, rows); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing source rows: %w", err)
	}
	return start, nil
}

func insertSourceRows(tx *sql.Tx, start int, rows []SourceRow) error {
	stmt, err := tx.Prepare(`
		INSERT INTO source_rows (position, service, location, core_keyword, keyword, lat, lng)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing source insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		if _, err := stmt.Exec(start+i, r.Service, r.Location, r.CoreKeyword, r.Keyword, nullFloat(r.Lat), nullFloat(r.Lng)); err != nil {
			return fmt.Errorf("inserting source row %d: %w", start+i, err)
		}
	}
	return nil
}

// ListSourceRows returns up to limit rows with position >= from, in position order.
func (s *Store) ListSourceRows(from, limit int) ([]SourceRow, error) {
	rows, err := s.db.Query(`
		SELECT position, service, location, core_keyword, keyword, lat, lng
		FROM source_rows WHERE position >= ? ORDER BY position ASC LIMIT ?`, from, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SourceRow
	for rows.Next() {
		var r SourceRow
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&r.Position, &r.Service, &r.Location, &r.CoreKeyword, &r.Keyword, &lat, &lng); err != nil {
			return nil, err
		}
		if lat.Valid {
			r.Lat = &lat.Float64
		}
		if lng.Valid {
			r.Lng = &lng.Float64
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountSourceRows returns the number of rows in the source table.
func (s *Store) CountSourceRows() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM source_rows`).Scan(&n)
	return n, err
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

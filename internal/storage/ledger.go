package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// --- Job ledger ---

const jobColumns = `id, job_id, keyword, source_position, status, poll_rounds, last_error, submitted_at, completed_at`

// AppendJobs inserts jobs in one transaction. Status defaults to "submitted"
// and SubmittedAt to now. The assigned row ids are written back into jobs.
func (s *Store) AppendJobs(jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO job_ledger (job_id, keyword, source_position, status, poll_rounds, last_error, submitted_at)
		VALUES (?, ?, ?, ?, 0, '', ?)`)
	if err != nil {
		return fmt.Errorf("preparing ledger insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range jobs {
		j := &jobs[i]
		if j.Status == "" {
			j.Status = StatusSubmitted
		}
		if j.SubmittedAt.IsZero() {
			j.SubmittedAt = now
		}
		res, err := stmt.Exec(j.JobID, j.Keyword, j.SourcePosition, j.Status, formatTime(j.SubmittedAt))
		if err != nil {
			return fmt.Errorf("inserting job %s: %w", j.JobID, err)
		}
		if j.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading id of job %s: %w", j.JobID, err)
		}
	}

	return tx.Commit()
}

// UpdateJob writes the mutable fields of j (status, poll rounds, last error,
// completion time) to the ledger row identified by j.ID.
func (s *Store) UpdateJob(j Job) error {
	var completed sql.NullString
	if j.CompletedAt != nil {
		completed = sql.NullString{String: formatTime(*j.CompletedAt), Valid: true}
	}
	res, err := s.db.Exec(`
		UPDATE job_ledger SET status = ?, poll_rounds = ?, last_error = ?, completed_at = ?
		WHERE id = ?`,
		j.Status, j.PollRounds, j.LastError, completed, j.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// OutstandingJobs returns every ledger row that is neither fetched nor errored,
// in submission order.
func (s *Store) OutstandingJobs() ([]Job, error) {
	return s.queryJobs(`SELECT `+jobColumns+` FROM job_ledger
		WHERE status IN (?, ?) ORDER BY id ASC`, StatusSubmitted, StatusPending)
}

// ListJobs returns ledger rows, optionally filtered by status, newest first.
func (s *Store) ListJobs(status string, limit, offset int) ([]Job, error) {
	if status == "" {
		return s.queryJobs(`SELECT `+jobColumns+` FROM job_ledger ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	}
	return s.queryJobs(`SELECT `+jobColumns+` FROM job_ledger WHERE status = ? ORDER BY id DESC LIMIT ? OFFSET ?`, status, limit, offset)
}

// JobCounts returns the number of ledger rows per status.
func (s *Store) JobCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM job_ledger GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ClearJobs deletes every ledger row.
func (s *Store) ClearJobs() error {
	_, err := s.db.Exec(`DELETE FROM job_ledger`)
	return err
}

func (s *Store) queryJobs(query string, args ...any) ([]Job, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var submittedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&j.ID, &j.JobID, &j.Keyword, &j.SourcePosition, &j.Status,
			&j.PollRounds, &j.LastError, &submittedAt, &completedAt); err != nil {
			return nil, err
		}
		if j.SubmittedAt, err = parseTime("submitted_at", submittedAt); err != nil {
			return nil, fmt.Errorf("job %d: %w", j.ID, err)
		}
		if completedAt.Valid {
			t, err := parseTime("completed_at", completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("job %d: %w", j.ID, err)
			}
			j.CompletedAt = &t
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Package tracker submits keyword/location queries to the ranking provider
// and merges the results back by source position. Every tick is a short,
// sequential pass; coordination between ticks happens only through the
// cursor, the job ledger and the results table.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/rankwatch/internal/serp"
	"github.com/kalambet/rankwatch/internal/storage"
)

var (
	// ErrConfiguration is returned when provider credentials or the target
	// domain are missing. Nothing but the status line is written.
	ErrConfiguration = errors.New("configuration error")

	// ErrSubmission is returned when a batch was not accepted with one job id
	// per item. The batch is discarded and the cursor is not advanced.
	ErrSubmission = errors.New("submission failed")
)

// Tick names used for scheduler registrations.
const (
	TickSubmit = "submit"
	TickFetch  = "fetch"
)

// SafetyCap bounds the number of work items one enumeration returns.
const SafetyCap = 2000

// MaxScanRows bounds the number of source rows one enumeration reads, so a
// mostly claimed table cannot stretch a single tick.
const MaxScanRows = 10 * SafetyCap

// WorkItem is one source row eligible for submission.
type WorkItem struct {
	Keyword  string
	Lat      float64
	Lng      float64
	Position int
}

// RankingClient is the provider API used by the submitter and poller.
// Configured reports missing credentials or target domain before any
// request is made.
type RankingClient interface {
	Configured() error
	NewTask(keyword string, lat, lng float64) serp.TaskRequest
	SubmitBatch(ctx context.Context, tasks []serp.TaskRequest) ([]string, error)
	FetchResult(ctx context.Context, jobID string) (serp.Result, error)
	MaxBatchSize() int
}

// SourceReader reads the generated keyword/location rows.
type SourceReader interface {
	ListSourceRows(from, limit int) ([]storage.SourceRow, error)
}

// ResultStore holds at most one record per source position.
type ResultStore interface {
	GetResult(position int) (storage.ResultRecord, error)
	PutResult(r storage.ResultRecord) error
	PutResults(records []storage.ResultRecord) error
	ResolvedPositions() (map[int]string, error)
	ClearResults() error
}

// Ledger records every job handed to the provider.
type Ledger interface {
	AppendJobs(jobs []storage.Job) error
	UpdateJob(j storage.Job) error
	OutstandingJobs() ([]storage.Job, error)
	JobCounts() (map[string]int, error)
	ClearJobs() error
}

// CursorStore persists the next source position to examine.
type CursorStore interface {
	GetCursor() (int, error)
	SetCursor(position int) error
	ClearCursor() error
}

// StateStore holds tick settings and the human-readable status line.
type StateStore interface {
	SettingsReader
	SetStatusLine(line string) error
	StatusLine() (line string, at time.Time, err error)
	CountSourceRows() (int, error)
}

// Store is everything a Controller needs from persistence.
type Store interface {
	SourceReader
	ResultStore
	Ledger
	CursorStore
	StateStore
}

// Scheduler keeps named periodic tick registrations.
type Scheduler interface {
	Register(name string, intervalMinutes int) error
	Deregister(name string) error
	Registered() ([]storage.Schedule, error)
}

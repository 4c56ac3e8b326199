package storage

import (
	"errors"
	"strconv"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// FirstDataRow is the position of the first source row. Position 1 is the
// header row of the exported tables.
const FirstDataRow = 2

// Ledger job statuses.
const (
	StatusSubmitted = "submitted"
	StatusPending   = "pending"
	StatusFetched   = "fetched"
	StatusError     = "error"
)

// Result sentinels stored in place of a numeric rank.
const (
	SentinelPending  = "Pending"
	SentinelNotFound = "Not Found"
	SentinelError    = "Error"
)

// SourceRow is one generated keyword/location query.
type SourceRow struct {
	Position    int
	Service     string
	Location    string
	CoreKeyword string
	Keyword     string
	Lat         *float64
	Lng         *float64
}

// ResultRecord is the outcome stored at a source position.
type ResultRecord struct {
	Position  int
	Rank      int    // only meaningful when Sentinel is empty
	Sentinel  string // "", "Pending", "Not Found" or "Error"
	URL       string
	Keyword   string
	UpdatedAt time.Time
}

// IsPlaceholder reports whether the record only claims the position.
func (r ResultRecord) IsPlaceholder() bool {
	return r.Sentinel == SentinelPending
}

// RankText renders the rank column the way the results table shows it.
func (r ResultRecord) RankText() string {
	if r.Sentinel != "" {
		return r.Sentinel
	}
	return strconv.Itoa(r.Rank)
}

// Job is one row of the submission ledger.
type Job struct {
	ID             int64
	JobID          string
	Keyword        string
	SourcePosition int
	Status         string // "submitted", "pending", "fetched", "error"
	PollRounds     int
	LastError      string
	SubmittedAt    time.Time
	CompletedAt    *time.Time
}

// Schedule is a registered periodic tick.
type Schedule struct {
	Name            string
	IntervalMinutes int
	RegisteredAt    time.Time
}

package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/rankwatch/internal/serp"
	"github.com/kalambet/rankwatch/internal/storage"
)

// PollerStore is what the poller reads and writes.
type PollerStore interface {
	SourceReader
	OutstandingJobs() ([]storage.Job, error)
	UpdateJob(j storage.Job) error
	GetResult(position int) (storage.ResultRecord, error)
	PutResult(r storage.ResultRecord) error
}

// PollReport summarises one fetch pass.
type PollReport struct {
	Outstanding  int `json:"outstanding"` // jobs examined
	Found        int `json:"found"`
	NotFound     int `json:"not_found"`
	Errors       int `json:"errors"`
	AlreadyDone  int `json:"already_done"`
	Superseded   int `json:"superseded"` // source row changed since submission
	StillPending int `json:"still_pending"`
	Malformed    int `json:"malformed"`
}

// Resolved is the number of jobs that reached fetched during the pass.
func (r PollReport) Resolved() int {
	return r.Found + r.NotFound + r.Errors + r.AlreadyDone + r.Superseded
}

// Poller checks outstanding jobs and merges their results.
type Poller struct {
	client RankingClient
	store  PollerStore
	now    func() time.Time
	logger *slog.Logger
}

// NewPoller creates a Poller.
func NewPoller(client RankingClient, store PollerStore) *Poller {
	return &Poller{
		client: client,
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Poll asks the provider once about every outstanding job, in submission
// order. A job with no matching ranking stays pending until it has been
// polled maxRounds times, at which point Not Found is written.
//
// A job whose source position no longer holds its keyword is closed without
// touching the results table. The result record is always written before the
// ledger row, so a crash between the two is healed by the keyword check on
// the next pass.
func (p *Poller) Poll(ctx context.Context, maxRounds int) (PollReport, error) {
	if maxRounds <= 0 {
		maxRounds = DefaultSettings().MaxPollRounds
	}
	jobs, err := p.store.OutstandingJobs()
	if err != nil {
		return PollReport{}, fmt.Errorf("reading outstanding jobs: %w", err)
	}

	var report PollReport
	report.Outstanding = len(jobs)
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.pollJob(ctx, job, maxRounds, &report); err != nil {
			return report, err
		}
	}

	p.logger.Info("poll pass finished",
		"outstanding", report.Outstanding, "found", report.Found, "not_found", report.NotFound,
		"errors", report.Errors, "superseded", report.Superseded, "pending", report.StillPending, "malformed", report.Malformed)
	return report, nil
}

func (p *Poller) pollJob(ctx context.Context, job storage.Job, maxRounds int, report *PollReport) error {
	log := p.logger.With("job_id", job.JobID, "position", job.SourcePosition)

	if job.JobID == "" || job.SourcePosition < storage.FirstDataRow {
		report.Malformed++
		log.Warn("malformed ledger row", "row_id", job.ID)
		return p.finish(job, storage.StatusError, "malformed ledger row")
	}

	current, err := p.sourceKeyword(job.SourcePosition)
	if err != nil {
		return err
	}
	if current != job.Keyword {
		report.Superseded++
		log.Info("source row changed since submission, dropping result", "submitted", job.Keyword, "current", current)
		return p.finish(job, storage.StatusFetched, fmt.Sprintf("source row now holds %q", current))
	}

	existing, err := p.store.GetResult(job.SourcePosition)
	switch {
	case err == nil && !existing.IsPlaceholder() && existing.Keyword == job.Keyword:
		report.AlreadyDone++
		log.Debug("result already merged")
		return p.finish(job, storage.StatusFetched, "")
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("reading result at %d: %w", job.SourcePosition, err)
	}

	res, err := p.client.FetchResult(ctx, job.JobID)
	if err != nil {
		if errors.Is(err, serp.ErrMissingCredentials) {
			return fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report.Errors++
		log.Warn("fetching result failed", "error", err)
		if err := p.write(job, storage.ResultRecord{Sentinel: storage.SentinelError}); err != nil {
			return err
		}
		return p.finish(job, storage.StatusFetched, err.Error())
	}

	if best, ok := res.Best(); ok {
		report.Found++
		log.Info("ranking found", "rank", best.Rank, "url", best.URL)
		if err := p.write(job, storage.ResultRecord{Rank: best.Rank, URL: best.URL}); err != nil {
			return err
		}
		return p.finish(job, storage.StatusFetched, "")
	}

	job.PollRounds++
	if job.PollRounds >= maxRounds {
		report.NotFound++
		log.Info("no ranking after max poll rounds", "rounds", job.PollRounds, "ready", res.Ready)
		if err := p.write(job, storage.ResultRecord{Sentinel: storage.SentinelNotFound}); err != nil {
			return err
		}
		return p.finish(job, storage.StatusFetched, "")
	}

	report.StillPending++
	log.Debug("no ranking yet", "rounds", job.PollRounds, "ready", res.Ready)
	return p.finish(job, storage.StatusPending, "")
}

// sourceKeyword returns the trimmed keyword at position, or "" when the row
// is gone.
func (p *Poller) sourceKeyword(position int) (string, error) {
	rows, err := p.store.ListSourceRows(position, 1)
	if err != nil {
		return "", fmt.Errorf("reading source row %d: %w", position, err)
	}
	if len(rows) == 0 || rows[0].Position != position {
		return "", nil
	}
	return strings.TrimSpace(rows[0].Keyword), nil
}

func (p *Poller) write(job storage.Job, r storage.ResultRecord) error {
	r.Position = job.SourcePosition
	r.Keyword = job.Keyword
	r.UpdatedAt = p.now()
	if err := p.store.PutResult(r); err != nil {
		return fmt.Errorf("writing result at %d: %w", job.SourcePosition, err)
	}
	return nil
}

func (p *Poller) finish(job storage.Job, status, lastError string) error {
	if !IsValidTransition(job.Status, status) {
		return fmt.Errorf("job %s: invalid transition %s -> %s", job.JobID, job.Status, status)
	}
	job.Status = status
	job.LastError = lastError
	if IsTerminal(status) {
		now := p.now()
		job.CompletedAt = &now
	}
	if err := p.store.UpdateJob(job); err != nil {
		return fmt.Errorf("updating job %s: %w", job.JobID, err)
	}
	return nil
}

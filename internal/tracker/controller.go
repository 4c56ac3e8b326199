package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Controller runs submit and fetch ticks and manages their registrations.
// Passes of the same kind never overlap within a process.
type Controller struct {
	store     Store
	client    RankingClient
	sched     Scheduler
	enum      *Enumerator
	submitter *Submitter
	poller    *Poller
	logger    *slog.Logger

	submitMu sync.Mutex
	fetchMu  sync.Mutex
}

// NewController wires the enumerator, submitter and poller over store.
func NewController(store Store, client RankingClient, sched Scheduler) *Controller {
	return &Controller{
		store:     store,
		client:    client,
		sched:     sched,
		enum:      NewEnumerator(store),
		submitter: NewSubmitter(client, store),
		poller:    NewPoller(client, store),
		logger:    slog.Default(),
	}
}

// SetLogger replaces the logger used by the controller and its passes.
func (c *Controller) SetLogger(l *slog.Logger) {
	c.logger = l
	c.enum.logger = l
	c.submitter.logger = l
	c.poller.logger = l
}

// SubmitTick enumerates pending work and submits one batch. When nothing is
// left the submit tick deregisters itself and the cursor is cleared. A
// successful submission makes sure the fetch tick is registered. A pass that
// starts while another is running waits for it and sees its ledger rows.
func (c *Controller) SubmitTick(ctx context.Context) (SubmitReport, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	log := c.logger.With("tick", TickSubmit, "run_id", uuid.NewString())
	if err := c.checkConfigured(log, TickSubmit); err != nil {
		return SubmitReport{}, err
	}
	settings, err := LoadSettings(c.store)
	if err != nil {
		log.Warn("using default settings", "error", err)
	}

	scan, err := c.enum.Scan(ctx)
	if err != nil {
		c.status(log, "submit: enumeration failed: %v", err)
		return SubmitReport{}, fmt.Errorf("enumerating work: %w", err)
	}
	items := scan.Items

	if len(items) == 0 && scan.Resume > 0 {
		if err := c.store.SetCursor(scan.Resume); err != nil {
			return SubmitReport{}, fmt.Errorf("advancing cursor to %d: %w", scan.Resume, err)
		}
		c.status(log, "submit: no work before position %d, continuing next tick", scan.Resume)
		return SubmitReport{NextCursor: scan.Resume}, nil
	}

	if len(items) == 0 {
		if err := c.sched.Deregister(TickSubmit); err != nil {
			return SubmitReport{}, fmt.Errorf("deregistering submit tick: %w", err)
		}
		if err := c.store.ClearCursor(); err != nil {
			return SubmitReport{}, fmt.Errorf("clearing cursor: %w", err)
		}
		c.status(log, "submit: no work remaining, submit tick stopped")
		return SubmitReport{}, nil
	}

	report, err := c.submitter.Submit(ctx, items, settings.BatchSize)
	if err != nil {
		c.status(log, "submit: %v", err)
		return report, err
	}

	if err := c.sched.Register(TickFetch, settings.FetchIntervalMinutes); err != nil {
		return report, fmt.Errorf("registering fetch tick: %w", err)
	}
	c.status(log, "submit: %d jobs for positions %d-%d, %d items remaining",
		report.Submitted, report.FirstPosition, report.LastPosition, len(items)-report.Submitted)
	return report, nil
}

// FetchTick polls every outstanding job once. When there was nothing
// outstanding and nothing got resolved the fetch tick deregisters itself.
func (c *Controller) FetchTick(ctx context.Context) (PollReport, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	log := c.logger.With("tick", TickFetch, "run_id", uuid.NewString())
	if err := c.checkConfigured(log, TickFetch); err != nil {
		return PollReport{}, err
	}
	settings, err := LoadSettings(c.store)
	if err != nil {
		log.Warn("using default settings", "error", err)
	}

	report, err := c.poller.Poll(ctx, settings.MaxPollRounds)
	if err != nil {
		c.status(log, "fetch: %v", err)
		return report, err
	}

	if report.StillPending == 0 && report.Resolved() == 0 {
		if err := c.sched.Deregister(TickFetch); err != nil {
			return report, fmt.Errorf("deregistering fetch tick: %w", err)
		}
		c.status(log, "fetch: nothing outstanding, fetch tick stopped")
		return report, nil
	}

	c.status(log, "fetch: %d resolved (%d found, %d not found, %d errors, %d superseded), %d pending",
		report.Resolved(), report.Found, report.NotFound, report.Errors, report.Superseded, report.StillPending)
	return report, nil
}

// checkConfigured fails the pass before anything is read or written when
// the provider client cannot produce meaningful results.
func (c *Controller) checkConfigured(log *slog.Logger, tick string) error {
	if err := c.client.Configured(); err != nil {
		c.status(log, "%s: %v: %v", tick, ErrConfiguration, err)
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

// Start runs one submit pass now and installs both ticks with the current
// intervals. A configuration error installs nothing. A submit pass that
// found no work leaves only the fetch tick installed.
func (c *Controller) Start(ctx context.Context) (SubmitReport, error) {
	report, err := c.SubmitTick(ctx)
	if errors.Is(err, ErrConfiguration) {
		return report, err
	}
	if err != nil {
		c.logger.Warn("initial submit pass failed, installing ticks anyway", "error", err)
	}

	settings, lerr := LoadSettings(c.store)
	if lerr != nil {
		c.logger.Warn("using default settings", "error", lerr)
	}

	if report.Submitted > 0 || err != nil {
		if rerr := c.reinstall(TickSubmit, settings.SubmitIntervalMinutes); rerr != nil {
			return report, rerr
		}
	}
	if rerr := c.reinstall(TickFetch, settings.FetchIntervalMinutes); rerr != nil {
		return report, rerr
	}
	return report, err
}

func (c *Controller) reinstall(name string, minutes int) error {
	if err := c.sched.Deregister(name); err != nil {
		return fmt.Errorf("deregistering %s tick: %w", name, err)
	}
	if err := c.sched.Register(name, minutes); err != nil {
		return fmt.Errorf("registering %s tick: %w", name, err)
	}
	return nil
}

// StopAll removes both tick registrations. Jobs already handed to the
// provider and the passes currently running are left alone.
func (c *Controller) StopAll(ctx context.Context) error {
	var errs []error
	for _, name := range []string{TickSubmit, TickFetch} {
		if err := c.sched.Deregister(name); err != nil {
			errs = append(errs, fmt.Errorf("deregistering %s tick: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.status(c.logger, "all ticks stopped")
	return nil
}

// ResetCursor makes the next submit pass scan from the first data row.
func (c *Controller) ResetCursor(ctx context.Context) error {
	if err := c.store.ClearCursor(); err != nil {
		return fmt.Errorf("clearing cursor: %w", err)
	}
	c.status(c.logger, "cursor reset")
	return nil
}

// ClearTables empties the ledger and the results table. It waits for any
// running pass to finish first.
func (c *Controller) ClearTables(ctx context.Context) error {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	var errs []error
	if err := c.store.ClearJobs(); err != nil {
		errs = append(errs, fmt.Errorf("clearing ledger: %w", err))
	}
	if err := c.store.ClearResults(); err != nil {
		errs = append(errs, fmt.Errorf("clearing results: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.status(c.logger, "ledger and results cleared")
	return nil
}

// Reset stops both ticks, resets the cursor and clears the tables. Every
// step runs even when an earlier one fails; the failures are joined.
func (c *Controller) Reset(ctx context.Context) error {
	return errors.Join(
		c.StopAll(ctx),
		c.ResetCursor(ctx),
		c.ClearTables(ctx),
	)
}

// StatusReport is a snapshot of tracker progress.
type StatusReport struct {
	Cursor     int            `json:"cursor"`
	StatusLine string         `json:"status_line"`
	StatusAt   time.Time      `json:"status_at"`
	SourceRows int            `json:"source_rows"`
	Ticks      []TickInfo     `json:"ticks"`
	JobCounts  map[string]int `json:"job_counts"`
	Settings   Settings       `json:"settings"`
}

// TickInfo describes one registered tick.
type TickInfo struct {
	Name            string    `json:"name"`
	IntervalMinutes int       `json:"interval_minutes"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// Status gathers the cursor, status line, tick registrations and ledger counts.
func (c *Controller) Status(ctx context.Context) (StatusReport, error) {
	var r StatusReport
	var err error
	if r.Cursor, err = Cursor(c.store); err != nil {
		return r, err
	}
	if r.StatusLine, r.StatusAt, err = c.store.StatusLine(); err != nil {
		return r, fmt.Errorf("reading status line: %w", err)
	}
	if r.SourceRows, err = c.store.CountSourceRows(); err != nil {
		return r, fmt.Errorf("counting source rows: %w", err)
	}
	ticks, err := c.sched.Registered()
	if err != nil {
		return r, fmt.Errorf("listing ticks: %w", err)
	}
	r.Ticks = make([]TickInfo, len(ticks))
	for i, t := range ticks {
		r.Ticks[i] = TickInfo{Name: t.Name, IntervalMinutes: t.IntervalMinutes, RegisteredAt: t.RegisteredAt}
	}
	if r.JobCounts, err = c.store.JobCounts(); err != nil {
		return r, fmt.Errorf("counting jobs: %w", err)
	}
	if r.Settings, err = LoadSettings(c.store); err != nil {
		return r, err
	}
	return r, nil
}

func (c *Controller) status(log *slog.Logger, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	log.Info(line)
	if err := c.store.SetStatusLine(time.Now().UTC().Format("2006-01-02 15:04:05") + " " + line); err != nil {
		log.Warn("writing status line failed", "error", err)
	}
}

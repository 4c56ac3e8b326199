package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/rankwatch/internal/serp"
	"github.com/kalambet/rankwatch/internal/storage"
)

// SubmitterStore is what a successful submission writes to.
type SubmitterStore interface {
	AppendJobs(jobs []storage.Job) error
	PutResults(records []storage.ResultRecord) error
	SetCursor(position int) error
}

// SubmitReport summarises one submission pass.
type SubmitReport struct {
	Submitted     int `json:"submitted"`
	FirstPosition int `json:"first_position"`
	LastPosition  int `json:"last_position"`
	NextCursor    int `json:"next_cursor"`
}

// Submitter hands one batch of work items to the provider.
type Submitter struct {
	client RankingClient
	store  SubmitterStore
	now    func() time.Time
	logger *slog.Logger
}

// NewSubmitter creates a Submitter.
func NewSubmitter(client RankingClient, store SubmitterStore) *Submitter {
	return &Submitter{
		client: client,
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
}

// Submit posts the first batchSize items (capped by the provider limit) in a
// single request. The provider must return exactly one job id per item;
// otherwise nothing is written and ErrSubmission is returned. On success one
// ledger row and one Pending placeholder are written per item and the cursor
// moves past the last submitted position.
func (s *Submitter) Submit(ctx context.Context, items []WorkItem, batchSize int) (SubmitReport, error) {
	if len(items) == 0 {
		return SubmitReport{}, nil
	}
	if limit := s.client.MaxBatchSize(); limit > 0 && batchSize > limit {
		batchSize = limit
	}
	if batchSize <= 0 {
		batchSize = DefaultSettings().BatchSize
	}
	if len(items) > batchSize {
		items = items[:batchSize]
	}

	tasks := make([]serp.TaskRequest, len(items))
	for i, it := range items {
		tasks[i] = s.client.NewTask(it.Keyword, it.Lat, it.Lng)
	}

	ids, err := s.client.SubmitBatch(ctx, tasks)
	if errors.Is(err, serp.ErrMissingCredentials) {
		return SubmitReport{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err != nil {
		return SubmitReport{}, fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	if len(ids) != len(items) {
		return SubmitReport{}, fmt.Errorf("%w: got %d job ids for %d items", ErrSubmission, len(ids), len(items))
	}
	for i, id := range ids {
		if id == "" {
			return SubmitReport{}, fmt.Errorf("%w: empty job id for position %d", ErrSubmission, items[i].Position)
		}
	}

	now := s.now()
	jobs := make([]storage.Job, len(items))
	placeholders := make([]storage.ResultRecord, len(items))
	for i, it := range items {
		jobs[i] = storage.Job{
			JobID:          ids[i],
			Keyword:        it.Keyword,
			SourcePosition: it.Position,
			Status:         storage.StatusSubmitted,
			SubmittedAt:    now,
		}
		placeholders[i] = storage.ResultRecord{
			Position:  it.Position,
			Sentinel:  storage.SentinelPending,
			Keyword:   it.Keyword,
			UpdatedAt: now,
		}
	}

	if err := s.store.AppendJobs(jobs); err != nil {
		return SubmitReport{}, fmt.Errorf("recording %d submitted jobs: %w", len(jobs), err)
	}
	if err := s.store.PutResults(placeholders); err != nil {
		return SubmitReport{}, fmt.Errorf("writing placeholders: %w", err)
	}

	report := SubmitReport{
		Submitted:     len(items),
		FirstPosition: items[0].Position,
		LastPosition:  items[len(items)-1].Position,
		NextCursor:    items[len(items)-1].Position + 1,
	}
	if err := s.store.SetCursor(report.NextCursor); err != nil {
		return report, fmt.Errorf("advancing cursor to %d: %w", report.NextCursor, err)
	}

	s.logger.Info("batch submitted", "jobs", report.Submitted, "first_position", report.FirstPosition, "last_position", report.LastPosition)
	return report, nil
}

package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/rankwatch/internal/serp"
	"github.com/kalambet/rankwatch/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func coord(v float64) *float64 { return &v }

// seedRows fills the source table with n well-formed rows keyed "kw-<position>".
func seedRows(t *testing.T, s *storage.Store, n int) {
	t.Helper()
	rows := make([]storage.SourceRow, n)
	for i := range rows {
		rows[i] = storage.SourceRow{
			Keyword: fmt.Sprintf("kw-%d", storage.FirstDataRow+i),
			Lat:     coord(30.1),
			Lng:     coord(-97.2),
		}
	}
	if err := s.ReplaceSourceRows(rows); err != nil {
		t.Fatalf("ReplaceSourceRows: %v", err)
	}
}

type mockClient struct {
	mu          sync.Mutex
	configErr   error
	submitDelay time.Duration
	maxBatch    int
	submitFn  func(tasks []serp.TaskRequest) ([]string, error)
	fetchFn   func(jobID string) (serp.Result, error)
	submitted [][]serp.TaskRequest
	fetched   []string
	nextID    int
	keywords  map[string]string // job id -> keyword
}

func newMockClient() *mockClient {
	return &mockClient{maxBatch: serp.MaxTasksPerRequest, keywords: make(map[string]string)}
}

func (m *mockClient) NewTask(keyword string, lat, lng float64) serp.TaskRequest {
	return serp.TaskRequest{Keyword: keyword, LocationCoordinate: fmt.Sprintf("%v,%v", lat, lng)}
}

func (m *mockClient) Configured() error { return m.configErr }

func (m *mockClient) MaxBatchSize() int { return m.maxBatch }

func (m *mockClient) SubmitBatch(ctx context.Context, tasks []serp.TaskRequest) ([]string, error) {
	time.Sleep(m.submitDelay)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, tasks)
	if m.submitFn != nil {
		return m.submitFn(tasks)
	}
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		m.nextID++
		ids[i] = fmt.Sprintf("job-%d", m.nextID)
		m.keywords[ids[i]] = task.Keyword
	}
	return ids, nil
}

func (m *mockClient) FetchResult(ctx context.Context, jobID string) (serp.Result, error) {
	m.mu.Lock()
	m.fetched = append(m.fetched, jobID)
	fn := m.fetchFn
	m.mu.Unlock()
	if fn != nil {
		return fn(jobID)
	}
	return serp.Result{}, nil
}

func (m *mockClient) submittedKeywords() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, batch := range m.submitted {
		for _, task := range batch {
			out = append(out, task.Keyword)
		}
	}
	return out
}

func (m *mockClient) submitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

func (m *mockClient) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetched)
}

type mockScheduler struct {
	mu            sync.Mutex
	ticks         map[string]int
	deregisterErr error
	registerCalls int
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{ticks: make(map[string]int)}
}

func (m *mockScheduler) Register(name string, minutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerCalls++
	if _, ok := m.ticks[name]; !ok {
		m.ticks[name] = minutes
	}
	return nil
}

func (m *mockScheduler) Deregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deregisterErr != nil {
		return m.deregisterErr
	}
	delete(m.ticks, name)
	return nil
}

func (m *mockScheduler) Registered() ([]storage.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Schedule
	for name, minutes := range m.ticks {
		out = append(out, storage.Schedule{Name: name, IntervalMinutes: minutes, RegisteredAt: time.Now()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockScheduler) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ticks[name]
	return ok
}

func mustCursor(t *testing.T, s *storage.Store) int {
	t.Helper()
	c, err := Cursor(s)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	return c
}

func mustResult(t *testing.T, s *storage.Store, position int) storage.ResultRecord {
	t.Helper()
	r, err := s.GetResult(position)
	if err != nil {
		t.Fatalf("GetResult(%d): %v", position, err)
	}
	return r
}

func allJobs(t *testing.T, s *storage.Store) []storage.Job {
	t.Helper()
	jobs, err := s.ListJobs("", 10000, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	return jobs
}

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/rankwatch/internal/schedule"
	"github.com/kalambet/rankwatch/internal/serp"
	"github.com/kalambet/rankwatch/internal/storage"
	"github.com/kalambet/rankwatch/internal/tracker"
)

const testToken = "test-token-12345"

// fakeClient accepts every task and reports rank 3 for every job.
type fakeClient struct {
	mu      sync.Mutex
	noCreds bool
	nextID  int
}

func (f *fakeClient) NewTask(keyword string, lat, lng float64) serp.TaskRequest {
	return serp.TaskRequest{Keyword: keyword, LocationCoordinate: fmt.Sprintf("%v,%v", lat, lng)}
}

func (f *fakeClient) Configured() error {
	if f.noCreds {
		return serp.ErrMissingCredentials
	}
	return nil
}

func (f *fakeClient) MaxBatchSize() int { return serp.MaxTasksPerRequest }

func (f *fakeClient) SubmitBatch(ctx context.Context, tasks []serp.TaskRequest) ([]string, error) {
	if f.noCreds {
		return nil, serp.ErrMissingCredentials
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(tasks))
	for i := range tasks {
		f.nextID++
		ids[i] = fmt.Sprintf("job-%d", f.nextID)
	}
	return ids, nil
}

func (f *fakeClient) FetchResult(ctx context.Context, jobID string) (serp.Result, error) {
	if f.noCreds {
		return serp.Result{}, serp.ErrMissingCredentials
	}
	return serp.Result{Ready: true, Rankings: []serp.Ranking{{Rank: 3, URL: "https://example.com/a"}}}, nil
}

type testEnv struct {
	store   *storage.Store
	client  *fakeClient
	runner  *schedule.Runner
	tracker *tracker.Controller
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := &fakeClient{}
	runner := schedule.NewRunner(store)
	ctrl := tracker.NewController(store, client, runner)

	return &testEnv{
		store:   store,
		client:  client,
		runner:  runner,
		tracker: ctrl,
		handler: NewAppHandler(AppDeps{Tracker: ctrl, Store: store, Token: testToken}),
	}
}

func (e *testEnv) seed(t *testing.T, n int) {
	t.Helper()
	rows := make([]storage.SourceRow, n)
	for i := range rows {
		lat, lng := 40.7, -74.0
		rows[i] = storage.SourceRow{Keyword: fmt.Sprintf("kw-%d", storage.FirstDataRow+i), Lat: &lat, Lng: &lng}
	}
	if err := e.store.ReplaceSourceRows(rows); err != nil {
		t.Fatalf("ReplaceSourceRows: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (e *testEnv) registered(t *testing.T) map[string]int {
	t.Helper()
	list, err := e.runner.Registered()
	if err != nil {
		t.Fatalf("Registered: %v", err)
	}
	m := make(map[string]int, len(list))
	for _, sc := range list {
		m[sc.Name] = sc.IntervalMinutes
	}
	return m
}

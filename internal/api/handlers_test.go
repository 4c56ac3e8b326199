package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/rankwatch/internal/storage"
	"github.com/kalambet/rankwatch/internal/tracker"
)

func TestHealth_NoAuth(t *testing.T) {
	e := newTestEnv(t)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, authReq(http.MethodGet, "/health", "", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			e.handler.ServeHTTP(rr, authReq(http.MethodGet, "/status", "", tt.token))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestBearerAuth_EmptyTokenLocksRoutes(t *testing.T) {
	h := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, header := range []string{"", "Bearer ", "Bearer anything"} {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rr.Code)
		}
		if rr.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("header %q: missing WWW-Authenticate", header)
		}
	}
}

func TestStartPipeline(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, 3)

	rr := e.do(t, http.MethodPost, "/pipeline/start", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var report tracker.SubmitReport
	if err := json.NewDecoder(rr.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Submitted != 3 || report.NextCursor != 5 {
		t.Errorf("report = %+v, want 3 submitted, next cursor 5", report)
	}

	ticks := e.registered(t)
	if ticks[tracker.TickSubmit] != 5 || ticks[tracker.TickFetch] != 5 {
		t.Errorf("ticks = %v, want submit and fetch every 5 minutes", ticks)
	}
}

func TestStartPipeline_MissingCredentials(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, 2)
	e.client.noCreds = true

	rr := e.do(t, http.MethodPost, "/pipeline/start", "")
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412; body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "configuration_error") {
		t.Errorf("body = %s, want configuration_error", rr.Body.String())
	}
	if ticks := e.registered(t); len(ticks) != 0 {
		t.Errorf("ticks = %v, want none", ticks)
	}
}

func TestTicks(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, 2)

	rr := e.do(t, http.MethodPost, "/ticks/submit", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("submit status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = e.do(t, http.MethodPost, "/ticks/fetch", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("fetch status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var poll tracker.PollReport
	if err := json.NewDecoder(rr.Body).Decode(&poll); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if poll.Found != 2 {
		t.Errorf("found = %d, want 2", poll.Found)
	}

	rr = e.do(t, http.MethodPost, "/ticks/bogus", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown tick status = %d, want 404", rr.Code)
	}
}

func TestListResultsAndJobs(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, 2)
	e.do(t, http.MethodPost, "/ticks/submit", "")

	rr := e.do(t, http.MethodGet, "/results", "")
	var results []ResultView
	if err := json.NewDecoder(rr.Body).Decode(&results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 2 || results[0].Position != 2 || results[0].Rank != storage.SentinelPending {
		t.Errorf("results = %+v, want 2 pending placeholders from position 2", results)
	}

	e.do(t, http.MethodPost, "/ticks/fetch", "")

	rr = e.do(t, http.MethodGet, "/results?limit=1&offset=1", "")
	results = nil
	json.NewDecoder(rr.Body).Decode(&results)
	if len(results) != 1 || results[0].Position != 3 || results[0].Rank != "3" {
		t.Errorf("results page = %+v, want position 3 ranked 3", results)
	}

	rr = e.do(t, http.MethodGet, "/jobs?status=fetched", "")
	var jobs []JobView
	if err := json.NewDecoder(rr.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("fetched jobs = %d, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.CompletedAt == nil {
			t.Errorf("job %s has no completed_at", j.JobID)
		}
	}

	rr = e.do(t, http.MethodGet, "/jobs?status=weird", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown status filter = %d, want 400", rr.Code)
	}
}

func TestSettings(t *testing.T) {
	e := newTestEnv(t)

	rr := e.do(t, http.MethodPut, "/settings", `{"batch_size": 20, "fetch_interval_minutes": 10}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var s tracker.Settings
	if err := json.NewDecoder(rr.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.BatchSize != 20 || s.FetchIntervalMinutes != 10 || s.SubmitIntervalMinutes != 5 {
		t.Errorf("settings = %+v", s)
	}

	// One bad key rejects the whole update.
	rr = e.do(t, http.MethodPut, "/settings", `{"batch_size": 30, "submit_interval_minutes": 61}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	rr = e.do(t, http.MethodGet, "/settings", "")
	s = tracker.Settings{}
	json.NewDecoder(rr.Body).Decode(&s)
	if s.BatchSize != 20 {
		t.Errorf("batch_size = %d after rejected update, want 20", s.BatchSize)
	}

	for _, body := range []string{`{}`, `{"unknown_key": 1}`, `not json`} {
		if rr := e.do(t, http.MethodPut, "/settings", body); rr.Code != http.StatusBadRequest {
			t.Errorf("PUT %s = %d, want 400", body, rr.Code)
		}
	}
}

func TestClearAndReset_RequireConfirm(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, 2)
	e.do(t, http.MethodPost, "/pipeline/start", "")

	for _, path := range []string{"/tables/clear", "/pipeline/reset"} {
		if rr := e.do(t, http.MethodPost, path, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("%s without confirm = %d, want 400", path, rr.Code)
		}
	}

	rr := e.do(t, http.MethodPost, "/tables/clear?confirm=true", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if counts, _ := e.store.JobCounts(); len(counts) != 0 {
		t.Errorf("job counts = %v after clear", counts)
	}

	rr = e.do(t, http.MethodPost, "/pipeline/reset?confirm=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if ticks := e.registered(t); len(ticks) != 0 {
		t.Errorf("ticks = %v after reset", ticks)
	}
	if _, err := e.store.GetCursor(); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cursor after reset: err = %v, want ErrNotFound", err)
	}
}

func TestStopAndCursorReset(t *testing.T) {
	e := newTestEnv(t)
	e.seed(t, 2)
	e.do(t, http.MethodPost, "/pipeline/start", "")

	if rr := e.do(t, http.MethodPost, "/pipeline/stop", ""); rr.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rr.Code)
	}
	if ticks := e.registered(t); len(ticks) != 0 {
		t.Errorf("ticks = %v after stop", ticks)
	}

	if rr := e.do(t, http.MethodPost, "/cursor/reset", ""); rr.Code != http.StatusOK {
		t.Fatalf("cursor reset status = %d", rr.Code)
	}

	rr := e.do(t, http.MethodGet, "/status", "")
	var st tracker.StatusReport
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Cursor != storage.FirstDataRow {
		t.Errorf("cursor = %d, want %d", st.Cursor, storage.FirstDataRow)
	}
	if st.SourceRows != 2 {
		t.Errorf("source rows = %d, want 2", st.SourceRows)
	}
	if !strings.Contains(st.StatusLine, "cursor reset") {
		t.Errorf("status line = %q", st.StatusLine)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=-1", 50},
		{"limit=abc", 50},
		{"limit=5000", 1000},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/results?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 50, 1000); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/rankwatch/internal/storage"
	"github.com/kalambet/rankwatch/internal/tracker"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds everything the operator API needs.
type AppDeps struct {
	Tracker *tracker.Controller
	Store   *storage.Store
	Token   string
}

// NewAppHandler returns the operator API. Everything except /health needs
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/pipeline/start", handleStart(deps))
		r.Post("/pipeline/stop", handleStop(deps))
		r.Post("/pipeline/reset", handleReset(deps))
		r.Post("/cursor/reset", handleResetCursor(deps))
		r.Post("/tables/clear", handleClearTables(deps))
		r.Post("/ticks/{kind}", handleTick(deps))

		r.Get("/status", handleStatus(deps))
		r.Get("/results", handleListResults(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/settings", handleGetSettings(deps))
		r.Put("/settings", handlePutSettings(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStart(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Tracker.Start(r.Context())
		if err != nil {
			tickError(w, err)
			return
		}
		writeJSON(w, report)
	}
}

func handleStop(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Tracker.StopAll(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to stop ticks: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "stopped"})
	}
}

func handleReset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !confirmed(r) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reset requires confirm=true")
			return
		}
		if err := deps.Tracker.Reset(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reset incomplete: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "reset"})
	}
}

func handleResetCursor(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Tracker.ResetCursor(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset cursor: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cursor_reset"})
	}
}

func handleClearTables(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !confirmed(r) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "clearing tables requires confirm=true")
			return
		}
		if err := deps.Tracker.ClearTables(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear tables: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

func handleTick(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch kind := chi.URLParam(r, "kind"); kind {
		case tracker.TickSubmit:
			report, err := deps.Tracker.SubmitTick(r.Context())
			if err != nil {
				tickError(w, err)
				return
			}
			writeJSON(w, report)
		case tracker.TickFetch:
			report, err := deps.Tracker.FetchTick(r.Context())
			if err != nil {
				tickError(w, err)
				return
			}
			writeJSON(w, report)
		default:
			httpError(w, http.StatusNotFound, "not_found", "unknown tick %q", kind)
		}
	}
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Tracker.Status(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read status: %v", err)
			return
		}
		writeJSON(w, st)
	}
}

// ResultView is the JSON form of a results-table row.
type ResultView struct {
	Position  int       `json:"position"`
	Keyword   string    `json:"keyword"`
	Rank      string    `json:"rank"`
	URL       string    `json:"url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newResultView(r storage.ResultRecord) ResultView {
	return ResultView{
		Position:  r.Position,
		Keyword:   r.Keyword,
		Rank:      r.RankText(),
		URL:       r.URL,
		UpdatedAt: r.UpdatedAt,
	}
}

func handleListResults(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 1000)
		offset := parseIntParam(r, "offset", 0, 0)

		records, err := deps.Store.ListResults(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list results: %v", err)
			return
		}

		views := make([]ResultView, len(records))
		for i, rec := range records {
			views[i] = newResultView(rec)
		}
		writeJSON(w, views)
	}
}

// JobView is the JSON form of a ledger row.
type JobView struct {
	ID             int64      `json:"id"`
	JobID          string     `json:"job_id"`
	Keyword        string     `json:"keyword"`
	SourcePosition int        `json:"source_position"`
	Status         string     `json:"status"`
	PollRounds     int        `json:"poll_rounds"`
	LastError      string     `json:"last_error,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func newJobView(j storage.Job) JobView {
	return JobView{
		ID:             j.ID,
		JobID:          j.JobID,
		Keyword:        j.Keyword,
		SourcePosition: j.SourcePosition,
		Status:         j.Status,
		PollRounds:     j.PollRounds,
		LastError:      j.LastError,
		SubmittedAt:    j.SubmittedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 1000)
		offset := parseIntParam(r, "offset", 0, 0)
		status := r.URL.Query().Get("status")

		switch status {
		case "", storage.StatusSubmitted, storage.StatusPending, storage.StatusFetched, storage.StatusError:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", status)
			return
		}

		jobs, err := deps.Store.ListJobs(status, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}

		views := make([]JobView, len(jobs))
		for i, j := range jobs {
			views[i] = newJobView(j)
		}
		writeJSON(w, views)
	}
}

func handleGetSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := tracker.LoadSettings(deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read settings: %v", err)
			return
		}
		writeJSON(w, s)
	}
}

// handlePutSettings validates every key before writing any of them.
func handlePutSettings(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var fields map[string]int
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(fields) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no settings given")
			return
		}

		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if err := tracker.ValidateSetting(k, strconv.Itoa(fields[k])); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}
		for _, k := range keys {
			if err := deps.Store.SetSetting(k, strconv.Itoa(fields[k])); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to set %s: %v", k, err)
				return
			}
		}

		s, err := tracker.LoadSettings(deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read settings: %v", err)
			return
		}
		writeJSON(w, s)
	}
}

// tickError maps tracker errors onto HTTP statuses.
func tickError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrConfiguration):
		httpError(w, http.StatusPreconditionFailed, "configuration_error", "%v", err)
	case errors.Is(err, tracker.ErrSubmission):
		httpError(w, http.StatusBadGateway, "submission_error", "%v", err)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	}
}

func confirmed(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

package serp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL:      baseURL,
		Login:        "user@example.com",
		Password:     "secret",
		TargetDomain: "example.com",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.backoff = time.Millisecond
	return c
}

func TestSubmitBatch(t *testing.T) {
	var got []TaskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != taskPostPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user@example.com" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		fmt.Fprint(w, `{"status_code":20000,"tasks":[
			{"id":"id-1","status_code":20100},
			{"id":"id-2","status_code":20100}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ids, err := c.SubmitBatch(context.Background(), []TaskRequest{
		c.NewTask("plumber austin", 30.2672, -97.7431),
		c.NewTask("plumber dallas", 32.7767, -96.797),
	})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if len(ids) != 2 || ids[0] != "id-1" || ids[1] != "id-2" {
		t.Errorf("ids = %v", ids)
	}

	want := TaskRequest{
		Keyword:            "plumber austin",
		LocationCoordinate: "30.2672,-97.7431",
		LanguageCode:       "en",
		Device:             "desktop",
		OS:                 "windows",
		Depth:              30,
	}
	if len(got) != 2 || got[0] != want {
		t.Errorf("posted %+v, want first %+v", got, want)
	}
}

func TestSubmitBatch_RejectedTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status_code":20000,"tasks":[
			{"id":"id-1","status_code":20100},
			{"id":"","status_code":40501,"status_message":"Invalid Field"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ids, err := c.SubmitBatch(context.Background(), []TaskRequest{{Keyword: "a"}, {Keyword: "b"}})
	if err == nil {
		t.Fatalf("expected error, got ids %v", ids)
	}
	if ids != nil {
		t.Errorf("ids = %v, want nil", ids)
	}
}

func TestSubmitBatch_TooLarge(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	tasks := make([]TaskRequest, MaxTasksPerRequest+1)
	if _, err := c.SubmitBatch(context.Background(), tasks); err == nil {
		t.Error("expected error for oversized batch")
	}
}

func TestMissingCredentials(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, TargetDomain: "example.com"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.SubmitBatch(context.Background(), []TaskRequest{{Keyword: "a"}})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times, want 0", calls.Load())
	}
}

func TestConfigured(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"complete", Options{Login: "u", Password: "p", TargetDomain: "example.com"}, nil},
		{"basic token", Options{Basic: "dG9rZW4=", TargetDomain: "example.com"}, nil},
		{"no credentials", Options{TargetDomain: "example.com"}, ErrMissingCredentials},
		{"no target domain", Options{Login: "u", Password: "p"}, ErrMissingTargetDomain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.opts)
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if err := c.Configured(); !errors.Is(err, tt.want) {
				t.Errorf("Configured() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPreEncodedBasic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Basic dG9rZW4=" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"status_code":20000,"tasks":[{"status_code":20000,"result":[{"login":"me","money":{"balance":12.5}}]}]}`)
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, Basic: "dG9rZW4="})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ud, err := c.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if ud.Login != "me" || ud.Balance != 12.5 {
		t.Errorf("user data = %+v", ud)
	}
}

const readyResponse = `{"status_code":20000,"tasks":[{"id":"id-1","status_code":20000,"result":[{"keyword":"kw","items":[
	{"type":"paid","rank_group":1,"url":"https://example.com/ad"},
	{"type":"organic","rank_group":5,"url":"https://www.example.com/a"},
	{"type":"organic","rank_group":2,"url":"https://blog.example.com/b"},
	{"type":"organic","rank_group":3,"url":"https://notexample.com/"},
	{"type":"organic","rank_group":9,"url":"https://example.com/c"},
	{"type":"organic","rank_group":4,"url":"https://example.com.evil.net/"}
]}]}]}`

func TestFetchResult_Ready(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != taskGetPath+"id-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, readyResponse)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.FetchResult(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	if !res.Ready {
		t.Error("expected Ready")
	}
	if len(res.Rankings) != 3 {
		t.Fatalf("rankings = %+v, want 3 matches", res.Rankings)
	}
	best, ok := res.Best()
	if !ok || best.Rank != 2 || best.URL != "https://blog.example.com/b" {
		t.Errorf("best = %+v, %v", best, ok)
	}
	if len(res.Raw) == 0 {
		t.Error("expected raw payload")
	}
}

func TestFetchResult_NotReady(t *testing.T) {
	for _, body := range []string{
		`{"status_code":20000,"tasks":[{"id":"id-1","status_code":40602,"status_message":"Task In Queue","result":null}]}`,
		`{"status_code":20000,"tasks":[{"id":"id-1","status_code":40601,"status_message":"Task Handed."}]}`,
		`{"status_code":20000,"tasks":[{"id":"id-1","status_code":20000,"result":[]}]}`,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		c := newTestClient(t, srv.URL)
		res, err := c.FetchResult(context.Background(), "id-1")
		srv.Close()
		if err != nil {
			t.Errorf("FetchResult(%s): %v", body, err)
			continue
		}
		if res.Ready || len(res.Rankings) != 0 {
			t.Errorf("expected not ready, got %+v", res)
		}
	}
}

func TestFetchResult_TaskError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status_code":20000,"tasks":[{"id":"id-1","status_code":40401,"status_message":"Task Not Found."}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.FetchResult(context.Background(), "id-1"); err == nil {
		t.Error("expected error for failed task")
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, readyResponse)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.FetchResult(context.Background(), "id-1"); err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchResult(context.Background(), "id-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != maxRetries {
		t.Errorf("calls = %d, want %d", calls.Load(), maxRetries)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, "bad credentials")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want 401", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestResultBest(t *testing.T) {
	tests := []struct {
		name  string
		ranks []int
		want  int
		ok    bool
	}{
		{"empty", nil, 0, false},
		{"minimum", []int{5, 2, 9}, 2, true},
		{"single", []int{7}, 7, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Result
			for _, rk := range tt.ranks {
				r.Rankings = append(r.Rankings, Ranking{Rank: rk, URL: fmt.Sprintf("u%d", rk)})
			}
			best, ok := r.Best()
			if ok != tt.ok || best.Rank != tt.want {
				t.Errorf("Best() = %d, %v; want %d, %v", best.Rank, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestResultBest_TieKeepsFirst(t *testing.T) {
	r := Result{Rankings: []Ranking{{Rank: 3, URL: "first"}, {Rank: 3, URL: "second"}}}
	best, _ := r.Best()
	if best.URL != "first" {
		t.Errorf("best.URL = %q, want first", best.URL)
	}
}

func TestDomainMatcher(t *testing.T) {
	m, err := NewDomainMatcher("https://www.Example.com/")
	if err != nil {
		t.Fatalf("NewDomainMatcher: %v", err)
	}
	if m.Domain() != "example.com" {
		t.Errorf("Domain() = %q", m.Domain())
	}
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/x", true},
		{"http://www.example.com", true},
		{"https://sub.example.com/a?b=c", true},
		{"https://notexample.com/", false},
		{"https://example.com.evil.net/", false},
		{"https://other.com/?ref=example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.url); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}

	if _, err := NewDomainMatcher("com"); err == nil {
		t.Error("expected error for bare public suffix")
	}
}

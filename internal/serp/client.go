// Package serp is a client for the DataForSEO SERP Google organic task API.
package serp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.dataforseo.com"

	taskPostPath = "/v3/serp/google/organic/task_post"
	taskGetPath  = "/v3/serp/google/organic/task_get/regular/"
	userDataPath = "/v3/appendix/user_data"

	// MaxTasksPerRequest is the provider's limit on tasks in one task_post body.
	MaxTasksPerRequest = 100

	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// ErrMissingCredentials is returned before any request when no login/password
// or pre-encoded basic token is configured.
var ErrMissingCredentials = errors.New("dataforseo credentials not configured")

// ErrMissingTargetDomain is returned by Configured when no target domain is
// set. Without one no result can ever match.
var ErrMissingTargetDomain = errors.New("target domain not configured")

// Options configures a Client. Empty query fields fall back to the defaults
// the tracker has always used (en, desktop, windows, 30 results).
type Options struct {
	BaseURL      string
	Login        string
	Password     string
	Basic        string // base64 "login:password", used when Login is empty
	TargetDomain string
	LanguageCode string
	Device       string
	OS           string
	Depth        int
}

// Client talks to the DataForSEO v3 API.
type Client struct {
	baseURL    string
	login      string
	password   string
	basic      string
	matcher    DomainMatcher
	query      TaskRequest
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a client. The target domain is validated up front.
func NewClient(opts Options) (*Client, error) {
	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		login:    opts.Login,
		password: opts.Password,
		basic:    strings.TrimSpace(opts.Basic),
		query: TaskRequest{
			LanguageCode: opts.LanguageCode,
			Device:       opts.Device,
			OS:           opts.OS,
			Depth:        opts.Depth,
		},
		httpClient: &http.Client{Timeout: defaultTimeout},
		backoff:    initialBackoff,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.query.LanguageCode == "" {
		c.query.LanguageCode = "en"
	}
	if c.query.Device == "" {
		c.query.Device = "desktop"
	}
	if c.query.OS == "" {
		c.query.OS = "windows"
	}
	if c.query.Depth <= 0 {
		c.query.Depth = 30
	}
	if opts.TargetDomain != "" {
		m, err := NewDomainMatcher(opts.TargetDomain)
		if err != nil {
			return nil, err
		}
		c.matcher = m
	}
	return c, nil
}

// Configured reports whether the client can submit tasks and match their
// results: credentials and a target domain must both be set.
func (c *Client) Configured() error {
	if !c.hasCredentials() {
		return ErrMissingCredentials
	}
	if c.matcher.Domain() == "" {
		return ErrMissingTargetDomain
	}
	return nil
}

func (c *Client) hasCredentials() bool {
	return c.login != "" || c.basic != ""
}

// MaxBatchSize is the largest slice SubmitBatch accepts.
func (c *Client) MaxBatchSize() int { return MaxTasksPerRequest }

// NewTask builds a task for keyword at the given coordinates using the
// client's language, device, OS and depth.
func (c *Client) NewTask(keyword string, lat, lng float64) TaskRequest {
	t := c.query
	t.Keyword = keyword
	t.LocationCoordinate = fmt.Sprintf("%s,%s", formatCoord(lat), formatCoord(lng))
	return t
}

// SubmitBatch posts tasks in one request and returns the provider job ids in
// input order. Any task the provider refuses fails the whole call.
func (c *Client) SubmitBatch(ctx context.Context, tasks []TaskRequest) ([]string, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	if len(tasks) > MaxTasksPerRequest {
		return nil, fmt.Errorf("batch of %d tasks exceeds the limit of %d", len(tasks), MaxTasksPerRequest)
	}
	body, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("marshaling tasks: %w", err)
	}

	var env envelope
	if err := c.do(ctx, http.MethodPost, taskPostPath, body, &env); err != nil {
		return nil, err
	}
	if env.StatusCode != statusOK {
		return nil, fmt.Errorf("task_post: status %d: %s", env.StatusCode, env.StatusMessage)
	}
	if len(env.Tasks) != len(tasks) {
		return nil, fmt.Errorf("task_post: got %d tasks for %d requests", len(env.Tasks), len(tasks))
	}

	ids := make([]string, len(env.Tasks))
	for i, t := range env.Tasks {
		if t.StatusCode != statusTaskCreated || t.ID == "" {
			return nil, fmt.Errorf("task_post: task %d (%q) rejected: status %d: %s", i, tasks[i].Keyword, t.StatusCode, t.StatusMessage)
		}
		ids[i] = t.ID
	}
	return ids, nil
}

// FetchResult retrieves a task and extracts the organic rankings that belong
// to the target domain.
func (c *Client) FetchResult(ctx context.Context, jobID string) (Result, error) {
	if jobID == "" {
		return Result{}, fmt.Errorf("empty job id")
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, taskGetPath+url.PathEscape(jobID), nil, &raw); err != nil {
		return Result{}, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Result{}, fmt.Errorf("decoding task_get: %w", err)
	}
	if env.StatusCode != statusOK {
		return Result{}, fmt.Errorf("task_get: status %d: %s", env.StatusCode, env.StatusMessage)
	}
	if len(env.Tasks) == 0 {
		return Result{}, fmt.Errorf("task_get: no task in response for %s", jobID)
	}

	t := env.Tasks[0]
	switch {
	case t.StatusCode == statusTaskInQueue || t.StatusCode == statusTaskHanded:
		return Result{Raw: raw}, nil
	case t.StatusCode != statusOK:
		return Result{}, fmt.Errorf("task %s: status %d: %s", jobID, t.StatusCode, t.StatusMessage)
	case len(t.Result) == 0:
		return Result{Raw: raw}, nil
	}

	res := Result{Ready: true, Raw: raw}
	for _, r := range t.Result {
		var sr serpResult
		if err := json.Unmarshal(r, &sr); err != nil {
			return Result{}, fmt.Errorf("decoding task %s result: %w", jobID, err)
		}
		for _, item := range sr.Items {
			if item.Type != "organic" || item.RankGroup <= 0 || item.URL == "" {
				continue
			}
			if c.matcher.Match(item.URL) {
				res.Rankings = append(res.Rankings, Ranking{Rank: item.RankGroup, URL: item.URL})
			}
		}
	}
	return res, nil
}

// Ping checks credentials and connectivity against the user data endpoint.
func (c *Client) Ping(ctx context.Context) (UserData, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, userDataPath, nil, &env); err != nil {
		return UserData{}, err
	}
	if env.StatusCode != statusOK {
		return UserData{}, fmt.Errorf("user_data: status %d: %s", env.StatusCode, env.StatusMessage)
	}
	if len(env.Tasks) == 0 || len(env.Tasks[0].Result) == 0 {
		return UserData{}, nil
	}
	var ud userDataResult
	if err := json.Unmarshal(env.Tasks[0].Result[0], &ud); err != nil {
		return UserData{}, fmt.Errorf("decoding user_data: %w", err)
	}
	return UserData{Login: ud.Login, Balance: ud.Money.Balance}, nil
}

// retryableError is returned on HTTP 429 and 5xx.
type retryableError struct {
	status int
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("provider unavailable (HTTP %d)", e.status)
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if !c.hasCredentials() {
		return ErrMissingCredentials
	}

	var lastErr error
	for attempt := range maxRetries {
		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.login != "" {
		req.SetBasicAuth(c.login, c.password)
	} else {
		req.Header.Set("Authorization", "Basic "+c.basic)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return &retryableError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func formatCoord(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.7f", v), "0"), ".")
}

// Package scraper is a client for the asynchronous lead scrape service: a
// job is started for a search URL, polled until it finishes, and its leads
// are fetched inline or page by page.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/resilience"
)

const defaultBaseURL = "https://api.leadscrape.io/v1"

// ErrJobNotFound is returned when the service no longer knows a job id.
var ErrJobNotFound = eris.New("scraper: job not found")

// Client defines the scrape service operations.
type Client interface {
	StartJob(ctx context.Context, req StartRequest) (*StartResponse, error)
	GetJobStatus(ctx context.Context, id string) (*StatusResponse, error)
	GetJobResult(ctx context.Context, id string) (*ResultResponse, error)
	GetSessionPage(ctx context.Context, sessionID string, offset, limit int) (*PageResponse, error)
}

// StartRequest is the body for POST /jobs.
type StartRequest struct {
	URL   string `json:"url"`
	Limit int    `json:"limit"`
}

// StartResponse is the response from POST /jobs.
type StartResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

// StatusResponse is the response from GET /jobs/{id}.
type StatusResponse struct {
	Status     string `json:"status"`
	IsComplete bool   `json:"isComplete"`
	Error      string `json:"error,omitempty"`
	Scraped    int    `json:"scraped"`
}

// ResultResponse is the response from GET /jobs/{id}/result. Large results
// carry a SessionID and no Leads; they are read with GetSessionPage.
type ResultResponse struct {
	Count     int              `json:"count"`
	Leads     []map[string]any `json:"leads,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// PageResponse is the response from GET /sessions/{id}/leads.
type PageResponse struct {
	Leads   []map[string]any `json:"leads"`
	HasMore bool             `json:"hasMore"`
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit throttles outbound requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithPolicy overrides the retry policy.
func WithPolicy(p resilience.Policy) Option {
	return func(c *httpClient) { c.policy = p }
}

// WithCircuitBreaker guards every request with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) { c.breaker = cb }
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	policy  resilience.Policy
	breaker *resilience.CircuitBreaker
}

// NewClient creates a new scrape service client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		policy: resilience.DefaultPolicy("scraper", ""),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.policy.Secrets = append(c.policy.Secrets, apiKey)
	return c
}

func (c *httpClient) StartJob(ctx context.Context, req StartRequest) (*StartResponse, error) {
	var resp StartResponse
	if err := c.call(ctx, "start", http.MethodPost, "/jobs", req, &resp); err != nil {
		return nil, eris.Wrap(err, "scraper: start job")
	}
	if resp.JobID == "" {
		return nil, eris.New("scraper: start job: response carried no job id")
	}
	return &resp, nil
}

func (c *httpClient) GetJobStatus(ctx context.Context, id string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, "status", http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, eris.Wrapf(ErrJobNotFound, "scraper: job %s", id)
		}
		return nil, eris.Wrapf(err, "scraper: get job status %s", id)
	}
	return &resp, nil
}

func (c *httpClient) GetJobResult(ctx context.Context, id string) (*ResultResponse, error) {
	var resp ResultResponse
	if err := c.call(ctx, "result", http.MethodGet, "/jobs/"+url.PathEscape(id)+"/result", nil, &resp); err != nil {
		if isNotFound(err) {
			return nil, eris.Wrapf(ErrJobNotFound, "scraper: job %s", id)
		}
		return nil, eris.Wrapf(err, "scraper: get job result %s", id)
	}
	return &resp, nil
}

func (c *httpClient) GetSessionPage(ctx context.Context, sessionID string, offset, limit int) (*PageResponse, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	path := "/sessions/" + url.PathEscape(sessionID) + "/leads?" + q.Encode()

	var resp PageResponse
	if err := c.call(ctx, "page", http.MethodGet, path, nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "scraper: get session page %s offset %d", sessionID, offset)
	}
	return &resp, nil
}

// call executes one request under the retry policy, the circuit breaker and
// the rate limiter; every retry waits for a fresh token.
func (c *httpClient) call(ctx context.Context, op, method, path string, body, out any) error {
	var buf []byte
	if body != nil {
		var err error
		if buf, err = json.Marshal(body); err != nil {
			return eris.Wrap(err, "marshal request")
		}
	}

	return resilience.ExecuteErr(ctx, c.policy.For(op), func(ctx context.Context) error {
		_, err := resilience.Guard(ctx, c.breaker, func(ctx context.Context) (struct{}, error) {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return struct{}{}, eris.Wrap(err, "rate limit wait")
				}
			}
			var rdr io.Reader
			if buf != nil {
				rdr = bytes.NewReader(buf)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
			if err != nil {
				return struct{}{}, eris.Wrap(err, "create request")
			}
			if buf != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
			return struct{}{}, c.do(req, out)
		})
		return err
	})
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resilience.NewStatusError(resp, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, fmt.Sprintf("decode response (HTTP %d)", resp.StatusCode))
	}
	return nil
}

func isNotFound(err error) bool {
	var se *resilience.StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Package upstream implements the session client for the paginated
// availability API: one authenticated, rate-limit-aware, retrying HTTP
// session per ingestion run.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Config holds connection and retry policy for upstream sessions.
type Config struct {
	// BaseURL of the availability API
	BaseURL string

	// Token is the bearer credential supplied externally
	Token string

	// MaxAttempts per page (initial try + retries)
	MaxAttempts int

	// Exponential backoff bounds between attempts
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RequestTimeout bounds each individual attempt
	RequestTimeout time.Duration
}

// Client creates upstream sessions. It holds only immutable configuration;
// all mutable cursor and retry state lives in the Session so independent
// layers can fetch concurrently.
type Client struct {
	cfg Config
}

// New creates an upstream client.
func New(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Client{cfg: cfg}
}

// Session is one logical sequence of paginated calls. It owns the
// continuation token and per-page retry counters, and is destroyed when the
// final page is consumed or the run aborts.
//
// Usage follows the sql.Rows pattern:
//
//	sess := client.Open("/availability", 1000)
//	for sess.Next(ctx) {
//	    records := sess.Records()
//	    ...
//	}
//	if err := sess.Err(); err != nil { ... }
type Session struct {
	http     *retryablehttp.Client
	endpoint string
	pageSize int

	// token is the continuation token for the next fetch ("" = first page).
	// It only advances on success, so on failure it identifies the page to
	// resume from.
	token string

	batch   []RawRecord
	retries []int // retries recorded per fetched page
	current int   // retries observed for the in-flight page
	done    bool
	err     error
}

// Open starts a session at the first page.
func (c *Client) Open(endpoint string, pageSize int) *Session {
	return c.Resume(endpoint, pageSize, "")
}

// Resume starts a session at the given continuation token, typically one
// recovered from a checkpoint after an earlier transient failure.
func (c *Client) Resume(endpoint string, pageSize int, token string) *Session {
	s := &Session{
		endpoint: c.cfg.BaseURL + endpoint,
		pageSize: pageSize,
		token:    token,
	}

	// Each session gets its own retrying client so retry bookkeeping and
	// backoff state are never shared across concurrent layers.
	rc := retryablehttp.NewClient()
	rc.RetryMax = c.cfg.MaxAttempts - 1
	rc.RetryWaitMin = c.cfg.RetryWaitMin
	rc.RetryWaitMax = c.cfg.RetryWaitMax
	rc.HTTPClient.Timeout = c.cfg.RequestTimeout
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		// attempt is 0 for the first try, so the max seen equals the
		// number of retries for the page.
		if attempt > s.current {
			s.current = attempt
		}
	}
	if c.cfg.Token != "" {
		token := c.cfg.Token
		base := rc.HTTPClient.Transport
		rc.HTTPClient.Transport = roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			req.Header.Set("Authorization", "Bearer "+token)
			return transportOrDefault(base).RoundTrip(req)
		})
	}
	s.http = rc

	return s
}

// Next fetches the next page. It returns false when the sequence is
// exhausted or a session-level error occurred; check Err afterwards.
func (s *Session) Next(ctx context.Context) bool {
	if s.done || s.err != nil {
		return false
	}

	page, err := s.fetchPage(ctx)
	if err != nil {
		s.err = err
		return false
	}

	s.batch = page.Data
	s.retries = append(s.retries, s.current)
	s.current = 0

	if page.NextToken == "" {
		s.done = true
	} else {
		s.token = page.NextToken
	}

	// An empty terminal page carries no work.
	if len(page.Data) == 0 && s.done {
		return false
	}
	return true
}

// Records returns the most recently fetched page.
func (s *Session) Records() []RawRecord { return s.batch }

// Err returns the session-level error, if any. Transient failures that
// exhausted the retry budget surface as *UnavailableError carrying the
// resume token; permanent rejections surface as *RejectedError.
func (s *Session) Err() error { return s.err }

// Token returns the continuation token the session would fetch next.
// After a failure it identifies the page to resume from.
func (s *Session) Token() string { return s.token }

// Retries returns the retry count recorded for each successfully
// fetched page.
func (s *Session) Retries() []int { return s.retries }

func (s *Session) fetchPage(ctx context.Context) (*pageResponse, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", s.endpoint, err)
	}
	q := u.Query()
	q.Set("page_size", strconv.Itoa(s.pageSize))
	if s.token != "" {
		q.Set("page_token", s.token)
	}
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		// Retry budget exhausted on timeouts, 5xx, or rate limiting.
		return nil, &UnavailableError{
			Endpoint:  s.endpoint,
			LastToken: s.token,
			Attempts:  s.current + 1,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		// Anything else that leaks through the retry policy (non-429 4xx)
		// is a permanent rejection.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, &RejectedError{
				Endpoint: s.endpoint,
				Status:   resp.StatusCode,
				Body:     string(body),
			}
		}
		return nil, &UnavailableError{
			Endpoint:  s.endpoint,
			LastToken: s.token,
			Attempts:  s.current + 1,
			Err:       fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body),
		}
	}

	var page pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		// A truncated or garbled body is treated as transient; the page can
		// be refetched from the same token.
		return nil, &UnavailableError{
			Endpoint:  s.endpoint,
			LastToken: s.token,
			Attempts:  s.current + 1,
			Err:       fmt.Errorf("failed to decode page: %w", err),
		}
	}
	return &page, nil
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func transportOrDefault(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}

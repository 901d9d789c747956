// Package jules is a client for the Jules agent API. It paces
// every request through a shared rate governor, retries
// transient failures without limit and walks paginated
// collections.
package jules

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/iHildy/jules-wrapped/internal/clock"
	"github.com/iHildy/jules-wrapped/internal/metrics"
	"github.com/iHildy/jules-wrapped/internal/ratelimit"
)

const (
	// DefaultBaseURL is the public Jules API endpoint.
	DefaultBaseURL = "https://jules.googleapis.com/v1alpha"

	// APIKeyHeader carries the API key.
	APIKeyHeader = "X-Goog-Api-Key"

	defaultPageSize = 100
	defaultTimeout  = 10 * time.Second
)

// ErrTooManyAttempts is returned when Options.MaxAttempts is set
// and a call keeps failing with retryable outcomes.
var ErrTooManyAttempts = errors.New("retry attempts exhausted")

// APIError is a non-retryable HTTP failure. It aborts the whole
// collection run.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("jules api: %s %s: %s", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf(
		"jules api: %s %s: %s: %s", e.Method, e.Path, e.Status, body,
	)
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Governor   *ratelimit.Governor
	Clock      clock.Clock
	Observer   ratelimit.Observer
	Logger     zerolog.Logger

	// PageSize is sent as pageSize on list calls (default 100).
	PageSize int
	// MaxPages, when positive, fails a listing that has not
	// finished after that many pages. Zero means unlimited.
	MaxPages int
	// MaxAttempts, when positive, caps retries of one call.
	// Zero means retry until success or a permanent failure.
	MaxAttempts int
	// Timeout bounds a single HTTP call (default 10s).
	Timeout time.Duration
	// Jitter returns a uniform value in [0, 1). Defaults to
	// math/rand.
	Jitter func() float64
}

// Client talks to the Jules API.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	gov         *ratelimit.Governor
	clock       clock.Clock
	observer    ratelimit.Observer
	logger      zerolog.Logger
	pageSize    int
	maxPages    int
	maxAttempts int
	timeout     time.Duration
	backoff     backoff

	// rateNoticed is set after the first 429 of the run.
	rateNoticed atomic.Bool
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	gov := opts.Governor
	if gov == nil {
		gov = ratelimit.NewGovernor(
			ratelimit.WithClock(clk),
			ratelimit.WithObserver(opts.Observer),
		)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:     baseURL,
		apiKey:      opts.APIKey,
		httpClient:  httpClient,
		gov:         gov,
		clock:       clk,
		observer:    opts.Observer,
		logger:      opts.Logger,
		pageSize:    pageSize,
		maxPages:    opts.MaxPages,
		maxAttempts: opts.MaxAttempts,
		timeout:     timeout,
		backoff:     newBackoff(opts.Jitter),
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Governor returns the rate governor shared by this client.
func (c *Client) Governor() *ratelimit.Governor { return c.gov }

// callState is a step of the per-call retry state machine.
type callState int

const (
	stateScheduling callState = iota
	stateSending
	stateSuccess
	stateRateLimited
	stateTransient
	stateNetwork
	statePermanent
)

var stateNames = [...]string{
	"scheduling", "sending", "success", "rate_limited",
	"transient", "network", "permanent",
}

func (s callState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// response is the part of an HTTP response the state machine
// needs once the connection is closed.
type response struct {
	statusCode int
	status     string
	header     http.Header
	body       []byte
}

// classify maps the outcome of one send to the next state.
func classify(res *response, err error) callState {
	if err != nil {
		return stateNetwork
	}
	switch {
	case res.statusCode >= 200 && res.statusCode < 300:
		return stateSuccess
	case res.statusCode == http.StatusTooManyRequests:
		return stateRateLimited
	case res.statusCode == http.StatusInternalServerError,
		res.statusCode == http.StatusBadGateway,
		res.statusCode == http.StatusServiceUnavailable,
		res.statusCode == http.StatusGatewayTimeout:
		return stateTransient
	default:
		return statePermanent
	}
}

// Get issues a governed GET for path and returns the response
// body. Retryable outcomes (429, 500, 502, 503, 504, network
// errors) are retried indefinitely unless MaxAttempts is set;
// any other non-2xx status returns an *APIError. An empty or
// non-JSON success body is returned as "{}".
func (c *Client) Get(
	ctx context.Context, path string, query url.Values,
) ([]byte, error) {
	var (
		attempt int
		res     *response
		sendErr error
		started time.Time
	)
	state := stateScheduling
	for {
		switch state {
		case stateScheduling:
			if c.maxAttempts > 0 && attempt >= c.maxAttempts {
				return nil, fmt.Errorf(
					"GET %s after %d attempts: %w",
					path, attempt, ErrTooManyAttempts,
				)
			}
			if err := c.gov.Schedule(ctx); err != nil {
				return nil, err
			}
			state = stateSending

		case stateSending:
			started = time.Now()
			res, sendErr = c.send(ctx, path, query)
			if sendErr != nil && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			state = classify(res, sendErr)
			metrics.RequestsTotal.WithLabelValues(state.String()).Inc()
			metrics.RequestDuration.WithLabelValues(state.String()).
				Observe(time.Since(started).Seconds())

		case stateSuccess:
			return lenientBody(res.body), nil

		case stateRateLimited:
			c.gov.Adapt(res.body)
			delay := c.delay(res, attempt)
			attempt++
			c.gov.CoolDown(delay)
			metrics.RetriesTotal.WithLabelValues("rate_limited").Inc()
			if c.rateNoticed.CompareAndSwap(false, true) {
				ratelimit.Emit(c.observer, ratelimit.Event{
					Kind: ratelimit.EventNotice,
					Message: "Hit the API rate limit; slowing down " +
						"and retrying automatically.",
				})
			}
			c.retry(path, fmt.Sprintf(
				"Rate limited (HTTP 429). Retrying in %s (attempt %d, %d req/min).",
				roundDelay(delay), attempt, c.gov.RPM(),
			))
			state = stateScheduling

		case stateTransient, stateNetwork:
			delay := c.delay(res, attempt)
			attempt++
			var msg string
			if state == stateNetwork {
				metrics.RetriesTotal.WithLabelValues("network").Inc()
				msg = fmt.Sprintf(
					"Network error (%v). Retrying in %s (attempt %d).",
					sendErr, roundDelay(delay), attempt,
				)
			} else {
				metrics.RetriesTotal.WithLabelValues("server_error").Inc()
				msg = fmt.Sprintf(
					"Server error (HTTP %d). Retrying in %s (attempt %d).",
					res.statusCode, roundDelay(delay), attempt,
				)
			}
			c.retry(path, msg)
			if err := clock.Sleep(ctx, c.clock, delay); err != nil {
				return nil, err
			}
			state = stateScheduling

		case statePermanent:
			return nil, &APIError{
				Method:     http.MethodGet,
				Path:       path,
				StatusCode: res.statusCode,
				Status:     res.status,
				Body:       string(res.body),
			}
		}
	}
}

func (c *Client) retry(path, msg string) {
	c.logger.Debug().Str("path", path).Msg(msg)
	ratelimit.Emit(c.observer, ratelimit.Event{
		Kind:    ratelimit.EventRetry,
		Message: msg,
	})
}

// delay prefers a Retry-After hint from res over the computed
// backoff for attempt. The result is clamped to the backoff
// bounds either way.
func (c *Client) delay(res *response, attempt int) time.Duration {
	if res != nil {
		if hint, ok := parseRetryAfter(
			res.header.Get("Retry-After"), c.clock.Now(),
		); ok {
			return clampDelay(hint)
		}
	}
	return c.backoff.next(attempt)
}

// send performs one HTTP round trip bounded by the per-call
// timeout and reads the whole body.
func (c *Client) send(
	ctx context.Context, path string, query url.Values,
) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("api response")
	return &response{
		statusCode: resp.StatusCode,
		status:     resp.Status,
		header:     resp.Header,
		body:       body,
	}, nil
}

var emptyObject = []byte("{}")

func lenientBody(body []byte) []byte {
	if len(bytes.TrimSpace(body)) == 0 || !gjson.ValidBytes(body) {
		return emptyObject
	}
	return body
}

func roundDelay(d time.Duration) time.Duration {
	return d.Round(100 * time.Millisecond)
}

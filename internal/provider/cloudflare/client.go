package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cloudflare/cloudflare-go"

	"github.com/evanofslack/dns-prefix-sync/internal/metrics"
)

type Httper interface {
	Do(req *http.Request) (*http.Response, error)
}

// Backoff bounds the retries of a single call. Delays grow as
// Base * 2^retry and never exceed Cap.
type Backoff struct {
	Retries int
	Base    time.Duration
	Cap     time.Duration
}

var DefaultBackoff = Backoff{Retries: 3, Base: time.Second, Cap: 8 * time.Second}

// Response is the provider's JSON envelope. Error is only set for failures
// synthesized locally, when no usable envelope came back.
type Response struct {
	cloudflare.Response
	Result     json.RawMessage        `json:"result"`
	ResultInfo *cloudflare.ResultInfo `json:"result_info,omitempty"`
	Error      string                 `json:"error,omitempty"`
	StatusCode int                    `json:"-"`
}

// Err returns nil for a successful response and an *APIError otherwise.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	return &APIError{StatusCode: r.StatusCode, Errors: r.Errors, Message: r.Error}
}

type APIError struct {
	StatusCode int
	Errors     []cloudflare.ResponseInfo
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case len(e.Errors) > 0:
		msgs := make([]string, 0, len(e.Errors))
		for _, ri := range e.Errors {
			msgs = append(msgs, fmt.Sprintf("[%d] %s", ri.Code, ri.Message))
		}
		return fmt.Sprintf("cloudflare api error (status %d): %s", e.StatusCode, strings.Join(msgs, ", "))
	case e.StatusCode == http.StatusTooManyRequests:
		return "cloudflare api rate limited (status 429)"
	default:
		return fmt.Sprintf("cloudflare api request unsuccessful (status %d)", e.StatusCode)
	}
}

func failure(status int, err error) Response {
	return Response{StatusCode: status, Error: err.Error()}
}

// Client issues authenticated calls against the provider API, retrying
// transport errors, rate limiting and unsuccessful envelopes.
type Client struct {
	baseURL string
	email   string
	apiKey  string
	http    Httper
	backoff Backoff
	metrics *metrics.Metrics

	// notify observes every scheduled retry delay.
	notify func(err error, delay time.Duration)
}

func NewClient(baseURL, email, apiKey string, httpClient Httper, policy Backoff, metrics *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   email,
		apiKey:  apiKey,
		http:    httpClient,
		backoff: policy,
		metrics: metrics,
	}
}

// Do performs method on path, which may carry a query string. A non-nil
// body is sent as JSON. Attempts are sequential; after the last retry the
// final failure is returned as is.
func (c *Client) Do(ctx context.Context, method, path string, body any) Response {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return failure(0, fmt.Errorf("marshal request body: %w", err))
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.backoff.Base
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = c.backoff.Cap

	var last Response
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		last = c.attempt(ctx, method, path, payload)
		return struct{}{}, last.Err()
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.backoff.Retries+1)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.Debug("Retrying DNS provider request", "method", method, "path", path, "attempt", attempt, "delay", delay, "error", err)
			c.metrics.IncDNSRetry(method)
			if c.notify != nil {
				c.notify(err, delay)
			}
		}),
	)
	if err != nil {
		slog.Debug("DNS provider request failed", "method", method, "path", path, "attempts", attempt, "error", err)
	}
	return last
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) Response {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return failure(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("X-Auth-Email", c.email)
	req.Header.Set("X-Auth-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.IncDNSRequest(method, 0)
		return failure(0, err)
	}
	defer resp.Body.Close()
	c.metrics.IncDNSRequest(method, resp.StatusCode)

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return failure(resp.StatusCode, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err))
	}
	out.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusTooManyRequests {
		out.Success = false
	}
	slog.Debug("DNS provider request", "method", method, "path", path, "status", resp.StatusCode, "success", out.Success, "duration", time.Since(start))
	return out
}

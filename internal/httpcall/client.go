// Package httpcall implements the outbound HTTP client used for model and
// judge endpoints: one logical call with bounded retry on transport failures
// and per-attempt latency measurement. HTTP error statuses are not retried;
// interpreting them is the caller's job.
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/AlbusWei/auto-ai-testing/internal/core/errors"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBackoffBase = 600 * time.Millisecond

	contentTypeJSON = "application/json"
)

// Request describes one outbound call. When JSON is non-nil it is marshaled
// as the body with Content-Type application/json; otherwise Raw is sent as-is.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Query  url.Values
	JSON   any
	Raw    []byte
}

// Response is the ephemeral result of one call. ElapsedMS covers only the
// attempt that produced this response, measured on the monotonic clock.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	ElapsedMS  float64
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Snippet returns up to n bytes of the body for error messages.
func (r *Response) Snippet(n int) string {
	if len(r.Body) <= n {
		return string(r.Body)
	}

	return string(r.Body[:n])
}

// ContentType returns the response Content-Type header.
func (r *Response) ContentType() string {
	if r.Header == nil {
		return ""
	}

	return r.Header.Get("Content-Type")
}

// Config controls retry and timeout behavior.
type Config struct {
	Timeout     time.Duration // per-attempt timeout
	MaxAttempts int           // total attempts, including the first
	BackoffBase time.Duration // linear backoff factor; sleep = BackoffBase * attempt
	RPS         float64       // outbound requests per second; 0 disables throttling
}

// Client issues HTTP calls with linear-backoff retry on transport errors.
// A non-2xx response is a successful call from this client's point of view.
type Client struct {
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	limiter     *rate.Limiter
}

// New builds a Client, applying defaults for unset config fields.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	backoff := cfg.BackoffBase
	if backoff <= 0 {
		backoff = defaultBackoffBase
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: attempts,
		backoffBase: backoff,
		limiter:     limiter,
	}
}

// Do performs the call. It retries only transport-level failures (DNS,
// connection refused, timeout), sleeping backoffBase * attemptNumber before
// each retry. After maxAttempts consecutive failures the last error is
// returned wrapped with ErrTransport.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	callURL := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(callURL, "?") {
			sep = "&"
		}

		callURL += sep + req.Query.Encode()
	}

	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			if err = c.sleep(ctx, time.Duration(attempt-1)*c.backoffBase); err != nil {
				return nil, err
			}
		}

		if c.limiter != nil {
			if err = c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
		}

		res, attemptErr := c.attempt(ctx, req.Method, callURL, req.Header, contentType, body)
		if attemptErr == nil {
			return res, nil
		}

		lastErr = attemptErr
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", apperrors.ErrTransport, c.maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, callURL string, header http.Header, contentType string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, callURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()

	httpRes, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = httpRes.Body.Close()
	}()

	resBody, err := io.ReadAll(httpRes.Body)
	elapsed := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: httpRes.StatusCode,
		Body:       resBody,
		Header:     httpRes.Header,
		ElapsedMS:  float64(elapsed) / float64(time.Millisecond),
	}, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func encodeBody(req Request) ([]byte, string, error) {
	if req.JSON != nil {
		body, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("marshal request body: %w", err)
		}

		return body, contentTypeJSON, nil
	}

	if req.Raw != nil {
		return req.Raw, "", nil
	}

	return nil, "", nil
}

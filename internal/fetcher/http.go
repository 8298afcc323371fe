// Package fetcher performs rate-limited, retrying HTTP GETs against
// upstream data providers.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/sportsfeed/internal/resilience"
)

// maxBody bounds how much of a response body is read.
const maxBody = 16 << 20

// Options configures a Client.
type Options struct {
	UserAgent string
	// Timeout bounds each attempt. The caller's context bounds the whole call.
	Timeout time.Duration
	// MaxAttempts is the number of tries per call. Metered sources use 1 so
	// that a retry never spends quota twice.
	MaxAttempts int
	// Limiters holds adaptive per-host limiters. Hosts without one share a
	// default limiter.
	Limiters map[string]*AdaptiveLimiter
	// SecretParams are query parameters redacted from logs and errors.
	SecretParams []string
}

// ErrNotSent marks a failure that happened before any request left the
// process, such as a rate limiter wait that would outlast the deadline.
var ErrNotSent = eris.New("fetcher: request not sent")

// NotSentError wraps a failure that matches ErrNotSent.
type NotSentError struct {
	Err error
}

func (e *NotSentError) Error() string { return e.Err.Error() }

func (e *NotSentError) Unwrap() []error { return []error{ErrNotSent, e.Err} }

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is returned for non-2xx responses. The response is kept so
// callers can inspect provider headers.
type StatusError struct {
	URL      string
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetcher: http %d from %s", e.Response.StatusCode, e.URL)
}

// Client is a small HTTP GET client with rate limiting and retry.
type Client struct {
	http     *http.Client
	opts     Options
	fallback *rate.Limiter
}

// New returns a Client with defaults applied.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "sportsfeed/1.0"
	}
	if opts.Limiters == nil {
		opts.Limiters = DefaultLimiters()
	}
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		fallback: rate.NewLimiter(20, 20),
	}
}

// Get fetches rawURL with the query parameters added. Non-2xx responses are
// returned as *StatusError; 408, 429 and 5xx are retried while attempts
// remain.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &NotSentError{Err: eris.Wrapf(err, "fetcher: parse url %s", rawURL)}
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	safeURL := c.redact(u)
	adaptive := c.opts.Limiters[u.Host]

	policy := resilience.RetryPolicy{
		MaxAttempts:    c.opts.MaxAttempts,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Jitter:         0.5,
		OnRetry:        resilience.LogRetry(u.Host),
	}

	sent := false
	resp, err := resilience.Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		if adaptive != nil {
			if err := adaptive.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "fetcher: rate limiter wait")
			}
		} else if err := c.fallback.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "application/json")

		sent = true
		resp, err := c.http.Do(req)
		if err != nil {
			// *url.Error embeds the full URL; keep secrets out of logs.
			return nil, eris.Wrapf(unwrapURLError(err), "fetcher: get %s", safeURL)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, resilience.Transient(eris.Wrapf(err, "fetcher: read body from %s", safeURL), resp.StatusCode)
		}
		out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if adaptive != nil {
				adaptive.OnSuccess()
			}
			return out, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			if adaptive != nil {
				adaptive.OnRateLimit()
			}
			return nil, resilience.Transient(&StatusError{URL: safeURL, Response: out}, resp.StatusCode)
		case resilience.IsTransientHTTPStatus(resp.StatusCode):
			return nil, resilience.Transient(&StatusError{URL: safeURL, Response: out}, resp.StatusCode)
		default:
			return nil, &StatusError{URL: safeURL, Response: out}
		}
	})
	if err != nil && !sent {
		return nil, &NotSentError{Err: err}
	}
	return resp, err
}

// GetJSON fetches rawURL and decodes the body into T.
func GetJSON[T any](ctx context.Context, c *Client, rawURL string, params url.Values) (*T, *Response, error) {
	resp, err := c.Get(ctx, rawURL, params)
	if err != nil {
		return nil, nil, err
	}
	v, err := DecodeJSON[T](resp.Body)
	if err != nil {
		return nil, resp, err
	}
	return v, resp, nil
}

// DecodeJSON decodes a single JSON document.
func DecodeJSON[T any](body []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, eris.Wrap(err, "fetcher: decode json")
	}
	return &v, nil
}

func (c *Client) redact(u *url.URL) string {
	if len(c.opts.SecretParams) == 0 {
		return u.String()
	}
	cp := *u
	q := cp.Query()
	for _, p := range c.opts.SecretParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
		}
	}
	cp.RawQuery = q.Encode()
	return cp.String()
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

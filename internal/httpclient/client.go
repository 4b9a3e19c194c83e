// Package httpclient is the JSON-over-HTTP transport shared by the Jira, Xray
// and Anthropic clients.
//
// Non-2xx responses come back as *StatusError, which unwraps to one of the
// sentinels in package errors so callers can write
//
//	if errors.IsUnauthorized(err) { ... }
//
// without knowing status codes.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teranos/storytest/errors"
)

// previewLimit bounds how much of an error body is kept on a StatusError
const previewLimit = 200

// Options configures a Client
type Options struct {
	Timeout time.Duration
	// BlockPrivateIP refuses requests to loopback, RFC 1918 and link-local addresses.
	// Leave off for self-hosted Jira on an internal network.
	BlockPrivateIP bool
	MaxRedirects   int
	UserAgent      string
}

// Client wraps http.Client with URL policy, JSON helpers and status mapping
type Client struct {
	http           *http.Client
	blockPrivateIP bool
	maxRedirects   int
	userAgent      string
}

// New creates a client from opts
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}

	c := &Client{
		http:           &http.Client{Timeout: opts.Timeout},
		blockPrivateIP: opts.BlockPrivateIP,
		maxRedirects:   opts.MaxRedirects,
		userAgent:      opts.UserAgent,
	}

	c.http.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		if err := c.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	if c.blockPrivateIP {
		c.http.Transport = guardedTransport()
	}

	return c
}

// Wrap adapts an existing http.Client without address blocking.
// Intended for httptest servers, which listen on loopback.
func Wrap(client *http.Client) *Client {
	return &Client{
		http:         client,
		maxRedirects: 10,
	}
}

// HTTP returns the underlying *http.Client
func (c *Client) HTTP() *http.Client {
	return c.http
}

// Do executes req after checking its URL against the address policy
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.http.Do(req)
}

// DoJSON sends in (when non-nil) as a JSON body and decodes a 2xx response into out
// (when non-nil). Non-2xx responses return a *StatusError.
func (c *Client) DoJSON(ctx context.Context, method, url string, headers http.Header, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request body")
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if in != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.WithStack(&StatusError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       Preview(respBody, previewLimit),
		})
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return errors.Newf("%s %s: empty response body", method, url)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrapf(err, "failed to decode response from %s (body: %s)", url, Preview(respBody, previewLimit))
	}
	return nil
}

// StatusError is a non-2xx HTTP response
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Unwrap maps the status code onto the errors package sentinels
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return errors.ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return errors.ErrNotFound
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity:
		return errors.ErrInvalidRequest
	case e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusGatewayTimeout:
		return errors.ErrTimeout
	case e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests:
		return errors.ErrServiceUnavailable
	}
	return nil
}

// Retryable reports whether the status suggests trying again later
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Preview returns at most limit bytes of body, marking truncation
func Preview(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}

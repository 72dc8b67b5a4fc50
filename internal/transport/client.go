// Package transport implements the authenticated HTTP client: JSON
// request/response framing against the mail service's REST API,
// transparent gzip/deflate response decompression, and the bounded retry
// policy shared by every service call.
package transport

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tuta-cli/tuta-export/internal/errs"
	"github.com/tuta-cli/tuta-export/internal/logging"
)

// Client wraps a *http.Client with the access-token header, response
// decompression, and retry policy every REST call against the service
// needs. An empty access token sends unauthenticated requests, used for
// SaltService/SessionService during login.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	Retry   RetryConfig

	// tokenMu guards accessToken: a silent re-login swaps the token while
	// pipeline workers are mid-request on the same client.
	tokenMu     sync.RWMutex
	accessToken string
}

// New builds a Client pointed at baseURL (e.g. "https://app.tuta.com/rest")
// with the given per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		HTTP: &http.Client{
			Timeout: timeout,
		},
		BaseURL: baseURL,
		Retry:   DefaultRetryConfig,
	}
}

// SetAccessToken installs token on this client. The session controller
// calls it once after login and again after a silent re-login; every
// caller sharing the client picks the new token up on its next request.
func (c *Client) SetAccessToken(token string) {
	c.tokenMu.Lock()
	c.accessToken = token
	c.tokenMu.Unlock()
}

// AccessToken reports the token currently installed on the client.
func (c *Client) AccessToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.accessToken
}

// WithAccessToken returns a new client sharing the receiver's pool,
// base URL, and retry policy but carrying its own token.
func (c *Client) WithAccessToken(token string) *Client {
	cp := &Client{HTTP: c.HTTP, BaseURL: c.BaseURL, Retry: c.Retry}
	cp.accessToken = token
	return cp
}

// Get issues a GET against path (relative to BaseURL) and decodes the
// JSON response body into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON-encoded body and decodes the JSON
// response into out. A nil out discards the response body after
// validating the status code.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// GetRawURL fetches an absolute URL (used for blob-server downloads,
// which live on a host distinct from BaseURL) and returns the decoded
// response body verbatim, bypassing JSON unmarshalling.
func (c *Client) GetRawURL(ctx context.Context, url string) ([]byte, error) {
	op := "GET " + url
	var result []byte
	err := withRetry(ctx, c.Retry, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept-Encoding", "gzip, deflate")
		if token := c.AccessToken(); token != "" {
			req.Header.Set("accessToken", token)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return &retryableError{err: err}
		}
		defer resp.Body.Close()

		reader, err := decompress(resp)
		if err != nil {
			return err
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return &retryableError{err: fmt.Errorf("read response body: %w", err)}
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			result = body
			return nil
		case resp.StatusCode == http.StatusUnauthorized:
			return ErrUnauthorized
		case resp.StatusCode == http.StatusTooManyRequests:
			return &retryableError{
				err:        fmt.Errorf("rate limited (status %d)", resp.StatusCode),
				retryAfter: retryAfterDuration(resp.Header.Get("Retry-After")),
			}
		case resp.StatusCode >= 500:
			return &retryableError{err: fmt.Errorf("server error (status %d): %s", resp.StatusCode, body)}
		default:
			return &TerminalHTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		}
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := fmt.Sprintf("%s %s", method, path)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errs.New(errs.KindCodec, op, err)
		}
	}

	err := withRetry(ctx, c.Retry, op, func() error {
		return c.attempt(ctx, method, path, payload, out)
	})
	if err != nil {
		return classify(op, err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, joinURL(c.BaseURL, path), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("accessToken", token)
	}

	logging.Trace("%s %s", method, path)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &retryableError{err: err}
	}
	defer resp.Body.Close()

	reader, err := decompress(resp)
	if err != nil {
		return err
	}
	rawBody, err := io.ReadAll(reader)
	if err != nil {
		return &retryableError{err: fmt.Errorf("read response body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(rawBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(rawBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized

	case resp.StatusCode == http.StatusTooManyRequests:
		return &retryableError{
			err:        fmt.Errorf("rate limited (status %d)", resp.StatusCode),
			retryAfter: retryAfterDuration(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode >= 500:
		return &retryableError{err: fmt.Errorf("server error (status %d): %s", resp.StatusCode, rawBody)}

	default:
		return &TerminalHTTPError{StatusCode: resp.StatusCode, Body: string(rawBody)}
	}
}

// decompress wraps resp.Body according to Content-Encoding. "br" is
// deliberately unhandled: no example repo in the retrieval pack carries
// a brotli decoder, and the service in practice only ever sends gzip or
// identity for JSON responses (see DESIGN.md).
func decompress(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip response: %w", err)
		}
		return gz, nil
	case "deflate":
		return flate.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// joinURL concatenates base and path with exactly one separating slash,
// regardless of which side (if either) already carries one.
func joinURL(base, path string) string {
	base = strings.TrimSuffix(base, "/")
	path = strings.TrimPrefix(path, "/")
	return base + "/" + path
}

func retryAfterDuration(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		return time.Until(when)
	}
	return 0
}

// classify maps a post-retry failure onto the errs.Kind taxonomy so the
// CLI's exit code logic never has to inspect transport internals.
func classify(op string, err error) error {
	switch err.(type) {
	case *TerminalHTTPError:
		return errs.New(errs.KindHTTP, op, err)
	}
	if err == ErrUnauthorized {
		return errs.New(errs.KindAuth, op, err)
	}
	return errs.New(errs.KindNetwork, op, err)
}

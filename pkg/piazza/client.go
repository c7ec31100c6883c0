// Copyright 2024-2026 Aiku AI

// Package piazza is a minimal client for the Piazza JSON-RPC API used by the
// web interface at /logic/api.
package piazza

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the Piazza API host.
const DefaultBaseURL = "https://piazza.com"

// maxResponseSize bounds how much of an API response is read (8 MB).
const maxResponseSize = 8 << 20

// ErrNotLoggedIn is returned when a call needs a session and Login has not succeeded.
var ErrNotLoggedIn = errors.New("not logged in to Piazza")

// RequestError is an error reported by the Piazza API itself, as opposed to
// a transport failure.
type RequestError struct {
	Method  string
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("piazza %s: %s", e.Method, e.Message)
}

// sessionExpired reports whether the API rejected the call for lack of a
// valid session.
func (e *RequestError) sessionExpired() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "not logged in") || strings.Contains(msg, "log in again")
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Client talks to the Piazza API on behalf of one account. It is safe for
// concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu       sync.RWMutex
	csrf     string
	email    string
	password string
}

// NewClient creates a client with its own cookie jar.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid Piazza base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Jar: jar, Timeout: timeout},
		log:     opts.Logger.With().Str("component", "piazza").Logger(),
	}, nil
}

// Login starts a session. The credentials are kept so an expired session
// can be renewed transparently.
func (c *Client) Login(ctx context.Context, email, password string) error {
	if _, err := c.do(ctx, "user.login", map[string]any{"email": email, "pass": password}); err != nil {
		return fmt.Errorf("failed to log in to Piazza: %w", err)
	}

	c.mu.Lock()
	c.email, c.password = email, password
	c.csrf = c.sessionCookie()
	c.mu.Unlock()

	c.log.Info().Str("email", email).Msg("Logged in to Piazza")
	return nil
}

// LoggedIn reports whether Login has succeeded.
func (c *Client) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.email != ""
}

// sessionCookie returns the session_id cookie value, which the API also
// expects back as a CSRF token header.
func (c *Client) sessionCookie() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	for _, cookie := range c.http.Jar.Cookies(u) {
		if cookie.Name == "session_id" {
			return cookie.Value
		}
	}
	return ""
}

// call performs an authenticated RPC, logging in again once if the session
// has expired.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	if !c.LoggedIn() {
		return gjson.Result{}, ErrNotLoggedIn
	}
	result, err := c.do(ctx, method, params)

	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.sessionExpired() {
		c.mu.RLock()
		email, password := c.email, c.password
		c.mu.RUnlock()

		c.log.Warn().Str("method", method).Msg("Piazza session expired, logging in again")
		if loginErr := c.Login(ctx, email, password); loginErr != nil {
			return gjson.Result{}, loginErr
		}
		result, err = c.do(ctx, method, params)
	}
	return result, err
}

// do sends one RPC and returns its "result" member.
func (c *Client) do(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	body, err := json.Marshal(map[string]any{"method": method, "params": params})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	endpoint := c.baseURL + "/logic/api?method=" + url.QueryEscape(method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.csrf != "" {
		req.Header.Set("CSRF-Token", c.csrf)
	}
	c.mu.RUnlock()

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("piazza %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	c.log.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Piazza API call")

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("piazza %s: unexpected HTTP status %d", method, resp.StatusCode)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("piazza %s: invalid JSON response", method)
	}

	parsed := gjson.ParseBytes(data)
	if apiErr := parsed.Get("error"); apiErr.Exists() && apiErr.Type != gjson.Null {
		return gjson.Result{}, &RequestError{Method: method, Message: apiErr.String()}
	}
	return parsed.Get("result"), nil
}

// Package apiclient talks to the parts backend.
//
// Credentials travel two ways: cookies set by the backend (kept in the cookie jar)
// and a bearer header built from the token store. A 401 on a protected endpoint
// triggers one shared refresh cycle, after which the request is replayed once.
package apiclient

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
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/partsearch/internal/logger"
	"github.com/nkiryanov/partsearch/internal/models"
)

const (
	DefaultBaseURL = "http://localhost:8000/api"

	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "partsearch"

	PathLogin   = "/accounts/login/"
	PathRefresh = "/accounts/token/refresh/"
	PathProfile = "/accounts/profile/"
	PathLogout  = "/accounts/logout/"

	PathRegister             = "/accounts/register/"
	PathChangePassword       = "/accounts/change-password/"
	PathPasswordReset        = "/accounts/password-reset/"
	PathPasswordResetConfirm = "/accounts/password-reset/confirm/"
)

// Endpoints that answer 401 for a legit reason (bad password, dead refresh token).
// Refreshing on them makes no sense and would loop.
var noRefreshPaths = []string{PathLogin, PathRegister, PathRefresh}

// TokenStore is where the bearer credential lives
type TokenStore interface {
	Get(ctx context.Context) string
	Set(ctx context.Context, token string)
}

type Config struct {
	// Backend base address, e.g. http://localhost:8000/api
	BaseURL string

	// Per-attempt timeout. If not set than default is used
	Timeout time.Duration

	UserAgent string
}

type Client struct {
	baseURL   string
	userAgent string

	http      *http.Client
	store     TokenStore
	refresher *Coordinator
	logger    logger.Logger

	redirector Redirector
}

type Option func(*Client)

// WithHTTPClient replaces the transport. A cookie jar is added if the client has none
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRedirector sets who is told to go to sign-in when the session can't be recovered
func WithRedirector(r Redirector) Option {
	return func(c *Client) { c.redirector = r }
}

func New(cfg Config, store TokenStore, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("token store must not be nil")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	c := &Client{
		baseURL:   strings.TrimRight(base.String(), "/"),
		userAgent: cfg.UserAgent,
		store:     store,
		logger:    logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("error while creating cookie jar. Err: %w", err)
		}
		c.http.Jar = jar
	}

	c.refresher = NewCoordinator(c.refreshAccess, store, c.redirector, c.logger)

	return c, nil
}

// Coordinator exposes the refresh state machine, mostly for inspection
func (c *Client) Coordinator() *Coordinator {
	return c.refresher
}

// Store returns the token store the client reads credentials from
func (c *Client) Store() TokenStore {
	return c.store
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPatch, path, body, out)
}

// Do sends JSON body and decodes a 2xx JSON answer into out (out may be nil).
// Non 2xx answers come back as *Error.
func (c *Client) Do(ctx context.Context, method string, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error while encoding request body. Err: %w", err)
		}
	}

	resp, sentToken, err := c.send(ctx, method, path, payload, false)
	if err != nil {
		return err
	}

	if resp.statusCode == http.StatusUnauthorized && !skipRefresh(path) {
		current := c.store.Get(ctx)

		// Someone already finished a refresh after this request went out: just replay
		if current == "" || current == sentToken {
			if err := c.refresher.Await(ctx); err != nil {
				return err
			}
		}

		resp, _, err = c.send(ctx, method, path, payload, true)
		if err != nil {
			return err
		}
	}

	return resp.decode(method, path, out)
}

type response struct {
	statusCode int
	header     http.Header
	body       []byte
}

func (r response) decode(method string, path string, out any) error {
	if r.statusCode < 200 || r.statusCode > 299 {
		return newError(method, path, r)
	}
	if out == nil || len(bytes.TrimSpace(r.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("error while decoding %s %s response. Err: %w", method, path, err)
	}
	return nil
}

// send makes one attempt and returns the token it was sent with
func (c *Client) send(ctx context.Context, method string, path string, payload []byte, retry bool) (response, string, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return response{}, "", fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)

	token := c.store.Get(ctx)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("API request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return response{}, token, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, token, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug(
		"API request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"request_id", requestID,
		"retry", retry,
	)

	return response{statusCode: resp.StatusCode, header: resp.Header, body: data}, token, nil
}

// refreshAccess asks for a new access token. The refresh cookie does the auth;
// the answer may carry the access value for the header fallback.
func (c *Client) refreshAccess(ctx context.Context) (string, error) {
	resp, _, err := c.send(ctx, http.MethodPost, PathRefresh, []byte("{}"), false)
	if err != nil {
		return "", err
	}

	var r models.RefreshResponse
	if err := resp.decode(http.MethodPost, PathRefresh, &r); err != nil {
		return "", err
	}
	return r.Access, nil
}

func skipRefresh(path string) bool {
	for _, p := range noRefreshPaths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

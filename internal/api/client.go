// Package api is the OpsFlow Guardian backend client. Every resource call
// decodes the backend's {success, data} envelope; an unsuccessful envelope,
// a non-2xx status, and a transport error are all reported as errors so the
// refresher can keep its previous snapshot.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/kingrea/opsflow/internal/session"
)

const (
	// DefaultBaseURL matches the backend's local development address.
	DefaultBaseURL = "http://localhost:8000/api/v1"
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 15 * time.Second
	// DefaultCacheTTL bounds how long detail lookups are reused.
	DefaultCacheTTL = 30 * time.Second

	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 4 << 20
)

var (
	// ErrAuthRequired is returned when a call needs a bearer token and none is
	// stored, and when the backend answers 401. Callers send the user to login.
	ErrAuthRequired = errors.New("api: authentication required")
	// ErrUnsuccessful is returned when the envelope reports success=false.
	ErrUnsuccessful = errors.New("api: backend reported failure")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("api: %s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is lets errors.Is(err, ErrAuthRequired) match a 401 from the backend.
func (e *StatusError) Is(target error) bool {
	return target == ErrAuthRequired && e.StatusCode == http.StatusUnauthorized
}

// Logger records client diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger injects a logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock lets tests control relative time labels and token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheTTL sets how long detail and template lookups are reused. Zero
// disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// Client talks to the backend on behalf of the stored session.
type Client struct {
	baseURL  string
	http     *http.Client
	session  session.Provider
	logger   Logger
	now      func() time.Time
	cacheTTL time.Duration
	cache    *cache.Cache
}

// New builds a client for baseURL. An empty baseURL uses DefaultBaseURL.
func New(baseURL string, provider session.Provider, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("api: invalid base url %q", baseURL)
	}
	if provider == nil {
		return nil, fmt.Errorf("api: session provider is required")
	}
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: DefaultTimeout},
		session:  provider,
		logger:   nopLogger{},
		now:      time.Now,
		cacheTTL: DefaultCacheTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.cacheTTL > 0 {
		c.cache = cache.New(c.cacheTTL, 2*c.cacheTTL)
	}
	return c, nil
}

// BaseURL returns the normalized backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type authMode int

const (
	// authOptional attaches the bearer header when a credential is stored.
	authOptional authMode = iota
	// authRequired refuses locally when no credential is stored.
	authRequired
	// authNone never attaches credentials.
	authNone
)

type call struct {
	method string
	path   string
	query  url.Values
	body   any
	auth   authMode
}

// envelope is the backend's standard response wrapper. Detail carries
// FastAPI's HTTPException message.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
}

// send performs one request and returns the raw response body after the
// status check.
func (c *Client) send(ctx context.Context, cl call) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var cred session.Credential
	var signedIn bool
	if cl.auth != authNone {
		cred, signedIn = c.session.Credential()
	}
	if cl.auth == authRequired && !signedIn {
		return nil, fmt.Errorf("api: %s %s: %w", cl.method, cl.path, ErrAuthRequired)
	}
	var body io.Reader
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("api: encode %s body: %w", cl.path, err)
		}
		body = bytes.NewReader(payload)
	}
	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	if signedIn {
		cred.OAuth2Token().SetAuthHeader(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", cl.method, cl.path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("api: read %s: %w", cl.path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     cl.method,
			Path:       cl.path,
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(raw),
		}
	}
	return raw, nil
}

// do sends the call and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	raw, err := c.send(ctx, cl)
	if err != nil {
		return err
	}
	data, err := unwrap(cl.path, raw)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decode %s: %w", cl.path, err)
	}
	return nil
}

func unwrap(path string, raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("api: decode %s envelope: %w", path, err)
	}
	if env.Success != nil && !*env.Success {
		reason := firstNonEmpty(env.Message, env.Detail)
		if reason == "" {
			return nil, fmt.Errorf("api: %s: %w", path, ErrUnsuccessful)
		}
		return nil, fmt.Errorf("api: %s: %w: %s", path, ErrUnsuccessful, reason)
	}
	return env.Data, nil
}

// cached returns a cached value or loads and stores it.
func cached[T any](c *Client, key string, load func() (T, error)) (T, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			if typed, ok := v.(T); ok {
				return typed, nil
			}
		}
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	if c.cache != nil {
		c.cache.Set(key, v, cache.DefaultExpiration)
	}
	return v, nil
}

// invalidate drops cached lookups after a mutation.
func (c *Client) invalidate(keys ...string) {
	if c.cache == nil {
		return
	}
	if len(keys) == 0 {
		c.cache.Flush()
		return
	}
	for _, key := range keys {
		c.cache.Delete(key)
	}
}

func errorDetail(raw []byte) string {
	var env envelope
	if json.Unmarshal(raw, &env) == nil {
		if msg := firstNonEmpty(env.Detail, env.Message); msg != "" {
			return msg
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func escape(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Package authbridge runs the loopback HTTP listener that receives the
// browser redirect at the end of Google sign-in and trades the authorization
// code for a stored session.
package authbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kingrea/opsflow/internal/session"
)

// CallbackPath is where the browser lands after consent.
const CallbackPath = "/auth/callback"

// Status is the callback's lifecycle state.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// RetryHint tells the user how to start over after a failed callback.
const RetryHint = "Run `opsflow login --google` to try again."

const (
	msgAccessDenied = "Access denied. You need to grant permission to continue."
	msgMissingCode  = "Authorization code not received. Please try again."
	msgFailed       = "Authentication failed"
)

// Outcome is the terminal result of a callback.
type Outcome struct {
	Status  Status
	User    session.User
	Message string
	Hint    string
}

// Exchanger trades an authorization code for a credential and stores it.
// api.Client implements it.
type Exchanger interface {
	ExchangeOAuthCode(ctx context.Context, code, state string) (session.Credential, error)
}

// Logger records bridge diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Server wraps the HTTP listener serving the callback.
type Server struct {
	settings  Settings
	exchanger Exchanger
	logger    Logger
	clock     func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    Status
	claimed   bool
	startTime time.Time

	once     sync.Once
	outcomes chan Outcome
}

// NewServer prepares a callback server using the provided settings.
func NewServer(settings Settings, exchanger Exchanger, opts ...Option) *Server {
	s := &Server{
		settings:  settings,
		exchanger: exchanger,
		logger:    nopLogger{},
		clock:     func() time.Time { return time.Now().UTC() },
		status:    StatusProcessing,
		outcomes:  make(chan Outcome, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("authbridge: server is nil")
	}
	if s.exchanger == nil {
		return fmt.Errorf("authbridge: exchanger is required")
	}
	if err := s.settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("authbridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("authbridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	timeout := s.settings.exchangeTimeout()
	server := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: timeout,
		// Leave room to render the result page after a slow exchange.
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  timeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("authbridge: serve error: %v", err)
		}
	}()
	s.logger.Printf("authbridge: listening on %s", listener.Addr().String())
	return nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Head("/health", s.handleHealth)
	r.Get(CallbackPath, s.handleCallback)
	return r
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		addr = s.settings.Address()
	}
	return "http://" + addr
}

// CallbackURL is the redirect URI handed to the backend. Once started it
// carries the bound port, which matters when Settings.Port is 0.
func (s *Server) CallbackURL() string {
	if addr := s.Addr(); addr != "" {
		return redirectURI(addr)
	}
	return s.settings.RedirectURI()
}

// Status reports the callback state.
func (s *Server) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Wait blocks until the first callback resolves or ctx ends.
func (s *Server) Wait(ctx context.Context) (Outcome, error) {
	select {
	case outcome := <-s.outcomes:
		return outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	started := s.startTime
	s.mu.RUnlock()
	var uptime int64
	if !started.IsZero() {
		uptime = int64(s.clock().Sub(started).Seconds())
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: string(s.Status()), UptimeSeconds: uptime})
}

// claim reserves the callback for the first request to arrive.
func (s *Server) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return false
	}
	s.claimed = true
	return true
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !s.claim() {
		s.logger.Printf("authbridge: rejected repeated callback")
		writePage(w, http.StatusConflict, Outcome{Status: StatusFailed, Message: "This sign-in link was already used.", Hint: RetryHint})
		return
	}
	query := r.URL.Query()
	outcome := s.resolve(r.Context(), query.Get("code"), query.Get("state"), query.Get("error"))
	status := http.StatusOK
	if outcome.Status == StatusFailed {
		status = http.StatusBadRequest
	}
	s.finish(outcome)
	writePage(w, status, outcome)
}

func (s *Server) resolve(ctx context.Context, code, state, oauthErr string) Outcome {
	failed := func(msg string) Outcome {
		return Outcome{Status: StatusFailed, Message: msg, Hint: RetryHint}
	}
	if oauthErr = strings.TrimSpace(oauthErr); oauthErr != "" {
		if oauthErr == "access_denied" {
			return failed(msgAccessDenied)
		}
		return failed("OAuth error: " + oauthErr)
	}
	if strings.TrimSpace(code) == "" {
		return failed(msgMissingCode)
	}
	ctx, cancel := context.WithTimeout(ctx, s.settings.exchangeTimeout())
	defer cancel()
	cred, err := s.exchanger.ExchangeOAuthCode(ctx, code, state)
	if err != nil {
		s.logger.Printf("authbridge: code exchange failed: %v", err)
		return failed(msgFailed + ": " + err.Error())
	}
	return Outcome{Status: StatusSucceeded, User: cred.User}
}

func (s *Server) finish(outcome Outcome) {
	s.once.Do(func() {
		s.mu.Lock()
		s.status = outcome.Status
		s.mu.Unlock()
		s.outcomes <- outcome
		s.logger.Printf("authbridge: callback %s", outcome.Status)
	})
}

var pageTemplate = template.Must(template.New("callback").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>OpsFlow Guardian</title></head>
<body style="font-family: sans-serif; max-width: 32rem; margin: 4rem auto;">
{{if eq .Status "succeeded"}}
<h1>Signed in</h1>
<p>Signed in as {{.User.DisplayName}}{{if .User.Email}} ({{.User.Email}}){{end}}.</p>
<p>You can close this window and return to the terminal.</p>
{{else}}
<h1>There was a problem signing you in</h1>
<p>{{.Message}}</p>
<p>{{.Hint}}</p>
{{end}}
</body></html>
`))

func writePage(w http.ResponseWriter, status int, outcome Outcome) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, outcome)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

package authbridge

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kingrea/opsflow/internal/config"
	"github.com/kingrea/opsflow/internal/session"
)

type fakeExchanger struct {
	codes   chan string
	err     error
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeExchanger) ExchangeOAuthCode(_ context.Context, code, state string) (session.Credential, error) {
	f.calls.Add(1)
	if f.codes != nil {
		f.codes <- code + "|" + state
	}
	if f.entered != nil {
		close(f.entered)
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return session.Credential{}, f.err
	}
	return session.Credential{
		Token: "google-token-123",
		User:  session.User{ID: "u-1", Email: "admin@opsflow.com", Name: "Admin"},
	}, nil
}

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("OPSFLOW_CALLBACK_PORT", "9001")
	t.Setenv("OPSFLOW_CALLBACK_HOST", "localhost")
	settings := SettingsFromConfig(&config.Config{})
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.RedirectURI() != "http://localhost:9001/auth/callback" {
		t.Fatalf("unexpected redirect URI %s", settings.RedirectURI())
	}
}

func TestSettingsFromConfigReadsCallbackSection(t *testing.T) {
	t.Setenv("OPSFLOW_CALLBACK_PORT", "")
	t.Setenv("OPSFLOW_CALLBACK_HOST", "")
	cfg := &config.Config{Project: config.ProjectConfig{Callback: config.CallbackConfig{Host: "::1", Port: 9100}}}
	settings := SettingsFromConfig(cfg)
	if settings.RedirectURI() != "http://[::1]:9100/auth/callback" {
		t.Fatalf("unexpected redirect URI %s", settings.RedirectURI())
	}
	if err := settings.Validate(); err != nil {
		t.Fatalf("ipv6 loopback should be accepted: %v", err)
	}
}

func TestValidateRejectsNonLoopbackHosts(t *testing.T) {
	for _, host := range []string{"0.0.0.0", "192.168.1.20", "opsflow.example.com", ""} {
		err := Settings{Host: host, Port: DefaultPort}.Validate()
		if !errors.Is(err, ErrNotLoopback) {
			t.Fatalf("host %q: expected ErrNotLoopback, got %v", host, err)
		}
	}
	srv := NewServer(Settings{Host: "0.0.0.0", Port: 0}, &fakeExchanger{})
	if err := srv.Start(context.Background()); !errors.Is(err, ErrNotLoopback) {
		t.Fatalf("start must refuse a public bind address, got %v", err)
	}
}

func TestSettingsFromConfigDefaults(t *testing.T) {
	t.Setenv("OPSFLOW_CALLBACK_PORT", "not-a-port")
	t.Setenv("OPSFLOW_CALLBACK_HOST", "")
	settings := SettingsFromConfig(nil)
	if settings.Address() != "127.0.0.1:8765" {
		t.Fatalf("unexpected default address %s", settings.Address())
	}
	if settings.ExchangeTimeout != DefaultExchangeTimeout {
		t.Fatalf("expected default exchange timeout, got %s", settings.ExchangeTimeout)
	}
}

func startServer(t *testing.T, exchanger Exchanger) *Server {
	t.Helper()
	settings := Settings{Host: "127.0.0.1", Port: 0, ExchangeTimeout: time.Second}
	srv := NewServer(settings, exchanger)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func waitOutcome(t *testing.T, srv *Server) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := srv.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return outcome
}

func TestCallbackExchangesCode(t *testing.T) {
	t.Parallel()
	exchanger := &fakeExchanger{codes: make(chan string, 1)}
	srv := startServer(t, exchanger)

	status, _ := get(t, srv.BaseURL()+"/health")
	if status != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", status)
	}
	status, body := get(t, srv.CallbackURL()+"?code=abc&state=xyz")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if got := <-exchanger.codes; got != "abc|xyz" {
		t.Fatalf("unexpected exchange args %q", got)
	}
	if !strings.Contains(body, "admin@opsflow.com") {
		t.Fatalf("expected user on page, got %s", body)
	}
	outcome := waitOutcome(t, srv)
	if outcome.Status != StatusSucceeded || outcome.User.ID != "u-1" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if srv.Status() != StatusSucceeded {
		t.Fatalf("expected succeeded status, got %s", srv.Status())
	}

	status, _ = get(t, srv.CallbackURL()+"?code=again")
	if status != http.StatusConflict {
		t.Fatalf("expected replayed callback to conflict, got %d", status)
	}
}

func TestConcurrentCallbacksExchangeOnce(t *testing.T) {
	t.Parallel()
	exchanger := &fakeExchanger{entered: make(chan struct{}), release: make(chan struct{})}
	srv := startServer(t, exchanger)

	first := make(chan int, 1)
	go func() {
		resp, err := http.Get(srv.CallbackURL() + "?code=c")
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	<-exchanger.entered

	status, _ := get(t, srv.CallbackURL()+"?code=c")
	if status != http.StatusConflict {
		t.Fatalf("second callback during the exchange should conflict, got %d", status)
	}
	close(exchanger.release)
	if got := <-first; got != http.StatusOK {
		t.Fatalf("first callback should succeed, got %d", got)
	}
	if n := exchanger.calls.Load(); n != 1 {
		t.Fatalf("expected one exchange, got %d", n)
	}
	if outcome := waitOutcome(t, srv); outcome.Status != StatusSucceeded {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestCallbackFailures(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		query     string
		exchanger *fakeExchanger
		message   string
	}{
		{name: "denied", query: "?error=access_denied", exchanger: &fakeExchanger{}, message: "Access denied. You need to grant permission to continue."},
		{name: "provider error", query: "?error=server_error", exchanger: &fakeExchanger{}, message: "OAuth error: server_error"},
		{name: "missing code", query: "?state=xyz", exchanger: &fakeExchanger{}, message: "Authorization code not received. Please try again."},
		{name: "exchange error", query: "?code=abc", exchanger: &fakeExchanger{err: errors.New("invalid grant")}, message: "Authentication failed: invalid grant"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := startServer(t, tc.exchanger)
			status, body := get(t, srv.CallbackURL()+tc.query)
			if status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", status)
			}
			if !strings.Contains(body, "opsflow login --google") {
				t.Fatalf("expected retry hint on page, got %s", body)
			}
			outcome := waitOutcome(t, srv)
			if outcome.Status != StatusFailed || outcome.Message != tc.message {
				t.Fatalf("unexpected outcome %+v", outcome)
			}
		})
	}
}

func TestStartRequiresExchanger(t *testing.T) {
	srv := NewServer(Settings{Host: "127.0.0.1"}, nil)
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected error without exchanger")
	}
}

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kingrea/opsflow/internal/session"
)

func TestLoginStoresNestedTokens(t *testing.T) {
	b := newStubBackend(t)
	b.json(http.MethodPost, "/api/v1/auth/login", http.StatusOK, `{
		"success": true,
		"user": {"user_id": "user-001", "email": "admin@opsflow.com", "name": "Admin User", "role": "administrator"},
		"tokens": {"access_token": "mock-jwt-token-1234", "token_type": "bearer", "expires_in": 3600, "refresh_token": "mock-refresh"}
	}`)
	fixed := time.Unix(1730000000, 0).UTC()
	client, provider := newTestClient(t, b, WithClock(func() time.Time { return fixed }))
	cred, err := client.Login(context.Background(), "admin@opsflow.com", "admin123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if cred.User.ID != "user-001" || cred.User.Role != "administrator" {
		t.Fatalf("unexpected user: %+v", cred.User)
	}
	if !cred.ExpiresAt.Equal(fixed.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", cred.ExpiresAt)
	}
	stored, ok := provider.Credential()
	if !ok || stored.Token != "mock-jwt-token-1234" || stored.RefreshToken != "mock-refresh" {
		t.Fatalf("credential not persisted: %+v ok=%v", stored, ok)
	}
	if b.calls()[0].Authorization != "" {
		t.Fatalf("login must not send a bearer header")
	}
}

func TestLoginAcceptsTopLevelTokens(t *testing.T) {
	b := newStubBackend(t)
	b.json(http.MethodPost, "/api/v1/auth/login", http.StatusOK,
		`{"access_token":"top-level-token-99","refresh_token":"r","user":{"id":"u-9","email":"x@y.z"}}`)
	client, provider := newTestClient(t, b)
	if _, err := client.Login(context.Background(), "x@y.z", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if cred, ok := provider.Credential(); !ok || cred.User.ID != "u-9" {
		t.Fatalf("expected stored credential, got %+v", cred)
	}
}

func TestLoginFailureStoresNothing(t *testing.T) {
	b := newStubBackend(t)
	b.json(http.MethodPost, "/api/v1/auth/login", http.StatusUnauthorized, `{"detail":"Invalid credentials"}`)
	client, provider := newTestClient(t, b)
	_, err := client.Login(context.Background(), "admin@opsflow.com", "wrong")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Detail != "Invalid credentials" {
		t.Fatalf("expected invalid credentials error, got %v", err)
	}
	if _, ok := provider.Credential(); ok {
		t.Fatalf("failed login must not store a credential")
	}
	if _, err := client.Login(context.Background(), "", ""); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRegisterWithoutTokens(t *testing.T) {
	b := newStubBackend(t)
	b.json(http.MethodPost, "/api/v1/auth/register", http.StatusOK,
		`{"success":true,"message":"Registration successful. Please verify your email.","user":{"user_id":"user-7","email":"new@opsflow.com","name":"New","is_verified":false}}`)
	client, provider := newTestClient(t, b)
	reg, err := client.Register(context.Background(), RegisterRequest{Name: "New", Email: "new@opsflow.com", Password: "pw"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.SignedIn || reg.User.ID != "user-7" || reg.Message == "" {
		t.Fatalf("unexpected registration: %+v", reg)
	}
	if _, ok := provider.Credential(); ok {
		t.Fatalf("register without tokens must not sign in")
	}
}

func TestRefreshRejectedClearsCredential(t *testing.T) {
	b := newStubBackend(t)
	b.json(http.MethodPost, "/api/v1/auth/refresh", http.StatusUnauthorized, `{"detail":"bad refresh token"}`)
	client, provider := newTestClient(t, b)
	signIn(t, provider)
	if _, err := client.RefreshToken(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if _, ok := provider.Credential(); ok {
		t.Fatalf("rejected refresh must clear the credential")
	}
}

func TestRefreshServerErrorKeepsCredential(t *testing.T) {
	b := newStubBackend(t)
	b.json(http.MethodPost, "/api/v1/auth/refresh", http.StatusBadGateway, `upstream down`)
	client, provider := newTestClient(t, b)
	signIn(t, provider)
	client.RefreshToken(context.Background())
	if _, ok := provider.Credential(); !ok {
		t.Fatalf("transient refresh failure must keep the credential")
	}
}

func TestRefreshWithoutCredentialMakesNoCall(t *testing.T) {
	b := newStubBackend(t)
	client, _ := newTestClient(t, b)
	_, err := client.RefreshToken(context.Background())
	if !errors.Is(err, session.ErrNoCredential) || !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected no-credential refusal, got %v", err)
	}
	if len(b.calls()) != 0 {
		t.Fatalf("refresh without a credential must not reach the backend")
	}
}

func TestCurrentUserRefreshesOnceOn401(t *testing.T) {
	b := newStubBackend(t)
	var meCalls atomic.Int32
	b.handle(http.MethodGet, "/api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		meCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh-token-000001" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"detail":"expired"}`)
			return
		}
		io.WriteString(w, `{"success":true,"user":{"user_id":"user-001","email":"admin@opsflow.com","name":"Admin Renamed"}}`)
	})
	b.json(http.MethodPost, "/api/v1/auth/refresh", http.StatusOK,
		`{"success":true,"tokens":{"access_token":"fresh-token-000001","token_type":"bearer","expires_in":3600}}`)
	client, provider := newTestClient(t, b)
	signIn(t, provider)
	user, err := client.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if user.Name != "Admin Renamed" || meCalls.Load() != 2 {
		t.Fatalf("expected retry after refresh, got %+v after %d calls", user, meCalls.Load())
	}
	cred, ok := provider.Credential()
	if !ok || cred.Token != "fresh-token-000001" || cred.RefreshToken != "refresh-1" || cred.User.Name != "Admin Renamed" {
		t.Fatalf("unexpected stored credential: %+v", cred)
	}
}

func TestGoogleAuthURL(t *testing.T) {
	b := newStubBackend(t)
	var redirect string
	b.handle(http.MethodGet, "/api/v1/auth/google/url", func(w http.ResponseWriter, r *http.Request) {
		redirect = r.URL.Query().Get("redirect_uri")
		io.WriteString(w, `{"success":true,"data":{"auth_url":"https://accounts.google.com/o/oauth2/auth?x=1"}}`)
	})
	client, _ := newTestClient(t, b)
	u, err := client.GoogleAuthURL(context.Background(), "http://127.0.0.1:8765/auth/callback")
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	if u != "https://accounts.google.com/o/oauth2/auth?x=1" || redirect != "http://127.0.0.1:8765/auth/callback" {
		t.Fatalf("unexpected url %q redirect %q", u, redirect)
	}
}

func TestExchangeOAuthCodeStoresCredential(t *testing.T) {
	b := newStubBackend(t)
	b.json(http.MethodPost, "/api/v1/auth/google/callback", http.StatusOK,
		`{"access_token":"google-jwt-token-1","refresh_token":"g-refresh","token_type":"bearer","expires_in":3600,"user":{"id":"g-1","email":"g@opsflow.com","name":"G","picture":"p.png","email_verified":true}}`)
	client, provider := newTestClient(t, b)
	cred, err := client.ExchangeOAuthCode(context.Background(), "code-1", "state-1")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if !cred.User.EmailVerified || cred.User.Picture != "p.png" {
		t.Fatalf("unexpected user: %+v", cred.User)
	}
	if _, ok := provider.Credential(); !ok {
		t.Fatalf("expected credential to be stored")
	}
	if _, err := client.ExchangeOAuthCode(context.Background(), "", ""); err == nil {
		t.Fatalf("expected missing code error")
	}
}

func TestLogoutClearsEvenWhenCallFails(t *testing.T) {
	b := newStubBackend(t)
	b.json(http.MethodPost, "/api/v1/auth/logout", http.StatusInternalServerError, `{"detail":"Logout failed"}`)
	client, provider := newTestClient(t, b)
	signIn(t, provider)
	if err := client.Logout(context.Background()); err == nil {
		t.Fatalf("expected the call error to be reported")
	}
	if _, ok := provider.Credential(); ok {
		t.Fatalf("logout must always clear local state")
	}
	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("signed-out logout should be a no-op, got %v", err)
	}
	if n := len(b.calls()); n != 1 {
		t.Fatalf("expected one logout call, saw %d", n)
	}
}

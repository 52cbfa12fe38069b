package session

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/kingrea/opsflow/internal/storage"
)

func newTestProvider(t *testing.T) (*StoreProvider, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewStoreProvider(store, nil), store
}

func TestCredentialValidity(t *testing.T) {
	user := User{ID: "user-001", Email: "admin@opsflow.com"}
	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{name: "valid", cred: Credential{Token: "abc123456789", User: user}, want: true},
		{name: "token exactly threshold", cred: Credential{Token: "0123456789", User: user}, want: false},
		{name: "short token", cred: Credential{Token: "abc", User: user}, want: false},
		{name: "missing token", cred: Credential{User: user}, want: false},
		{name: "missing user", cred: Credential{Token: "abc123456789"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.Valid(); got != tt.want {
				t.Fatalf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProviderRoundTrip(t *testing.T) {
	p, _ := newTestProvider(t)
	if _, ok := p.Credential(); ok {
		t.Fatalf("expected no credential initially")
	}
	expiry := time.Unix(1730000000, 0).UTC()
	cred := Credential{
		Token:        "abc123456789",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		ExpiresAt:    expiry,
		User:         User{ID: "user-001", Email: "admin@opsflow.com", Name: "Admin User", Role: "administrator"},
	}
	if err := p.SetCredential(cred); err != nil {
		t.Fatalf("set credential: %v", err)
	}
	got, ok := p.Credential()
	if !ok {
		t.Fatalf("expected stored credential to be valid")
	}
	if got.Token != cred.Token || got.RefreshToken != "refresh-1" || !got.ExpiresAt.Equal(expiry) {
		t.Fatalf("unexpected credential: %+v", got)
	}
	if got.User != cred.User {
		t.Fatalf("unexpected user: %+v", got.User)
	}
	if err := p.ClearCredential(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := p.Credential(); ok {
		t.Fatalf("expected credential cleared")
	}
}

func TestProviderTreatsMalformedUserAsAbsent(t *testing.T) {
	p, store := newTestProvider(t)
	store.Set(keyToken, "abc123456789")
	for _, raw := range []string{"{corrupt", "null", `"just a string"`, "{}"} {
		store.Set(keyUser, raw)
		if _, ok := p.Credential(); ok {
			t.Fatalf("expected malformed user %q to read as signed out", raw)
		}
	}
}

func TestSetCredentialReplacesWholesale(t *testing.T) {
	p, _ := newTestProvider(t)
	first := Credential{Token: "first-token-123", RefreshToken: "r1", User: User{ID: "a", Email: "a@x"}}
	second := Credential{Token: "second-token-456", User: User{ID: "b", Email: "b@x"}}
	if err := p.SetCredential(first); err != nil {
		t.Fatalf("set first: %v", err)
	}
	if err := p.SetCredential(second); err != nil {
		t.Fatalf("set second: %v", err)
	}
	got, _ := p.Credential()
	if got.RefreshToken != "" || got.User.ID != "b" {
		t.Fatalf("expected wholesale replace, got %+v", got)
	}
}

func TestSetCredentialRequiresTokenAndUser(t *testing.T) {
	p, _ := newTestProvider(t)
	if err := p.SetCredential(Credential{User: User{ID: "a"}}); err == nil {
		t.Fatalf("expected missing token error")
	}
	if err := p.SetCredential(Credential{Token: "abc123456789"}); err == nil {
		t.Fatalf("expected missing user error")
	}
}

func TestOnboardingFlags(t *testing.T) {
	p, _ := newTestProvider(t)
	flags := NewFlags(p)
	if flags.FirstTimeUser() || flags.OnboardingCompleted() {
		t.Fatalf("expected flags unset")
	}
	if err := flags.CompleteOnboarding(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := flags.MarkFirstTimeUser(); err != nil {
		t.Fatalf("mark first time: %v", err)
	}
	if !flags.FirstTimeUser() || flags.OnboardingCompleted() {
		t.Fatalf("signup should set first-time and reset completion")
	}
	if err := flags.CompleteOnboarding(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if flags.FirstTimeUser() || !flags.OnboardingCompleted() {
		t.Fatalf("completion should clear first-time flag")
	}
}

func TestCompanyProfileCache(t *testing.T) {
	p, _ := newTestProvider(t)
	flags := NewFlags(p)
	if _, ok := flags.CachedCompanyProfile(); ok {
		t.Fatalf("expected empty cache")
	}
	if err := flags.CacheCompanyProfile([]byte(`{"company_name":"Acme"}`)); err != nil {
		t.Fatalf("cache: %v", err)
	}
	raw, ok := flags.CachedCompanyProfile()
	if !ok || string(raw) != `{"company_name":"Acme"}` {
		t.Fatalf("unexpected cache: %q", raw)
	}
}

func TestPeekClaims(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, _ := json.Marshal(map[string]any{"sub": "user-001", "email": "admin@opsflow.com", "exp": 1730003600, "iat": 1730000000})
	token := header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".c2lnbmF0dXJl"
	claims, err := PeekClaims(token)
	if err != nil {
		t.Fatalf("peek claims: %v", err)
	}
	if claims.Subject != "user-001" || claims.Email != "admin@opsflow.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt.Unix() != 1730003600 {
		t.Fatalf("unexpected expiry: %v", claims.ExpiresAt)
	}
	if _, err := PeekClaims("mock-jwt-token-not-a-jwt"); err == nil {
		t.Fatalf("expected opaque token to fail decoding")
	}
}

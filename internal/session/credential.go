// Package session owns the locally persisted login state: the bearer token,
// the denormalized user record, and the onboarding flags that ride along with
// them. It is the only package that knows the storage keys.
package session

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// MinTokenLength is the sanity threshold a stored token must exceed. It is a
// UI affordance, not validation: signatures and expiry are never checked here.
const MinTokenLength = 10

// ErrNoCredential signals that no usable credential is stored.
var ErrNoCredential = errors.New("session: no credential")

const (
	keyToken        = "auth_token"
	keyTokenMeta    = "auth_token_meta"
	keyUser         = "auth_user"
	keyOnboarded    = "onboarding_completed"
	keyFirstTime    = "first_time_user"
	keyCompanyCache = "company_profile"
)

// User is the denormalized user record returned by the backend at login.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          string `json:"role,omitempty"`
	Picture       string `json:"picture,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// IsZero reports whether the record carries no identity at all.
func (u User) IsZero() bool {
	return strings.TrimSpace(u.ID) == "" && strings.TrimSpace(u.Email) == ""
}

// DisplayName returns the best human label for the user.
func (u User) DisplayName() string {
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if email := strings.TrimSpace(u.Email); email != "" {
		return email
	}
	return u.ID
}

// Credential is the bearer token plus the user it was issued for. It is
// never mutated in place: callers replace it wholesale through a Provider.
type Credential struct {
	Token        string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         User
}

// Valid applies the presence rule: token present, user present, and the
// token longer than MinTokenLength.
func (c Credential) Valid() bool {
	if c.Token == "" || c.User.IsZero() {
		return false
	}
	return len(c.Token) > MinTokenLength
}

// OAuth2Token exposes the credential in the shape net/http helpers expect.
func (c Credential) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.Token,
		TokenType:    c.TokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       c.ExpiresAt,
	}
}

// tokenMeta holds the token fields that are not the bearer string itself.
type tokenMeta struct {
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

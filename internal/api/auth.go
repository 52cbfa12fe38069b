package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kingrea/opsflow/internal/session"
)

// RegisterRequest is the signup form.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Company  string `json:"company,omitempty"`
}

// Registration is the outcome of a signup. SignedIn is true when the backend
// issued tokens along with the account and the credential was stored.
type Registration struct {
	User     session.User
	SignedIn bool
	Message  string
}

type loginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// Login exchanges email and password for tokens and stores the credential.
func (c *Client) Login(ctx context.Context, email, password string) (session.Credential, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return session.Credential{}, fmt.Errorf("api: email and password are required")
	}
	raw, err := c.send(ctx, call{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   loginRequest{Email: email, Password: password},
		auth:   authNone,
	})
	if err != nil {
		return session.Credential{}, err
	}
	return c.storeAuth("/auth/login", raw)
}

// Register creates an account. The caller marks the profile as a first-time
// user so onboarding shows on the next dashboard visit.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (Registration, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return Registration{}, fmt.Errorf("api: name, email and password are required")
	}
	raw, err := c.send(ctx, call{method: http.MethodPost, path: "/auth/register", body: req, auth: authNone})
	if err != nil {
		return Registration{}, err
	}
	resp, err := decodeAuth(raw)
	if err != nil {
		return Registration{}, fmt.Errorf("api: decode /auth/register: %w", err)
	}
	if resp.Success != nil && !*resp.Success {
		return Registration{}, fmt.Errorf("api: /auth/register: %w", ErrUnsuccessful)
	}
	user := resp.user(raw)
	if user.IsZero() {
		user = session.User{Email: req.Email, Name: req.Name}
	}
	out := Registration{User: user, Message: resp.Message}
	if _, ok := resp.tokens(); ok {
		if _, err := c.storeAuth("/auth/register", raw); err != nil {
			return out, err
		}
		out.SignedIn = true
	}
	return out, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken trades the stored refresh token for a new access token. A
// rejected refresh clears the stored credential; transport failures leave
// it alone.
func (c *Client) RefreshToken(ctx context.Context) (session.Credential, error) {
	cred, ok := c.session.Credential()
	if !ok {
		return session.Credential{}, fmt.Errorf("api: refresh: %w: %w", ErrAuthRequired, session.ErrNoCredential)
	}
	if cred.RefreshToken == "" {
		return session.Credential{}, fmt.Errorf("api: refresh: no refresh token: %w", ErrAuthRequired)
	}
	raw, err := c.send(ctx, call{
		method: http.MethodPost,
		path:   "/auth/refresh",
		body:   refreshRequest{RefreshToken: cred.RefreshToken},
		auth:   authNone,
	})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
			c.dropCredential("refresh rejected")
		}
		return session.Credential{}, err
	}
	resp, err := decodeAuth(raw)
	if err != nil {
		return session.Credential{}, fmt.Errorf("api: decode /auth/refresh: %w", err)
	}
	tokens, ok := resp.tokens()
	if (resp.Success != nil && !*resp.Success) || !ok {
		c.dropCredential("refresh returned no token")
		return session.Credential{}, fmt.Errorf("api: /auth/refresh: %w", ErrUnsuccessful)
	}
	next := c.credentialFrom(tokens, cred.User)
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}
	if err := c.session.SetCredential(next); err != nil {
		return session.Credential{}, err
	}
	return next, nil
}

// CurrentUser asks the backend who the token belongs to and refreshes the
// stored user record. A 401 triggers one token refresh and one retry.
func (c *Client) CurrentUser(ctx context.Context) (session.User, error) {
	user, err := c.fetchMe(ctx)
	if err == nil {
		return user, nil
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		return session.User{}, err
	}
	c.logger.Printf("api: /auth/me rejected the token; refreshing")
	if _, rerr := c.RefreshToken(ctx); rerr != nil {
		return session.User{}, rerr
	}
	return c.fetchMe(ctx)
}

func (c *Client) fetchMe(ctx context.Context) (session.User, error) {
	raw, err := c.send(ctx, call{method: http.MethodGet, path: "/auth/me", auth: authRequired})
	if err != nil {
		return session.User{}, err
	}
	resp, err := decodeAuth(raw)
	if err != nil {
		return session.User{}, fmt.Errorf("api: decode /auth/me: %w", err)
	}
	if resp.Success != nil && !*resp.Success {
		return session.User{}, fmt.Errorf("api: /auth/me: %w", ErrUnsuccessful)
	}
	user := resp.user(raw)
	if user.IsZero() {
		return session.User{}, fmt.Errorf("api: /auth/me: response carried no user")
	}
	if cred, ok := c.session.Credential(); ok {
		cred.User = user
		if err := c.session.SetCredential(cred); err != nil {
			return user, err
		}
	}
	return user, nil
}

type authURLResponse struct {
	AuthURL string `json:"auth_url"`
}

// GoogleAuthURL asks the backend for the Google consent URL. redirectURI, when
// set, tells the backend where Google should send the browser back to.
func (c *Client) GoogleAuthURL(ctx context.Context, redirectURI string) (string, error) {
	cl := call{method: http.MethodGet, path: "/auth/google/url", auth: authNone}
	if redirectURI = strings.TrimSpace(redirectURI); redirectURI != "" {
		cl.query = url.Values{"redirect_uri": {redirectURI}}
	}
	var out authURLResponse
	if err := c.do(ctx, cl, &out); err != nil {
		return "", err
	}
	if out.AuthURL == "" {
		return "", fmt.Errorf("api: /auth/google/url: response carried no auth_url")
	}
	return out.AuthURL, nil
}

type oauthExchangeRequest struct {
	Code  string `json:"code"`
	State string `json:"state,omitempty"`
}

// ExchangeOAuthCode trades an authorization code for tokens and stores the
// credential.
func (c *Client) ExchangeOAuthCode(ctx context.Context, code, state string) (session.Credential, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return session.Credential{}, fmt.Errorf("api: authorization code is required")
	}
	raw, err := c.send(ctx, call{
		method: http.MethodPost,
		path:   "/auth/google/callback",
		body:   oauthExchangeRequest{Code: code, State: strings.TrimSpace(state)},
		auth:   authNone,
	})
	if err != nil {
		return session.Credential{}, err
	}
	return c.storeAuth("/auth/google/callback", raw)
}

// Logout tells the backend to drop the session, then clears local state no
// matter how the call went. The returned error is informational.
func (c *Client) Logout(ctx context.Context) error {
	var callErr error
	if _, ok := c.session.Credential(); ok {
		_, callErr = c.send(ctx, call{method: http.MethodPost, path: "/auth/logout", auth: authRequired})
		if callErr != nil {
			c.logger.Printf("api: logout call failed: %v", callErr)
		}
	}
	if err := c.session.ClearCredential(); err != nil {
		return errors.Join(callErr, err)
	}
	c.invalidate()
	return callErr
}

func (c *Client) storeAuth(path string, raw []byte) (session.Credential, error) {
	resp, err := decodeAuth(raw)
	if err != nil {
		return session.Credential{}, fmt.Errorf("api: decode %s: %w", path, err)
	}
	if resp.Success != nil && !*resp.Success {
		return session.Credential{}, fmt.Errorf("api: %s: %w", path, ErrUnsuccessful)
	}
	tokens, ok := resp.tokens()
	if !ok {
		return session.Credential{}, fmt.Errorf("api: %s: response carried no access token", path)
	}
	user := resp.user(raw)
	if user.IsZero() {
		return session.Credential{}, fmt.Errorf("api: %s: response carried no user", path)
	}
	cred := c.credentialFrom(tokens, user)
	if err := c.session.SetCredential(cred); err != nil {
		return session.Credential{}, err
	}
	c.invalidate()
	return cred, nil
}

func (c *Client) credentialFrom(tokens tokenSet, user session.User) session.Credential {
	cred := session.Credential{
		Token:        tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		User:         user,
	}
	if tokens.ExpiresIn > 0 {
		cred.ExpiresAt = c.now().Add(time.Duration(tokens.ExpiresIn) * time.Second).UTC()
	}
	return cred
}

func (c *Client) dropCredential(reason string) {
	c.logger.Printf("api: clearing stored credential: %s", reason)
	if err := c.session.ClearCredential(); err != nil {
		c.logger.Printf("api: clear credential: %v", err)
	}
}

// user returns the user block, falling back to treating the whole body as a
// user record as /auth/me sometimes does.
func (r authResponse) user(raw []byte) session.User {
	rec := r.User
	if rec == nil {
		var bare userRecord
		if json.Unmarshal(raw, &bare) != nil {
			return session.User{}
		}
		rec = &bare
	}
	id := rec.ID
	if id == "" {
		id = rec.UserID
	}
	return session.User{
		ID:            id,
		Email:         rec.Email,
		Name:          rec.Name,
		Role:          rec.Role,
		Picture:       rec.Picture,
		EmailVerified: rec.EmailVerified || rec.IsVerified,
	}
}

package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kingrea/opsflow/internal/storage"
)

// Provider is the single access point for the persisted credential.
type Provider interface {
	// Credential returns the stored credential and whether it passes the
	// presence rule. Unreadable or malformed state reports ok=false.
	Credential() (Credential, bool)
	SetCredential(Credential) error
	ClearCredential() error
}

// Logger records diagnostic lines. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// StoreProvider implements Provider on top of a storage.Store.
type StoreProvider struct {
	store  storage.Store
	logger Logger
}

// NewStoreProvider wires a provider to store. logger may be nil.
func NewStoreProvider(store storage.Store, logger Logger) *StoreProvider {
	if logger == nil {
		logger = nopLogger{}
	}
	return &StoreProvider{store: store, logger: logger}
}

func (p *StoreProvider) Credential() (Credential, bool) {
	if p == nil || p.store == nil {
		return Credential{}, false
	}
	token, ok, err := p.store.Get(keyToken)
	if err != nil {
		p.logger.Printf("session: read token: %v", err)
		return Credential{}, false
	}
	if !ok || token == "" {
		return Credential{}, false
	}
	rawUser, ok, err := p.store.Get(keyUser)
	if err != nil {
		p.logger.Printf("session: read user: %v", err)
		return Credential{}, false
	}
	if !ok {
		return Credential{}, false
	}
	user, ok := decodeUser(rawUser)
	if !ok {
		p.logger.Printf("session: stored user record is malformed; treating as signed out")
		return Credential{}, false
	}
	cred := Credential{Token: token, User: user}
	if rawMeta, ok, err := p.store.Get(keyTokenMeta); err == nil && ok {
		var meta tokenMeta
		if json.Unmarshal([]byte(rawMeta), &meta) == nil {
			cred.RefreshToken = meta.RefreshToken
			cred.TokenType = meta.TokenType
			cred.ExpiresAt = meta.ExpiresAt
		}
	}
	return cred, cred.Valid()
}

func (p *StoreProvider) SetCredential(cred Credential) error {
	if strings.TrimSpace(cred.Token) == "" {
		return fmt.Errorf("session: token is required")
	}
	if cred.User.IsZero() {
		return fmt.Errorf("session: user record is required")
	}
	userJSON, err := json.Marshal(cred.User)
	if err != nil {
		return fmt.Errorf("session: encode user: %w", err)
	}
	metaJSON, err := json.Marshal(tokenMeta{
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		ExpiresAt:    cred.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("session: encode token meta: %w", err)
	}
	// Clear first so a failure midway never leaves a token paired with the
	// previous user.
	if err := p.ClearCredential(); err != nil {
		return err
	}
	if err := p.store.Set(keyUser, string(userJSON)); err != nil {
		return fmt.Errorf("session: write user: %w", err)
	}
	if err := p.store.Set(keyTokenMeta, string(metaJSON)); err != nil {
		return fmt.Errorf("session: write token meta: %w", err)
	}
	if err := p.store.Set(keyToken, cred.Token); err != nil {
		return fmt.Errorf("session: write token: %w", err)
	}
	return nil
}

func (p *StoreProvider) ClearCredential() error {
	if err := p.store.Delete(keyToken, keyTokenMeta, keyUser); err != nil {
		return fmt.Errorf("session: clear credential: %w", err)
	}
	return nil
}

func decodeUser(raw string) (User, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return User{}, false
	}
	var user *User
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user == nil {
		return User{}, false
	}
	if user.IsZero() {
		return User{}, false
	}
	return *user, true
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

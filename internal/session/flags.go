package session

import (
	"fmt"
	"strings"
)

// Flags reads and writes the onboarding markers and the company profile
// fallback cache. They share the credential's store but live independently
// of sign-in and sign-out.
type Flags struct {
	provider *StoreProvider
}

// NewFlags binds flag helpers to a provider's store.
func NewFlags(p *StoreProvider) Flags {
	return Flags{provider: p}
}

// FirstTimeUser reports whether signup marked this profile as new.
func (f Flags) FirstTimeUser() bool {
	return f.boolFlag(keyFirstTime)
}

// OnboardingCompleted reports whether onboarding was completed or skipped.
func (f Flags) OnboardingCompleted() bool {
	return f.boolFlag(keyOnboarded)
}

// MarkFirstTimeUser is called after a successful signup so onboarding shows
// on the next dashboard visit.
func (f Flags) MarkFirstTimeUser() error {
	store := f.provider.store
	if err := store.Set(keyFirstTime, "true"); err != nil {
		return fmt.Errorf("session: mark first-time user: %w", err)
	}
	if err := store.Delete(keyOnboarded); err != nil {
		return fmt.Errorf("session: reset onboarding: %w", err)
	}
	return nil
}

// CompleteOnboarding covers both completion and skip.
func (f Flags) CompleteOnboarding() error {
	store := f.provider.store
	if err := store.Set(keyOnboarded, "true"); err != nil {
		return fmt.Errorf("session: complete onboarding: %w", err)
	}
	if err := store.Delete(keyFirstTime); err != nil {
		return fmt.Errorf("session: clear first-time flag: %w", err)
	}
	return nil
}

// CacheCompanyProfile stores the last profile document the user submitted.
func (f Flags) CacheCompanyProfile(raw []byte) error {
	if err := f.provider.store.Set(keyCompanyCache, string(raw)); err != nil {
		return fmt.Errorf("session: cache company profile: %w", err)
	}
	return nil
}

// CachedCompanyProfile returns the cached profile document, if any.
func (f Flags) CachedCompanyProfile() ([]byte, bool) {
	raw, ok, err := f.provider.store.Get(keyCompanyCache)
	if err != nil || !ok || strings.TrimSpace(raw) == "" {
		return nil, false
	}
	return []byte(raw), true
}

func (f Flags) boolFlag(key string) bool {
	if f.provider == nil || f.provider.store == nil {
		return false
	}
	value, ok, err := f.provider.store.Get(key)
	if err != nil || !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(value), "true")
}

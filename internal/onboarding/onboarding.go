// Package onboarding decides when the company questionnaire is shown and
// records its completion.
package onboarding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kingrea/opsflow/internal/api"
	"github.com/kingrea/opsflow/internal/session"
)

// Profiles is the backend side of the questionnaire.
type Profiles interface {
	CompanyProfile(ctx context.Context) (api.CompanyProfile, bool, error)
	SaveCompanyProfile(ctx context.Context, profile api.CompanyProfile) error
}

// Logger records diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// ShouldShow applies the display rule. With a profile lookup error the
// profile question is skipped and only first-time users see it.
func ShouldShow(firstTime, completed, hasProfile bool, lookupErr error) bool {
	if completed {
		return false
	}
	if lookupErr != nil {
		return firstTime
	}
	return firstTime || !hasProfile
}

// Service ties the rule to stored flags and the backend.
type Service struct {
	flags    session.Flags
	profiles Profiles
	logger   Logger
}

// NewService builds a Service. logger may be nil.
func NewService(flags session.Flags, profiles Profiles, logger Logger) *Service {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Service{flags: flags, profiles: profiles, logger: logger}
}

// Pending reports whether onboarding should be shown now.
func (s *Service) Pending(ctx context.Context) bool {
	firstTime := s.flags.FirstTimeUser()
	completed := s.flags.OnboardingCompleted()
	if completed {
		return false
	}
	_, hasProfile, err := s.profiles.CompanyProfile(ctx)
	if err != nil {
		s.logger.Printf("onboarding: profile lookup failed: %v", err)
	}
	return ShouldShow(firstTime, completed, hasProfile, err)
}

// Draft returns the locally cached questionnaire, if any, for prefill.
func (s *Service) Draft() (api.CompanyProfile, bool) {
	raw, ok := s.flags.CachedCompanyProfile()
	if !ok {
		return api.CompanyProfile{}, false
	}
	var profile api.CompanyProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		s.logger.Printf("onboarding: cached profile is malformed: %v", err)
		return api.CompanyProfile{}, false
	}
	return profile, true
}

// Complete caches the answers locally, submits them, and marks onboarding
// done. A failed submit keeps onboarding pending; the cached answers survive
// so the user does not retype them.
func (s *Service) Complete(ctx context.Context, profile api.CompanyProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("onboarding: encode profile: %w", err)
	}
	if err := s.flags.CacheCompanyProfile(raw); err != nil {
		s.logger.Printf("onboarding: %v", err)
	}
	if err := s.profiles.SaveCompanyProfile(ctx, profile); err != nil {
		return fmt.Errorf("onboarding: save profile: %w", err)
	}
	return s.flags.CompleteOnboarding()
}

// Skip marks onboarding done without submitting anything.
func (s *Service) Skip() error {
	return s.flags.CompleteOnboarding()
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

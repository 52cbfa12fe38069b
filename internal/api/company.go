package api

import (
	"context"
	"errors"
	"net/http"
)

// CompanyProfile returns the stored onboarding questionnaire. ok is false
// when the backend has none on file, including a 404.
func (c *Client) CompanyProfile(ctx context.Context) (CompanyProfile, bool, error) {
	var out *CompanyProfile
	if err := c.do(ctx, call{method: http.MethodGet, path: "/company/profile", auth: authRequired}, &out); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return CompanyProfile{}, false, nil
		}
		return CompanyProfile{}, false, err
	}
	if out == nil || out.IsZero() {
		return CompanyProfile{}, false, nil
	}
	return *out, true, nil
}

// SaveCompanyProfile submits the onboarding questionnaire.
func (c *Client) SaveCompanyProfile(ctx context.Context, profile CompanyProfile) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/company/profile", body: profile, auth: authRequired}, nil)
}

package api

import (
	"context"
	"net/http"
)

// AuditEvents returns the audit trail, newest first as the backend orders it.
func (c *Client) AuditEvents(ctx context.Context) ([]AuditEvent, error) {
	var events []AuditEvent
	if err := c.do(ctx, call{method: http.MethodGet, path: "/audit"}, &events); err != nil {
		return nil, err
	}
	if events == nil {
		events = []AuditEvent{}
	}
	for i := range events {
		events[i].normalize()
	}
	return events, nil
}

// Analytics returns the dashboard summary. A response without data yields
// EmptyAnalytics rather than an error.
func (c *Client) Analytics(ctx context.Context) (Analytics, error) {
	summary := EmptyAnalytics()
	if err := c.do(ctx, call{method: http.MethodGet, path: "/analytics/dashboard"}, &summary); err != nil {
		return Analytics{}, err
	}
	summary.normalize()
	return summary, nil
}

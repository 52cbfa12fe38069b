package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// MaxNotifications caps the derived inbox.
	MaxNotifications = 10
	// recentAuditWindow is how many of the newest audit events are scanned.
	recentAuditWindow = 5
)

// Notifications derives the inbox from pending approvals and recent audit
// failures. Both sources are fetched concurrently; either failing fails the
// whole call so the caller keeps its previous inbox.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var (
		approvals []Approval
		events    []AuditEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		approvals, err = c.Approvals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		events, err = c.AuditEvents(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("api: derive notifications: %w", err)
	}
	return DeriveNotifications(approvals, events, c.now()), nil
}

// DeriveNotifications builds the inbox: one unread item per pending
// approval, then one item per error or critical event among the newest
// audit events, unread only when critical. At most MaxNotifications items
// are returned.
func DeriveNotifications(approvals []Approval, events []AuditEvent, now time.Time) []Notification {
	out := make([]Notification, 0, MaxNotifications)
	for _, approval := range approvals {
		if !approval.Pending() {
			continue
		}
		out = append(out, Notification{
			ID:       "approval-" + approval.ID,
			Type:     NotificationApproval,
			Title:    "Workflow Approval Required",
			Message:  approval.WorkflowName + " needs your approval",
			Time:     RelativeTime(approval.RequestDate, now),
			Unread:   true,
			Metadata: map[string]string{"approval_id": approval.ID},
		})
	}
	if len(events) > recentAuditWindow {
		events = events[:recentAuditWindow]
	}
	for _, event := range events {
		severity := strings.ToLower(event.Severity)
		if severity != "error" && severity != "critical" {
			continue
		}
		out = append(out, Notification{
			ID:       "audit-" + event.ID,
			Type:     NotificationError,
			Title:    event.EventType + " Error",
			Message:  event.Action,
			Time:     RelativeTime(event.Timestamp, now),
			Unread:   severity == "critical",
			Metadata: map[string]string{"event_id": event.ID},
		})
	}
	if len(out) > MaxNotifications {
		out = out[:MaxNotifications]
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC 3339 and the zone-less ISO form the backend
// emits for UTC times.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// RelativeTime renders a timestamp as "Just now", "N mins ago", "N hours ago"
// or "N days ago". Future times read as "Just now". Unparseable input is
// returned as-is.
func RelativeTime(timestamp string, now time.Time) string {
	t, ok := ParseTimestamp(timestamp)
	if !ok {
		return timestamp
	}
	diff := now.Sub(t)
	minutes := int(diff / time.Minute)
	hours := int(diff / time.Hour)
	days := int(diff / (24 * time.Hour))
	switch {
	case minutes < 1:
		return "Just now"
	case minutes < 60:
		return fmt.Sprintf("%d mins ago", minutes)
	case hours < 24:
		return fmt.Sprintf("%d hours ago", hours)
	default:
		return fmt.Sprintf("%d days ago", days)
	}
}

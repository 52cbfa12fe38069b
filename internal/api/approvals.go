package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Approvals lists approval requests, decided ones included.
func (c *Client) Approvals(ctx context.Context) ([]Approval, error) {
	var approvals []Approval
	if err := c.do(ctx, call{method: http.MethodGet, path: "/approvals"}, &approvals); err != nil {
		return nil, err
	}
	if approvals == nil {
		approvals = []Approval{}
	}
	for i := range approvals {
		approvals[i].normalize()
	}
	return approvals, nil
}

// ApproveWorkflow signs off on an approval request.
func (c *Client) ApproveWorkflow(ctx context.Context, approvalID string) error {
	if strings.TrimSpace(approvalID) == "" {
		return fmt.Errorf("api: approval id is required")
	}
	req := call{method: http.MethodPost, path: "/approvals/" + escape(approvalID) + "/approve", auth: authRequired}
	if err := c.do(ctx, req, nil); err != nil {
		return err
	}
	c.invalidate()
	return nil
}

type rejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RejectWorkflow declines an approval request. reason may be empty.
func (c *Client) RejectWorkflow(ctx context.Context, approvalID, reason string) error {
	if strings.TrimSpace(approvalID) == "" {
		return fmt.Errorf("api: approval id is required")
	}
	req := call{
		method: http.MethodPost,
		path:   "/approvals/" + escape(approvalID) + "/reject",
		body:   rejectRequest{Reason: strings.TrimSpace(reason)},
		auth:   authRequired,
	}
	if err := c.do(ctx, req, nil); err != nil {
		return err
	}
	c.invalidate()
	return nil
}

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const templatesCacheKey = "workflow-templates"

// defaultCreator is sent when the stored session carries no user id.
const defaultCreator = "current-user"

// Workflows lists every workflow.
func (c *Client) Workflows(ctx context.Context) ([]Workflow, error) {
	var workflows []Workflow
	if err := c.do(ctx, call{method: http.MethodGet, path: "/workflows"}, &workflows); err != nil {
		return nil, err
	}
	if workflows == nil {
		workflows = []Workflow{}
	}
	for i := range workflows {
		workflows[i].normalize()
	}
	return workflows, nil
}

// Workflow fetches a single workflow with its steps.
func (c *Client) Workflow(ctx context.Context, id string) (Workflow, error) {
	if id == "" {
		return Workflow{}, fmt.Errorf("api: workflow id is required")
	}
	return cached(c, "workflow:"+id, func() (Workflow, error) {
		var wf Workflow
		if err := c.do(ctx, call{method: http.MethodGet, path: "/workflows/" + escape(id)}, &wf); err != nil {
			return Workflow{}, err
		}
		wf.normalize()
		return wf, nil
	})
}

// WorkflowTemplates lists the starter templates.
func (c *Client) WorkflowTemplates(ctx context.Context) ([]WorkflowTemplate, error) {
	return cached(c, templatesCacheKey, func() ([]WorkflowTemplate, error) {
		var templates []WorkflowTemplate
		if err := c.do(ctx, call{method: http.MethodGet, path: "/workflows/templates"}, &templates); err != nil {
			return nil, err
		}
		if templates == nil {
			templates = []WorkflowTemplate{}
		}
		return templates, nil
	})
}

type createWorkflowRequest struct {
	Description string `json:"description"`
	UserID      string `json:"user_id"`
}

// CreateWorkflow asks the planner to turn a plain-language description into a
// workflow on behalf of the signed-in user.
func (c *Client) CreateWorkflow(ctx context.Context, description string) (Workflow, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Workflow{}, fmt.Errorf("api: workflow description is required")
	}
	userID := defaultCreator
	if cred, ok := c.session.Credential(); ok && cred.User.ID != "" {
		userID = cred.User.ID
	}
	req := call{
		method: http.MethodPost,
		path:   "/workflows/create",
		body:   createWorkflowRequest{Description: description, UserID: userID},
		auth:   authRequired,
	}
	var wf Workflow
	if err := c.do(ctx, req, &wf); err != nil {
		return Workflow{}, err
	}
	wf.normalize()
	return wf, nil
}

// ExecuteWorkflow starts an approved workflow.
func (c *Client) ExecuteWorkflow(ctx context.Context, id string) (Execution, error) {
	if id == "" {
		return Execution{}, fmt.Errorf("api: workflow id is required")
	}
	var exec Execution
	req := call{method: http.MethodPost, path: "/workflows/" + escape(id) + "/execute", auth: authRequired}
	if err := c.do(ctx, req, &exec); err != nil {
		return Execution{}, err
	}
	c.invalidate("workflow:" + id)
	return exec, nil
}

// WorkflowProgress reports live execution progress.
func (c *Client) WorkflowProgress(ctx context.Context, id string) (WorkflowStatus, error) {
	if id == "" {
		return WorkflowStatus{}, fmt.Errorf("api: workflow id is required")
	}
	var status WorkflowStatus
	if err := c.do(ctx, call{method: http.MethodGet, path: "/workflows/" + escape(id) + "/status"}, &status); err != nil {
		return WorkflowStatus{}, err
	}
	return status, nil
}

package api

import (
	"encoding/json"
	"strings"
)

// Performance is a resource usage triple reported for agents and the
// dashboard.
type Performance struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Network float64 `json:"network"`
}

// Agent is one automation agent.
type Agent struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Role            string       `json:"role"`
	Status          string       `json:"status"`
	Description     string       `json:"description"`
	CurrentTask     string       `json:"current_task,omitempty"`
	TasksCompleted  int          `json:"tasks_completed"`
	SuccessRate     float64      `json:"success_rate"`
	LastActive      string       `json:"last_active"`
	Capabilities    []string     `json:"capabilities"`
	AvgResponseTime float64      `json:"avg_response_time,omitempty"`
	Performance     *Performance `json:"performance,omitempty"`
}

func (a *Agent) normalize() {
	if a.Capabilities == nil {
		a.Capabilities = []string{}
	}
}

// AgentDraft is the body of POST /agents.
type AgentDraft struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// AgentStats summarizes the fleet. The zero value is what the dashboard
// shows when the endpoint is unavailable.
type AgentStats struct {
	ActiveAgents   int     `json:"activeAgents"`
	TotalTasks     int     `json:"totalTasks"`
	AvgSuccessRate float64 `json:"avgSuccessRate"`
}

// ResourceUsage is the per-agent metrics breakdown.
type ResourceUsage struct {
	CPUAvg     float64 `json:"cpu_avg"`
	MemoryAvg  float64 `json:"memory_avg"`
	NetworkIn  float64 `json:"network_in"`
	NetworkOut float64 `json:"network_out"`
}

// MetricsPoint is one sample on an agent's timeline.
type MetricsPoint struct {
	Timestamp   string  `json:"timestamp"`
	Tasks       int     `json:"tasks"`
	SuccessRate float64 `json:"success_rate"`
}

// AgentMetrics is returned by GET /agents/{id}/metrics.
type AgentMetrics struct {
	AgentID              string         `json:"agent_id"`
	Period               string         `json:"period"`
	TasksCompleted       int            `json:"tasks_completed"`
	TasksFailed          int            `json:"tasks_failed"`
	SuccessRate          float64        `json:"success_rate"`
	AverageExecutionTime float64        `json:"average_execution_time"`
	ResourceUsage        ResourceUsage  `json:"resource_usage"`
	Timeline             []MetricsPoint `json:"timeline"`
}

// WorkflowStep is one step of a workflow plan.
type WorkflowStep struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	StepOrder        int      `json:"step_order"`
	ToolIntegrations []string `json:"tool_integrations"`
	RiskLevel        string   `json:"risk_level"`
	RequiresApproval bool     `json:"requires_approval"`
	EstimatedMinutes int      `json:"estimated_duration"`
	Status           string   `json:"status"`
}

func (s *WorkflowStep) normalize() {
	if s.ToolIntegrations == nil {
		s.ToolIntegrations = []string{}
	}
}

// Workflow is a generated automation plan.
type Workflow struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Status           string         `json:"status"`
	CreatedAt        string         `json:"created_at"`
	CreatedBy        string         `json:"created_by"`
	RiskLevel        string         `json:"risk_level"`
	EstimatedMinutes int            `json:"estimated_duration"`
	Steps            []WorkflowStep `json:"steps"`
	ApprovalRequired bool           `json:"approval_required"`
	IntegrationsUsed []string       `json:"integrations_used"`
}

func (w *Workflow) normalize() {
	if w.Steps == nil {
		w.Steps = []WorkflowStep{}
	}
	for i := range w.Steps {
		w.Steps[i].normalize()
	}
	if w.IntegrationsUsed == nil {
		w.IntegrationsUsed = []string{}
	}
}

// WorkflowTemplate is kept loosely typed; the backend's template shape is
// not stable.
type WorkflowTemplate map[string]any

// Name returns the template's display name, if any.
func (t WorkflowTemplate) Name() string {
	for _, key := range []string{"name", "title", "id"} {
		if v, ok := t[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Prompt is the text to seed a workflow description with: the template's
// description, or its name when it has none.
func (t WorkflowTemplate) Prompt() string {
	for _, key := range []string{"description", "prompt"} {
		if v, ok := t[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return t.Name()
}

// Execution is returned by POST /workflows/{id}/execute.
type Execution struct {
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	Message     string `json:"message"`
}

// WorkflowStatus is returned by GET /workflows/{id}/status.
type WorkflowStatus struct {
	WorkflowID             string `json:"workflow_id"`
	Status                 string `json:"status"`
	Progress               int    `json:"progress"`
	CurrentStep            string `json:"current_step"`
	EstimatedTimeRemaining string `json:"estimated_time_remaining"`
	LastUpdated            string `json:"last_updated"`
}

// RiskAssessment explains why an approval is needed.
type RiskAssessment struct {
	Level      string   `json:"level"`
	Factors    []string `json:"factors"`
	Mitigation []string `json:"mitigation"`
}

// Approval is a pending or decided human sign-off on a workflow.
type Approval struct {
	ID                     string         `json:"id"`
	WorkflowID             string         `json:"workflow_id"`
	WorkflowName           string         `json:"workflow_name"`
	RequestedBy            string         `json:"requested_by"`
	RequestDate            string         `json:"request_date"`
	Status                 string         `json:"status"`
	Priority               string         `json:"priority"`
	RiskAssessment         RiskAssessment `json:"risk_assessment"`
	StepsRequiringApproval []WorkflowStep `json:"steps_requiring_approval"`
}

// Pending reports whether the approval still awaits a decision.
func (a Approval) Pending() bool {
	return a.Status == "pending"
}

func (a *Approval) normalize() {
	if a.RiskAssessment.Factors == nil {
		a.RiskAssessment.Factors = []string{}
	}
	if a.RiskAssessment.Mitigation == nil {
		a.RiskAssessment.Mitigation = []string{}
	}
	if a.StepsRequiringApproval == nil {
		a.StepsRequiringApproval = []WorkflowStep{}
	}
	for i := range a.StepsRequiringApproval {
		a.StepsRequiringApproval[i].normalize()
	}
}

// AuditEvent is one entry of the compliance trail.
type AuditEvent struct {
	ID               string         `json:"id"`
	Timestamp        string         `json:"timestamp"`
	EventType        string         `json:"event_type"`
	Severity         string         `json:"severity"`
	UserID           string         `json:"user_id,omitempty"`
	ResourceID       string         `json:"resource_id,omitempty"`
	Action           string         `json:"action"`
	Details          map[string]any `json:"details"`
	ComplianceStatus string         `json:"compliance_status"`
}

func (e *AuditEvent) normalize() {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
}

// Analytics is the dashboard summary.
type Analytics struct {
	TotalWorkflows   int          `json:"totalWorkflows"`
	SuccessRate      float64      `json:"successRate"`
	AvgExecutionTime string       `json:"avgExecutionTime"`
	TimeSaved        string       `json:"timeSaved"`
	ActiveAgents     int          `json:"activeAgents"`
	PendingApprovals int          `json:"pendingApprovals"`
	RecentActivity   []AuditEvent `json:"recentActivity"`
	Performance      Performance  `json:"performance"`
}

// EmptyAnalytics is the summary shown before the backend has answered.
func EmptyAnalytics() Analytics {
	return Analytics{
		AvgExecutionTime: "0m",
		TimeSaved:        "0h",
		RecentActivity:   []AuditEvent{},
	}
}

func (a *Analytics) normalize() {
	if a.AvgExecutionTime == "" {
		a.AvgExecutionTime = "0m"
	}
	if a.TimeSaved == "" {
		a.TimeSaved = "0h"
	}
	if a.RecentActivity == nil {
		a.RecentActivity = []AuditEvent{}
	}
	for i := range a.RecentActivity {
		a.RecentActivity[i].normalize()
	}
}

// Notification types derived on the client.
const (
	NotificationApproval = "approval"
	NotificationError    = "error"
)

// Notification is a derived inbox item.
type Notification struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Time     string            `json:"time"`
	Unread   bool              `json:"unread"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CompanyProfile is the onboarding questionnaire.
type CompanyProfile struct {
	CompanyName       string   `json:"companyName"`
	Industry          string   `json:"industry"`
	Size              string   `json:"size"`
	PrimaryGoals      []string `json:"primaryGoals"`
	AutomationNeeds   []string `json:"automationNeeds"`
	TechStack         []string `json:"techStack"`
	BusinessProcesses []string `json:"businessProcesses"`
	Description       string   `json:"description"`
}

// IsZero reports whether nothing was filled in.
func (p CompanyProfile) IsZero() bool {
	return p.CompanyName == "" && p.Industry == "" && p.Size == "" && p.Description == "" &&
		len(p.PrimaryGoals) == 0 && len(p.AutomationNeeds) == 0 &&
		len(p.TechStack) == 0 && len(p.BusinessProcesses) == 0
}

// userRecord accepts both the password login shape (user_id) and the
// Google shape (id).
type userRecord struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	Picture       string `json:"picture"`
	EmailVerified bool   `json:"email_verified"`
	IsVerified    bool   `json:"is_verified"`
}

// tokenSet is the token block of login, refresh and OAuth responses.
type tokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// authResponse covers the login, register, refresh and OAuth exchange
// responses. Tokens arrive either nested under "tokens" or at the top level.
type authResponse struct {
	Success *bool       `json:"success"`
	Message string      `json:"message"`
	User    *userRecord `json:"user"`
	Tokens  *tokenSet   `json:"tokens"`
	tokenSet
}

func decodeAuth(raw []byte) (authResponse, error) {
	var resp authResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// tokens returns whichever token block carries an access token.
func (r authResponse) tokens() (tokenSet, bool) {
	if r.Tokens != nil && r.Tokens.AccessToken != "" {
		return *r.Tokens, true
	}
	if r.AccessToken != "" {
		return r.tokenSet, true
	}
	return tokenSet{}, false
}

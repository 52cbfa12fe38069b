package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/opsflow/internal/api"
	"github.com/kingrea/opsflow/internal/config"
	"github.com/kingrea/opsflow/internal/gate"
	"github.com/kingrea/opsflow/internal/logbook"
	"github.com/kingrea/opsflow/internal/poller"
	"github.com/kingrea/opsflow/internal/session"
	"github.com/kingrea/opsflow/internal/storage"
)

var testUser = session.User{ID: "u-1", Email: "admin@opsflow.com", Name: "Admin"}

type fakeBackend struct {
	provider *session.StoreProvider

	mu            sync.Mutex
	approvals     []api.Approval
	approvalsHold chan struct{}
	approved      []string
	rejected      map[string]string
	created       []string
	hasProfile    bool
	logoutCalls   int
	mutationErr   error
}

func (f *fakeBackend) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutationErr
}

func (f *fakeBackend) Agent(_ context.Context, id string) (api.Agent, error) {
	return api.Agent{ID: id, Name: "Deployer", Role: "release", Status: "active", Capabilities: []string{}}, nil
}

func (f *fakeBackend) AgentMetrics(_ context.Context, id string) (api.AgentMetrics, error) {
	return api.AgentMetrics{AgentID: id, Period: "24h", TasksCompleted: 42, SuccessRate: 97.5, Timeline: []api.MetricsPoint{}}, nil
}

func (f *fakeBackend) Workflow(_ context.Context, id string) (api.Workflow, error) {
	return api.Workflow{ID: id, Name: "Provision", Steps: []api.WorkflowStep{{Name: "Create VM", StepOrder: 1}}}, nil
}

func (f *fakeBackend) WorkflowProgress(_ context.Context, id string) (api.WorkflowStatus, error) {
	return api.WorkflowStatus{WorkflowID: id, Status: "running", Progress: 40, CurrentStep: "Create VM"}, nil
}

func (f *fakeBackend) WorkflowTemplates(context.Context) ([]api.WorkflowTemplate, error) {
	return []api.WorkflowTemplate{
		{"name": "Backup", "description": "Back up the production database nightly"},
		{"name": "Rotate keys"},
	}, nil
}

func (f *fakeBackend) Agents(context.Context) ([]api.Agent, error) {
	return []api.Agent{{ID: "ag-1", Name: "Deployer", Status: "active", Capabilities: []string{}}}, nil
}

func (f *fakeBackend) AgentStats(context.Context) (api.AgentStats, error) {
	return api.AgentStats{ActiveAgents: 1}, nil
}

func (f *fakeBackend) Workflows(context.Context) ([]api.Workflow, error) {
	return []api.Workflow{{ID: "wf-1", Name: "Provision", Status: "pending"}}, nil
}

func (f *fakeBackend) CreateWorkflow(_ context.Context, description string) (api.Workflow, error) {
	if err := f.failure(); err != nil {
		return api.Workflow{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, description)
	return api.Workflow{ID: "wf-2", Description: description}, nil
}

func (f *fakeBackend) ExecuteWorkflow(_ context.Context, id string) (api.Execution, error) {
	return api.Execution{WorkflowID: id, Status: "running"}, nil
}

func (f *fakeBackend) Approvals(ctx context.Context) ([]api.Approval, error) {
	f.mu.Lock()
	hold := f.approvalsHold
	items := append([]api.Approval(nil), f.approvals...)
	f.mu.Unlock()
	if hold != nil {
		<-hold
	}
	return items, nil
}

func (f *fakeBackend) ApproveWorkflow(_ context.Context, id string) error {
	if err := f.failure(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, id)
	return nil
}

func (f *fakeBackend) RejectWorkflow(_ context.Context, id, reason string) error {
	if err := f.failure(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejected == nil {
		f.rejected = map[string]string{}
	}
	f.rejected[id] = reason
	return nil
}

func (f *fakeBackend) AuditEvents(context.Context) ([]api.AuditEvent, error) {
	return []api.AuditEvent{}, nil
}

func (f *fakeBackend) Analytics(context.Context) (api.Analytics, error) {
	return api.EmptyAnalytics(), nil
}

func (f *fakeBackend) Notifications(context.Context) ([]api.Notification, error) {
	return []api.Notification{}, nil
}

func (f *fakeBackend) Login(_ context.Context, email, password string) (session.Credential, error) {
	if password != "secret" {
		return session.Credential{}, errors.New("invalid credentials")
	}
	cred := session.Credential{Token: "login-token-123", User: testUser}
	return cred, f.provider.SetCredential(cred)
}

func (f *fakeBackend) Register(_ context.Context, req api.RegisterRequest) (api.Registration, error) {
	cred := session.Credential{Token: "signup-token-123", User: session.User{ID: "u-2", Email: req.Email, Name: req.Name}}
	if err := f.provider.SetCredential(cred); err != nil {
		return api.Registration{}, err
	}
	return api.Registration{User: cred.User, SignedIn: true}, nil
}

func (f *fakeBackend) Logout(context.Context) error {
	f.mu.Lock()
	f.logoutCalls++
	f.mu.Unlock()
	return f.provider.ClearCredential()
}

func (f *fakeBackend) CompanyProfile(context.Context) (api.CompanyProfile, bool, error) {
	if f.hasProfile {
		return api.CompanyProfile{CompanyName: "Acme"}, true, nil
	}
	return api.CompanyProfile{}, false, nil
}

func (f *fakeBackend) SaveCompanyProfile(context.Context, api.CompanyProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasProfile = true
	return nil
}

func newTestApp(t *testing.T, signedIn bool) (*App, *fakeBackend) {
	t.Helper()
	provider := session.NewStoreProvider(storage.NewMemoryStore(), nil)
	if signedIn {
		if err := provider.SetCredential(session.Credential{Token: "stored-token-123", User: testUser}); err != nil {
			t.Fatalf("seed credential: %v", err)
		}
	}
	backend := &fakeBackend{provider: provider, hasProfile: true}
	book, err := logbook.New(filepath.Join(t.TempDir(), "logs", logbook.FileName))
	if err != nil {
		t.Fatalf("logbook: %v", err)
	}
	cfg := &config.Config{Project: config.ProjectConfig{Polling: config.PollingConfig{
		Agents:        "1h",
		Workflows:     "1h",
		Approvals:     "1h",
		Audit:         "1h",
		Analytics:     "1h",
		Notifications: "1h",
	}}}
	app, err := NewApp(Deps{Config: cfg, Backend: backend, Session: provider, Logbook: book})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(app.Close)
	return app, backend
}

// pumpUntil applies feed results until one for resource arrives.
func pumpUntil(t *testing.T, app *App, resource string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-app.results:
			app.Update(msg)
			if msg.name == resource {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s result", resource)
		}
	}
}

// pumpAll applies feed results until every named feed has reported count
// times.
func pumpAll(t *testing.T, app *App, count int, names ...string) {
	t.Helper()
	want := map[string]int{}
	for _, n := range names {
		want[n] = count
	}
	deadline := time.After(2 * time.Second)
	for len(want) > 0 {
		select {
		case msg := <-app.results:
			app.Update(msg)
			if _, ok := want[msg.name]; ok {
				if want[msg.name]--; want[msg.name] == 0 {
					delete(want, msg.name)
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestProtectedRouteRedirectsToLogin(t *testing.T) {
	app, _ := newTestApp(t, false)
	app.navigate(routeApprovals)
	if app.route != gate.LoginPath {
		t.Fatalf("expected redirect to login, got %s", app.route)
	}
	if app.redirectFrom != routeApprovals {
		t.Fatalf("expected origin to be kept, got %q", app.redirectFrom)
	}
	if app.form == nil || app.form.kind != formLogin {
		t.Fatalf("expected login form to be mounted")
	}
	if len(app.feeds) != 0 {
		t.Fatalf("protected feeds must not start without a session")
	}
	if !strings.Contains(app.View(), "Sign in") {
		t.Fatalf("expected login screen, got %s", app.View())
	}
}

func TestLoginReturnsToOrigin(t *testing.T) {
	app, backend := newTestApp(t, false)
	backend.approvals = []api.Approval{{ID: "ap-1", WorkflowName: "Deploy", Status: "pending"}}
	app.navigate(routeApprovals)

	app.form.inputs[0].SetValue("admin@opsflow.com")
	app.form.inputs[1].SetValue("wrong")
	msg := app.submitForm()().(loginResultMsg)
	app.Update(msg)
	if app.route != gate.LoginPath || !strings.Contains(app.form.err, "invalid credentials") {
		t.Fatalf("expected failed login to stay on form, route=%s err=%q", app.route, app.form.err)
	}

	app.form.inputs[1].SetValue("secret")
	msg = app.submitForm()().(loginResultMsg)
	app.Update(msg)
	if app.route != routeApprovals {
		t.Fatalf("expected to land on origin, got %s", app.route)
	}
	pumpUntil(t, app, config.ResourceApprovals)
	if !app.approvals.loaded || len(app.approvals.data) != 1 {
		t.Fatalf("expected approvals to load, got %+v", app.approvals)
	}
}

func TestLateResultsFromUnmountedViewAreDropped(t *testing.T) {
	app, backend := newTestApp(t, true)
	hold := make(chan struct{})
	backend.approvalsHold = hold
	backend.approvals = []api.Approval{{ID: "ap-1", Status: "pending"}}

	app.navigate(routeApprovals)
	app.navigate(routeAudit)
	close(hold)

	deadline := time.After(2 * time.Second)
	seen := map[string]bool{}
	for !seen[config.ResourceApprovals] || !seen[config.ResourceAudit] {
		select {
		case msg := <-app.results:
			seen[msg.name] = true
			app.Update(msg)
		case <-deadline:
			t.Fatalf("timed out; saw %v", seen)
		}
	}
	if app.approvals.loaded {
		t.Fatalf("approvals result from the unmounted view must be ignored")
	}
	if !app.audit.loaded {
		t.Fatalf("audit result should apply")
	}
}

func TestPanelKeepsDataOnFailure(t *testing.T) {
	var p panel[[]string]
	if !p.loading() {
		t.Fatalf("new panel should be loading")
	}
	snap := poller.Snapshot[[]string]{Data: []string{"a"}, Loaded: true, Seq: 1}
	p.apply(poller.Result[[]string]{Snapshot: snap, Seq: 1})
	p.apply(poller.Result[[]string]{Snapshot: snap, Seq: 2, Err: errors.New("boom")})
	if p.loading() || len(p.data) != 1 || p.err == nil {
		t.Fatalf("expected retained data with error, got %+v", p)
	}
	if status := panelStatus(&p, "items"); !strings.Contains(status, "refresh failed") {
		t.Fatalf("unexpected status %q", status)
	}
}

func TestApproveAndReject(t *testing.T) {
	app, backend := newTestApp(t, true)
	backend.approvals = []api.Approval{
		{ID: "ap-1", WorkflowName: "Deploy", Status: "pending"},
		{ID: "ap-2", WorkflowName: "Rotate keys", Status: "pending"},
	}
	app.navigate(routeApprovals)
	pumpUntil(t, app, config.ResourceApprovals)
	app.boardFocus = focusContent

	_, cmd := app.Update(keyMsg("a"))
	if cmd == nil {
		t.Fatalf("expected approve command")
	}
	app.Update(cmd())
	if len(backend.approved) != 1 || backend.approved[0] != "ap-1" {
		t.Fatalf("unexpected approvals %v", backend.approved)
	}
	if app.statusMsg != "Approved Deploy" {
		t.Fatalf("unexpected status %q", app.statusMsg)
	}

	pumpUntil(t, app, config.ResourceApprovals)
	app.Update(keyMsg("down"))
	app.Update(keyMsg("x"))
	if app.prompt == nil {
		t.Fatalf("expected reject prompt")
	}
	app.Update(keyMsg("too risky"))
	_, cmd = app.Update(keyMsg("enter"))
	if cmd == nil {
		t.Fatalf("expected reject command")
	}
	app.Update(cmd())
	if got := backend.rejected["ap-2"]; got != "too risky" {
		t.Fatalf("unexpected reject reason %q", got)
	}
}

func TestAuthRefusalSendsUserToLogin(t *testing.T) {
	refusal := fmt.Errorf("api: POST /approvals/ap-1/approve: %w", api.ErrAuthRequired)
	cases := []struct {
		name  string
		route string
		keys  []string
	}{
		{name: "approve", route: routeApprovals, keys: []string{"a"}},
		{name: "reject prompt", route: routeApprovals, keys: []string{"x", "no", "enter"}},
		{name: "create prompt", route: routeWorkflows, keys: []string{"n", "nightly backup", "enter"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app, backend := newTestApp(t, true)
			backend.approvals = []api.Approval{{ID: "ap-1", WorkflowName: "Deploy", Status: "pending"}}
			app.navigate(tc.route)
			if tc.route == routeApprovals {
				pumpUntil(t, app, config.ResourceApprovals)
			}
			app.boardFocus = focusContent
			if err := app.provider.ClearCredential(); err != nil {
				t.Fatalf("clear: %v", err)
			}
			backend.mu.Lock()
			backend.mutationErr = refusal
			backend.mu.Unlock()

			var cmd tea.Cmd
			for _, k := range tc.keys {
				_, cmd = app.Update(keyMsg(k))
			}
			if cmd == nil {
				t.Fatalf("expected a mutation command")
			}
			msg, ok := cmd().(actionResultMsg)
			if !ok {
				t.Fatalf("expected action result")
			}
			app.Update(msg)
			if app.route != gate.LoginPath {
				t.Fatalf("expected login after refusal, got %s", app.route)
			}
			if app.redirectFrom != tc.route {
				t.Fatalf("expected origin %s to be kept, got %q", tc.route, app.redirectFrom)
			}
			if app.form == nil || app.form.kind != formLogin {
				t.Fatalf("expected login form")
			}
		})
	}
}

func TestAgentDetailPaneFollowsView(t *testing.T) {
	app, _ := newTestApp(t, true)
	app.navigate(routeAgents)
	// The list and the fleet stats both report as the agents resource.
	pumpAll(t, app, 2, config.ResourceAgents)
	app.boardFocus = focusContent

	app.Update(keyMsg("enter"))
	if app.detail != "ag-1" {
		t.Fatalf("expected agent detail to open, got %q", app.detail)
	}
	pumpAll(t, app, 1, feedAgent, feedAgentMetrics)
	pane := app.renderAgentDetail()
	if !strings.Contains(pane, "42 completed") || !strings.Contains(pane, "release") {
		t.Fatalf("expected agent detail in pane, got %s", pane)
	}

	app.Update(keyMsg("esc"))
	if app.detail != "" || app.agentMetrics.loaded {
		t.Fatalf("esc should close the detail pane")
	}
	if app.boardFocus != focusContent {
		t.Fatalf("closing details should keep content focus")
	}
}

func TestWorkflowDetailShowsProgress(t *testing.T) {
	app, _ := newTestApp(t, true)
	app.navigate(routeWorkflows)
	pumpUntil(t, app, config.ResourceWorkflows)
	app.boardFocus = focusContent

	app.Update(keyMsg("enter"))
	pumpUntil(t, app, feedProgress)
	if !app.progress.loaded || app.progress.data.Progress != 40 {
		t.Fatalf("expected progress to load, got %+v", app.progress)
	}
	app.navigate(routeAgents)
	if app.detail != "" {
		t.Fatalf("navigation should drop the detail pane")
	}
}

func TestCreatePromptOffersTemplates(t *testing.T) {
	app, backend := newTestApp(t, true)
	app.navigate(routeWorkflows)
	app.boardFocus = focusContent
	_, cmd := app.Update(keyMsg("n"))
	if cmd == nil {
		t.Fatalf("expected commands from opening the prompt")
	}
	app.Update(app.loadTemplates()())
	if got := app.prompt.suggestions; len(got) != 2 || got[1] != "Rotate keys" {
		t.Fatalf("unexpected suggestions %v", got)
	}
	app.Update(tea.KeyMsg{Type: tea.KeyTab})
	if app.prompt.input.Value() != "Back up the production database nightly" {
		t.Fatalf("tab should fill the first template, got %q", app.prompt.input.Value())
	}
	_, cmd = app.Update(keyMsg("enter"))
	app.Update(cmd())
	if len(backend.created) != 1 || backend.created[0] != "Back up the production database nightly" {
		t.Fatalf("unexpected created workflows %v", backend.created)
	}
}

func TestCreateWorkflowRequiresDescription(t *testing.T) {
	app, backend := newTestApp(t, true)
	app.navigate(routeWorkflows)
	app.boardFocus = focusContent
	app.Update(keyMsg("n"))
	if _, cmd := app.Update(keyMsg("enter")); cmd != nil {
		t.Fatalf("empty description must not submit")
	}
	app.Update(keyMsg("n"))
	app.Update(keyMsg("nightly backup"))
	_, cmd := app.Update(keyMsg("enter"))
	app.Update(cmd())
	if len(backend.created) != 1 || backend.created[0] != "nightly backup" {
		t.Fatalf("unexpected created workflows %v", backend.created)
	}
}

func TestSignOutReturnsToLogin(t *testing.T) {
	app, backend := newTestApp(t, true)
	app.navigate(routeProfile)
	app.boardFocus = focusContent
	if !strings.Contains(app.View(), "admin@opsflow.com") {
		t.Fatalf("expected profile to show user")
	}
	_, cmd := app.Update(keyMsg("o"))
	app.Update(cmd())
	if backend.logoutCalls != 1 {
		t.Fatalf("expected one logout call, got %d", backend.logoutCalls)
	}
	if app.route != gate.LoginPath {
		t.Fatalf("expected login after sign-out, got %s", app.route)
	}
	if _, ok := app.provider.Credential(); ok {
		t.Fatalf("credential should be cleared")
	}
}

func TestClearedCredentialDoesNotEjectMountedView(t *testing.T) {
	app, _ := newTestApp(t, true)
	app.navigate(routeProfile)
	if err := app.provider.ClearCredential(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	app.Update(keyMsg("down"))
	if app.route != routeProfile {
		t.Fatalf("mounted view should stay until navigation, got %s", app.route)
	}
	app.navigate(routeAgents)
	if app.route != gate.LoginPath {
		t.Fatalf("next navigation should redirect, got %s", app.route)
	}
}

func TestSignupLeadsToOnboarding(t *testing.T) {
	app, backend := newTestApp(t, false)
	backend.hasProfile = false
	app.navigate(gate.SignupPath)
	app.form.inputs[0].SetValue("Ops Admin")
	app.form.inputs[1].SetValue("ops@opsflow.com")
	app.form.inputs[2].SetValue("secret")
	app.Update(app.submitForm()())
	if app.route != routeDashboard {
		t.Fatalf("expected dashboard after signup, got %s", app.route)
	}
	if !app.flags.FirstTimeUser() {
		t.Fatalf("signup should mark first-time user")
	}

	app.Update(app.checkOnboarding()())
	if app.route != routeOnboarding || app.form == nil || app.form.kind != formOnboarding {
		t.Fatalf("expected onboarding form, got %s", app.route)
	}
	app.form.inputs[0].SetValue("Acme")
	app.form.inputs[3].SetValue("reduce toil, faster deploys")
	app.Update(app.submitForm()())
	if app.route != routeDashboard {
		t.Fatalf("expected dashboard after onboarding, got %s", app.route)
	}
	if !app.flags.OnboardingCompleted() || app.flags.FirstTimeUser() {
		t.Fatalf("onboarding flags not updated")
	}
	draft, ok := app.onboarding.Draft()
	if !ok || len(draft.PrimaryGoals) != 2 {
		t.Fatalf("expected cached draft with goals, got %+v", draft)
	}
}

func TestNewAppRequiresDeps(t *testing.T) {
	if _, err := NewApp(Deps{}); err == nil {
		t.Fatalf("expected error without config")
	}
}

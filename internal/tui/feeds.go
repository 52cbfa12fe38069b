package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/opsflow/internal/api"
	"github.com/kingrea/opsflow/internal/config"
	"github.com/kingrea/opsflow/internal/gate"
	"github.com/kingrea/opsflow/internal/poller"
)

// panel is what a view shows for one polled resource.
type panel[T any] struct {
	data     T
	err      error
	resolved bool
	loaded   bool
	fetched  time.Time
}

// loading is true until the first fetch of the current mount resolves.
func (p *panel[T]) loading() bool {
	return !p.resolved
}

func (p *panel[T]) apply(res poller.Result[T]) {
	p.resolved = true
	p.err = res.Err
	if res.Snapshot.Loaded {
		p.data = res.Snapshot.Data
		p.loaded = true
		p.fetched = res.Snapshot.FetchedAt
	}
}

// feedMsg carries one refresher resolution into Update.
type feedMsg struct {
	gen   uint64
	name  string
	apply func(*App)
}

// watch starts a refresher for the mounted view, polling at resource's
// interval. Its results are posted to the app's channel tagged with name and
// the current generation.
func watch[T any](a *App, name, resource string, fetch poller.FetchFunc[T], target func(*App) *panel[T]) {
	r, err := poller.New(fetch, a.config.PollInterval(resource),
		poller.WithClock(a.clock),
		poller.WithLogger(a.logger),
		poller.WithOverlapPolicy(a.overlap),
		poller.WithName(name))
	if err != nil {
		a.logger.Printf("tui: %s feed: %v", name, err)
		return
	}
	gen := a.gen
	r.OnResult(func(res poller.Result[T]) {
		a.post(feedMsg{gen: gen, name: name, apply: func(app *App) {
			target(app).apply(res)
		}})
	})
	if err := r.Start(a.ctx); err != nil {
		a.logger.Printf("tui: %s feed: %v", name, err)
		return
	}
	a.feeds = append(a.feeds, r)
}

// post hands a message to the program. It gives up once the app is closed.
func (a *App) post(msg feedMsg) {
	select {
	case a.results <- msg:
	case <-a.done:
	}
}

func (a *App) waitForFeed() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-a.results:
			return msg
		case <-a.done:
			return nil
		}
	}
}

// mount starts the feeds and forms a route needs. reset clears the panels
// so the view reports loading again.
func (a *App) mount(route string, reset bool) tea.Cmd {
	if reset {
		a.resetPanels()
	}
	b := a.backend
	switch route {
	case routeDashboard:
		watch(a, config.ResourceAnalytics, config.ResourceAnalytics, b.Analytics, func(app *App) *panel[api.Analytics] { return &app.analytics })
		watch(a, config.ResourceAgents, config.ResourceAgents, b.AgentStats, func(app *App) *panel[api.AgentStats] { return &app.stats })
		watch(a, config.ResourceApprovals, config.ResourceApprovals, b.Approvals, func(app *App) *panel[[]api.Approval] { return &app.approvals })
		watch(a, config.ResourceNotifications, config.ResourceNotifications, b.Notifications, func(app *App) *panel[[]api.Notification] { return &app.notifications })
	case routeAgents:
		watch(a, config.ResourceAgents, config.ResourceAgents, b.Agents, func(app *App) *panel[[]api.Agent] { return &app.agents })
		watch(a, config.ResourceAgents, config.ResourceAgents, b.AgentStats, func(app *App) *panel[api.AgentStats] { return &app.stats })
		if id := a.detail; id != "" {
			watch(a, feedAgent, config.ResourceAgents, func(ctx context.Context) (api.Agent, error) {
				return b.Agent(ctx, id)
			}, func(app *App) *panel[api.Agent] { return &app.agentDetail })
			watch(a, feedAgentMetrics, config.ResourceAgents, func(ctx context.Context) (api.AgentMetrics, error) {
				return b.AgentMetrics(ctx, id)
			}, func(app *App) *panel[api.AgentMetrics] { return &app.agentMetrics })
		}
	case routeWorkflows:
		watch(a, config.ResourceWorkflows, config.ResourceWorkflows, b.Workflows, func(app *App) *panel[[]api.Workflow] { return &app.workflows })
		if id := a.detail; id != "" {
			watch(a, feedWorkflow, config.ResourceWorkflows, func(ctx context.Context) (api.Workflow, error) {
				return b.Workflow(ctx, id)
			}, func(app *App) *panel[api.Workflow] { return &app.workflowDetail })
			watch(a, feedProgress, config.ResourceWorkflows, func(ctx context.Context) (api.WorkflowStatus, error) {
				return b.WorkflowProgress(ctx, id)
			}, func(app *App) *panel[api.WorkflowStatus] { return &app.progress })
		}
	case routeApprovals:
		watch(a, config.ResourceApprovals, config.ResourceApprovals, b.Approvals, func(app *App) *panel[[]api.Approval] { return &app.approvals })
	case routeAudit:
		watch(a, config.ResourceAudit, config.ResourceAudit, b.AuditEvents, func(app *App) *panel[[]api.AuditEvent] { return &app.audit })
	case routeAnalytics:
		watch(a, config.ResourceAnalytics, config.ResourceAnalytics, b.Analytics, func(app *App) *panel[api.Analytics] { return &app.analytics })
	case routeNotifications:
		watch(a, config.ResourceNotifications, config.ResourceNotifications, b.Notifications, func(app *App) *panel[[]api.Notification] { return &app.notifications })
	case gate.LoginPath:
		a.form = newLoginForm()
		return a.form.focusCmd()
	case gate.SignupPath:
		a.form = newSignupForm()
		return a.form.focusCmd()
	case routeOnboarding:
		draft, _ := a.onboarding.Draft()
		a.form = newOnboardingForm(draft)
		return a.form.focusCmd()
	}
	return nil
}

// Feed names for detail panes; list feeds are named after their resource.
const (
	feedAgent        = "agent"
	feedAgentMetrics = "agent-metrics"
	feedWorkflow     = "workflow"
	feedProgress     = "workflow-progress"
)

// openDetail mounts the detail pane for id alongside the current list.
func (a *App) openDetail(id string) tea.Cmd {
	a.detail = id
	a.resetDetailPanels()
	return a.remount()
}

func (a *App) closeDetail() tea.Cmd {
	a.detail = ""
	a.resetDetailPanels()
	return a.remount()
}

func (a *App) resetDetailPanels() {
	a.agentDetail = panel[api.Agent]{}
	a.agentMetrics = panel[api.AgentMetrics]{}
	a.workflowDetail = panel[api.Workflow]{}
	a.progress = panel[api.WorkflowStatus]{}
}

func (a *App) resetPanels() {
	a.agents = panel[[]api.Agent]{}
	a.stats = panel[api.AgentStats]{}
	a.workflows = panel[[]api.Workflow]{}
	a.approvals = panel[[]api.Approval]{}
	a.audit = panel[[]api.AuditEvent]{}
	a.analytics = panel[api.Analytics]{data: api.EmptyAnalytics()}
	a.notifications = panel[[]api.Notification]{}
	a.resetDetailPanels()
}

// internal/tui/app.go
//
// This is the main TUI for OpsFlow Guardian. It uses bubbletea, which
// follows The Elm Architecture:
//
// 1. Model: the application state (App)
// 2. Update: a function that updates state based on messages
// 3. View: a function that renders state to a string
//
// Every route change goes through the session gate. Protected views own
// polling feeds that start when the view mounts and stop when it unmounts.

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/opsflow/internal/api"
	"github.com/kingrea/opsflow/internal/config"
	"github.com/kingrea/opsflow/internal/gate"
	"github.com/kingrea/opsflow/internal/logbook"
	"github.com/kingrea/opsflow/internal/onboarding"
	"github.com/kingrea/opsflow/internal/poller"
	"github.com/kingrea/opsflow/internal/session"
)

// Routes rendered by the app. Login, signup and the OAuth callback are public.
const (
	routeDashboard     = "/"
	routeAgents        = "/agents"
	routeWorkflows     = "/workflows"
	routeApprovals     = "/approvals"
	routeAudit         = "/audit"
	routeAnalytics     = "/analytics"
	routeNotifications = "/notifications"
	routeProfile       = "/profile"
	routeOnboarding    = "/onboarding"
)

// Backend is the slice of the API client the TUI uses.
type Backend interface {
	onboarding.Profiles
	Agents(ctx context.Context) ([]api.Agent, error)
	Agent(ctx context.Context, id string) (api.Agent, error)
	AgentMetrics(ctx context.Context, id string) (api.AgentMetrics, error)
	AgentStats(ctx context.Context) (api.AgentStats, error)
	Workflows(ctx context.Context) ([]api.Workflow, error)
	Workflow(ctx context.Context, id string) (api.Workflow, error)
	WorkflowProgress(ctx context.Context, id string) (api.WorkflowStatus, error)
	WorkflowTemplates(ctx context.Context) ([]api.WorkflowTemplate, error)
	CreateWorkflow(ctx context.Context, description string) (api.Workflow, error)
	ExecuteWorkflow(ctx context.Context, id string) (api.Execution, error)
	Approvals(ctx context.Context) ([]api.Approval, error)
	ApproveWorkflow(ctx context.Context, approvalID string) error
	RejectWorkflow(ctx context.Context, approvalID, reason string) error
	AuditEvents(ctx context.Context) ([]api.AuditEvent, error)
	Analytics(ctx context.Context) (api.Analytics, error)
	Notifications(ctx context.Context) ([]api.Notification, error)
	Login(ctx context.Context, email, password string) (session.Credential, error)
	Register(ctx context.Context, req api.RegisterRequest) (api.Registration, error)
	Logout(ctx context.Context) error
}

// Logger records diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Deps are the collaborators the app is built from.
type Deps struct {
	Config  *config.Config
	Backend Backend
	Session *session.StoreProvider
	Logbook *logbook.Logbook
	Logger  Logger
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithClock swaps the clock driving the polling feeds.
func WithClock(c poller.Clock) AppOption {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithStartPath selects the first route evaluated by the gate.
func WithStartPath(p string) AppOption {
	return func(a *App) {
		if strings.TrimSpace(p) != "" {
			a.startPath = p
		}
	}
}

type boardFocus int

const (
	focusMenu boardFocus = iota
	focusContent
)

// menuItem implements list.Item for the navigation menu.
type menuItem struct {
	title string
	desc  string
	path  string
}

func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.title }

var navItems = []menuItem{
	{title: "Dashboard", desc: "Fleet summary and pending work", path: routeDashboard},
	{title: "Agents", desc: "Automation agents and their load", path: routeAgents},
	{title: "Workflows", desc: "Generated plans; create and execute", path: routeWorkflows},
	{title: "Approvals", desc: "Approve or reject risky steps", path: routeApprovals},
	{title: "Audit", desc: "Compliance trail", path: routeAudit},
	{title: "Analytics", desc: "Execution statistics", path: routeAnalytics},
	{title: "Notifications", desc: "Approvals and recent errors", path: routeNotifications},
	{title: "Profile", desc: "Signed-in user; sign out", path: routeProfile},
}

// App is the main application model.
type App struct {
	config     *config.Config
	backend    Backend
	provider   *session.StoreProvider
	flags      session.Flags
	guard      *gate.Guard
	onboarding *onboarding.Service
	logbook    *logbook.Logbook
	logger     Logger
	clock      poller.Clock
	overlap    poller.OverlapPolicy

	ctx    context.Context
	cancel context.CancelFunc

	startPath    string
	route        string
	redirectFrom string
	onboarded    bool

	// Polling feeds of the mounted view. gen tags their messages so results
	// from a torn-down view are ignored.
	gen     uint64
	feeds   []interface{ Stop() }
	results chan feedMsg
	done    chan struct{}
	closed  bool

	agents        panel[[]api.Agent]
	stats         panel[api.AgentStats]
	workflows     panel[[]api.Workflow]
	approvals     panel[[]api.Approval]
	audit         panel[[]api.AuditEvent]
	analytics     panel[api.Analytics]
	notifications panel[[]api.Notification]

	// detail is the agent or workflow id whose pane is open on the current
	// view. Its feeds live and die with the view's.
	detail         string
	agentDetail    panel[api.Agent]
	agentMetrics   panel[api.AgentMetrics]
	workflowDetail panel[api.Workflow]
	progress       panel[api.WorkflowStatus]

	mainMenu   list.Model
	boardFocus boardFocus
	cursor     int
	form       *form
	prompt     *prompt
	statusMsg  string

	width  int
	height int
}

// NewApp creates a new App instance.
func NewApp(deps Deps, opts ...AppOption) (*App, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("tui: config is required")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("tui: backend is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("tui: session provider is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	overlap, err := poller.ParseOverlapPolicy(deps.Config.OverlapPolicy())
	if err != nil {
		logger.Printf("tui: %v; using %s", err, overlap)
	}
	flags := session.NewFlags(deps.Session)

	items := make([]list.Item, len(navItems))
	for i := range navItems {
		items[i] = navItems[i]
	}
	mainMenu := list.New(items, list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "⬡ OPSFLOW"
	mainMenu.SetShowStatusBar(false)
	mainMenu.SetFilteringEnabled(false)
	mainMenu.SetShowHelp(false)

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		config:     deps.Config,
		backend:    deps.Backend,
		provider:   deps.Session,
		flags:      flags,
		guard:      gate.New(deps.Session, gate.WithLogger(logger)),
		onboarding: onboarding.NewService(flags, deps.Backend, logger),
		logbook:    deps.Logbook,
		logger:     logger,
		clock:      poller.SystemClock{},
		overlap:    overlap,
		ctx:        ctx,
		cancel:     cancel,
		startPath:  routeDashboard,
		results:    make(chan feedMsg, 32),
		done:       make(chan struct{}),
		mainMenu:   mainMenu,
		boardFocus: focusMenu,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.logInfo("Session opened · %s", app.config.BaseURL())
	return app, nil
}

// Close stops every feed. It is safe to call more than once.
func (a *App) Close() {
	if a.closed {
		return
	}
	a.closed = true
	a.teardown()
	a.cancel()
	close(a.done)
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Warn(format, args...)
}

func (a *App) logError(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Error(format, args...)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.waitForFeed(), a.navigate(a.startPath))
}

// navigate runs the gate for a route change and mounts whatever it allows.
// A redirect replaces the requested route; it is not kept as a back target.
func (a *App) navigate(p string) tea.Cmd {
	decision := a.guard.Navigate(p)
	if decision.Redirect != nil {
		a.redirectFrom = decision.Redirect.From
		a.logWarn("Gate · %s requires sign-in", decision.Redirect.From)
		decision = a.guard.Navigate(decision.Redirect.To)
	}
	a.teardown()
	a.route = decision.Path
	a.detail = ""
	a.cursor = 0
	a.prompt = nil
	a.form = nil
	if !decision.Render {
		return nil
	}
	a.syncMenu()
	cmd := a.mount(decision.Path, true)
	if decision.State == gate.StateAuthenticated && !a.onboarded && decision.Path != routeOnboarding {
		a.onboarded = true
		return tea.Batch(cmd, a.checkOnboarding())
	}
	return cmd
}

// remount restarts the current view's feeds without clearing what is shown,
// so a mutation is reflected before the next tick.
func (a *App) remount() tea.Cmd {
	a.teardown()
	return a.mount(a.route, false)
}

func (a *App) teardown() {
	a.gen++
	for _, f := range a.feeds {
		f.Stop()
	}
	a.feeds = nil
}

func (a *App) syncMenu() {
	for i, item := range navItems {
		if item.path == a.route {
			a.mainMenu.Select(i)
			return
		}
	}
}

func (a *App) authenticated() bool {
	return a.guard.State() == gate.StateAuthenticated && !a.guard.IsPublic(a.route)
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.mainMenu.SetSize(max(0, msg.Width/3-6), max(0, msg.Height-12))
		return a, nil

	case feedMsg:
		if msg.gen == a.gen {
			msg.apply(a)
			if n := a.itemCount(); a.cursor >= n {
				a.cursor = max(0, n-1)
			}
		} else {
			a.logger.Printf("tui: dropped %s result from unmounted view", msg.name)
		}
		return a, a.waitForFeed()

	case loginResultMsg:
		return a, a.handleLogin(msg)
	case registerResultMsg:
		return a, a.handleRegister(msg)
	case logoutMsg:
		return a, a.handleLogout(msg)
	case onboardingCheckMsg:
		return a, a.handleOnboardingCheck(msg)
	case onboardingSavedMsg:
		return a, a.handleOnboardingSaved(msg)
	case actionResultMsg:
		return a, a.handleActionResult(msg)
	case templatesMsg:
		a.handleTemplates(msg)
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			a.Close()
			return a, tea.Quit
		}
		if a.prompt != nil {
			return a, a.updatePrompt(msg)
		}
		if a.form != nil {
			return a, a.updateForm(msg)
		}
		return a.handleKey(msg)
	}

	if a.form != nil {
		return a, a.form.update(msg)
	}
	if a.prompt != nil {
		var cmd tea.Cmd
		a.prompt.input, cmd = a.prompt.input.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q":
		a.Close()
		return a, tea.Quit
	case "tab":
		if a.authenticated() {
			if a.boardFocus == focusMenu {
				a.boardFocus = focusContent
			} else {
				a.boardFocus = focusMenu
			}
		}
		return a, nil
	case "r":
		if a.authenticated() {
			a.statusMsg = "Refreshing…"
			return a, a.remount()
		}
		return a, nil
	case "1", "2", "3", "4", "5", "6", "7", "8":
		idx := int(key[0] - '1')
		a.boardFocus = focusContent
		return a, a.navigate(navItems[idx].path)
	}

	if !a.authenticated() {
		return a, nil
	}
	if a.boardFocus == focusMenu {
		if key == "enter" || key == "right" || key == "l" {
			item, ok := a.mainMenu.SelectedItem().(menuItem)
			if !ok {
				return a, nil
			}
			a.boardFocus = focusContent
			a.logInfo("Menu · %s selected", item.title)
			return a, a.navigate(item.path)
		}
		var cmd tea.Cmd
		a.mainMenu, cmd = a.mainMenu.Update(msg)
		return a, cmd
	}
	switch key {
	case "esc", "left", "h":
		if a.detail != "" {
			return a, a.closeDetail()
		}
		a.boardFocus = focusMenu
		return a, nil
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}
		return a, nil
	case "down", "j":
		if a.cursor < a.itemCount()-1 {
			a.cursor++
		}
		return a, nil
	}
	return a, a.routeAction(key)
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	var content string
	switch a.route {
	case gate.LoginPath, gate.SignupPath, routeOnboarding:
		content = a.renderForm()
	case gate.CallbackPath:
		content = "Finish Google sign-in in your browser, then return here.\nRun `opsflow login --google` to start it."
	default:
		content = a.renderRoute()
	}
	if !a.authenticated() {
		return a.renderFrame(lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1).
			Width(max(40, width-4)).
			Render(content))
	}
	leftWidth := max(28, width/3)
	rightWidth := width - leftWidth - 4
	if rightWidth < 40 {
		rightWidth = width - 4
		leftWidth = 0
	}
	contentBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(a.focusColor(focusContent)).
		Padding(0, 1).
		Width(max(20, rightWidth)).
		Render(content)
	if leftWidth == 0 {
		return a.renderFrame(contentBox)
	}
	a.mainMenu.SetSize(max(20, leftWidth-4), max(10, a.height-12))
	menuBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(a.focusColor(focusMenu)).
		Padding(0, 1).
		Width(leftWidth).
		Render(a.mainMenu.View())
	return a.renderFrame(lipgloss.JoinHorizontal(lipgloss.Top, menuBox, contentBox))
}

func (a *App) focusColor(f boardFocus) lipgloss.Color {
	if a.boardFocus == f {
		return lipgloss.Color("#5B8DEF")
	}
	return lipgloss.Color("#444444")
}

func (a *App) renderFrame(body string) string {
	title := "⬡ OPSFLOW GUARDIAN"
	if cred, ok := a.provider.Credential(); ok && a.authenticated() {
		title += " · " + cred.User.DisplayName()
	}
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render(title)
	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, _ := a.logbook.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

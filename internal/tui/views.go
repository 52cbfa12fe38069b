package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/opsflow/internal/api"
	"github.com/kingrea/opsflow/internal/gate"
	"github.com/kingrea/opsflow/internal/session"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).MarginTop(1)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))

	statusStyles = map[string]lipgloss.Style{
		"active":    lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
		"completed": lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
		"approved":  lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
		"running":   lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true),
		"pending":   lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true),
		"critical":  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		"error":     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		"failed":    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		"rejected":  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
	}
	defaultLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
)

func statusLabel(value string) string {
	style, ok := statusStyles[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		style = defaultLabel
	}
	return style.Render(friendlyLabel(value))
}

func (a *App) renderRoute() string {
	var body string
	switch a.route {
	case routeDashboard:
		body = a.renderDashboard()
	case routeAgents:
		body = a.renderAgents()
	case routeWorkflows:
		body = a.renderWorkflows()
	case routeApprovals:
		body = a.renderApprovals()
	case routeAudit:
		body = a.renderAudit()
	case routeAnalytics:
		body = a.renderAnalytics()
	case routeNotifications:
		body = a.renderNotifications()
	case routeProfile:
		body = a.renderProfile()
	case "":
		return "Checking session…"
	default:
		body = fmt.Sprintf("Nothing lives at %s.", a.route)
	}
	if a.prompt != nil {
		body = lipgloss.JoinVertical(lipgloss.Left, body, "", a.renderPrompt())
	}
	return body
}

// itemCount is the number of selectable rows on the current view.
func (a *App) itemCount() int {
	switch a.route {
	case routeAgents:
		return len(a.agents.data)
	case routeWorkflows:
		return len(a.workflows.data)
	case routeApprovals:
		return len(a.approvals.data)
	case routeAudit:
		return len(a.audit.data)
	case routeNotifications:
		return len(a.notifications.data)
	}
	return 0
}

func panelStatus[T any](p *panel[T], what string) string {
	switch {
	case p.loading():
		return fmt.Sprintf("Loading %s…", what)
	case p.err != nil && !p.loaded:
		return errorStyle.Render(fmt.Sprintf("⚠ %s unavailable: %v", what, p.err))
	case p.err != nil:
		return errorStyle.Render(fmt.Sprintf("⚠ refresh failed: %v (showing data from %s)", p.err, p.fetched.Format("15:04:05")))
	}
	return ""
}

func (a *App) renderList(title string, status string, rows []string, hint string) string {
	lines := []string{titleStyle.Render(title)}
	if status != "" {
		lines = append(lines, status)
	}
	if len(rows) == 0 && status == "" {
		lines = append(lines, detailStyle.Render("Nothing to show."))
	}
	for i, row := range rows {
		indicator := "  "
		if i == a.cursor && a.boardFocus == focusContent {
			indicator = "> "
			row = selectedStyle.Render(row)
		}
		lines = append(lines, indicator+row)
	}
	if hint != "" {
		lines = append(lines, hintStyle.Render(hint))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderDashboard() string {
	an := a.analytics.data
	lines := []string{titleStyle.Render("Dashboard")}
	if s := panelStatus(&a.analytics, "analytics"); s != "" {
		lines = append(lines, s)
	}
	lines = append(lines,
		fmt.Sprintf("Workflows: %d · Success rate: %.1f%% · Avg execution: %s · Time saved: %s",
			an.TotalWorkflows, an.SuccessRate, an.AvgExecutionTime, an.TimeSaved),
		fmt.Sprintf("Performance: cpu %.0f%% · memory %.0f%% · network %.0f%%",
			an.Performance.CPU, an.Performance.Memory, an.Performance.Network),
	)
	if s := panelStatus(&a.stats, "agent stats"); s != "" {
		lines = append(lines, s)
	}
	st := a.stats.data
	lines = append(lines, fmt.Sprintf("Agents active: %d · Tasks: %d · Avg success: %.1f%%",
		st.ActiveAgents, st.TotalTasks, st.AvgSuccessRate))

	lines = append(lines, "", titleStyle.Render("Pending approvals"))
	if s := panelStatus(&a.approvals, "approvals"); s != "" {
		lines = append(lines, s)
	}
	pending := 0
	for _, ap := range a.approvals.data {
		if !ap.Pending() {
			continue
		}
		pending++
		lines = append(lines, fmt.Sprintf("  %s · %s · priority %s", ap.WorkflowName, ap.RequestedBy, ap.Priority))
	}
	if pending == 0 && a.approvals.loaded {
		lines = append(lines, detailStyle.Render("  none"))
	}

	lines = append(lines, "", titleStyle.Render(fmt.Sprintf("Notifications (%d unread)", unread(a.notifications.data))))
	if s := panelStatus(&a.notifications, "notifications"); s != "" {
		lines = append(lines, s)
	}
	for i, n := range a.notifications.data {
		if i >= 5 {
			break
		}
		lines = append(lines, fmt.Sprintf("  %s · %s", n.Title, n.Time))
	}
	lines = append(lines, hintStyle.Render("1-8 → jump    tab → menu/content    r → refresh    q → quit"))
	return strings.Join(lines, "\n")
}

func unread(items []api.Notification) int {
	n := 0
	for _, item := range items {
		if item.Unread {
			n++
		}
	}
	return n
}

func (a *App) renderAgents() string {
	rows := make([]string, 0, len(a.agents.data))
	for _, ag := range a.agents.data {
		row := fmt.Sprintf("%s · %s · [%s] · %d tasks · %.1f%%", ag.Name, ag.Role, statusLabel(ag.Status), ag.TasksCompleted, ag.SuccessRate)
		if ag.CurrentTask != "" {
			row += " · " + ag.CurrentTask
		}
		rows = append(rows, row)
	}
	st := a.stats.data
	title := fmt.Sprintf("Agents · %d active · %d tasks", st.ActiveAgents, st.TotalTasks)
	body := a.renderList(title, panelStatus(&a.agents, "agents"), rows, "↑/↓ → select    enter → details    r → refresh")
	if a.detail != "" {
		return body + "\n\n" + a.renderAgentDetail()
	}
	if a.cursor < len(a.agents.data) {
		ag := a.agents.data[a.cursor]
		details := []string{ag.Description}
		if len(ag.Capabilities) > 0 {
			details = append(details, "Capabilities: "+strings.Join(ag.Capabilities, ", "))
		}
		if ag.LastActive != "" {
			details = append(details, "Last active: "+api.RelativeTime(ag.LastActive, a.clock.Now()))
		}
		body += "\n" + detailStyle.Render(strings.Join(details, "\n"))
	}
	return body
}

func (a *App) renderAgentDetail() string {
	lines := []string{titleStyle.Render("Agent " + a.detail)}
	if s := panelStatus(&a.agentDetail, "agent"); s != "" {
		lines = append(lines, s)
	}
	if a.agentDetail.loaded {
		ag := a.agentDetail.data
		lines = append(lines, fmt.Sprintf("%s · %s · [%s]", ag.Name, ag.Role, statusLabel(ag.Status)))
		if ag.AvgResponseTime > 0 {
			lines = append(lines, fmt.Sprintf("Avg response: %.2fs", ag.AvgResponseTime))
		}
		if p := ag.Performance; p != nil {
			lines = append(lines, fmt.Sprintf("Performance: cpu %.0f%% · memory %.0f%% · network %.0f%%", p.CPU, p.Memory, p.Network))
		}
	}
	if s := panelStatus(&a.agentMetrics, "metrics"); s != "" {
		lines = append(lines, s)
	}
	if a.agentMetrics.loaded {
		m := a.agentMetrics.data
		lines = append(lines,
			fmt.Sprintf("Last %s: %d completed · %d failed · %.1f%% success · avg %.1fs",
				m.Period, m.TasksCompleted, m.TasksFailed, m.SuccessRate, m.AverageExecutionTime),
			fmt.Sprintf("Resources: cpu %.0f%% · memory %.0f%% · net in %.1f · net out %.1f",
				m.ResourceUsage.CPUAvg, m.ResourceUsage.MemoryAvg, m.ResourceUsage.NetworkIn, m.ResourceUsage.NetworkOut),
		)
		now := a.clock.Now()
		timeline := m.Timeline
		if len(timeline) > 6 {
			timeline = timeline[len(timeline)-6:]
		}
		for _, pt := range timeline {
			lines = append(lines, fmt.Sprintf("  %s · %d tasks · %.1f%%", api.RelativeTime(pt.Timestamp, now), pt.Tasks, pt.SuccessRate))
		}
	}
	lines = append(lines, hintStyle.Render("esc → close details"))
	return detailStyle.Render(strings.Join(lines, "\n"))
}

func (a *App) renderWorkflows() string {
	rows := make([]string, 0, len(a.workflows.data))
	for _, wf := range a.workflows.data {
		rows = append(rows, fmt.Sprintf("%s · [%s] · risk %s · %d step(s)", wf.Name, statusLabel(wf.Status), wf.RiskLevel, len(wf.Steps)))
	}
	body := a.renderList("Workflows", panelStatus(&a.workflows, "workflows"), rows, "n → describe a new workflow    e → execute selected    enter → details    r → refresh")
	if a.detail != "" {
		body += "\n\n" + a.renderWorkflowDetail()
	} else if a.cursor < len(a.workflows.data) {
		wf := a.workflows.data[a.cursor]
		details := []string{wf.Description}
		for _, step := range wf.Steps {
			line := fmt.Sprintf("%d. %s", step.StepOrder, step.Name)
			if step.RequiresApproval {
				line += " (approval)"
			}
			details = append(details, line)
		}
		body += "\n" + detailStyle.Render(strings.Join(details, "\n"))
	}
	return body
}

func (a *App) renderWorkflowDetail() string {
	lines := []string{titleStyle.Render("Workflow " + a.detail)}
	if s := panelStatus(&a.progress, "progress"); s != "" {
		lines = append(lines, s)
	}
	if a.progress.loaded {
		p := a.progress.data
		line := fmt.Sprintf("[%s] %d%%", statusLabel(p.Status), p.Progress)
		if p.CurrentStep != "" {
			line += " · " + p.CurrentStep
		}
		if p.EstimatedTimeRemaining != "" {
			line += " · " + p.EstimatedTimeRemaining + " left"
		}
		lines = append(lines, line)
		if p.LastUpdated != "" {
			lines = append(lines, "Updated "+api.RelativeTime(p.LastUpdated, a.clock.Now()))
		}
	}
	if s := panelStatus(&a.workflowDetail, "workflow"); s != "" {
		lines = append(lines, s)
	}
	if a.workflowDetail.loaded {
		wf := a.workflowDetail.data
		lines = append(lines, fmt.Sprintf("%s · risk %s · ~%d min", wf.Name, wf.RiskLevel, wf.EstimatedMinutes))
		if len(wf.IntegrationsUsed) > 0 {
			lines = append(lines, "Integrations: "+strings.Join(wf.IntegrationsUsed, ", "))
		}
		for _, step := range wf.Steps {
			line := fmt.Sprintf("%d. %s", step.StepOrder, step.Name)
			if step.Status != "" {
				line += " [" + statusLabel(step.Status) + "]"
			}
			if step.RequiresApproval {
				line += " (approval)"
			}
			lines = append(lines, line)
		}
	}
	lines = append(lines, hintStyle.Render("esc → close details"))
	return strings.Join(lines, "\n")
}

func (a *App) renderApprovals() string {
	rows := make([]string, 0, len(a.approvals.data))
	for _, ap := range a.approvals.data {
		rows = append(rows, fmt.Sprintf("%s · [%s] · %s · risk %s", ap.WorkflowName, statusLabel(ap.Status), ap.RequestedBy, ap.RiskAssessment.Level))
	}
	body := a.renderList("Approvals", panelStatus(&a.approvals, "approvals"), rows, "a → approve    x → reject with reason    r → refresh")
	if a.cursor < len(a.approvals.data) {
		ap := a.approvals.data[a.cursor]
		var details []string
		if len(ap.RiskAssessment.Factors) > 0 {
			details = append(details, "Risk factors: "+strings.Join(ap.RiskAssessment.Factors, "; "))
		}
		if len(ap.RiskAssessment.Mitigation) > 0 {
			details = append(details, "Mitigation: "+strings.Join(ap.RiskAssessment.Mitigation, "; "))
		}
		for _, step := range ap.StepsRequiringApproval {
			details = append(details, "Step: "+step.Name)
		}
		if len(details) > 0 {
			body += "\n" + detailStyle.Render(strings.Join(details, "\n"))
		}
	}
	return body
}

func (a *App) renderAudit() string {
	now := a.clock.Now()
	rows := make([]string, 0, len(a.audit.data))
	for _, ev := range a.audit.data {
		rows = append(rows, fmt.Sprintf("%s · [%s] · %s · %s", api.RelativeTime(ev.Timestamp, now), statusLabel(ev.Severity), ev.EventType, ev.Action))
	}
	return a.renderList("Audit trail", panelStatus(&a.audit, "audit events"), rows, "r → refresh")
}

func (a *App) renderAnalytics() string {
	an := a.analytics.data
	lines := []string{titleStyle.Render("Analytics")}
	if s := panelStatus(&a.analytics, "analytics"); s != "" {
		lines = append(lines, s)
	}
	lines = append(lines,
		fmt.Sprintf("Total workflows:    %d", an.TotalWorkflows),
		fmt.Sprintf("Success rate:       %.1f%%", an.SuccessRate),
		fmt.Sprintf("Avg execution time: %s", an.AvgExecutionTime),
		fmt.Sprintf("Time saved:         %s", an.TimeSaved),
		fmt.Sprintf("Active agents:      %d", an.ActiveAgents),
		fmt.Sprintf("Pending approvals:  %d", an.PendingApprovals),
	)
	if len(an.RecentActivity) > 0 {
		now := a.clock.Now()
		lines = append(lines, "", titleStyle.Render("Recent activity"))
		for _, ev := range an.RecentActivity {
			lines = append(lines, fmt.Sprintf("  %s · %s", api.RelativeTime(ev.Timestamp, now), ev.Action))
		}
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderNotifications() string {
	rows := make([]string, 0, len(a.notifications.data))
	for _, n := range a.notifications.data {
		marker := " "
		if n.Unread {
			marker = "●"
		}
		rows = append(rows, fmt.Sprintf("%s %s · %s · %s", marker, n.Title, n.Message, n.Time))
	}
	return a.renderList("Notifications", panelStatus(&a.notifications, "notifications"), rows, "r → refresh")
}

func (a *App) renderProfile() string {
	cred, ok := a.provider.Credential()
	lines := []string{titleStyle.Render("Profile")}
	if !ok {
		// Cleared while mounted; the gate re-checks on the next navigation.
		lines = append(lines, "No stored session. Navigate to sign in again.")
		return strings.Join(lines, "\n")
	}
	u := cred.User
	lines = append(lines,
		fmt.Sprintf("Name:  %s", u.DisplayName()),
		fmt.Sprintf("Email: %s", u.Email),
	)
	if u.Role != "" {
		lines = append(lines, fmt.Sprintf("Role:  %s", u.Role))
	}
	if !cred.ExpiresAt.IsZero() {
		lines = append(lines, fmt.Sprintf("Session expires: %s", cred.ExpiresAt.Local().Format(time.RFC1123)))
	}
	if claims, err := session.PeekClaims(cred.Token); err == nil {
		lines = append(lines, "", titleStyle.Render("Token claims (unverified)"))
		if claims.Subject != "" {
			lines = append(lines, "Subject: "+claims.Subject)
		}
		if !claims.IssuedAt.IsZero() {
			lines = append(lines, "Issued:  "+claims.IssuedAt.Local().Format(time.RFC1123))
		}
		if !claims.ExpiresAt.IsZero() {
			lines = append(lines, "Expires: "+claims.ExpiresAt.Local().Format(time.RFC1123))
		}
	}
	lines = append(lines, hintStyle.Render("o → sign out"))
	return strings.Join(lines, "\n")
}

func friendlyLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer("_", " ", "-", " ")
	words := strings.Fields(replacer.Replace(strings.ToLower(value)))
	if len(words) == 0 {
		return ""
	}
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

// routeAction handles view-specific keys on the content pane.
func (a *App) routeAction(key string) tea.Cmd {
	switch a.route {
	case routeApprovals:
		ap, ok := a.selectedApproval()
		if !ok {
			return nil
		}
		switch key {
		case "a":
			a.statusMsg = fmt.Sprintf("Approving %s…", ap.WorkflowName)
			return a.runAction("Approved "+ap.WorkflowName, "Could not approve "+ap.WorkflowName, func() error {
				return a.backend.ApproveWorkflow(a.ctx, ap.ID)
			})
		case "x":
			a.prompt = newPrompt(promptReject, ap.ID, fmt.Sprintf("Reason for rejecting %s", ap.WorkflowName))
			return a.prompt.input.Focus()
		}
	case routeWorkflows:
		switch key {
		case "n":
			a.prompt = newPrompt(promptCreateWorkflow, "", "Describe the workflow to generate")
			return tea.Batch(a.prompt.input.Focus(), a.loadTemplates())
		case "enter":
			if a.cursor < len(a.workflows.data) {
				return a.openDetail(a.workflows.data[a.cursor].ID)
			}
		case "e":
			if a.cursor >= len(a.workflows.data) {
				return nil
			}
			wf := a.workflows.data[a.cursor]
			a.statusMsg = fmt.Sprintf("Executing %s…", wf.Name)
			return a.runAction("Started "+wf.Name, "Could not execute "+wf.Name, func() error {
				_, err := a.backend.ExecuteWorkflow(a.ctx, wf.ID)
				return err
			})
		}
	case routeAgents:
		if key == "enter" && a.cursor < len(a.agents.data) {
			return a.openDetail(a.agents.data[a.cursor].ID)
		}
	case routeProfile:
		if key == "o" {
			a.statusMsg = "Signing out…"
			return a.signOut()
		}
	}
	return nil
}

func (a *App) selectedApproval() (api.Approval, bool) {
	if a.cursor >= len(a.approvals.data) {
		return api.Approval{}, false
	}
	ap := a.approvals.data[a.cursor]
	if !ap.Pending() {
		a.statusMsg = fmt.Sprintf("%s is already %s", ap.WorkflowName, ap.Status)
		return api.Approval{}, false
	}
	return ap, true
}

type actionResultMsg struct {
	done   string
	failed string
	gen    uint64
	err    error
}

// runAction performs a mutation off the update loop. A success refreshes the
// view it was issued from.
func (a *App) runAction(done, failed string, fn func() error) tea.Cmd {
	gen := a.gen
	return func() tea.Msg {
		return actionResultMsg{done: done, failed: failed, gen: gen, err: fn()}
	}
}

func (a *App) handleActionResult(msg actionResultMsg) tea.Cmd {
	if errors.Is(msg.err, api.ErrAuthRequired) {
		a.logWarn("%s: sign-in required", msg.failed)
		return a.requireSignIn()
	}
	if msg.err != nil {
		a.statusMsg = fmt.Sprintf("%s: %v", msg.failed, msg.err)
		a.logError("%s: %v", msg.failed, msg.err)
		return nil
	}
	a.statusMsg = msg.done
	a.logInfo("%s", msg.done)
	if msg.gen != a.gen {
		return nil
	}
	return a.remount()
}

// requireSignIn sends the user to the login form after a call was refused
// for lack of a session. Signing in returns to the current view.
func (a *App) requireSignIn() tea.Cmd {
	a.statusMsg = "Your session has ended. Sign in to continue."
	if a.guard.IsPublic(a.route) {
		return nil
	}
	a.redirectFrom = a.route
	a.onboarded = false
	return a.navigate(gate.LoginPath)
}

type templatesMsg struct {
	gen       uint64
	templates []api.WorkflowTemplate
	err       error
}

func (a *App) loadTemplates() tea.Cmd {
	gen := a.gen
	return func() tea.Msg {
		templates, err := a.backend.WorkflowTemplates(a.ctx)
		return templatesMsg{gen: gen, templates: templates, err: err}
	}
}

// handleTemplates offers the starter templates on an open create prompt.
func (a *App) handleTemplates(msg templatesMsg) {
	if msg.err != nil {
		a.logger.Printf("tui: workflow templates: %v", msg.err)
		return
	}
	p := a.prompt
	if msg.gen != a.gen || p == nil || p.kind != promptCreateWorkflow {
		return
	}
	p.suggestions = p.suggestions[:0]
	for _, t := range msg.templates {
		if text := t.Prompt(); text != "" {
			p.suggestions = append(p.suggestions, text)
		}
	}
	p.pick = -1
}

type logoutMsg struct {
	err error
}

func (a *App) signOut() tea.Cmd {
	return func() tea.Msg {
		return logoutMsg{err: a.backend.Logout(a.ctx)}
	}
}

func (a *App) handleLogout(msg logoutMsg) tea.Cmd {
	a.onboarded = false
	if msg.err != nil {
		a.logWarn("Sign-out · backend call failed: %v", msg.err)
	}
	a.logInfo("Signed out")
	a.statusMsg = "Signed out"
	return a.navigate("/login")
}

type onboardingCheckMsg struct {
	pending bool
}

func (a *App) checkOnboarding() tea.Cmd {
	return func() tea.Msg {
		return onboardingCheckMsg{pending: a.onboarding.Pending(a.ctx)}
	}
}

func (a *App) handleOnboardingCheck(msg onboardingCheckMsg) tea.Cmd {
	if !msg.pending || a.route == routeOnboarding {
		return nil
	}
	a.logInfo("Onboarding · company profile pending")
	return a.navigate(routeOnboarding)
}

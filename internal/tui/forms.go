package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/opsflow/internal/api"
	"github.com/kingrea/opsflow/internal/gate"
	"github.com/kingrea/opsflow/internal/session"
)

type formKind int

const (
	formLogin formKind = iota
	formSignup
	formOnboarding
)

// form is a vertical stack of text inputs submitted with enter on the last
// field.
type form struct {
	kind       formKind
	title      string
	hint       string
	labels     []string
	inputs     []textinput.Model
	focus      int
	submitting bool
	err        string
}

func newForm(kind formKind, title, hint string, labels ...string) *form {
	f := &form{kind: kind, title: title, hint: hint, labels: labels}
	for range labels {
		in := textinput.New()
		in.CharLimit = 256
		in.Width = 40
		f.inputs = append(f.inputs, in)
	}
	return f
}

func newLoginForm() *form {
	f := newForm(formLogin, "Sign in",
		"tab → next field    enter → sign in    ctrl+n → create an account\nGoogle sign-in: run `opsflow login --google`",
		"Email", "Password")
	f.inputs[0].Placeholder = "admin@opsflow.com"
	f.inputs[1].EchoMode = textinput.EchoPassword
	f.inputs[1].EchoCharacter = '•'
	return f
}

func newSignupForm() *form {
	f := newForm(formSignup, "Create account",
		"tab → next field    enter → create account    ctrl+n → back to sign in",
		"Full name", "Email", "Password", "Company")
	f.inputs[2].EchoMode = textinput.EchoPassword
	f.inputs[2].EchoCharacter = '•'
	return f
}

func newOnboardingForm(draft api.CompanyProfile) *form {
	f := newForm(formOnboarding, "Tell us about your company",
		"tab → next field    enter → save    ctrl+k → skip for now\nList fields take comma separated values.",
		"Company name", "Industry", "Company size", "Primary goals", "Automation needs", "Description")
	f.inputs[0].SetValue(draft.CompanyName)
	f.inputs[1].SetValue(draft.Industry)
	f.inputs[2].SetValue(draft.Size)
	f.inputs[3].SetValue(strings.Join(draft.PrimaryGoals, ", "))
	f.inputs[4].SetValue(strings.Join(draft.AutomationNeeds, ", "))
	f.inputs[5].SetValue(draft.Description)
	return f
}

func (f *form) value(i int) string {
	return strings.TrimSpace(f.inputs[i].Value())
}

func (f *form) focusCmd() tea.Cmd {
	for i := range f.inputs {
		if i == f.focus {
			continue
		}
		f.inputs[i].Blur()
	}
	return f.inputs[f.focus].Focus()
}

func (f *form) move(delta int) tea.Cmd {
	n := len(f.inputs)
	f.focus = (f.focus + delta + n) % n
	return f.focusCmd()
}

func (f *form) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *form) view() string {
	lines := []string{titleStyle.Render(f.title), ""}
	for i, in := range f.inputs {
		label := f.labels[i]
		if i == f.focus {
			label = selectedStyle.Render(label)
		}
		lines = append(lines, label, in.View(), "")
	}
	if f.submitting {
		lines = append(lines, "Working…")
	}
	if f.err != "" {
		lines = append(lines, errorStyle.Render("⚠ "+f.err))
	}
	lines = append(lines, hintStyle.Render(f.hint))
	return strings.Join(lines, "\n")
}

func (a *App) renderForm() string {
	if a.form == nil {
		return "Checking session…"
	}
	return a.form.view()
}

func (a *App) updateForm(msg tea.KeyMsg) tea.Cmd {
	f := a.form
	if f.submitting {
		return nil
	}
	switch msg.String() {
	case "tab", "down":
		return f.move(1)
	case "shift+tab", "up":
		return f.move(-1)
	case "ctrl+n":
		switch f.kind {
		case formLogin:
			return a.navigate(gate.SignupPath)
		case formSignup:
			return a.navigate(gate.LoginPath)
		}
		return nil
	case "ctrl+k":
		if f.kind == formOnboarding {
			f.submitting = true
			return a.skipOnboarding()
		}
		return nil
	case "enter":
		if f.focus < len(f.inputs)-1 {
			return f.move(1)
		}
		return a.submitForm()
	case "esc":
		if f.kind == formOnboarding {
			return nil
		}
		a.Close()
		return tea.Quit
	}
	return f.update(msg)
}

func (a *App) submitForm() tea.Cmd {
	f := a.form
	f.err = ""
	switch f.kind {
	case formLogin:
		email, password := f.value(0), f.inputs[1].Value()
		if email == "" || password == "" {
			f.err = "Email and password are required."
			return nil
		}
		f.submitting = true
		return func() tea.Msg {
			cred, err := a.backend.Login(a.ctx, email, password)
			return loginResultMsg{cred: cred, err: err}
		}
	case formSignup:
		req := api.RegisterRequest{Name: f.value(0), Email: f.value(1), Password: f.inputs[2].Value(), Company: f.value(3)}
		if req.Name == "" || req.Email == "" || req.Password == "" {
			f.err = "Name, email and password are required."
			return nil
		}
		f.submitting = true
		return func() tea.Msg {
			reg, err := a.backend.Register(a.ctx, req)
			return registerResultMsg{reg: reg, err: err}
		}
	case formOnboarding:
		profile := api.CompanyProfile{
			CompanyName:     f.value(0),
			Industry:        f.value(1),
			Size:            f.value(2),
			PrimaryGoals:    splitList(f.value(3)),
			AutomationNeeds: splitList(f.value(4)),
			Description:     f.value(5),
		}
		if profile.CompanyName == "" {
			f.err = "Company name is required."
			return nil
		}
		f.submitting = true
		return func() tea.Msg {
			return onboardingSavedMsg{err: a.onboarding.Complete(a.ctx, profile)}
		}
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type loginResultMsg struct {
	cred session.Credential
	err  error
}

type registerResultMsg struct {
	reg api.Registration
	err error
}

type onboardingSavedMsg struct {
	err     error
	skipped bool
}

func (a *App) handleLogin(msg loginResultMsg) tea.Cmd {
	if a.form == nil || a.form.kind != formLogin {
		return nil
	}
	a.form.submitting = false
	if msg.err != nil {
		a.form.err = authFailure(msg.err, "Sign-in failed")
		a.logWarn("Sign-in failed: %v", msg.err)
		return nil
	}
	a.onboarded = false
	a.logInfo("Signed in as %s", msg.cred.User.DisplayName())
	a.statusMsg = "Signed in as " + msg.cred.User.DisplayName()
	target := a.redirectFrom
	a.redirectFrom = ""
	if target == "" || a.guard.IsPublic(target) {
		target = routeDashboard
	}
	return a.navigate(target)
}

func (a *App) handleRegister(msg registerResultMsg) tea.Cmd {
	if a.form == nil || a.form.kind != formSignup {
		return nil
	}
	a.form.submitting = false
	if msg.err != nil {
		a.form.err = authFailure(msg.err, "Registration failed")
		a.logWarn("Registration failed: %v", msg.err)
		return nil
	}
	if err := a.flags.MarkFirstTimeUser(); err != nil {
		a.logger.Printf("tui: %v", err)
	}
	a.onboarded = false
	name := msg.reg.User.DisplayName()
	a.logInfo("Account created for %s", name)
	if !msg.reg.SignedIn {
		a.statusMsg = "Account created. Sign in to continue."
		return a.navigate(gate.LoginPath)
	}
	a.statusMsg = "Welcome, " + name
	return a.navigate(routeDashboard)
}

func (a *App) skipOnboarding() tea.Cmd {
	return func() tea.Msg {
		return onboardingSavedMsg{err: a.onboarding.Skip(), skipped: true}
	}
}

func (a *App) handleOnboardingSaved(msg onboardingSavedMsg) tea.Cmd {
	if a.form == nil || a.form.kind != formOnboarding {
		return nil
	}
	a.form.submitting = false
	if msg.err != nil {
		a.form.err = fmt.Sprintf("Could not save your answers: %v. They are kept locally; try again.", msg.err)
		a.logError("Onboarding · %v", msg.err)
		return nil
	}
	if msg.skipped {
		a.logInfo("Onboarding · skipped")
	} else {
		a.logInfo("Onboarding · company profile saved")
	}
	return a.navigate(routeDashboard)
}

// authFailure renders an auth error for the form, preferring the backend's
// own message.
func authFailure(err error, fallback string) string {
	var status *api.StatusError
	if errors.As(err, &status) && strings.TrimSpace(status.Detail) != "" {
		return status.Detail
	}
	if err == nil {
		return fallback
	}
	return fmt.Sprintf("%s: %v", fallback, err)
}

type promptKind int

const (
	promptReject promptKind = iota
	promptCreateWorkflow
)

// prompt is a single-line input opened from a list view. suggestions, when
// present, are cycled into the input with tab.
type prompt struct {
	kind        promptKind
	target      string
	label       string
	input       textinput.Model
	suggestions []string
	pick        int
}

func newPrompt(kind promptKind, target, label string) *prompt {
	in := textinput.New()
	in.CharLimit = 512
	in.Width = 60
	return &prompt{kind: kind, target: target, label: label, input: in, pick: -1}
}

func (a *App) renderPrompt() string {
	p := a.prompt
	lines := []string{p.label, p.input.View()}
	hint := "enter → submit    esc → cancel"
	if len(p.suggestions) > 0 {
		hint = "tab → next template    " + hint
		for i, text := range p.suggestions {
			if i >= 5 {
				break
			}
			marker := "  "
			if i == p.pick {
				marker = "> "
			}
			lines = append(lines, detailStyle.Render(marker+text))
		}
	}
	lines = append(lines, detailStyle.Render(hint))
	return lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#F7B801")).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}

func (a *App) updatePrompt(msg tea.KeyMsg) tea.Cmd {
	p := a.prompt
	switch msg.String() {
	case "tab":
		if n := min(len(p.suggestions), 5); n > 0 {
			p.pick = (p.pick + 1) % n
			p.input.SetValue(p.suggestions[p.pick])
			p.input.CursorEnd()
		}
		return nil
	case "esc":
		a.prompt = nil
		return nil
	case "enter":
		value := strings.TrimSpace(p.input.Value())
		a.prompt = nil
		switch p.kind {
		case promptReject:
			a.statusMsg = "Rejecting…"
			return a.runAction("Rejected approval "+p.target, "Could not reject "+p.target, func() error {
				return a.backend.RejectWorkflow(a.ctx, p.target, value)
			})
		case promptCreateWorkflow:
			if value == "" {
				a.statusMsg = "A workflow description is required."
				return nil
			}
			a.statusMsg = "Generating workflow…"
			return a.runAction("Workflow created", "Could not create workflow", func() error {
				_, err := a.backend.CreateWorkflow(a.ctx, value)
				return err
			})
		}
		return nil
	}
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return cmd
}

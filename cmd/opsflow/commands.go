package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"

	"github.com/kingrea/opsflow/internal/api"
	"github.com/kingrea/opsflow/internal/authbridge"
	"github.com/kingrea/opsflow/internal/tui"
)

const googleSignInTimeout = 5 * time.Minute

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	infoColor = color.New(color.FgCyan)
	warnColor = color.New(color.FgYellow)
)

func runDashboard(rt *runtime, start string) error {
	app, err := tui.NewApp(tui.Deps{
		Config:  rt.cfg,
		Backend: rt.client,
		Session: rt.session,
		Logbook: rt.book,
		Logger:  rt.logger.Named("tui"),
	}, tui.WithStartPath(start))
	if err != nil {
		return err
	}
	defer app.Close()
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}

func runLogin(ctx context.Context, rt *runtime, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	google := fs.Bool("google", false, "sign in with Google in the browser")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*google {
		return runDashboard(rt, "/login")
	}

	srv := authbridge.NewServer(authbridge.SettingsFromConfig(rt.cfg), rt.client,
		authbridge.WithLogger(rt.logger.Named("authbridge")))
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL, err := rt.client.GoogleAuthURL(ctx, srv.CallbackURL())
	if err != nil {
		return fmt.Errorf("request Google sign-in URL: %w", err)
	}
	infoColor.Println("Open this URL in your browser to continue:")
	fmt.Println(authURL)
	warnColor.Printf("Waiting for the callback on %s …\n", srv.CallbackURL())

	waitCtx, cancel := context.WithTimeout(ctx, googleSignInTimeout)
	defer cancel()
	outcome, err := srv.Wait(waitCtx)
	if err != nil {
		return fmt.Errorf("google sign-in did not complete: %w", err)
	}
	if outcome.Status != authbridge.StatusSucceeded {
		warnColor.Println(outcome.Hint)
		return errors.New(outcome.Message)
	}
	if rt.book != nil {
		rt.book.Info("Signed in with Google as %s", outcome.User.DisplayName())
	}
	okColor.Printf("Signed in as %s\n", outcome.User.DisplayName())
	return nil
}

func runLogout(ctx context.Context, rt *runtime) error {
	err := rt.client.Logout(ctx)
	if rt.book != nil {
		rt.book.Info("Signed out")
	}
	if err != nil {
		// Local state is gone either way.
		warnColor.Fprintf(os.Stderr, "backend sign-out failed: %v\n", err)
	}
	okColor.Println("Signed out")
	return nil
}

func runWhoami(ctx context.Context, rt *runtime) error {
	user, err := rt.client.CurrentUser(ctx)
	if errors.Is(err, api.ErrAuthRequired) {
		warnColor.Println("Not signed in. Run `opsflow login`.")
		return nil
	}
	if err != nil {
		return err
	}
	okColor.Println(user.DisplayName())
	if user.Email != "" {
		fmt.Println(user.Email)
	}
	if user.Role != "" {
		fmt.Printf("role: %s\n", user.Role)
	}
	return nil
}

func runAgents(ctx context.Context, rt *runtime, args []string) error {
	if len(args) == 0 {
		agents, err := rt.client.Agents(ctx)
		if err != nil {
			return err
		}
		for _, ag := range agents {
			fmt.Printf("%-12s %-24s %-16s %s\n", ag.ID, ag.Name, ag.Role, ag.Status)
		}
		return nil
	}
	if args[0] != "create" {
		return errors.New("usage: opsflow agents [create --name <name> ...]")
	}
	draft, err := parseAgentDraft(args[1:])
	if err != nil {
		return err
	}
	agent, err := rt.client.CreateAgent(ctx, draft)
	if errors.Is(err, api.ErrAuthRequired) {
		return errors.New("not signed in; run `opsflow login` first")
	}
	if err != nil {
		return err
	}
	if rt.book != nil {
		rt.book.Info("Created agent %s", agent.Name)
	}
	okColor.Printf("Created agent %s (%s)\n", agent.Name, agent.ID)
	return nil
}

func parseAgentDraft(args []string) (api.AgentDraft, error) {
	fs := flag.NewFlagSet("agents create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	name := fs.String("name", "", "agent name")
	role := fs.String("role", "", "agent role")
	description := fs.String("description", "", "what the agent does")
	capabilities := fs.String("capabilities", "", "comma separated capabilities")
	if err := fs.Parse(args); err != nil {
		return api.AgentDraft{}, err
	}
	draft := api.AgentDraft{
		Name:        strings.TrimSpace(*name),
		Role:        strings.TrimSpace(*role),
		Description: strings.TrimSpace(*description),
	}
	if draft.Name == "" {
		return api.AgentDraft{}, errors.New("agents create: --name is required")
	}
	for _, c := range strings.Split(*capabilities, ",") {
		if c = strings.TrimSpace(c); c != "" {
			draft.Capabilities = append(draft.Capabilities, c)
		}
	}
	return draft, nil
}

func runApprove(ctx context.Context, rt *runtime, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: opsflow approve <id>")
	}
	if err := rt.client.ApproveWorkflow(ctx, args[0]); err != nil {
		return err
	}
	if rt.book != nil {
		rt.book.Info("Approved %s", args[0])
	}
	okColor.Printf("Approved %s\n", args[0])
	return nil
}

func runReject(ctx context.Context, rt *runtime, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: opsflow reject <id> [reason]")
	}
	reason := joinArgs(args[1:])
	if err := rt.client.RejectWorkflow(ctx, args[0], reason); err != nil {
		return err
	}
	if rt.book != nil {
		rt.book.Warn("Rejected %s: %s", args[0], reason)
	}
	okColor.Printf("Rejected %s\n", args[0])
	return nil
}

func runConfig(rt *runtime, args []string) error {
	if len(args) == 0 {
		fmt.Printf("base-url: %s\n", rt.cfg.BaseURL())
		fmt.Printf("storage:  %s\n", rt.cfg.StorageDriver())
		fmt.Printf("file:     %s\n", rt.cfg.ProjectConfigPath())
		return nil
	}
	if args[0] != "base-url" || len(args) != 2 {
		return errors.New("usage: opsflow config base-url <url>")
	}
	if err := rt.cfg.SetBaseURL(args[1]); err != nil {
		return err
	}
	okColor.Printf("Backend set to %s\n", rt.cfg.BaseURL())
	return nil
}

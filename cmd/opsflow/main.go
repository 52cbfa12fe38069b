// cmd/opsflow/main.go
//
// This is the entry point for the OpsFlow Guardian terminal client.
// Without arguments it launches the TUI dashboard; subcommands cover
// sign-in, sign-out and the quick approval actions.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/kingrea/opsflow/internal/api"
	"github.com/kingrea/opsflow/internal/config"
	"github.com/kingrea/opsflow/internal/logbook"
	"github.com/kingrea/opsflow/internal/logging"
	"github.com/kingrea/opsflow/internal/session"
	"github.com/kingrea/opsflow/internal/storage"
)

const usage = `Usage: opsflow [command]

Commands:
  (none)                  open the dashboard
  login [--google]        sign in with email and password, or with Google
  signup                  create an account
  logout                  sign out and clear the stored session
  whoami                  show the signed-in user
  agents                  list agents
  agents create --name <name> [--role <role>] [--description <text>] [--capabilities a,b]
                          register a new agent
  approve <id>            approve a pending workflow
  reject <id> [reason]    reject a pending workflow
  config base-url <url>   point the client at another backend
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help" || args[0] == "help") {
		fmt.Print(usage)
		return
	}

	rt, err := setup()
	if err != nil {
		die("%v", err)
	}
	defer rt.Close()

	if len(args) == 0 {
		err = runDashboard(rt, "/")
	} else {
		err = dispatch(ctx, rt, args[0], args[1:])
	}
	if err != nil {
		rt.logger.Errorf("opsflow: %v", err)
		rt.Close()
		die("%v", err)
	}
}

// runtime bundles the collaborators every command needs.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   storage.Store
	session *session.StoreProvider
	client  *api.Client
	book    *logbook.Logbook
	closed  bool
}

func setup() (*runtime, error) {
	baseDir, err := config.ResolveBaseDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home: %w", err)
	}
	if err := config.InitOpsflowDir(baseDir); err != nil {
		return nil, fmt.Errorf("init .opsflow: %w", err)
	}
	cfg, err := config.NewConfig(baseDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogsDir())
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	store, err := storage.Open(cfg.StorageDriver(), cfg.StateDir())
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	provider := session.NewStoreProvider(store, logger.Named("session"))
	client, err := api.New(cfg.BaseURL(), provider,
		api.WithTimeout(cfg.APITimeout()),
		api.WithLogger(logger.Named("api")))
	if err != nil {
		_ = store.Close()
		_ = logger.Close()
		return nil, fmt.Errorf("build api client: %w", err)
	}
	book, err := logbook.New(filepath.Join(cfg.LogsDir(), logbook.FileName))
	if err != nil {
		logger.Printf("opsflow: journal unavailable: %v", err)
	}
	return &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		session: provider,
		client:  client,
		book:    book,
	}, nil
}

func (r *runtime) Close() {
	if r == nil || r.closed {
		return
	}
	r.closed = true
	if err := r.store.Close(); err != nil {
		r.logger.Printf("opsflow: close store failed: %v", err)
	}
	_ = r.logger.Close()
}

func dispatch(ctx context.Context, rt *runtime, command string, args []string) error {
	switch command {
	case "login":
		return runLogin(ctx, rt, args)
	case "signup":
		return runDashboard(rt, "/signup")
	case "logout":
		return runLogout(ctx, rt)
	case "whoami":
		return runWhoami(ctx, rt)
	case "agents":
		return runAgents(ctx, rt, args)
	case "approve":
		return runApprove(ctx, rt, args)
	case "reject":
		return runReject(ctx, rt, args)
	case "config":
		return runConfig(rt, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func die(format string, args ...any) {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

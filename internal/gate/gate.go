// Package gate decides, per navigation, whether the current session may see
// a protected route. The check is a synchronous read of the persisted
// credential; it is a UI affordance, and the backend enforces real
// authorization on every call.
package gate

import (
	"path"
	"strings"

	"github.com/kingrea/opsflow/internal/session"
)

// State is the gate's per-navigation state.
type State int

const (
	StateChecking State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

const (
	// LoginPath is where unauthenticated navigations are sent.
	LoginPath = "/login"
	// SignupPath is the public registration route.
	SignupPath = "/signup"
	// CallbackPath is the public OAuth callback route.
	CallbackPath = "/auth/callback"
)

// DefaultPublicPaths always render without a credential check.
var DefaultPublicPaths = []string{LoginPath, SignupPath, CallbackPath}

// Redirect is issued when a protected path is requested without a credential.
type Redirect struct {
	To      string
	From    string
	Replace bool
}

// Decision is the outcome of one navigation.
type Decision struct {
	Path     string
	State    State
	Render   bool
	Redirect *Redirect
}

// Logger records gate diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes a Guard.
type Option func(*Guard)

// WithPublicPaths replaces the public allow-list.
func WithPublicPaths(paths ...string) Option {
	return func(g *Guard) {
		g.public = map[string]struct{}{}
		for _, p := range paths {
			g.public[Normalize(p)] = struct{}{}
		}
	}
}

// WithLogger injects a logger.
func WithLogger(l Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// Guard wraps every protected view.
type Guard struct {
	provider session.Provider
	public   map[string]struct{}
	logger   Logger

	path  string
	state State
}

// New constructs a Guard reading credentials from provider.
func New(provider session.Provider, opts ...Option) *Guard {
	g := &Guard{
		provider: provider,
		logger:   nopLogger{},
		state:    StateChecking,
	}
	WithPublicPaths(DefaultPublicPaths...)(g)
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// IsPublic reports whether p is on the allow-list.
func (g *Guard) IsPublic(p string) bool {
	_, ok := g.public[Normalize(p)]
	return ok
}

// State returns the state of the most recent navigation.
func (g *Guard) State() State {
	return g.state
}

// Path returns the most recently evaluated path.
func (g *Guard) Path() string {
	return g.path
}

// Navigate re-runs the check for a path change. Navigating to the path that
// is already current keeps the previous state, so a credential cleared
// mid-view does not eject the user until the next change, and a redirect is
// never issued twice for the same navigation.
func (g *Guard) Navigate(p string) Decision {
	p = Normalize(p)
	if p == g.path && g.state != StateChecking {
		d := g.current()
		d.Redirect = nil
		return d
	}
	g.path = p
	g.state = StateChecking
	g.state = g.evaluate()
	decision := g.current()
	if decision.Redirect != nil {
		g.logger.Printf("gate: %s requires sign-in; redirecting to %s", p, decision.Redirect.To)
	}
	return decision
}

// Recheck forces evaluation of the current path, as a route remount would.
func (g *Guard) Recheck() Decision {
	p := g.path
	g.path = ""
	return g.Navigate(p)
}

func (g *Guard) current() Decision {
	d := Decision{Path: g.path, State: g.state}
	switch {
	case g.state == StateAuthenticated:
		d.Render = true
	case g.IsPublic(g.path):
		d.Render = true
	default:
		d.Redirect = &Redirect{To: LoginPath, From: g.path, Replace: true}
	}
	return d
}

func (g *Guard) evaluate() (state State) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Printf("gate: credential check failed: %v", r)
			state = StateUnauthenticated
		}
	}()
	if g.provider == nil {
		return StateUnauthenticated
	}
	cred, ok := g.provider.Credential()
	if !ok || !cred.Valid() {
		return StateUnauthenticated
	}
	return StateAuthenticated
}

// Normalize cleans a route path so "/agents/" and "agents" compare equal.
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

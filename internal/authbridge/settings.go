package authbridge

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/opsflow/internal/config"
)

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8765
	DefaultExchangeTimeout = 30 * time.Second
)

// ErrNotLoopback is returned for a callback host reachable from other machines.
var ErrNotLoopback = errors.New("authbridge: callback host must be a loopback address")

// Settings locate the callback listener. The redirect URI registered with the
// backend is derived from them, so Host must resolve to this machine only.
type Settings struct {
	Host string
	// Port 0 binds an ephemeral port; the redirect URI then comes from the
	// running server.
	Port int
	// ExchangeTimeout bounds one callback request, code exchange included.
	ExchangeTimeout time.Duration
}

// SettingsFromConfig reads callback.host/callback.port, then applies
// OPSFLOW_CALLBACK_HOST and OPSFLOW_CALLBACK_PORT.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := Settings{Host: DefaultHost, Port: DefaultPort, ExchangeTimeout: DefaultExchangeTimeout}
	if cfg != nil {
		if host := strings.TrimSpace(cfg.Project.Callback.Host); host != "" {
			s.Host = host
		}
		if port := cfg.Project.Callback.Port; port > 0 && port <= 65535 {
			s.Port = port
		}
	}
	if host := strings.TrimSpace(os.Getenv("OPSFLOW_CALLBACK_HOST")); host != "" {
		s.Host = host
	}
	if raw := strings.TrimSpace(os.Getenv("OPSFLOW_CALLBACK_PORT")); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 && port <= 65535 {
			s.Port = port
		}
	}
	return s
}

// Validate refuses settings the listener must not bind.
func (s Settings) Validate() error {
	if !isLoopback(s.Host) {
		return fmt.Errorf("%w: %q", ErrNotLoopback, s.Host)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("authbridge: invalid callback port %d", s.Port)
	}
	return nil
}

// Address is the host:port the listener binds.
func (s Settings) Address() string {
	return net.JoinHostPort(strings.Trim(strings.TrimSpace(s.Host), "[]"), strconv.Itoa(s.Port))
}

// RedirectURI is the callback URL the browser is sent back to.
func (s Settings) RedirectURI() string {
	return redirectURI(s.Address())
}

func (s Settings) exchangeTimeout() time.Duration {
	if s.ExchangeTimeout <= 0 {
		return DefaultExchangeTimeout
	}
	return s.ExchangeTimeout
}

func redirectURI(hostport string) string {
	u := url.URL{Scheme: "http", Host: hostport, Path: CallbackPath}
	return u.String()
}

func isLoopback(host string) bool {
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

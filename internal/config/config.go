// internal/config/config.go
//
// This package handles configuration and the .opsflow directory structure.
// The client keeps its config, logs, and stored session under .opsflow/ in
// the user's home directory unless OPSFLOW_HOME points elsewhere.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// OpsflowDir is the name of the directory we create under the base directory
	OpsflowDir = ".opsflow"

	defaultBaseURL  = "http://localhost:8000/api/v1"
	defaultTimeout  = "15s"
	defaultDriver   = "file"
	defaultOverlap  = "allow"
	defaultCallback = 8765
)

// Resources with their own poll interval.
const (
	ResourceAgents        = "agents"
	ResourceWorkflows     = "workflows"
	ResourceApprovals     = "approvals"
	ResourceAudit         = "audit"
	ResourceAnalytics     = "analytics"
	ResourceNotifications = "notifications"
)

var defaultIntervals = map[string]string{
	ResourceAgents:        "10s",
	ResourceWorkflows:     "15s",
	ResourceApprovals:     "10s",
	ResourceAudit:         "15s",
	ResourceAnalytics:     "30s",
	ResourceNotifications: "30s",
}

const defaultProjectConfigYAML = `# opsflow client configuration
version: 1

api:
  base_url: http://localhost:8000/api/v1
  timeout: 15s

# Where the session is kept: file (storage.json) or sqlite (storage.db).
storage:
  driver: file

# How often each view refreshes while it is open.
polling:
  agents: 10s
  workflows: 15s
  approvals: 10s
  audit: 15s
  analytics: 30s
  notifications: 30s
  # What to do when a refresh fires before the previous one returned:
  # allow (apply in arrival order), drop-stale, or skip.
  overlap: allow

# Loopback listener for the Google sign-in redirect.
callback:
  host: 127.0.0.1
  port: 8765
`

// APIConfig locates the backend.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// StorageConfig selects the session store driver.
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// PollingConfig holds per-resource refresh intervals as duration strings.
type PollingConfig struct {
	Agents        string `yaml:"agents"`
	Workflows     string `yaml:"workflows"`
	Approvals     string `yaml:"approvals"`
	Audit         string `yaml:"audit"`
	Analytics     string `yaml:"analytics"`
	Notifications string `yaml:"notifications"`
	Overlap       string `yaml:"overlap"`
}

// CallbackConfig configures the OAuth callback listener.
type CallbackConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProjectConfig models .opsflow/config.yaml.
type ProjectConfig struct {
	Version  int            `yaml:"version"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Polling  PollingConfig  `yaml:"polling"`
	Callback CallbackConfig `yaml:"callback"`
}

// Config holds the runtime configuration for the client.
type Config struct {
	// BaseDir is the directory that holds .opsflow/
	BaseDir string

	// OpsflowProjectDir is BaseDir/.opsflow
	OpsflowProjectDir string

	Project ProjectConfig
}

// ResolveBaseDir picks the directory that holds .opsflow/: OPSFLOW_HOME when
// set, otherwise the user's home directory.
func ResolveBaseDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("OPSFLOW_HOME")); dir != "" {
		return filepath.Clean(dir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return home, nil
}

// InitOpsflowDir creates the .opsflow directory structure in baseDir.
//
// Structure created:
// .opsflow/
// ├── config.yaml
// ├── logs/     <- diagnostic log and activity journal
// └── state/    <- stored session (storage.json or storage.db)
func InitOpsflowDir(baseDir string) error {
	root := filepath.Join(baseDir, OpsflowDir)
	dirs := []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig loads .opsflow/config.yaml from baseDir, then applies a .env file
// from the working directory and OPSFLOW_* environment overrides.
func NewConfig(baseDir string) (*Config, error) {
	cfg := &Config{
		BaseDir:           baseDir,
		OpsflowProjectDir: filepath.Join(baseDir, OpsflowDir),
		Project:           defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.Project.applyEnvOverrides()
	cfg.Project.normalize()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs into the environment without replacing
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.OpsflowProjectDir, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.OpsflowProjectDir, "state")
}

// ProjectConfigPath returns the on-disk location for the config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.OpsflowProjectDir, "config.yaml")
}

// BaseURL returns the backend base URL.
func (c *Config) BaseURL() string {
	return c.Project.API.BaseURL
}

// APITimeout returns the per-request timeout.
func (c *Config) APITimeout() time.Duration {
	d, _ := time.ParseDuration(c.Project.API.Timeout)
	return d
}

// StorageDriver returns the configured session store driver.
func (c *Config) StorageDriver() string {
	return c.Project.Storage.Driver
}

// PollInterval returns the refresh interval for a resource. Unknown
// resources fall back to the agents cadence.
func (c *Config) PollInterval(resource string) time.Duration {
	raw := c.Project.Polling.interval(resource)
	if raw == "" {
		raw = defaultIntervals[ResourceAgents]
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		d, _ = time.ParseDuration(defaultIntervals[ResourceAgents])
	}
	return d
}

// OverlapPolicy returns the raw overlap policy name.
func (c *Config) OverlapPolicy() string {
	return c.Project.Polling.Overlap
}

// SetBaseURL updates the backend address and persists it.
func (c *Config) SetBaseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if err := validateBaseURL(raw); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Project.API.BaseURL = raw
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.API.BaseURL) == "" {
		pc.API.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(pc.API.Timeout) == "" {
		pc.API.Timeout = defaultTimeout
	}
	if strings.TrimSpace(pc.Storage.Driver) == "" {
		pc.Storage.Driver = defaultDriver
	}
	for resource, value := range defaultIntervals {
		if ptr := pc.Polling.field(resource); ptr != nil && strings.TrimSpace(*ptr) == "" {
			*ptr = value
		}
	}
	if strings.TrimSpace(pc.Polling.Overlap) == "" {
		pc.Polling.Overlap = defaultOverlap
	}
	if strings.TrimSpace(pc.Callback.Host) == "" {
		pc.Callback.Host = "127.0.0.1"
	}
	if pc.Callback.Port == 0 {
		pc.Callback.Port = defaultCallback
	}
}

func (pc *ProjectConfig) applyEnvOverrides() {
	if value := strings.TrimSpace(os.Getenv("OPSFLOW_API_BASE_URL")); value != "" {
		pc.API.BaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv("OPSFLOW_STORAGE_DRIVER")); value != "" {
		pc.Storage.Driver = value
	}
	if value := strings.TrimSpace(os.Getenv("OPSFLOW_POLL_OVERLAP")); value != "" {
		pc.Polling.Overlap = value
	}
}

func (pc *ProjectConfig) normalize() {
	pc.API.BaseURL = strings.TrimRight(strings.TrimSpace(pc.API.BaseURL), "/")
	pc.API.Timeout = strings.TrimSpace(pc.API.Timeout)
	pc.Storage.Driver = normalizeName(pc.Storage.Driver)
	pc.Polling.Overlap = normalizeName(pc.Polling.Overlap)
	for resource := range defaultIntervals {
		if ptr := pc.Polling.field(resource); ptr != nil {
			*ptr = strings.TrimSpace(*ptr)
		}
	}
	pc.Callback.Host = strings.TrimSpace(pc.Callback.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if err := validateBaseURL(pc.API.BaseURL); err != nil {
		return err
	}
	if d, err := time.ParseDuration(pc.API.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("api.timeout must be a positive duration, got %q", pc.API.Timeout)
	}
	switch pc.Storage.Driver {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver must be 'file', 'sqlite' or 'memory'")
	}
	for resource := range defaultIntervals {
		raw := pc.Polling.interval(resource)
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("polling.%s must be a positive duration, got %q", resource, raw)
		}
	}
	switch pc.Polling.Overlap {
	case "allow", "drop-stale", "drop_stale", "sequence", "skip", "serialize":
	default:
		return fmt.Errorf("polling.overlap must be 'allow', 'drop-stale' or 'skip'")
	}
	if pc.Callback.Port < 0 || pc.Callback.Port > 65535 {
		return fmt.Errorf("callback.port must be between 0 and 65535")
	}
	return nil
}

func (p *PollingConfig) field(resource string) *string {
	switch resource {
	case ResourceAgents:
		return &p.Agents
	case ResourceWorkflows:
		return &p.Workflows
	case ResourceApprovals:
		return &p.Approvals
	case ResourceAudit:
		return &p.Audit
	case ResourceAnalytics:
		return &p.Analytics
	case ResourceNotifications:
		return &p.Notifications
	default:
		return nil
	}
}

func (p PollingConfig) interval(resource string) string {
	if ptr := p.field(resource); ptr != nil {
		return *ptr
	}
	return ""
}

func validateBaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", raw)
	}
	return nil
}

func normalizeName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o600)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.OpsflowProjectDir, 0o700); err != nil {
		return fmt.Errorf("config: ensure opsflow dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o600); err != nil {
		return fmt.Errorf("config: write config: %w", err)
	}
	return nil
}

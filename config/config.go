// Package config loads steward's YAML configuration and resolves the
// credentials and service endpoints derived from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/martinemde/steward/agentloop"
)

// Defaults.
const (
	DefaultProvider     = "kimi"
	DefaultModel        = "kimi-k2.5"
	DefaultCodeBaseURL  = "https://api.kimi.com/coding/v1"
	DefaultMoonshotBase = "https://api.moonshot.cn/v1"
	DefaultFileName     = "steward.yaml"
)

// AuthMode selects the credential source.
type AuthMode string

const (
	AuthOAuth  AuthMode = "oauth"
	AuthAPIKey AuthMode = "api_key"
)

// AuthConfig configures model credentials.
type AuthConfig struct {
	Mode    AuthMode `yaml:"mode"`
	APIKey  string   `yaml:"api_key"`
	APIBase string   `yaml:"api_base"`
}

// SearchConfig locates the web search service.
type SearchConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// ServicesConfig groups the auxiliary services used by tools.
type ServicesConfig struct {
	Search SearchConfig `yaml:"search"`
}

// Config is the on-disk configuration after defaults and environment
// overrides have been applied.
type Config struct {
	WorkDir      string         `yaml:"work_dir"`
	Provider     string         `yaml:"provider"`
	Model        string         `yaml:"model"`
	Yolo         bool           `yaml:"yolo"`
	MaxToolSteps int            `yaml:"max_tool_steps"`
	ShareDir     string         `yaml:"share_dir"`
	DataDir      string         `yaml:"data_dir"`
	ToolConfig   string         `yaml:"tool_config"`
	LogLevel     string         `yaml:"log_level"`
	Auth         AuthConfig     `yaml:"auth"`
	Services     ServicesConfig `yaml:"services"`

	path string
}

// envOverrides are read from the process environment.
type envOverrides struct {
	CodeBaseURL    string `env:"KIMI_CODE_BASE_URL"`
	BaseURL        string `env:"KIMI_BASE_URL"`
	APIKey         string `env:"KIMI_API_KEY"`
	MoonshotAPIKey string `env:"MOONSHOT_API_KEY"`
	LogLevel       string `env:"STEWARD_LOG_LEVEL"`
}

// ShareDir is the kimi share directory, ~/.kimi.
func ShareDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".kimi")
}

// DefaultPath is ~/.kimi/steward.yaml.
func DefaultPath() string {
	return filepath.Join(ShareDir(), DefaultFileName)
}

// Load reads the file at path (DefaultPath when empty) and applies the
// process environment. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithEnv is Load with an explicit environment instead of os.Environ.
func LoadWithEnv(path string, environ map[string]string) (*Config, error) {
	if environ == nil {
		environ = map[string]string{}
	}
	return load(path, environ)
}

func load(path string, environ map[string]string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	var ov envOverrides
	if err := env.ParseWithOptions(&ov, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.applyEnv(ov)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(ov envOverrides) {
	switch {
	case ov.CodeBaseURL != "":
		c.Auth.APIBase = ov.CodeBaseURL
	case ov.BaseURL != "":
		c.Auth.APIBase = ov.BaseURL
	}
	switch {
	case ov.APIKey != "":
		c.Auth.APIKey = ov.APIKey
	case ov.MoonshotAPIKey != "":
		c.Auth.APIKey = ov.MoonshotAPIKey
	}
	if ov.LogLevel != "" {
		c.LogLevel = ov.LogLevel
	}
}

func (c *Config) normalize() error {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxToolSteps <= 0 {
		c.MaxToolSteps = agentloop.DefaultStepBudget
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ShareDir == "" {
		c.ShareDir = ShareDir()
	}
	c.ShareDir = expandHome(c.ShareDir)
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.ShareDir, "steward")
	}
	c.DataDir = expandHome(c.DataDir)
	c.ToolConfig = expandHome(c.ToolConfig)

	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthOAuth
		if c.Auth.APIKey != "" {
			c.Auth.Mode = AuthAPIKey
		}
	}
	switch c.Auth.Mode {
	case AuthOAuth:
		if c.Auth.APIBase == "" {
			c.Auth.APIBase = DefaultCodeBaseURL
		}
	case AuthAPIKey:
		if c.Auth.APIBase == "" {
			c.Auth.APIBase = DefaultMoonshotBase
		}
	default:
		return fmt.Errorf("invalid auth mode %q: must be %s or %s", c.Auth.Mode, AuthOAuth, AuthAPIKey)
	}

	wd, err := ResolveWorkDir(c.WorkDir)
	if err != nil {
		return err
	}
	c.WorkDir = wd
	return nil
}

// Path is the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// ResolvedWorkDir is the absolute, cleaned working directory.
func (c *Config) ResolvedWorkDir() string {
	return c.WorkDir
}

// ConfigPath is the auxiliary configuration handed to tools: tool_config
// when set, otherwise this file.
func (c *Config) ConfigPath() string {
	if c.ToolConfig != "" {
		return c.ToolConfig
	}
	return c.path
}

// SessionDBPath is the session database inside the data dir.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// SearchService returns the configured search backend.
func (c *Config) SearchService() agentloop.SearchService {
	return agentloop.SearchService{
		BaseURL: strings.TrimSpace(c.Services.Search.BaseURL),
		APIKey:  strings.TrimSpace(c.Services.Search.APIKey),
	}
}

// ServiceResolver reads the search service from the tool config path on
// every call so edits apply to the next tool call. Paths that cannot be
// read, or that configure no search service, fall back to this
// configuration.
func (c *Config) ServiceResolver() func(configPath string) agentloop.SearchService {
	return func(configPath string) agentloop.SearchService {
		if configPath == "" || configPath == c.path {
			return c.SearchService()
		}
		data, err := os.ReadFile(configPath)
		if err != nil {
			return c.SearchService()
		}
		var aux struct {
			Services ServicesConfig `yaml:"services"`
		}
		if err := yaml.Unmarshal(data, &aux); err != nil {
			return c.SearchService()
		}
		other := Config{Services: aux.Services}
		if svc := other.SearchService(); svc.Configured() {
			return svc
		}
		return c.SearchService()
	}
}

// ResolveWorkDir makes dir absolute and clean, defaulting to the process
// working directory.
func ResolveWorkDir(dir string) (string, error) {
	dir = expandHome(strings.TrimSpace(dir))
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve working directory %s: %w", dir, err)
	}
	return filepath.Clean(abs), nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Package config provides YAML-based configuration loading for interviewdesk.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level interviewdesk configuration, loaded from idesk.yaml.
type Config struct {
	APIURL     string           `yaml:"api_url"`
	SocketURL  string           `yaml:"socket_url"`
	SocketPath string           `yaml:"socket_path"`
	Token      string           `yaml:"token"`
	Session    SessionConfig    `yaml:"session"`
	Database   DatabaseConfig   `yaml:"database"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Notify     NotifyConfig     `yaml:"notify"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Log        LogConfig        `yaml:"log"`
}

// SessionConfig tunes the live session behaviour.
type SessionConfig struct {
	RedirectDelayMs int    `yaml:"redirect_delay_ms"`
	LeaseTimeoutSec int    `yaml:"lease_timeout_sec"`
	Heartbeat       string `yaml:"heartbeat"` // cron spec, e.g. "@every 30s"
	Holder          string `yaml:"holder"`
}

// DatabaseConfig selects the local state store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// EvaluationConfig selects the answer scorer.
type EvaluationConfig struct {
	Provider string       `yaml:"provider"` // "http" or "gemini"
	Endpoint string       `yaml:"endpoint"`
	Gemini   GeminiConfig `yaml:"gemini"`
}

// GeminiConfig holds Gemini API settings for the gemini provider.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// NotifyConfig holds webhook targets for end-of-session summaries.
type NotifyConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	DiscordWebhook string `yaml:"discord_webhook"`
}

// DashboardConfig configures the local web view.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	JSON  bool `yaml:"json"`
	Debug bool `yaml:"debug"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode unmarshals YAML bytes without defaults or validation. Call
// Finalize once overrides are applied.
func Decode(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &cfg, nil
}

// Finalize applies defaults and validates a Config assembled outside of
// Parse, e.g. after command-line overrides.
func (c *Config) Finalize() error {
	c.applyDefaults()
	return c.validate()
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.SocketURL == "" {
		c.SocketURL = c.APIURL
	}
	if c.SocketURL == "" {
		c.SocketURL = "http://localhost:8000"
	}
	if c.SocketPath == "" {
		c.SocketPath = "/ws/socket.io"
	}
	if c.Session.RedirectDelayMs == 0 {
		c.Session.RedirectDelayMs = 1500
	}
	if c.Session.LeaseTimeoutSec == 0 {
		c.Session.LeaseTimeoutSec = 90
	}
	if c.Session.Heartbeat == "" {
		c.Session.Heartbeat = "@every 30s"
	}
	if c.Session.Holder == "" {
		if host, err := os.Hostname(); err == nil {
			c.Session.Holder = host
		} else {
			c.Session.Holder = "local"
		}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "idesk.db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "interviewdesk"
		}
	}
	if c.Evaluation.Provider == "" {
		c.Evaluation.Provider = "http"
	}
	if c.Evaluation.Endpoint == "" {
		c.Evaluation.Endpoint = "/evaluation/answer"
	}
	if c.Evaluation.Gemini.Model == "" {
		c.Evaluation.Gemini.Model = "gemini-2.5-pro"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.APIURL == "" {
		errs = append(errs, "api_url is required")
	} else if u, err := url.Parse(c.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("api_url %q is not an absolute URL", c.APIURL))
	}
	if !strings.HasPrefix(c.SocketPath, "/") {
		errs = append(errs, "socket_path must start with /")
	}
	if c.Session.RedirectDelayMs < 0 {
		errs = append(errs, "session.redirect_delay_ms must not be negative")
	}
	if c.Session.LeaseTimeoutSec < 0 {
		errs = append(errs, "session.lease_timeout_sec must not be negative")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	switch c.Evaluation.Provider {
	case "http":
	case "gemini":
		if c.Evaluation.Gemini.APIKey == "" {
			errs = append(errs, "evaluation.gemini.api_key is required for the gemini provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("evaluation.provider %q must be http or gemini", c.Evaluation.Provider))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RedirectDelay returns the post-closure redirect delay.
func (c *Config) RedirectDelay() time.Duration {
	return time.Duration(c.Session.RedirectDelayMs) * time.Millisecond
}

// LeaseTimeout returns the duration after which a room lease is stale.
func (c *Config) LeaseTimeout() time.Duration {
	return time.Duration(c.Session.LeaseTimeoutSec) * time.Second
}

// SocketEndpoint returns the websocket URL for the real-time channel,
// translating http(s) schemes to ws(s).
func (c *Config) SocketEndpoint() string {
	base := strings.TrimRight(c.SocketURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + c.SocketPath
}

package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables honored by the config layer.
const (
	// EnvGatewayURL overrides the gateway URL in any mode; the instance key
	// is appended as a query parameter.
	EnvGatewayURL = "HELIX_GATEWAY_URL"
	// EnvGatewayProdURL is consulted in production mode when no explicit URL
	// or general override is set.
	EnvGatewayProdURL = "HELIX_GATEWAY_PROD_URL"
	// EnvGatewayToken overrides the auth token.
	EnvGatewayToken = "HELIX_GATEWAY_TOKEN"
)

// DefaultGatewayPort is the well-known local gateway port.
const DefaultGatewayPort = 18789

// devGatewayURL is the development default and last-resort fallback.
var devGatewayURL = fmt.Sprintf("ws://127.0.0.1:%d", DefaultGatewayPort)

// Config is the top-level application configuration.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Launcher LauncherConfig `yaml:"launcher"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// GatewayConfig holds gateway connection settings.
type GatewayConfig struct {
	// URL is an explicit gateway URL override. When empty the URL is
	// resolved from environment and mode (see ResolveURL).
	URL string `yaml:"url"`
	// Mode is "development" or "production".
	Mode string `yaml:"mode"`
	// Instance identifies this client instance to the gateway.
	Instance string `yaml:"instance"`
	// Token is the opaque auth token. Usually left empty and resolved
	// from the token store or HELIX_GATEWAY_TOKEN.
	Token string `yaml:"token"`

	ClientID   string   `yaml:"client_id"`
	ClientName string   `yaml:"client_name"`
	Role       string   `yaml:"role"`
	Scopes     []string `yaml:"scopes"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	ReconnectBase  time.Duration `yaml:"reconnect_base"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

// MonitorConfig holds gateway health monitor settings.
type MonitorConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Interval           time.Duration `yaml:"interval"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold"`
	MaxRestarts        int           `yaml:"max_restarts"`
}

// LauncherConfig holds local gateway process settings (development mode).
type LauncherConfig struct {
	Enabled bool     `yaml:"enabled"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"work_dir"`
	Port    int      `yaml:"port"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Mode:           "development",
			ClientID:       "helix-desktop",
			ClientName:     "Helix",
			Role:           "operator",
			Scopes:         []string{"operator.admin"},
			ConnectTimeout: 15 * time.Second,
			RequestTimeout: 60 * time.Second,
			TickInterval:   30 * time.Second,
			ReconnectBase:  1 * time.Second,
			MaxReconnects:  5,
		},
		Monitor: MonitorConfig{
			Enabled:            false,
			Interval:           30 * time.Second,
			ProbeTimeout:       5 * time.Second,
			UnhealthyThreshold: 3,
			MaxRestarts:        3,
		},
		Launcher: LauncherConfig{
			Enabled: false,
			Command: "openclaw",
			Port:    DefaultGatewayPort,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides copies supported environment variables into cfg.
func ApplyEnvOverrides(cfg *Config) {
	if token := os.Getenv(EnvGatewayToken); token != "" {
		cfg.Gateway.Token = token
	}
}

// Validate checks cross-field constraints.
func Validate(cfg *Config) error {
	g := &cfg.Gateway
	switch g.Mode {
	case "development", "production":
	default:
		return fmt.Errorf("gateway.mode: unknown mode %q", g.Mode)
	}
	if g.URL != "" {
		u, err := url.Parse(g.URL)
		if err != nil {
			return fmt.Errorf("gateway.url: %w", err)
		}
		switch u.Scheme {
		case "wss":
		case "ws":
			if g.Mode == "production" {
				return fmt.Errorf("gateway.url: plain ws:// is only allowed in development mode")
			}
		default:
			return fmt.Errorf("gateway.url: unsupported scheme %q", u.Scheme)
		}
	}
	if g.ConnectTimeout <= 0 || g.RequestTimeout <= 0 || g.ReconnectBase <= 0 {
		return fmt.Errorf("gateway: timeouts must be positive")
	}
	if g.MaxReconnects < 0 {
		return fmt.Errorf("gateway.max_reconnects: must not be negative")
	}
	return nil
}

// ResolveURL determines the gateway URL. Resolution order: explicit config
// URL, HELIX_GATEWAY_URL (with the instance key appended as a query
// parameter), the development default, HELIX_GATEWAY_PROD_URL, and finally
// the loopback fallback with a warning.
func (g *GatewayConfig) ResolveURL(logger *slog.Logger) string {
	if g.URL != "" {
		return g.URL
	}
	if env := os.Getenv(EnvGatewayURL); env != "" {
		return appendInstance(env, g.Instance)
	}
	if g.Mode == "development" {
		return devGatewayURL
	}
	if env := os.Getenv(EnvGatewayProdURL); env != "" {
		return appendInstance(env, g.Instance)
	}
	logger.Warn("no gateway URL configured, falling back to loopback", "url", devGatewayURL)
	return devGatewayURL
}

// appendInstance adds the instance key as a query parameter.
func appendInstance(rawURL, instance string) string {
	if instance == "" {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "instance=" + url.QueryEscape(instance)
}

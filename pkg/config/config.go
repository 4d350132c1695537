// Package config provides configuration structures and loading logic for the gateway.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Auth      AuthConfig      `yaml:"auth"`
	Mail      MailConfig      `yaml:"mail"`
	Frontend  FrontendConfig  `yaml:"frontend"`
	Branding  BrandingConfig  `yaml:"branding"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds configuration for the HTTP servers.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	AdminAddress  string `yaml:"admin_address"`
}

// UpstreamConfig holds configuration for the proxied imaging origin.
type UpstreamConfig struct {
	Origin          string        `yaml:"origin"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	IdleReadTimeout time.Duration `yaml:"idle_read_timeout"`
}

// AuthConfig holds configuration for the identity gateway.
type AuthConfig struct {
	TokenSecret string `yaml:"token_secret"`
	LocalPrefix string `yaml:"local_prefix"`
}

// MailConfig holds configuration for outbound verification mail.
type MailConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	FromName    string `yaml:"from_name"`
	FromAddress string `yaml:"from_address"`
}

// FrontendConfig holds the public-facing base URL used to build links.
type FrontendConfig struct {
	BaseURL string `yaml:"base_url"`
}

// BrandingConfig holds configuration for response rebranding.
type BrandingConfig struct {
	AssetPath   string `yaml:"asset_path"`
	ProductName string `yaml:"product_name"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// Load reads configuration from a file and applies environment variable
// overrides. A missing config file is not an error; the gateway runs on
// defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			ListenAddress: ":5830",
			AdminAddress:  ":15830",
		},
		Upstream: UpstreamConfig{
			Origin:          "http://localhost:8042",
			ConnectTimeout:  10 * time.Second,
			IdleReadTimeout: 120 * time.Second,
		},
		Auth: AuthConfig{
			TokenSecret: "your-secret-key-change-in-production",
			LocalPrefix: "/auth",
		},
		Mail: MailConfig{
			Host:        "smtp-mail.outlook.com",
			Port:        587,
			FromName:    "EMEDX",
			FromAddress: "service@mdecx.com",
		},
		Frontend: FrontendConfig{
			BaseURL: "http://localhost:5829",
		},
		Branding: BrandingConfig{
			AssetPath:   "assets/logo.png",
			ProductName: "EMEDX Imaging",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Run on defaults + environment.
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GATEWAY_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("GATEWAY_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}

	if val := os.Getenv("UPSTREAM_URL"); val != "" {
		cfg.Upstream.Origin = val
	}

	if val := os.Getenv("JWT_SECRET"); val != "" {
		cfg.Auth.TokenSecret = val
	}

	if val := os.Getenv("EMAIL_HOST"); val != "" {
		cfg.Mail.Host = val
	}
	if val := os.Getenv("EMAIL_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil && port > 0 {
			cfg.Mail.Port = port
		}
	}
	if val := os.Getenv("EMAIL_USER"); val != "" {
		cfg.Mail.Username = val
	}
	if val := os.Getenv("EMAIL_PASSWORD"); val != "" {
		cfg.Mail.Password = val
	}
	if val := os.Getenv("EMAIL_FROM_NAME"); val != "" {
		cfg.Mail.FromName = val
	}

	if val := os.Getenv("FRONTEND_URL"); val != "" {
		cfg.Frontend.BaseURL = val
	}

	if val := os.Getenv("BRANDING_ASSET_PATH"); val != "" {
		cfg.Branding.AssetPath = val
	}

	if val := os.Getenv("GATEWAY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	if val := os.Getenv("GATEWAY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("GATEWAY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
}

// RequireVerifiedEmail reports whether login must be blocked for unverified
// accounts. It is read from the environment on every call, matching the
// per-request semantics of the original deployment, and supports the two
// legacy variable names. REQUIRE_VERIFY_EMAIL takes precedence when both are
// set; a disagreement between the two is logged because the precedence in
// that case was never defined by the legacy deployment. Absent or
// unparseable values default to false.
func RequireVerifiedEmail() bool {
	primary := strings.TrimSpace(os.Getenv("REQUIRE_VERIFY_EMAIL"))
	legacy := strings.TrimSpace(os.Getenv("REQUIRE_EMAIL_VERIFY"))

	if primary != "" && legacy != "" && !strings.EqualFold(primary, legacy) {
		slog.Warn("REQUIRE_VERIFY_EMAIL and REQUIRE_EMAIL_VERIFY disagree; using REQUIRE_VERIFY_EMAIL",
			"require_verify_email", primary,
			"require_email_verify", legacy,
		)
	}

	val := primary
	if val == "" {
		val = legacy
	}
	return strings.ToLower(val) == "true"
}

// Validate performs comprehensive validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream configuration: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":5830"
	}
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = ":15830"
	}
	if c.ListenAddress == c.AdminAddress {
		return fmt.Errorf("listen_address %q conflicts with admin_address", c.ListenAddress)
	}
	return nil
}

// Validate performs validation of upstream configuration.
func (c *UpstreamConfig) Validate() error {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", c.Origin, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin %q must be an absolute http or https URL", c.Origin)
	}
	if u.Host == "" {
		return fmt.Errorf("origin %q missing host", c.Origin)
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.IdleReadTimeout <= 0 {
		c.IdleReadTimeout = 120 * time.Second
	}
	return nil
}

// OriginURL returns the parsed upstream origin. Validate must have succeeded.
func (c *UpstreamConfig) OriginURL() *url.URL {
	u, _ := url.Parse(c.Origin)
	return u
}

// Validate performs validation of auth configuration.
func (c *AuthConfig) Validate() error {
	if strings.TrimSpace(c.TokenSecret) == "" {
		return fmt.Errorf("token_secret must not be empty")
	}
	prefix := strings.TrimSpace(c.LocalPrefix)
	if prefix == "" {
		prefix = "/auth"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	c.LocalPrefix = strings.TrimRight(prefix, "/")
	if c.LocalPrefix == "" {
		return fmt.Errorf("local_prefix must not be the root path")
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// Package config loads settings for the partner API server and the
// partnerctl client.
//
// Values are resolved in order: built-in defaults, then the YAML file if
// one is given, then environment overrides. The result is validated
// before it is returned.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Environment names the deployment type.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the root configuration.
type Config struct {
	Environment Environment     `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Client      ClientConfig    `yaml:"client"`
	Reconcile   ReconcileConfig `yaml:"reconcile"`
	Log         LogConfig       `yaml:"log"`
	// CatalogPath is the YAML file with offers, products and support
	// contacts.
	CatalogPath string `yaml:"catalog_path"`
}

// ServerConfig configures cmd/api.
type ServerConfig struct {
	Addr        string        `yaml:"addr"`
	DatabaseURL string        `yaml:"database_url"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
	OTPTTL      time.Duration `yaml:"otp_ttl"`
	// ProjectorInterval is how often the agreement projector drains the
	// outbox. Larger values widen the window in which reads lag writes.
	ProjectorInterval time.Duration `yaml:"projector_interval"`
	ProjectorBatch    int           `yaml:"projector_batch"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	// MaxConns caps the pgx pool; zero keeps the pgx default.
	MaxConns int32 `yaml:"max_conns"`
}

// ClientConfig configures partnerctl.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// ReconcileConfig tunes agreement confirmation polling.
type ReconcileConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	Delay        time.Duration `yaml:"delay"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Development selects the console encoder.
	Development bool `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Addr:              ":8080",
			MaxConns:          10,
			TokenTTL:          24 * time.Hour,
			OTPTTL:            5 * time.Minute,
			ProjectorInterval: 2 * time.Second,
			ProjectorBatch:    100,
			ShutdownTimeout:   10 * time.Second,
			MaxUploadBytes:    25 << 20,
		},
		Client: ClientConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 15 * time.Second,
		},
		Reconcile: ReconcileConfig{
			MaxAttempts:  3,
			Delay:        1500 * time.Millisecond,
			InitialDelay: time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Server.DatabaseURL, "DATABASE_URL")
	set(&c.Server.JWTSecret, "JWT_SECRET")
	set(&c.Server.Addr, "PARTNERFLOW_ADDR")
	set(&c.Client.BaseURL, "PARTNERFLOW_BASE_URL")
	set(&c.Client.Token, "PARTNERFLOW_TOKEN")
	set(&c.CatalogPath, "PARTNERFLOW_CATALOG")
	if v := getenv("PARTNERFLOW_ENV"); v != "" {
		c.Environment = Environment(v)
	}
	if v := getenv("PARTNERFLOW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	switch c.Environment {
	case Development, Production:
	default:
		err = multierr.Append(err, fmt.Errorf("config: unknown environment %q", c.Environment))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("config: unknown log level %q", c.Log.Level))
	}
	if c.Reconcile.MaxAttempts < 1 {
		err = multierr.Append(err, errors.New("config: reconcile.max_attempts must be at least 1"))
	}
	if c.Reconcile.Delay < 0 || c.Reconcile.InitialDelay < 0 {
		err = multierr.Append(err, errors.New("config: reconcile delays must not be negative"))
	}
	if c.Server.ProjectorInterval <= 0 {
		err = multierr.Append(err, errors.New("config: server.projector_interval must be positive"))
	}
	if c.Server.MaxConns < 0 {
		err = multierr.Append(err, errors.New("config: server.max_conns must not be negative"))
	}
	if c.Server.ProjectorBatch < 1 {
		err = multierr.Append(err, errors.New("config: server.projector_batch must be at least 1"))
	}
	if c.Server.TokenTTL <= 0 || c.Server.OTPTTL <= 0 {
		err = multierr.Append(err, errors.New("config: server token and otp ttl must be positive"))
	}
	if u, perr := url.Parse(c.Client.BaseURL); perr != nil || (u.Scheme != "http" && u.Scheme != "https") {
		err = multierr.Append(err, fmt.Errorf("config: client.base_url %q must be an http(s) url", c.Client.BaseURL))
	}
	if c.Environment == Production && len(c.Server.JWTSecret) < 32 {
		err = multierr.Append(err, errors.New("config: server.jwt_secret must be at least 32 bytes in production"))
	}
	return err
}

// RequireServer checks the settings only the API server needs.
func (c *Config) RequireServer() error {
	var err error
	if c.Server.DatabaseURL == "" {
		err = multierr.Append(err, errors.New("config: DATABASE_URL is required"))
	}
	if c.Server.JWTSecret == "" {
		err = multierr.Append(err, errors.New("config: JWT_SECRET is required"))
	}
	return err
}

// Package config handles environment and funcd.yaml configuration.
// Secrets (BACKEND_URL, API_KEY, POSTGRES_*) come from the environment;
// funcd.yaml carries the non-secret settings (listen addr, functions dir,
// runner command, CORS origins) for deployments that prefer a file.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimeout is the per-invocation handler timeout.
const DefaultTimeout = 30 * time.Second

// DefaultRunner is the interpreter command used to execute handler files.
const DefaultRunner = "deno run -A"

// Config is the resolved runtime configuration.
type Config struct {
	// Control plane.
	BackendURL string
	APIKey     string

	// Optional key required on inbound API calls. Empty leaves the
	// runtime open (trusted network).
	AdminKey string

	// HTTP listen address, host:port.
	ListenAddr string

	// Directory scanned for handler files.
	FunctionsDir string

	// Interpreter command, split on whitespace; the handler path is
	// appended as the final argument.
	Runner []string

	// Per-invocation timeout.
	Timeout time.Duration

	// Allowed CORS origins. Empty means the default admin UI origin.
	CORSOrigins []string

	// Postgres connection, zero-valued when no database is configured.
	Postgres PostgresConfig
}

// PostgresConfig holds the POSTGRES_* connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// Enabled reports whether a database connection is configured.
func (p PostgresConfig) Enabled() bool { return p.Host != "" }

// fileConfig is the funcd.yaml shape. Every field is optional; the
// environment wins when both are set.
type fileConfig struct {
	ListenAddr   string   `yaml:"listen_addr"`
	FunctionsDir string   `yaml:"functions_dir"`
	Runner       string   `yaml:"runner"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// ResolvePath finds the config file path.
// Priority: FUNCD_CONFIG env var > ./funcd.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("FUNCD_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("funcd.yaml"); err == nil {
		return "funcd.yaml"
	}
	return ""
}

// Load builds the configuration from the environment plus an optional
// funcd.yaml at path (empty path skips the file).
func Load(path string) (*Config, error) {
	var file fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg := &Config{
		BackendURL:   os.Getenv("BACKEND_URL"),
		APIKey:       os.Getenv("API_KEY"),
		AdminKey:     os.Getenv("FUNCD_API_KEY"),
		ListenAddr:   firstNonEmpty(os.Getenv("FUNCD_LISTEN_ADDR"), file.ListenAddr, ":8001"),
		FunctionsDir: firstNonEmpty(os.Getenv("FUNCTIONS_DIR"), file.FunctionsDir, "./functions"),
		Timeout:      DefaultTimeout,
	}

	if port := os.Getenv("PORT"); port != "" && os.Getenv("FUNCD_LISTEN_ADDR") == "" {
		cfg.ListenAddr = ":" + port
	}

	runner := firstNonEmpty(os.Getenv("FUNCTION_RUNNER"), file.Runner, DefaultRunner)
	cfg.Runner = strings.Fields(runner)

	// FUNCTION_TIMEOUT is in milliseconds.
	if v := os.Getenv("FUNCTION_TIMEOUT"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("FUNCTION_TIMEOUT=%q: must be a positive integer (milliseconds)", v)
		}
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}

	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, o := range strings.Split(env, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	} else {
		cfg.CORSOrigins = file.CORSOrigins
	}

	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		cfg.Postgres = PostgresConfig{
			Host:     host,
			Port:     5432,
			User:     firstNonEmpty(os.Getenv("POSTGRES_USER"), "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Database: firstNonEmpty(os.Getenv("POSTGRES_DB"), "postgres"),
		}
		if p := os.Getenv("POSTGRES_PORT"); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil || port <= 0 || port > 65535 {
				return nil, fmt.Errorf("POSTGRES_PORT=%q: must be a valid port number", p)
			}
			cfg.Postgres.Port = port
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks required fields and basic formats.
func (c *Config) validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen address %q: must be host:port (%v)", c.ListenAddr, err)
	}
	if len(c.Runner) == 0 {
		return fmt.Errorf("runner command is empty")
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/johndauphine/pg-mssql-migrate/internal/driver"
)

// Environment variables that carry complete connection strings. When set they
// take precedence over the individual host/user/password settings.
const (
	SourceDSNEnv = "PG_CONNECTION_STRING"
	TargetDSNEnv = "MSSQL_CONNECTION_STRING"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for a migration run
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Target    TargetConfig    `yaml:"target"`
	Migration MigrationConfig `yaml:"migration"`
	State     StateConfig     `yaml:"state"`
	Slack     SlackConfig     `yaml:"slack"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// SourceConfig holds the PostgreSQL connection settings
type SourceConfig struct {
	DSN      string `yaml:"dsn"` // full connection string, overrides everything below
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"` // disable, require, verify-ca, verify-full (default: require)
}

// TargetConfig holds the SQL Server connection settings
type TargetConfig struct {
	DSN             string `yaml:"dsn"` // full connection string, overrides everything below
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Encrypt         string `yaml:"encrypt"`           // disable, false, true (default: true)
	TrustServerCert bool   `yaml:"trust_server_cert"` // default: false
}

// MigrationConfig holds migration behavior settings
type MigrationConfig struct {
	Workers            int           `yaml:"workers"`             // tables moved concurrently (default 1)
	MaxConnections     int           `yaml:"max_connections"`     // per side; default workers+2
	ChunkSize          int           `yaml:"chunk_size"`          // rows handed to the loader per batch
	RowsPerBatch       int           `yaml:"rows_per_batch"`      // bulk copy hint (default chunk_size)
	BulkTimeout        time.Duration `yaml:"bulk_timeout"`        // per-table data load bound (default 5m)
	DDLTimeout         time.Duration `yaml:"ddl_timeout"`         // per DDL statement bound (default 60s)
	NamespaceSuffix    string        `yaml:"namespace_suffix"`    // destination namespace = source + suffix
	IncludeTables      []string      `yaml:"include_tables"`      // only migrate these "ns.table" globs
	ExcludeTables      []string      `yaml:"exclude_tables"`      // skip these "ns.table" globs
	RegenerateIdentity bool          `yaml:"regenerate_identity"` // bulk copy identity tables and let the server renumber
	BareTypes          bool          `yaml:"bare_types"`          // ignore declared lengths and precision when mapping types
	DataDir            string        `yaml:"data_dir"`
}

// StateConfig selects where run history is kept.
type StateConfig struct {
	Backend string `yaml:"backend"` // "sqlite" (default), "file" or "none"
	Path    string `yaml:"path"`    // defaults to <data_dir>/history.db or <data_dir>/history.yaml
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
	EnvFiles         []string // .env files loaded before ${VAR} expansion
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	if err := LoadEnvFiles(opts.EnvFiles...); err != nil {
		return nil, err
	}

	if warning := insecurePermissions(path, "Config file"); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadEnvFiles loads the given .env files into the process environment.
// Missing files are skipped; variables already set are not overwritten.
func LoadEnvFiles(paths ...string) error {
	var existing []string
	for _, p := range paths {
		p = expandTilde(p)
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
			if warning := insecurePermissions(p, "Env file"); warning != "" {
				fmt.Fprint(os.Stderr, warning)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading env file %s: %w", p, err)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("parsing config: env file: %w", err)
	}
	return nil
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and no
// connection details, for runs driven entirely by environment or prompts.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// DefaultDataDir returns the default data directory for state storage.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".pg-mssql-migrate")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	if c.Source.DSN == "" {
		c.Source.DSN = os.Getenv(SourceDSNEnv)
	}
	if c.Target.DSN == "" {
		c.Target.DSN = os.Getenv(TargetDSNEnv)
	}

	if c.Source.Port == 0 {
		c.Source.Port = driver.DefaultPort(driver.Postgres)
	}
	if c.Source.SSLMode == "" {
		c.Source.SSLMode = "require"
	}
	if c.Target.Port == 0 {
		c.Target.Port = driver.DefaultPort(driver.MSSQL)
	}
	if c.Target.Encrypt == "" {
		c.Target.Encrypt = "true"
	}

	if c.Migration.Workers == 0 {
		c.Migration.Workers = 1
	}
	if c.Migration.MaxConnections == 0 {
		c.Migration.MaxConnections = c.Migration.Workers + 2
	}
	if c.Migration.ChunkSize == 0 {
		c.Migration.ChunkSize = 10000
	}
	if c.Migration.RowsPerBatch == 0 {
		c.Migration.RowsPerBatch = c.Migration.ChunkSize
	}
	if c.Migration.BulkTimeout == 0 {
		c.Migration.BulkTimeout = 5 * time.Minute
	}
	if c.Migration.DDLTimeout == 0 {
		c.Migration.DDLTimeout = 60 * time.Second
	}
	if c.Migration.NamespaceSuffix == "" {
		c.Migration.NamespaceSuffix = "_new"
	}
	if c.Migration.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.Migration.DataDir = filepath.Join(home, ".pg-mssql-migrate")
	} else {
		c.Migration.DataDir = expandTilde(c.Migration.DataDir)
	}

	if c.State.Backend == "" {
		c.State.Backend = "sqlite"
	}
	if c.State.Path == "" {
		switch c.State.Backend {
		case "file":
			c.State.Path = filepath.Join(c.Migration.DataDir, "history.yaml")
		case "sqlite":
			c.State.Path = filepath.Join(c.Migration.DataDir, "history.db")
		}
	} else {
		c.State.Path = expandTilde(c.State.Path)
	}
}

func (c *Config) validate() error {
	if c.Migration.Workers < 1 {
		return fmt.Errorf("migration.workers must be at least 1, got %d", c.Migration.Workers)
	}
	if c.Migration.MaxConnections < c.Migration.Workers {
		return fmt.Errorf("migration.max_connections (%d) must be >= migration.workers (%d)",
			c.Migration.MaxConnections, c.Migration.Workers)
	}
	if c.Migration.ChunkSize < 1 {
		return fmt.Errorf("migration.chunk_size must be positive")
	}
	if c.Migration.BulkTimeout < 0 || c.Migration.DDLTimeout < 0 {
		return fmt.Errorf("migration timeouts must not be negative")
	}
	if strings.ContainsAny(c.Migration.NamespaceSuffix, "[]\"") {
		return fmt.Errorf("migration.namespace_suffix contains invalid value %q", c.Migration.NamespaceSuffix)
	}
	switch c.State.Backend {
	case "sqlite", "file", "none":
	default:
		return fmt.Errorf("state.backend must be 'sqlite', 'file' or 'none', got '%s'", c.State.Backend)
	}
	if c.Slack.Enabled && c.Slack.WebhookURL == "" {
		return fmt.Errorf("missing required slack.webhook_url when slack.enabled is true")
	}
	return nil
}

// SourceConfigured reports whether enough is known to attempt a source connection.
func (c *Config) SourceConfigured() bool {
	return c.Source.DSN != "" || (c.Source.Host != "" && c.Source.Database != "")
}

// TargetConfigured reports whether enough is known to attempt a destination connection.
func (c *Config) TargetConfigured() bool {
	return c.Target.DSN != "" || (c.Target.Host != "" && c.Target.Database != "")
}

// SourceDSN returns the PostgreSQL connection string
func (c *Config) SourceDSN() string {
	if c.Source.DSN != "" {
		return c.Source.DSN
	}
	return buildPostgresDSN(c.Source.Host, c.Source.Port, c.Source.Database,
		c.Source.User, c.Source.Password, c.Source.SSLMode)
}

// TargetDSN returns the SQL Server connection string
func (c *Config) TargetDSN() string {
	if c.Target.DSN != "" {
		return c.Target.DSN
	}
	return buildMSSQLDSN(c.Target.Host, c.Target.Port, c.Target.Database,
		c.Target.User, c.Target.Password, c.Target.Encrypt, c.Target.TrustServerCert)
}

func buildMSSQLDSN(host string, port int, database, user, password, encrypt string, trustServerCert bool) string {
	trustCert := "false"
	if trustServerCert {
		trustCert = "true"
	}
	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s&TrustServerCertificate=%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port,
		url.QueryEscape(database), encrypt, trustCert)
}

func buildPostgresDSN(host string, port int, database, user, password, sslMode string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(user), url.QueryEscape(password), host, port,
		url.PathEscape(database), sslMode)
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c

	if sanitized.Source.Password != "" {
		sanitized.Source.Password = "[REDACTED]"
	}
	if sanitized.Target.Password != "" {
		sanitized.Target.Password = "[REDACTED]"
	}
	if sanitized.Source.DSN != "" {
		sanitized.Source.DSN = redactDSN(sanitized.Source.DSN)
	}
	if sanitized.Target.DSN != "" {
		sanitized.Target.DSN = redactDSN(sanitized.Target.DSN)
	}
	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}

// redactDSN hides the password of a URL-style connection string. Anything
// that does not parse as a URL with a password is redacted entirely.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return "[REDACTED]"
	}
	if _, ok := u.User.Password(); !ok {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), "REDACTED")
	return u.String()
}

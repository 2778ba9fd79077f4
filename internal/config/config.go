// Package config loads server settings.
//
// Settings are resolved in three layers, later ones winning:
//  1. built-in defaults
//  2. the YAML file named by $GRAPHEDIT_CONFIG, or ./graphedit.yaml
//  3. environment variables (PORT, STORE_BACKEND, SQLITE_PATH, NEO4J_*, ...)
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systemshift/graphedit/internal/codec"
	"github.com/systemshift/graphedit/internal/rdf"
	"github.com/systemshift/graphedit/internal/server/graph"
)

const (
	// EnvConfigPath names an explicit config file
	EnvConfigPath = "GRAPHEDIT_CONFIG"
	// ConfigFileName is looked up in the working directory
	ConfigFileName = "graphedit.yaml"
)

// Config is the full server configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Store         StoreConfig         `yaml:"store"`
	Limits        LimitsConfig        `yaml:"limits"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port            string   `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// StoreConfig selects and configures the graph backend
type StoreConfig struct {
	Backend       string       `yaml:"backend"`
	CreateMissing bool         `yaml:"create_missing"`
	ContentGraph  string       `yaml:"content_graph"`
	SQLite        SQLiteConfig `yaml:"sqlite"`
	Neo4j         Neo4jConfig  `yaml:"neo4j"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Neo4jConfig holds Neo4j connection settings
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// LimitsConfig bounds the work a single request may cause
type LimitsConfig struct {
	MaxFragmentBytes int64 `yaml:"max_fragment_bytes"`
	MaxStatements    int   `yaml:"max_statements"`
	MaxMatchSteps    int   `yaml:"max_match_steps"`
}

// SubscriptionsConfig tunes webhook delivery
type SubscriptionsConfig struct {
	Enabled       bool     `yaml:"enabled"`
	QueueSize     int      `yaml:"queue_size"`
	RetryAttempts int      `yaml:"retry_attempts"`
	RetryBackoff  Duration `yaml:"retry_backoff"`
	Timeout       Duration `yaml:"timeout"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Backend:       graph.BackendMemory,
			CreateMissing: true,
			ContentGraph:  graph.ContentGraph,
			SQLite:        SQLiteConfig{Path: "./graphedit.db"},
			Neo4j: Neo4jConfig{
				URI:      "bolt://localhost:7687",
				User:     "neo4j",
				Password: "password",
				Database: "neo4j",
			},
		},
		Limits: LimitsConfig{
			MaxFragmentBytes: codec.DefaultLimits.MaxBytes,
			MaxStatements:    rdf.DefaultLimits.MaxStatements,
			MaxMatchSteps:    rdf.DefaultLimits.MaxSteps,
		},
		Subscriptions: SubscriptionsConfig{
			Enabled:       true,
			QueueSize:     256,
			RetryAttempts: 3,
			RetryBackoff:  Duration(500 * time.Millisecond),
			Timeout:       Duration(10 * time.Second),
		},
	}
}

// Load reads the config file if one is found, then applies environment
// overrides and validates the result. It returns the file path used, or ""
// when running on defaults.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, path, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// LoadFromPath reads a specific file over the defaults. Environment
// variables are not consulted.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.readFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigPath returns $GRAPHEDIT_CONFIG when set, else ./graphedit.yaml
// if it exists, else "".
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	if _, err := os.Stat(ConfigFileName); err == nil {
		return ConfigFileName
	}
	return ""
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	// Keys absent from the file keep their defaults.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.ContentGraph = getEnv("CONTENT_GRAPH", c.Store.ContentGraph)
	c.Store.SQLite.Path = getEnv("SQLITE_PATH", c.Store.SQLite.Path)
	c.Store.Neo4j.URI = getEnv("NEO4J_URI", c.Store.Neo4j.URI)
	c.Store.Neo4j.User = getEnv("NEO4J_USER", c.Store.Neo4j.User)
	c.Store.Neo4j.Password = getEnv("NEO4J_PASSWORD", c.Store.Neo4j.Password)
	c.Store.Neo4j.Database = getEnv("NEO4J_DATABASE", c.Store.Neo4j.Database)

	var err error
	if c.Store.CreateMissing, err = getEnvBool("CREATE_MISSING", c.Store.CreateMissing); err != nil {
		return err
	}
	if c.Subscriptions.Enabled, err = getEnvBool("SUBSCRIPTIONS_ENABLED", c.Subscriptions.Enabled); err != nil {
		return err
	}
	if c.Limits.MaxStatements, err = getEnvInt("MAX_STATEMENTS", c.Limits.MaxStatements); err != nil {
		return err
	}
	if c.Limits.MaxMatchSteps, err = getEnvInt("MAX_MATCH_STEPS", c.Limits.MaxMatchSteps); err != nil {
		return err
	}
	n, err := getEnvInt("MAX_FRAGMENT_BYTES", int(c.Limits.MaxFragmentBytes))
	if err != nil {
		return err
	}
	c.Limits.MaxFragmentBytes = int64(n)
	return nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	switch c.Store.Backend {
	case graph.BackendMemory:
	case graph.BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return errors.New("sqlite backend requires store.sqlite.path")
		}
	case graph.BackendNeo4j:
		if c.Store.Neo4j.URI == "" {
			return errors.New("neo4j backend requires store.neo4j.uri")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if err := graph.ValidateID(c.Store.ContentGraph); err != nil {
		return fmt.Errorf("content graph: %w", err)
	}

	if c.Limits.MaxFragmentBytes < 0 || c.Limits.MaxStatements < 0 || c.Limits.MaxMatchSteps < 0 {
		return errors.New("limits must not be negative")
	}
	if c.Subscriptions.QueueSize < 0 || c.Subscriptions.RetryAttempts < 0 {
		return errors.New("subscription settings must not be negative")
	}
	return nil
}

// GraphConfig returns the backend settings
func (c *Config) GraphConfig() graph.Config {
	return graph.Config{
		Backend:    c.Store.Backend,
		SQLitePath: c.Store.SQLite.Path,
		Neo4j: graph.Neo4jConfig{
			URI:      c.Store.Neo4j.URI,
			Username: c.Store.Neo4j.User,
			Password: c.Store.Neo4j.Password,
			Database: c.Store.Neo4j.Database,
		},
	}
}

// StoreOptions returns the graph resolution policy
func (c *Config) StoreOptions() graph.Options {
	return graph.Options{CreateMissing: c.Store.CreateMissing, ContentGraph: c.Store.ContentGraph}
}

// CodecLimits bounds fragment decoding
func (c *Config) CodecLimits() codec.Limits {
	return codec.Limits{MaxBytes: c.Limits.MaxFragmentBytes, MaxStatements: c.Limits.MaxStatements}
}

// MatchLimits bounds subgraph matching
func (c *Config) MatchLimits() rdf.Limits {
	return rdf.Limits{MaxStatements: c.Limits.MaxStatements, MaxSteps: c.Limits.MaxMatchSteps}
}

// NewLogger builds the configured slog logger writing to w
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

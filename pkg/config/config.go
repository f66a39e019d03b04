package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/traceomatic/traceomatic/pkg/fsutil"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultResultsDir is the default directory for test results.
	DefaultResultsDir = "./results"

	// DefaultQueueAddress is the default beanstalkd address.
	DefaultQueueAddress = "127.0.0.1:11300"

	// DefaultBuildTube is the tube watched by the build agent.
	DefaultBuildTube = "build"

	// DefaultTestTube is the tube watched by the device test agent.
	DefaultTestTube = "test"
)

// Config is the root configuration for traceomatic.
type Config struct {
	Global   GlobalConfig    `yaml:"global"`
	Server   ServerConfig    `yaml:"server"`
	Results  ResultsConfig   `yaml:"results"`
	Queue    QueueConfig     `yaml:"queue"`
	Trace    TraceConfig     `yaml:"trace"`
	Indexing *IndexingConfig `yaml:"indexing,omitempty"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	RootURL     string          `yaml:"root_url,omitempty"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig contains per-IP rate limit settings, expressed as
// requests per minute.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	Submit  int  `yaml:"submit,omitempty"`
	Status  int  `yaml:"status,omitempty"`
}

// ResultsConfig contains settings for the on-disk test result tree.
// Owner, when set ("UID:GID"), is applied to directories and files the
// front end creates so the build/test agents can write next to them.
type ResultsConfig struct {
	Dir   string `yaml:"dir"`
	Owner string `yaml:"owner,omitempty"`
}

// QueueConfig contains beanstalkd producer settings.
type QueueConfig struct {
	Address   string `yaml:"address"`
	BuildTube string `yaml:"build_tube,omitempty"`
	TestTube  string `yaml:"test_tube,omitempty"`
}

// TraceConfig contains the trace category allow-list and the categories
// pre-selected on the submission form.
type TraceConfig struct {
	Categories        []string `yaml:"categories,omitempty"`
	DefaultCategories []string `yaml:"default_categories,omitempty"`
}

// IndexingConfig configures the background indexing service that scans
// the results tree and maintains a queryable index in a database.
type IndexingConfig struct {
	Enabled     bool           `yaml:"enabled"`
	Interval    string         `yaml:"interval,omitempty"`
	Concurrency int            `yaml:"concurrency,omitempty"`
	Database    DatabaseConfig `yaml:"database"`
	Requeue     RequeueConfig  `yaml:"requeue,omitempty"`
}

// RequeueConfig configures the reconciliation sweep that re-enqueues
// tests stuck in the initial pending state. A test that was stored but
// never reached a worker (broker outage during submission) stays pending
// forever; the sweep pushes it back onto its queue once it is older than
// the configured age.
type RequeueConfig struct {
	Enabled bool   `yaml:"enabled"`
	Age     string `yaml:"age,omitempty"`
}

// DatabaseConfig selects and configures the index database driver.
type DatabaseConfig struct {
	Driver   string          `yaml:"driver"`
	SQLite   SQLiteConfig    `yaml:"sqlite,omitempty"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Results.Dir == "" {
		c.Results.Dir = DefaultResultsDir
	}

	if c.Queue.Address == "" {
		c.Queue.Address = DefaultQueueAddress
	}

	if c.Queue.BuildTube == "" {
		c.Queue.BuildTube = DefaultBuildTube
	}

	if c.Queue.TestTube == "" {
		c.Queue.TestTube = DefaultTestTube
	}

	if len(c.Trace.Categories) == 0 {
		c.Trace.Categories = append(
			[]string(nil), DefaultTraceCategories...,
		)
	}

	if len(c.Trace.DefaultCategories) == 0 {
		c.Trace.DefaultCategories = append(
			[]string(nil), DefaultSelectedCategories...,
		)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if dir := filepath.Dir(c.Results.Dir); dir != "." && dir != ".." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf(
				"results directory parent %q does not exist", dir,
			)
		}
	}

	if _, err := fsutil.ParseOwner(c.Results.Owner); err != nil {
		return fmt.Errorf("parsing results owner: %w", err)
	}

	allowed := make(map[string]struct{}, len(c.Trace.Categories))
	for _, cat := range c.Trace.Categories {
		allowed[cat] = struct{}{}
	}

	for _, cat := range c.Trace.DefaultCategories {
		if _, ok := allowed[cat]; !ok {
			return fmt.Errorf(
				"default trace category %q is not in the category list", cat,
			)
		}
	}

	if c.Indexing != nil && c.Indexing.Enabled {
		if err := c.validateIndexing(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateIndexing() error {
	switch c.Indexing.Database.Driver {
	case "sqlite":
		if c.Indexing.Database.SQLite.Path == "" {
			return fmt.Errorf("indexing sqlite path is required")
		}
	case "postgres":
		if c.Indexing.Database.Postgres == nil {
			return fmt.Errorf("indexing postgres settings are required")
		}
	default:
		return fmt.Errorf(
			"unsupported index database driver: %s",
			c.Indexing.Database.Driver,
		)
	}

	if c.Indexing.Interval != "" {
		if _, err := time.ParseDuration(c.Indexing.Interval); err != nil {
			return fmt.Errorf("parsing indexing interval: %w", err)
		}
	}

	if c.Indexing.Requeue.Enabled && c.Indexing.Requeue.Age != "" {
		if _, err := time.ParseDuration(c.Indexing.Requeue.Age); err != nil {
			return fmt.Errorf("parsing requeue age: %w", err)
		}
	}

	return nil
}

package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rflorenc/content-migration-workbench/internal/ledger"
	"github.com/rflorenc/content-migration-workbench/internal/media"
	"github.com/rflorenc/content-migration-workbench/internal/models"
	"github.com/rflorenc/content-migration-workbench/internal/resilience"
)

// TokenEnv is the environment variable that may carry the bearer token.
const TokenEnv = "MIGRATOR_TOKEN"

// TargetConfig describes the remote content platform.
type TargetConfig struct {
	Name      string `yaml:"name"`
	Scheme    string `yaml:"scheme"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIPrefix string `yaml:"api_prefix"`
	Token     string `yaml:"token"`
	Insecure  bool   `yaml:"insecure"`
	// CACert is a path to a PEM bundle.
	CACert string `yaml:"ca_cert"`
}

// Config holds all configuration (CLI flags + config file).
type Config struct {
	Target TargetConfig `yaml:"target"`

	Records   string `yaml:"records"`
	MediaRoot string `yaml:"media_root"`
	StateDir  string `yaml:"state_dir"`
	Ledger    string `yaml:"ledger"`
	Mapping   string `yaml:"mapping"`
	Report    string `yaml:"report"`

	Concurrency    int           `yaml:"concurrency"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	MinCallDelay   time.Duration `yaml:"min_call_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	URLForm string `yaml:"url_form"`
	SiteURL string `yaml:"site_url"`
	// MediaMaxSizeMB rejects larger assets locally. Negative disables it.
	MediaMaxSizeMB int  `yaml:"media_max_size_mb"`
	ForceRehash    bool `yaml:"force_rehash"`

	TitleMatch    bool   `yaml:"title_match"`
	SkipUnchanged bool   `yaml:"skip_unchanged"`
	DefaultAuthor string `yaml:"default_author"`
	CreateAuthors bool   `yaml:"create_authors"`

	LogLevel string `yaml:"log_level"`
	Listen   string `yaml:"listen"`
	Serve    bool   `yaml:"serve"`
	DryRun   bool   `yaml:"dry_run"`
	Version  bool   `yaml:"-"`

	// internal: path to config file (from CLI flag)
	configFile string
}

// Parse reads CLI flags from args, then overlays config file values.
// CLI flags take precedence over config file values, and the token
// environment variable over the file's token. Defaults are applied last.
func Parse(args []string) (*Config, error) {
	flags := &Config{}
	fs := flag.NewFlagSet("migrator", flag.ContinueOnError)
	fs.StringVar(&flags.configFile, "config", "", "Path to config file (YAML)")
	fs.StringVar(&flags.Records, "records", "", "Record file or directory")
	fs.BoolVar(&flags.DryRun, "dry-run", false, "Compute every outcome without writing to the target")
	fs.IntVar(&flags.Concurrency, "concurrency", 0, "Number of records migrated in parallel")
	fs.StringVar(&flags.Report, "report", "", "Path of the JSON run report")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.BoolVar(&flags.Serve, "serve", false, "Start the status server instead of running once")
	fs.StringVar(&flags.Listen, "listen", "", "HTTP listen address")
	fs.BoolVar(&flags.Version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c := &Config{configFile: flags.configFile}
	if c.configFile != "" {
		if err := c.loadFile(c.configFile); err != nil {
			return nil, err
		}
	}
	if tok := os.Getenv(TokenEnv); tok != "" {
		c.Target.Token = tok
	}

	// Only flags given on the command line override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "records":
			c.Records = flags.Records
		case "dry-run":
			c.DryRun = flags.DryRun
		case "concurrency":
			c.Concurrency = flags.Concurrency
		case "report":
			c.Report = flags.Report
		case "log-level":
			c.LogLevel = flags.LogLevel
		case "serve":
			c.Serve = flags.Serve
		case "listen":
			c.Listen = flags.Listen
		case "version":
			c.Version = flags.Version
		}
	})

	c.applyDefaults()
	return c, nil
}

// loadFile reads a YAML config file. Unknown keys are rejected.
func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	// Paths in the file are relative to the file.
	c.Records = c.resolve(c.Records)
	c.MediaRoot = c.resolve(c.MediaRoot)
	c.StateDir = c.resolve(c.StateDir)
	c.Mapping = c.resolve(c.Mapping)
	c.Report = c.resolve(c.Report)
	if c.Target.CACert != "" {
		pem, err := os.ReadFile(c.resolve(c.Target.CACert))
		if err != nil {
			return fmt.Errorf("reading ca_cert: %w", err)
		}
		c.Target.CACert = string(pem)
	}
	return nil
}

// resolve makes p relative to the config file's directory.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.configFile == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.configFile), p)
}

func (c *Config) applyDefaults() {
	if c.Target.Name == "" {
		c.Target.Name = "target"
	}
	if c.Target.Scheme == "" {
		c.Target.Scheme = "https"
	}
	if c.Target.Port == 0 {
		if c.Target.Scheme == "https" {
			c.Target.Port = 443
		} else {
			c.Target.Port = 80
		}
	}
	if c.Target.APIPrefix == "" {
		c.Target.APIPrefix = "/wp-json/wp/v2/"
	}
	if c.StateDir == "" {
		c.StateDir = ".migrator"
	}
	if c.Ledger == "" {
		c.Ledger = ledger.BackendJSON
	}
	if c.Report == "" {
		c.Report = "migration_results.json"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	def := resilience.DefaultPolicy()
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = def.Retries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.BaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = def.MaxDelay
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.URLForm == "" {
		c.URLForm = string(media.URLRelative)
	}
	if c.MediaMaxSizeMB == 0 {
		c.MediaMaxSizeMB = 10
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
}

// Validate reports configuration that cannot start a run.
func (c *Config) Validate() error {
	var errs []error
	if c.Target.Host == "" {
		errs = append(errs, errors.New("target.host is required"))
	}
	if c.Target.Scheme != "http" && c.Target.Scheme != "https" {
		errs = append(errs, fmt.Errorf("target.scheme must be http or https, got %q", c.Target.Scheme))
	}
	if !c.Serve && c.Records == "" {
		errs = append(errs, errors.New("records is required"))
	}
	if c.Ledger != ledger.BackendJSON && c.Ledger != ledger.BackendSQLite {
		errs = append(errs, fmt.Errorf("ledger must be %s or %s, got %q", ledger.BackendJSON, ledger.BackendSQLite, c.Ledger))
	}
	if f := media.URLForm(c.URLForm); f != media.URLRelative && f != media.URLAbsolute {
		errs = append(errs, fmt.Errorf("url_form must be relative or absolute, got %q", c.URLForm))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TargetModel returns the target as the platform client expects it.
func (c *Config) TargetModel() *models.Target {
	return &models.Target{
		Name:      c.Target.Name,
		Scheme:    c.Target.Scheme,
		Host:      c.Target.Host,
		Port:      c.Target.Port,
		APIPrefix: c.Target.APIPrefix,
		Token:     c.Target.Token,
		Insecure:  c.Target.Insecure,
		CACert:    c.Target.CACert,
	}
}

// Policy returns the retry policy.
func (c *Config) Policy() resilience.Policy {
	return resilience.Policy{
		Retries:   c.RetryAttempts,
		BaseDelay: c.RetryBaseDelay,
		MaxDelay:  c.RetryMaxDelay,
	}
}

// Level parses the log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// LedgerPath is the ledger file inside the state directory.
func (c *Config) LedgerPath() string {
	if c.Ledger == ledger.BackendSQLite {
		return filepath.Join(c.StateDir, "ledger.db")
	}
	return filepath.Join(c.StateDir, "ledger.json")
}

// CachePath is the upload cache file inside the state directory.
func (c *Config) CachePath() string {
	return filepath.Join(c.StateDir, "uploads.json")
}

// MediaOptions returns the media rewriter options.
func (c *Config) MediaOptions() media.Options {
	site := c.SiteURL
	if site == "" {
		site = c.TargetModel().SiteURL()
	}
	var maxSize int64
	if c.MediaMaxSizeMB > 0 {
		maxSize = int64(c.MediaMaxSizeMB) << 20
	}
	return media.Options{
		Root:        c.MediaRoot,
		SiteURL:     site,
		Form:        media.URLForm(c.URLForm),
		ForceRehash: c.ForceRehash,
		MaxSize:     maxSize,
	}
}

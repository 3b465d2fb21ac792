package kgrader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/viant/afs"
	"github.com/viant/kgrader/internal/logx"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/installer"
	"github.com/viant/kgrader/service/suite"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied on top of the config file.
const (
	EnvRoot        = "KGRADER_ROOT"
	EnvSubmissions = "KGRADER_SUBMISSIONS"
	EnvSuite       = "KGRADER_SUITE"
	EnvLogLevel    = "KGRADER_LOG_LEVEL"
	EnvBreak       = "KGRADER_BREAK"
)

// Config is a serialisable representation of the grader configuration. The
// zero value of nested fields inherits package defaults.
type Config struct {
	// Root holds every durable file of the grader.
	Root        string            `yaml:"root"`
	Submissions string            `yaml:"submissions"`
	Suite       string            `yaml:"suite"`
	Plan        string            `yaml:"plan,omitempty"`
	Params      map[string]string `yaml:"params,omitempty"`

	AbortWait          time.Duration `yaml:"abortWait"`
	DefaultTimeout     time.Duration `yaml:"defaultTimeout"`
	MaxBootAttempts    int           `yaml:"maxBootAttempts"`
	MaxPrepareAttempts int           `yaml:"maxPrepareAttempts"`
	// Break stops before automatic testing so the operator can test by hand.
	Break bool `yaml:"break,omitempty"`

	Installer installer.Commands `yaml:"installer"`
	LogLevel  string             `yaml:"logLevel"`
	TraceFile string             `yaml:"traceFile,omitempty"`
}

// DefaultConfig returns a Config populated with the stock values. Callers may
// modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Root:               "/var/lib/kgrader",
		AbortWait:          5 * time.Second,
		DefaultTimeout:     10 * time.Second,
		MaxBootAttempts:    8,
		MaxPrepareAttempts: 3,
		Installer:          installer.DefaultCommands(installer.KindKernel),
		LogLevel:           "info",
	}
}

// LoadConfig reads the YAML config at location, if any, on top of the
// defaults, then applies .env and KGRADER_* overrides.
func LoadConfig(ctx context.Context, location string) (*Config, error) {
	cfg := DefaultConfig()
	if location != "" {
		data, err := afs.New().DownloadWithURL(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", location, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", location, err)
		}
		if cfg.Installer.Kind == "" {
			cfg.Installer.Kind = installer.KindKernel
		}
	}
	// .env is optional
	_ = godotenv.Load()
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvRoot); v != "" {
		c.Root = v
	}
	if v := getenv(EnvSubmissions); v != "" {
		c.Submissions = v
	}
	if v := getenv(EnvSuite); v != "" {
		c.Suite = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvBreak); v != "" {
		flag, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBreak, err)
		}
		c.Break = flag
	}
	return nil
}

// Validate returns an error describing the first invalid setting, or nil.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}
	if c.MaxBootAttempts <= 0 {
		return fmt.Errorf("maxBootAttempts must be > 0")
	}
	if c.MaxPrepareAttempts <= 0 {
		return fmt.Errorf("maxPrepareAttempts must be > 0")
	}
	if c.AbortWait < 0 || c.DefaultTimeout < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	if _, err := logx.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Suite != "" {
		if _, err := suite.Lookup(c.Suite); err != nil {
			return err
		}
	}
	return c.Installer.Validate()
}

// Path returns a location under Root.
func (c *Config) Path(elem ...string) string {
	return filepath.Join(append([]string{c.Root}, elem...)...)
}

// LockPath is the single instance lock file.
func (c *Config) LockPath() string { return c.Path("kgrader.lock") }

// ResultsPath is the human readable results log.
func (c *Config) ResultsPath() string { return c.Path("results.log") }

// GraderState derives the durable grader state written at initialisation.
func (c *Config) GraderState() *model.GraderState {
	return &model.GraderState{
		SubmissionsPath: c.Submissions,
		QueuePath:       c.Path("queue"),
		WorkPath:        c.Path("work"),
		TempPath:        c.Path("tmp"),
		ResultsPath:     c.ResultsPath(),
		GradesPath:      c.Path("grades"),
		StatsPath:       c.Path("stats"),
		OutcomesPath:    c.Path("outcomes"),
		Suite:           c.Suite,
		PlanPath:        c.Plan,
		Installer:       string(c.Installer.Kind),
		Mode:            model.ModeNormal,
		Break:           c.Break,
	}
}

package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the root configuration for the triage pipeline. It is populated
// from defaults, an optional YAML file, environment variables (VERDICT_*),
// and command-line flags, in ascending order of precedence.
type Config struct {
	Logger    LoggerConfig         `mapstructure:"logger" yaml:"logger"`
	Analysis  AnalysisConfig       `mapstructure:"analysis" yaml:"analysis"`
	Git       GitConfig            `mapstructure:"git" yaml:"git"`
	Knowledge KnowledgeGraphConfig `mapstructure:"knowledge_graph" yaml:"knowledge_graph"`
	History   HistoryConfig        `mapstructure:"history" yaml:"history"`
}

// LoggerConfig holds the logging configuration, including rotation settings
// for the optional log file.
type LoggerConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // "console" or "json"
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// AnalysisConfig tunes the per-build analysis run.
type AnalysisConfig struct {
	// Concurrency bounds how many failed tests are analyzed at once.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// SelectorRecencyDays is the window inside which a selector change
	// counts as "recent".
	SelectorRecencyDays int `mapstructure:"selector_recency_days" yaml:"selector_recency_days"`
	// ConsoleSampleLines caps how many matching console lines are kept as
	// evidence per test.
	ConsoleSampleLines int `mapstructure:"console_sample_lines" yaml:"console_sample_lines"`
}

// GitConfig bounds the git subprocess calls the timeline service makes.
// Every operation gets its own timeout; a hung git never hangs the run.
type GitConfig struct {
	GrepTimeout  time.Duration `mapstructure:"grep_timeout" yaml:"grep_timeout"`
	LogTimeout   time.Duration `mapstructure:"log_timeout" yaml:"log_timeout"`
	CloneTimeout time.Duration `mapstructure:"clone_timeout" yaml:"clone_timeout"`
	// MaxHistoryPatterns caps how many attribute patterns the pickaxe search
	// tries before concluding an element never existed.
	MaxHistoryPatterns int `mapstructure:"max_history_patterns" yaml:"max_history_patterns"`
	// DefaultBranch is the clone fallback when no release branch matches.
	DefaultBranch string `mapstructure:"default_branch" yaml:"default_branch"`
}

// KnowledgeGraphConfig selects and configures the dependency-graph backend.
type KnowledgeGraphConfig struct {
	// Type is one of "none", "postgres", or "static".
	Type string `mapstructure:"type" yaml:"type"`
	// DSN is the Postgres connection string; set it via VERDICT_KG_DSN
	// rather than the config file when it carries credentials.
	DSN string `mapstructure:"dsn" yaml:"-"`
	// File is the YAML fixture path for the static backend.
	File      string `mapstructure:"file" yaml:"file"`
	CacheSize int    `mapstructure:"cache_size" yaml:"cache_size"`
}

// HistoryConfig configures the SQLite store of past triage outcomes. An
// empty path disables history entirely.
type HistoryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	// FlakyWindowDays and FlakyMinFailures define the flaky-test signal: at
	// least this many recorded failures inside the window, or mixed
	// classifications among recent records.
	FlakyWindowDays  int `mapstructure:"flaky_window_days" yaml:"flaky_window_days"`
	FlakyMinFailures int `mapstructure:"flaky_min_failures" yaml:"flaky_min_failures"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Unreachable with pure defaults, but fail loudly, not silently.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Analysis --
	v.SetDefault("analysis.concurrency", 4)
	v.SetDefault("analysis.selector_recency_days", 30)
	v.SetDefault("analysis.console_sample_lines", 5)

	// -- Git --
	v.SetDefault("git.grep_timeout", "10s")
	v.SetDefault("git.log_timeout", "15s")
	v.SetDefault("git.clone_timeout", "5m")
	v.SetDefault("git.max_history_patterns", 3)
	v.SetDefault("git.default_branch", "main")

	// -- Knowledge graph --
	v.SetDefault("knowledge_graph.type", "none")
	v.SetDefault("knowledge_graph.cache_size", 256)

	// -- History --
	v.SetDefault("history.path", "")
	v.SetDefault("history.flaky_window_days", 30)
	v.SetDefault("history.flaky_min_failures", 3)
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Credentials come from the environment, never the config file.
	_ = v.BindEnv("knowledge_graph.dsn", "VERDICT_KG_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Paths in config files are written with ~ more often than not.
	for name, p := range map[string]*string{
		"history.path":         &cfg.History.Path,
		"knowledge_graph.file": &cfg.Knowledge.File,
		"logger.log_file":      &cfg.Logger.LogFile,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", name, err)
		}
		*p = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Analysis.Concurrency <= 0 {
		return fmt.Errorf("analysis.concurrency must be a positive integer")
	}
	if c.Analysis.SelectorRecencyDays <= 0 {
		return fmt.Errorf("analysis.selector_recency_days must be a positive integer")
	}
	if c.Git.GrepTimeout <= 0 || c.Git.LogTimeout <= 0 || c.Git.CloneTimeout <= 0 {
		return fmt.Errorf("git timeouts must be positive durations")
	}
	if c.Git.MaxHistoryPatterns <= 0 {
		return fmt.Errorf("git.max_history_patterns must be a positive integer")
	}

	switch c.Knowledge.Type {
	case "none", "static", "postgres":
	default:
		return fmt.Errorf("knowledge_graph.type must be one of none, static, postgres; got %q", c.Knowledge.Type)
	}
	if c.Knowledge.Type == "postgres" && c.Knowledge.DSN == "" {
		return fmt.Errorf("knowledge_graph.dsn is required when knowledge_graph.type is postgres")
	}
	if c.Knowledge.Type == "static" && c.Knowledge.File == "" {
		return fmt.Errorf("knowledge_graph.file is required when knowledge_graph.type is static")
	}
	if c.Knowledge.CacheSize <= 0 {
		return fmt.Errorf("knowledge_graph.cache_size must be a positive integer")
	}

	if c.History.Path != "" && c.History.FlakyMinFailures < 1 {
		return fmt.Errorf("history.flaky_min_failures must be at least 1")
	}
	return nil
}

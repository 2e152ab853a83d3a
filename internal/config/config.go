// Package config loads application configuration from config.yaml and the
// SAGEPOINT_ environment and bootstraps the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	EQC        EQCConfig        `yaml:"eqc" mapstructure:"eqc"`
	Resolver   ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Learning   LearningConfig   `yaml:"learning" mapstructure:"learning"`
	Reference  ReferenceConfig  `yaml:"reference" mapstructure:"reference"`
	Fetcher    FetcherConfig    `yaml:"fetcher" mapstructure:"fetcher"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the enrichment cache backend.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// EQCConfig holds the external company registry settings. The token is
// required whenever external lookups are enabled and is only ever sent in a
// request header.
type EQCConfig struct {
	Token          string `yaml:"token" mapstructure:"token"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryMax       int    `yaml:"retry_max" mapstructure:"retry_max"`
	RatePerMinute  int    `yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
	BackoffBaseMS  int    `yaml:"backoff_base_ms" mapstructure:"backoff_base_ms"`
}

// ResolverConfig configures batch resolution defaults.
type ResolverConfig struct {
	OverridesDir  string `yaml:"overrides_dir" mapstructure:"overrides_dir"`
	TargetColumn  string `yaml:"target_column" mapstructure:"target_column"`
	AllowExternal bool   `yaml:"allow_external" mapstructure:"allow_external"`
	Budget        int    `yaml:"budget" mapstructure:"budget"`
	AllowTempID   bool   `yaml:"allow_temp_id" mapstructure:"allow_temp_id"`
}

// LearningConfig configures the domain learning feedback loop.
type LearningConfig struct {
	Enabled       bool     `yaml:"enabled" mapstructure:"enabled"`
	MinRecords    int      `yaml:"min_records" mapstructure:"min_records"`
	MinConfidence float64  `yaml:"min_confidence" mapstructure:"min_confidence"`
	DisabledTypes []string `yaml:"disabled_types" mapstructure:"disabled_types"`
	SourceDomain  string   `yaml:"source_domain" mapstructure:"source_domain"`
}

// ReferenceConfig configures the hybrid reference sync.
type ReferenceConfig struct {
	AutoDerivedThreshold float64 `yaml:"auto_derived_threshold" mapstructure:"auto_derived_threshold"`
	CoverageConcurrency  int     `yaml:"coverage_concurrency" mapstructure:"coverage_concurrency"`
}

// FetcherConfig configures batch file downloads.
type FetcherConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerHost int    `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	FTPUser     string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string `yaml:"ftp_password" mapstructure:"ftp_password"`
}

// MonitoringConfig configures run summary alerting.
type MonitoringConfig struct {
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	UnresolvedRateThreshold float64 `yaml:"unresolved_rate_threshold" mapstructure:"unresolved_rate_threshold"`
	MinFinished             int     `yaml:"min_finished" mapstructure:"min_finished"`
	AutoDerivedThreshold    float64 `yaml:"auto_derived_threshold" mapstructure:"auto_derived_threshold"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SAGEPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default to empty so their env keys are known to
	// viper and picked up by Unmarshal.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "identity.db")
	v.SetDefault("eqc.token", "")
	v.SetDefault("eqc.base_url", "https://api.eqc-registry.example")
	v.SetDefault("eqc.timeout_secs", 15)
	v.SetDefault("eqc.retry_max", 2)
	v.SetDefault("eqc.rate_per_minute", 60)
	v.SetDefault("eqc.backoff_base_ms", 500)
	v.SetDefault("resolver.overrides_dir", "overrides")
	v.SetDefault("resolver.target_column", "company_id")
	v.SetDefault("resolver.allow_external", true)
	v.SetDefault("resolver.budget", 100)
	v.SetDefault("resolver.allow_temp_id", true)
	v.SetDefault("learning.enabled", true)
	v.SetDefault("learning.min_records", 10)
	v.SetDefault("learning.min_confidence", 0.0)
	v.SetDefault("learning.source_domain", "pension")
	v.SetDefault("reference.auto_derived_threshold", 0.10)
	v.SetDefault("reference.coverage_concurrency", 4)
	v.SetDefault("fetcher.user_agent", "identity-cli/1.0")
	v.SetDefault("fetcher.timeout_secs", 30)
	v.SetDefault("fetcher.max_retries", 3)
	v.SetDefault("fetcher.rate_per_host", 10)
	v.SetDefault("fetcher.ftp_user", "")
	v.SetDefault("fetcher.ftp_password", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.unresolved_rate_threshold", 0.05)
	v.SetDefault("monitoring.min_finished", 5)
	v.SetDefault("monitoring.auto_derived_threshold", 0.10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Resolver.Budget < 0 {
		return eris.Errorf("config: negative resolver budget %d", c.Resolver.Budget)
	}
	if c.Resolver.AllowExternal && c.EQC.Token == "" {
		// Fail fast; the registry client would reject construction anyway.
		return eris.New("config: eqc.token is required when resolver.allow_external is set")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

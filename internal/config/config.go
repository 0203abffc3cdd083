package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Scraper    ScraperConfig    `yaml:"scraper" mapstructure:"scraper"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Lock       LockConfig       `yaml:"lock" mapstructure:"lock"`
	Singleton  SingletonConfig  `yaml:"singleton" mapstructure:"singleton"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Persist    PersistConfig    `yaml:"persist" mapstructure:"persist"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Dispatch   DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Exclusions ExclusionsConfig `yaml:"exclusions" mapstructure:"exclusions"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	AdminToken  string   `yaml:"admin_token" mapstructure:"admin_token"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ScraperConfig holds remote scrape service settings.
type ScraperConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Key         string  `yaml:"key" mapstructure:"key"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SearchURL   string  `yaml:"search_url" mapstructure:"search_url"`

	// Circuit breaker around the scrape service.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Timeout returns the per-request HTTP timeout.
func (c ScraperConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// WorkflowConfig tunes workflow runs and job retention.
type WorkflowConfig struct {
	ChunkSize         int `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkDelayMs      int `yaml:"chunk_delay_ms" mapstructure:"chunk_delay_ms"`
	PollIntervalSecs  int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PollMaxErrors     int `yaml:"poll_max_errors" mapstructure:"poll_max_errors"`
	PollTimeoutMins   int `yaml:"poll_timeout_mins" mapstructure:"poll_timeout_mins"`
	MaxRecordsCap     int `yaml:"max_records_cap" mapstructure:"max_records_cap"`
	PageSize          int `yaml:"page_size" mapstructure:"page_size"`
	JobRetentionMins  int `yaml:"job_retention_mins" mapstructure:"job_retention_mins"`
	SweepIntervalMins int `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
}

// RetryConfig configures the retry policy of every remote collaborator.
type RetryConfig struct {
	MaxRetries      int `yaml:"max_retries" mapstructure:"max_retries"`
	NetworkBaseMs   int `yaml:"network_base_ms" mapstructure:"network_base_ms"`
	ResetBaseMs     int `yaml:"reset_base_ms" mapstructure:"reset_base_ms"`
	RateLimitBaseMs int `yaml:"rate_limit_base_ms" mapstructure:"rate_limit_base_ms"`
	ServerBaseMs    int `yaml:"server_base_ms" mapstructure:"server_base_ms"`
}

// LockConfig configures campaign locks.
type LockConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	StaleMins int    `yaml:"stale_mins" mapstructure:"stale_mins"`
}

// SingletonConfig configures the process PID file.
type SingletonConfig struct {
	Dir  string `yaml:"dir" mapstructure:"dir"`
	Name string `yaml:"name" mapstructure:"name"`
}

// AnthropicConfig holds Anthropic API settings for enrichment.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PersistConfig selects the shared lead store.
type PersistConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	XLSXPath string `yaml:"xlsx_path" mapstructure:"xlsx_path"`
	Sheet    string `yaml:"sheet" mapstructure:"sheet"`
}

// NotionConfig holds Notion API credentials and the lead database ID.
type NotionConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	LeadDB    string  `yaml:"lead_db" mapstructure:"lead_db"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// DispatchConfig holds the outreach webhook settings.
type DispatchConfig struct {
	WebhookURL  string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	Token       string  `yaml:"token" mapstructure:"token"`
	From        string  `yaml:"from" mapstructure:"from"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// ExclusionsConfig points at the default exclusion rule file.
type ExclusionsConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// MonitoringConfig configures job health alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DegradedThreshold    int     `yaml:"degraded_threshold" mapstructure:"degraded_threshold"`
	StuckAfterMins       int     `yaml:"stuck_after_mins" mapstructure:"stuck_after_mins"`
	LookbackMins         int     `yaml:"lookback_mins" mapstructure:"lookback_mins"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from an optional .env file, an optional
// config.yaml and the environment, in increasing precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("scraper.base_url", "https://api.leadscrape.io/v1")
	v.SetDefault("scraper.rate_limit", 2.0)
	v.SetDefault("scraper.timeout_secs", 60)
	v.SetDefault("scraper.failure_threshold", 5)
	v.SetDefault("scraper.reset_timeout_secs", 30)
	v.SetDefault("workflow.chunk_size", 100)
	v.SetDefault("workflow.chunk_delay_ms", 500)
	v.SetDefault("workflow.poll_interval_secs", 5)
	v.SetDefault("workflow.poll_max_errors", 5)
	v.SetDefault("workflow.poll_timeout_mins", 60)
	v.SetDefault("workflow.max_records_cap", 10000)
	v.SetDefault("workflow.page_size", 1000)
	v.SetDefault("workflow.job_retention_mins", 120)
	v.SetDefault("workflow.sweep_interval_mins", 5)
	v.SetDefault("retry.max_retries", 2)
	v.SetDefault("retry.network_base_ms", 1000)
	v.SetDefault("retry.reset_base_ms", 3000)
	v.SetDefault("retry.rate_limit_base_ms", 5000)
	v.SetDefault("retry.server_base_ms", 1000)
	v.SetDefault("lock.dir", ".locks")
	v.SetDefault("lock.stale_mins", 30)
	v.SetDefault("singleton.dir", ".")
	v.SetDefault("singleton.name", "prospector")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("persist.driver", "xlsx")
	v.SetDefault("persist.xlsx_path", "leads.xlsx")
	v.SetDefault("persist.sheet", "Leads")
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 5.0)
	v.SetDefault("dispatch.rate_limit", 5.0)
	v.SetDefault("dispatch.concurrency", 4)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.degraded_threshold", 5)
	v.SetDefault("monitoring.stuck_after_mins", 90)
	v.SetDefault("monitoring.lookback_mins", 120)
	v.SetDefault("monitoring.check_interval_secs", 300)

	// Keys without a default must still be known to viper for
	// AutomaticEnv to reach them through Unmarshal.
	for _, key := range []string{
		"server.admin_token", "scraper.key", "scraper.search_url", "anthropic.key",
		"notion.token", "notion.lead_db", "salesforce.client_id", "salesforce.username",
		"salesforce.key_path", "dispatch.webhook_url", "dispatch.token", "dispatch.from",
		"exclusions.file", "monitoring.webhook_url",
	} {
		v.SetDefault(key, "")
	}

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

	return &cfg, nil
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

// Package config loads application settings from config.yaml and
// SPORTSFEED_* environment variables and installs the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Quota      QuotaConfig      `yaml:"quota" mapstructure:"quota"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LimitsConfig is a per-source call budget.
type LimitsConfig struct {
	Daily   int `yaml:"daily" mapstructure:"daily"`
	Monthly int `yaml:"monthly" mapstructure:"monthly"`
}

// QuotaConfig configures the quota ledger. DailyLimit and MonthlyLimit
// apply to metered sources without an entry in Limits.
type QuotaConfig struct {
	StatePath    string                  `yaml:"state_path" mapstructure:"state_path"`
	DailyLimit   int                     `yaml:"daily_limit" mapstructure:"daily_limit"`
	MonthlyLimit int                     `yaml:"monthly_limit" mapstructure:"monthly_limit"`
	WarnRatio    float64                 `yaml:"warn_ratio" mapstructure:"warn_ratio"`
	Limits       map[string]LimitsConfig `yaml:"limits" mapstructure:"limits"`
}

// LimitsFor returns the budget for a source, falling back to the global limits.
func (q QuotaConfig) LimitsFor(name string) LimitsConfig {
	if l, ok := q.Limits[name]; ok {
		return l
	}
	return LimitsConfig{Daily: q.DailyLimit, Monthly: q.MonthlyLimit}
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	Backend             string `yaml:"backend" mapstructure:"backend"`
	RedisAddr           string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword       string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB             int    `yaml:"redis_db" mapstructure:"redis_db"`
	KeyPrefix           string `yaml:"key_prefix" mapstructure:"key_prefix"`
	StaleRetentionHours int    `yaml:"stale_retention_hours" mapstructure:"stale_retention_hours"`
}

// StoreConfig configures durable persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourcesConfig configures the upstream providers and the chain file.
type SourcesConfig struct {
	ChainPath      string `yaml:"chain_path" mapstructure:"chain_path"`
	OddsAPIKey     string `yaml:"odds_api_key" mapstructure:"odds_api_key"`
	OddsAPIBaseURL string `yaml:"odds_api_base_url" mapstructure:"odds_api_base_url"`
	ESPNBaseURL    string `yaml:"espn_base_url" mapstructure:"espn_base_url"`
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// BreakerConfig configures per-source circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	Probes           int `yaml:"probes" mapstructure:"probes"`
}

// ValidationConfig tunes dataset checks and report history.
type ValidationConfig struct {
	StaleAfterMins     int     `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	ConsensusThreshold float64 `yaml:"consensus_threshold" mapstructure:"consensus_threshold"`
	LineTolerance      float64 `yaml:"line_tolerance" mapstructure:"line_tolerance"`
	HistorySize        int     `yaml:"history_size" mapstructure:"history_size"`
}

// MonitoringConfig configures background alert checks.
type MonitoringConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	// TrustFloor raises low_trust when overall trust is at or below it.
	TrustFloor string `yaml:"trust_floor" mapstructure:"trust_floor"`
}

// CheckInterval returns the check period, defaulting to five minutes.
func (m MonitoringConfig) CheckInterval() time.Duration {
	if m.CheckIntervalSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(m.CheckIntervalSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment. Only keys with a default are read from the environment,
	// so every setting gets one below.
	v.SetEnvPrefix("SPORTSFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("quota.state_path", "quota_state.json")
	v.SetDefault("quota.daily_limit", 16)
	v.SetDefault("quota.monthly_limit", 500)
	v.SetDefault("quota.warn_ratio", 0.8)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "sportsfeed:cache:")
	v.SetDefault("cache.stale_retention_hours", 168)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "sportsfeed.db")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("sources.chain_path", "")
	v.SetDefault("sources.odds_api_key", "")
	v.SetDefault("sources.odds_api_base_url", "https://api.the-odds-api.com")
	v.SetDefault("sources.espn_base_url", "https://site.api.espn.com/apis/site/v2/sports/football/nfl")
	v.SetDefault("sources.user_agent", "sportsfeed/1.0")
	v.SetDefault("sources.timeout_secs", 10)
	v.SetDefault("sources.max_retries", 3)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown_secs", 30)
	v.SetDefault("breaker.probes", 1)
	v.SetDefault("validation.stale_after_mins", 30)
	v.SetDefault("validation.consensus_threshold", 0.8)
	v.SetDefault("validation.line_tolerance", 0.5)
	v.SetDefault("validation.history_size", 100)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.trust_floor", "poor")

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

// Validate returns the first invalid setting.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return eris.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "none" && c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if c.Quota.DailyLimit <= 0 || c.Quota.MonthlyLimit <= 0 {
		return eris.New("config: quota limits must be positive")
	}
	for name, l := range c.Quota.Limits {
		if l.Daily <= 0 || l.Monthly <= 0 {
			return eris.Errorf("config: quota limits for %s must be positive", name)
		}
	}
	if c.Quota.WarnRatio <= 0 || c.Quota.WarnRatio > 1 {
		return eris.Errorf("config: quota.warn_ratio %v must be in (0,1]", c.Quota.WarnRatio)
	}
	if c.Validation.ConsensusThreshold < 0 || c.Validation.ConsensusThreshold > 1 {
		return eris.Errorf("config: validation.consensus_threshold %v must be in [0,1]", c.Validation.ConsensusThreshold)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: invalid server.port %d", c.Server.Port)
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

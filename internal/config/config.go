package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/reconcile"
	"github.com/sells-group/tender-cli/internal/resilience"
	"github.com/sells-group/tender-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Local      LocalConfig      `yaml:"local" mapstructure:"local"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Tender     TenderConfig     `yaml:"tender" mapstructure:"tender"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the remote Postgres backend. An empty DatabaseURL
// runs local-only.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Pool returns the pool tuning for store.NewPostgres.
func (s StoreConfig) Pool() *store.PoolConfig {
	return &store.PoolConfig{MaxConns: s.MaxConns, MinConns: s.MinConns}
}

// LocalConfig configures the SQLite fallback cache.
type LocalConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CatalogConfig points at an optional YAML seed file.
type CatalogConfig struct {
	SeedPath string `yaml:"seed_path" mapstructure:"seed_path"`
}

// PricingConfig holds the default pricing strategy for new sessions.
type PricingConfig struct {
	StrategyOrder          []string `yaml:"strategy_order" mapstructure:"strategy_order"`
	AvgWindowDays          int      `yaml:"avg_window_days" mapstructure:"avg_window_days"`
	PreferSameProjectPrice bool     `yaml:"prefer_same_project_price" mapstructure:"prefer_same_project_price"`
}

// Model converts the configured values into a validated model.PricingConfig.
func (p PricingConfig) Model() (model.PricingConfig, error) {
	order := make([]model.Strategy, 0, len(p.StrategyOrder))
	for _, name := range p.StrategyOrder {
		s, err := model.ParseStrategy(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return model.PricingConfig{}, err
		}
		order = append(order, s)
	}
	cfg := model.PricingConfig{
		PriceStrategyOrder:     order,
		AvgWindowDays:          p.AvgWindowDays,
		PreferSameProjectPrice: p.PreferSameProjectPrice,
	}
	if err := cfg.Validate(); err != nil {
		return model.PricingConfig{}, err
	}
	return cfg, nil
}

// ReconcileConfig holds the bulk-import matching tunables.
type ReconcileConfig struct {
	MatchThreshold     float64 `yaml:"match_threshold" mapstructure:"match_threshold"`
	PromotedConfidence float64 `yaml:"promoted_confidence" mapstructure:"promoted_confidence"`
	FallbackUnit       string  `yaml:"fallback_unit" mapstructure:"fallback_unit"`
}

// Model converts to reconcile.Config.
func (r ReconcileConfig) Model() reconcile.Config {
	return reconcile.Config{
		MatchThreshold:     r.MatchThreshold,
		PromotedConfidence: r.PromotedConfidence,
		FallbackUnit:       r.FallbackUnit,
	}
}

// TenderConfig holds tender session defaults.
type TenderConfig struct {
	AuditLimit int    `yaml:"audit_limit" mapstructure:"audit_limit"`
	Currency   string `yaml:"currency" mapstructure:"currency"`
}

// ResilienceConfig tunes retries and the circuit breaker around remote
// store calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // remote calls per second, 0 = unlimited
	RateBurst        int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// Policy builds the resilience policy.
func (r ResilienceConfig) Policy() *resilience.Policy {
	return resilience.NewPolicy(r.MaxAttempts, r.InitialBackoffMs, r.FailureThreshold, r.ResetTimeoutSecs).
		WithRateLimit(r.RateLimit, r.RateBurst)
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("TENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("local.path", "tender-cache.db")
	v.SetDefault("catalog.seed_path", "")
	v.SetDefault("pricing.strategy_order", []string{"last", "avg", "standard"})
	v.SetDefault("pricing.avg_window_days", 30)
	v.SetDefault("pricing.prefer_same_project_price", true)
	v.SetDefault("reconcile.match_threshold", reconcile.DefaultMatchThreshold)
	v.SetDefault("reconcile.promoted_confidence", reconcile.DefaultPromotedConfidence)
	v.SetDefault("reconcile.fallback_unit", reconcile.DefaultFallbackUnit)
	v.SetDefault("tender.audit_limit", model.DefaultAuditLimit)
	v.SetDefault("tender.currency", model.DefaultCurrency)
	v.SetDefault("resilience.max_attempts", 2)
	v.SetDefault("resilience.initial_backoff_ms", 200)
	v.SetDefault("resilience.failure_threshold", 3)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("resilience.rate_limit", 20)
	v.SetDefault("resilience.rate_burst", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
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

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
		}
		errs = append(errs, c.engineErrors()...)
	case "migrate":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "import":
		errs = append(errs, c.engineErrors()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) engineErrors() []string {
	var errs []string
	if _, err := c.Pricing.Model(); err != nil {
		errs = append(errs, "pricing: "+err.Error())
	}
	if t := c.Reconcile.MatchThreshold; t <= 0 || t >= 1 {
		errs = append(errs, fmt.Sprintf("reconcile.match_threshold must be in (0,1), got %g", t))
	}
	if p := c.Reconcile.PromotedConfidence; p <= 0 || p > 1 {
		errs = append(errs, fmt.Sprintf("reconcile.promoted_confidence must be in (0,1], got %g", p))
	}
	if strings.TrimSpace(c.Local.Path) == "" {
		errs = append(errs, "local.path is required")
	}
	return errs
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

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
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Scoring ScoringConfig `yaml:"scoring" mapstructure:"scoring"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the statistics database.
type StoreConfig struct {
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	QueryTimeoutSecs int    `yaml:"query_timeout_secs" mapstructure:"query_timeout_secs"`
	MaxConns         int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns         int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// QueryTimeout returns the per-query timeout as a duration.
func (c StoreConfig) QueryTimeout() time.Duration {
	if c.QueryTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.QueryTimeoutSecs) * time.Second
}

// CacheConfig configures the on-disk table snapshot cache.
type CacheConfig struct {
	Path           string  `yaml:"path" mapstructure:"path"`
	TTLHours       int     `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	WarmRatePerSec float64 `yaml:"warm_rate_per_sec" mapstructure:"warm_rate_per_sec"`
}

// TTL returns the snapshot time-to-live as a duration.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.TTLHours) * time.Hour
}

// ScoringConfig configures the recommendation scoring pipeline.
type ScoringConfig struct {
	// RecentPeriods is how many of the newest (year, quarter) pairs each
	// metric is averaged over.
	RecentPeriods int `yaml:"recent_periods" mapstructure:"recent_periods"`

	// SalesYears are the years pivoted into per-year sales columns.
	SalesYears []int `yaml:"sales_years" mapstructure:"sales_years"`

	// TopK is how many entities the ranked result exposes.
	TopK int `yaml:"top_k" mapstructure:"top_k"`

	// ExcludeCodeLength drops entities whose region code has exactly this
	// length. Codes of that length are borough-level aggregates in the
	// source data, not leaf districts. Zero disables the filter.
	ExcludeCodeLength int `yaml:"exclude_code_length" mapstructure:"exclude_code_length"`

	// Signed metric weights per scope kind.
	DistrictWeights map[string]float64 `yaml:"district_weights" mapstructure:"district_weights"`
	IndustryWeights map[string]float64 `yaml:"industry_weights" mapstructure:"industry_weights"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultDistrictWeights returns the signed weights for district mode.
// Rent and closures count against a district.
func DefaultDistrictWeights() map[string]float64 {
	return map[string]float64{
		"floating_population": 0.20,
		"store_total":         0.10,
		"survival_rate_1yr":   0.05,
		"survival_rate_3yr":   0.05,
		"survival_rate_5yr":   0.10,
		"num_open":            0.10,
		"num_close":           -0.10,
		"rent_first_floor":    -0.15,
		"sales_2022":          0.10,
		"sales_2023":          0.10,
		"sales_2024":          0.15,
	}
}

// DefaultIndustryWeights returns the signed weights for industry mode.
// Population and rent are tracked per district, not per category, so their
// share moves to store counts and recent sales.
func DefaultIndustryWeights() map[string]float64 {
	return map[string]float64{
		"store_total":       0.20,
		"survival_rate_1yr": 0.05,
		"survival_rate_3yr": 0.05,
		"survival_rate_5yr": 0.15,
		"num_open":          0.10,
		"num_close":         -0.10,
		"sales_2022":        0.10,
		"sales_2023":        0.10,
		"sales_2024":        0.25,
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISTRICT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.query_timeout_secs", 30)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("cache.path", "snapshots.db")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.warm_rate_per_sec", 2.0)
	v.SetDefault("scoring.recent_periods", 4)
	v.SetDefault("scoring.sales_years", []int{2022, 2023, 2024})
	v.SetDefault("scoring.top_k", 5)
	v.SetDefault("scoring.exclude_code_length", 5)
	v.SetDefault("scoring.district_weights", DefaultDistrictWeights())
	v.SetDefault("scoring.industry_weights", DefaultIndustryWeights())
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

// Validate checks the parts of the config a scoring run depends on.
func (c *Config) Validate() error {
	var errs []string
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Scoring.RecentPeriods <= 0 {
		errs = append(errs, "scoring.recent_periods must be > 0")
	}
	if len(c.Scoring.SalesYears) == 0 {
		errs = append(errs, "scoring.sales_years must not be empty")
	}
	if c.Scoring.TopK <= 0 {
		errs = append(errs, "scoring.top_k must be > 0")
	}
	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
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

// config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"h2o-proposal-system/internal/generative"
	"h2o-proposal-system/internal/jobs"
	"h2o-proposal-system/internal/kvstore"
	"h2o-proposal-system/internal/workflow"
	"h2o-proposal-system/pkg/treatment"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	SourceBuiltin   = "builtin"
	SourceFile      = "file"
	SourceRethinkDB = "rethinkdb"
)

type Config struct {
	// Server
	ServerPort string `mapstructure:"server_port"`

	// Job store
	StoreBackend   string `mapstructure:"store_backend"`
	RedisURL       string `mapstructure:"redis_url"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`

	// Proven cases
	ProvenCaseSource string `mapstructure:"proven_case_source"`
	DatasetPath      string `mapstructure:"dataset_path"`
	RethinkDBURL     string `mapstructure:"rethinkdb_url"`
	DBName           string `mapstructure:"db_name"`
	TableName        string `mapstructure:"table_name"`
	SeedDataset      bool   `mapstructure:"seed_dataset"`

	// Generative service
	GenerativeBaseURL        string        `mapstructure:"generative_base_url"`
	GenerativeAPIKey         string        `mapstructure:"generative_api_key"`
	GenerativeModel          string        `mapstructure:"generative_model"`
	GenerativeTemperature    float64       `mapstructure:"generative_temperature"`
	GenerativeTimeout        time.Duration `mapstructure:"generative_timeout"`
	GenerativeAttemptTimeout time.Duration `mapstructure:"generative_attempt_timeout"`

	// Jobs
	JobTTL          time.Duration `mapstructure:"job_ttl"`
	JobMaxDuration  time.Duration `mapstructure:"job_max_duration"`
	JobConcurrency  int           `mapstructure:"job_concurrency"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`

	// Workflow
	CallBudget          int     `mapstructure:"call_budget"`
	StrictConsistency   bool    `mapstructure:"strict_consistency"`
	MaxNarrativeChars   int     `mapstructure:"max_narrative_chars"`
	DefaultTemperatureC float64 `mapstructure:"default_temperature_c"`
	EnergyRateUSDPerKWh float64 `mapstructure:"energy_rate_usd_per_kwh"`
	CostTolerance       float64 `mapstructure:"cost_tolerance"`
	Operators           int     `mapstructure:"operators"`
	AnnualCostPerStaff  float64 `mapstructure:"annual_cost_per_staff_usd"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", ":8081")

	v.SetDefault("store_backend", StoreMemory)
	v.SetDefault("redis_url", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_key_prefix", "proposal:")

	v.SetDefault("proven_case_source", SourceBuiltin)
	v.SetDefault("dataset_path", "")
	v.SetDefault("rethinkdb_url", "localhost:28015")
	v.SetDefault("db_name", "h2o_proposal_system")
	v.SetDefault("table_name", "proven_cases")
	v.SetDefault("seed_dataset", true)

	v.SetDefault("generative_base_url", "https://api.openai.com")
	v.SetDefault("generative_api_key", "")
	v.SetDefault("generative_model", "gpt-4o-mini")
	v.SetDefault("generative_temperature", 0.2)
	v.SetDefault("generative_timeout", 3*time.Minute)
	v.SetDefault("generative_attempt_timeout", 2*time.Minute)

	v.SetDefault("job_ttl", 24*time.Hour)
	v.SetDefault("job_max_duration", 10*time.Minute)
	v.SetDefault("job_concurrency", 4)
	v.SetDefault("monitor_interval", time.Minute)

	d := workflow.DefaultConfig()
	v.SetDefault("call_budget", d.CallBudget)
	v.SetDefault("strict_consistency", false)
	v.SetDefault("max_narrative_chars", d.MaxNarrativeChars)
	v.SetDefault("default_temperature_c", d.DefaultTemperatureC)
	v.SetDefault("energy_rate_usd_per_kwh", d.EnergyRateUSDPerKWh)
	v.SetDefault("cost_tolerance", d.CostTolerance)
	v.SetDefault("operators", 0)
	v.SetDefault("annual_cost_per_staff_usd", d.Labor.AnnualCostPerStaff)
}

// Load reads defaults, an optional config.yaml and the environment, in
// increasing priority.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/h2o-proposal-system/")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadFile is Load with an explicit config file that must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unknown store_backend %q", c.StoreBackend)
	}
	switch c.ProvenCaseSource {
	case SourceBuiltin, SourceRethinkDB:
	case SourceFile:
		if c.DatasetPath == "" {
			return errors.New("proven_case_source file requires dataset_path")
		}
	default:
		return fmt.Errorf("unknown proven_case_source %q", c.ProvenCaseSource)
	}
	return nil
}

func (c *Config) RedisOptions() kvstore.RedisOptions {
	return kvstore.RedisOptions{
		Addr:      c.RedisURL,
		Password:  c.RedisPassword,
		DB:        c.RedisDB,
		KeyPrefix: c.RedisKeyPrefix,
	}
}

func (c *Config) GenerativeConfig() generative.HTTPConfig {
	return generative.HTTPConfig{
		BaseURL:     c.GenerativeBaseURL,
		APIKey:      c.GenerativeAPIKey,
		Model:       c.GenerativeModel,
		Temperature: c.GenerativeTemperature,
		Timeout:     c.GenerativeTimeout,
	}
}

func (c *Config) JobsConfig() jobs.Config {
	return jobs.Config{
		TTL:         c.JobTTL,
		MaxDuration: c.JobMaxDuration,
		Concurrency: c.JobConcurrency,
	}
}

func (c *Config) WorkflowConfig() workflow.Config {
	return workflow.Config{
		CallBudget:          c.CallBudget,
		StrictConsistency:   c.StrictConsistency,
		MaxNarrativeChars:   c.MaxNarrativeChars,
		DefaultTemperatureC: c.DefaultTemperatureC,
		EnergyRateUSDPerKWh: c.EnergyRateUSDPerKWh,
		CostTolerance:       c.CostTolerance,
		Labor: treatment.LaborModel{
			Operators:          c.Operators,
			AnnualCostPerStaff: c.AnnualCostPerStaff,
		},
	}
}

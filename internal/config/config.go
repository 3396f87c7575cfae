package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"datahub/internal/util"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the datahub tools.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Tushare Tushare      `yaml:"tushare"`
	Logging Logging      `yaml:"logging"`
	Gather  GatherConfig `yaml:"gather"`
	Metrics Metrics      `yaml:"metrics"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Backend    string `yaml:"backend"` // mongo, sqlite or parquet
	MongoURI   string `yaml:"mongo_uri"`
	MongoDB    string `yaml:"mongo_db"`
	Collection string `yaml:"collection"`
	SQLitePath string `yaml:"sqlite_path"`
	DataDir    string `yaml:"data_dir"`
}

// Storage backends.
const (
	BackendMongo   = "mongo"
	BackendSQLite  = "sqlite"
	BackendParquet = "parquet"
)

// Tushare holds credentials and client limits for the Tushare Pro API.
type Tushare struct {
	Token           string        `yaml:"token"`
	URL             string        `yaml:"url"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	Timeout         time.Duration `yaml:"timeout"`
	CacheSize       int           `yaml:"cache_size"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// GatherConfig controls the gathering jobs.
type GatherConfig struct {
	CNMarket GatherJobConfig `yaml:"cn_market"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate  string        `yaml:"start_date"`
	EndDate    string        `yaml:"end_date"`
	BatchSize  int           `yaml:"batch_size"`
	MaxWorkers int           `yaml:"max_workers"`
	BatchPause time.Duration `yaml:"batch_pause"`
}

// Metrics configures the Pushgateway target. An empty URL disables
// pushing.
type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TUSHARE_TOKEN"); v != "" {
		cfg.Tushare.Token = v
	}
	if v := os.Getenv("TUSHARE_URL"); v != "" {
		cfg.Tushare.URL = v
	}

	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Storage.MongoURI = v
	}
	if v := os.Getenv("MONGO_DB"); v != "" {
		cfg.Storage.MongoDB = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
}

// ApplyDefaults fills unset fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMongo
	}
	if c.Storage.MongoDB == "" {
		c.Storage.MongoDB = "datahub"
	}
	if c.Storage.Collection == "" {
		c.Storage.Collection = "stock_market"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/datahub.db"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}

	if c.Tushare.RateLimitPerMin == 0 {
		c.Tushare.RateLimitPerMin = 500
	}
	if c.Tushare.Timeout == 0 {
		c.Tushare.Timeout = 30 * time.Second
	}
	if c.Tushare.CacheSize == 0 {
		c.Tushare.CacheSize = 1024
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	job := &c.Gather.CNMarket
	if job.BatchSize == 0 {
		job.BatchSize = 8
	}
	if job.MaxWorkers == 0 {
		job.MaxWorkers = 10
	}
	if job.BatchPause == 0 {
		job.BatchPause = time.Second
	}

	if c.Metrics.Job == "" {
		c.Metrics.Job = "cn-market-clean"
	}
}

// Validate reports configuration errors that would otherwise surface only
// after the first provider call.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendMongo:
		if c.Storage.MongoURI == "" {
			errs = append(errs, errors.New("storage.mongo_uri is required for the mongo backend"))
		}
	case BackendSQLite, BackendParquet:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: want mongo, sqlite or parquet", c.Storage.Backend))
	}

	if c.Tushare.Token == "" {
		errs = append(errs, errors.New("tushare.token is required (or set TUSHARE_TOKEN)"))
	}

	job := c.Gather.CNMarket
	if job.StartDate != "" {
		if _, err := util.ParseDate(job.StartDate); err != nil {
			errs = append(errs, fmt.Errorf("gather.cn_market.start_date: %w", err))
		}
	}
	if job.EndDate != "" {
		if _, err := util.ParseDate(job.EndDate); err != nil {
			errs = append(errs, fmt.Errorf("gather.cn_market.end_date: %w", err))
		}
	}
	if job.BatchSize < 0 || job.MaxWorkers < 0 || job.BatchPause < 0 {
		errs = append(errs, errors.New("gather.cn_market: batch_size, max_workers and batch_pause must not be negative"))
	}

	return errors.Join(errs...)
}

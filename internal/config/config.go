package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the zoomdex API configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	KV       KVConfig       `yaml:"kv"`
	Tiles    TilesConfig    `yaml:"tiles"`
	Encoder  EncoderConfig  `yaml:"encoder"`
	Extract  ExtractConfig  `yaml:"extract"`
	Sampler  SamplerConfig  `yaml:"sampler"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Query    QueryConfig    `yaml:"query"`
	Classify ClassifyConfig `yaml:"classify"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Disabled bool `yaml:"disabled"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// KVConfig holds key-value store connection settings. The KV store backs
// embedding caches, result caches, prompt caches and reconstruction claims.
type KVConfig struct {
	Driver           string   `yaml:"driver"` // valkey, redis (default: valkey)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// TilesConfig holds tile storage settings.
type TilesConfig struct {
	Backend    string      `yaml:"backend"` // fs, minio (default: fs)
	Dir        string      `yaml:"dir"`     // fs backend root
	Minio      MinioConfig `yaml:"minio"`
	CacheBytes int64       `yaml:"cache_bytes"`  // in-memory tile cache budget
	MetaTTLSec int         `yaml:"meta_ttl_sec"` // descriptor cache lifetime
}

// MinioConfig holds S3-compatible object storage settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// EncoderConfig holds embedding encoder settings.
type EncoderConfig struct {
	BaseURL     string       `yaml:"base_url"`
	APIKey      string       `yaml:"api_key"`
	Model       string       `yaml:"model"`
	Dimensions  int          `yaml:"dimensions"` // 0 = provider default
	Provider    string       `yaml:"provider"`   // metric label (default: openai)
	RateRPS     float64      `yaml:"rate_rps"`   // 0 = no client-side rate limit
	RateBurst   int          `yaml:"rate_burst"`
	CacheSize   int          `yaml:"cache_size"`    // local LRU entries
	CacheTTLSec int          `yaml:"cache_ttl_sec"` // KV embedding cache lifetime
	Budget      BudgetConfig `yaml:"budget"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// ExtractConfig holds region extraction settings. Zero values fall back
// to the extractor's own defaults.
type ExtractConfig struct {
	FetchParallelism int `yaml:"fetch_parallelism"`
	AssetCacheSize   int `yaml:"asset_cache_size"`
	ClaimTTLSec      int `yaml:"claim_ttl_sec"`
	PollIntervalSec  int `yaml:"poll_interval_sec"`
}

// SamplerConfig holds patch sampling settings. Zero values fall back to
// the sampler's own defaults.
type SamplerConfig struct {
	Sizes          []int     `yaml:"sizes"`
	StrideRatios   []float64 `yaml:"stride_ratios"`
	MinVariance    float64   `yaml:"min_variance"`
	MinEdgeDensity float64   `yaml:"min_edge_density"`
	InterestPoints bool      `yaml:"interest_points"`
	Hierarchical   bool      `yaml:"hierarchical"`
	MaxPerScale    int       `yaml:"max_per_scale"`
}

// IngestConfig holds index build settings.
type IngestConfig struct {
	EncodeBatch int `yaml:"encode_batch"` // 0 = service default
}

// QueryConfig holds semantic query settings. Zero values fall back to
// the query engine's own defaults.
type QueryConfig struct {
	ProbeTemplates []string `yaml:"probe_templates"`
	NMSIoU         float64  `yaml:"nms_iou"`
	MinProposals   int      `yaml:"min_proposals"`
	MaxProposals   int      `yaml:"max_proposals"`
	ScoreBatch     int      `yaml:"score_batch"`
	ResultTTLSec   int      `yaml:"result_ttl_sec"` // result cache lifetime
}

// ClassifyConfig holds the category catalog for region classification.
type ClassifyConfig struct {
	Version    string           `yaml:"version"`
	Categories []CategoryConfig `yaml:"categories"`
}

// CategoryConfig is one catalog entry.
type CategoryConfig struct {
	Label  string `yaml:"label"`
	Prompt string `yaml:"prompt"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty service-level fields with default values.
// Domain tunables (sampler, extractor, query engine) stay zero so each
// component applies its own defaults.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.KV.Driver == "" {
		c.KV.Driver = "valkey"
	}
	if c.KV.ReadinessTimeout <= 0 {
		c.KV.ReadinessTimeout = 10
	}
	if c.Tiles.Backend == "" {
		c.Tiles.Backend = "fs"
	}
	if c.Tiles.Backend == "fs" && c.Tiles.Dir == "" {
		c.Tiles.Dir = "data/tiles"
	}
	if c.Tiles.CacheBytes <= 0 {
		c.Tiles.CacheBytes = 256 << 20
	}
	if c.Tiles.MetaTTLSec <= 0 {
		c.Tiles.MetaTTLSec = 300
	}
	if c.Encoder.Provider == "" {
		c.Encoder.Provider = "openai"
	}
	if c.Encoder.CacheSize <= 0 {
		c.Encoder.CacheSize = 1024
	}
	if c.Encoder.CacheTTLSec <= 0 {
		c.Encoder.CacheTTLSec = 86400
	}
	if c.Query.ResultTTLSec <= 0 {
		c.Query.ResultTTLSec = 60
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.KV.Addrs) == 0 {
		return fmt.Errorf("kv.addrs is required")
	}
	switch c.Tiles.Backend {
	case "fs":
		if c.Tiles.Dir == "" {
			return fmt.Errorf("tiles.dir is required for the fs backend")
		}
	case "minio":
		if c.Tiles.Minio.Endpoint == "" {
			return fmt.Errorf("tiles.minio.endpoint is required for the minio backend")
		}
		if c.Tiles.Minio.Bucket == "" {
			return fmt.Errorf("tiles.minio.bucket is required for the minio backend")
		}
	default:
		return fmt.Errorf("tiles.backend must be \"fs\" or \"minio\", got %q", c.Tiles.Backend)
	}
	switch c.Encoder.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf(
			"encoder.budget.action must be \"warn\" or \"reject\", got %q",
			c.Encoder.Budget.Action,
		)
	}
	if c.Query.NMSIoU < 0 || c.Query.NMSIoU >= 1 {
		return fmt.Errorf("query.nms_iou must be in [0, 1), got %v", c.Query.NMSIoU)
	}
	if c.Query.MinProposals > 0 && c.Query.MaxProposals > 0 && c.Query.MinProposals > c.Query.MaxProposals {
		return fmt.Errorf(
			"query.min_proposals (%d) must not exceed query.max_proposals (%d)",
			c.Query.MinProposals, c.Query.MaxProposals,
		)
	}
	if len(c.Classify.Categories) > 0 && c.Classify.Version == "" {
		return fmt.Errorf("classify.version is required when categories are set")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Filters   FilterConfig    `mapstructure:"filters"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	InternalAPIKey string        `mapstructure:"internal_api_key"`
	RateLimitRPM   int           `mapstructure:"rate_limit_rpm"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HTTPConfig holds outbound fetch transport configuration
type HTTPConfig struct {
	ConnectionTimeout      time.Duration `mapstructure:"connection_timeout"`
	CategoryRequestTimeout time.Duration `mapstructure:"category_request_timeout"`
	MaxConnections         int           `mapstructure:"max_connections"`
	ConnectionKeepalive    time.Duration `mapstructure:"connection_keepalive"`
	ConnectionPoolWarmup   bool          `mapstructure:"connection_pool_warmup"`
}

// RateLimitConfig holds per-host pacing and adaptive store-health tuning
type RateLimitConfig struct {
	MinDelay           time.Duration `mapstructure:"min_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	Jitter             time.Duration `mapstructure:"jitter"`
	AdaptiveEnabled    bool          `mapstructure:"adaptive_enabled"`
	AdaptiveBaseDelay  time.Duration `mapstructure:"adaptive_base_delay"`
	AdaptiveMaxDelay   time.Duration `mapstructure:"adaptive_max_delay"`
	ErrorRateThreshold float64       `mapstructure:"error_rate_threshold"`
	HighLatency        time.Duration `mapstructure:"high_latency"`
	Cooldown429        time.Duration `mapstructure:"cooldown_429"`
}

// CacheConfig holds HTTP-cache and delta-detection configuration
type CacheConfig struct {
	HTTPCacheEnabled bool          `mapstructure:"http_cache_enabled"`
	HTTPCacheTTL     time.Duration `mapstructure:"http_cache_ttl"`
	DeltaEnabled     bool          `mapstructure:"delta_enabled"`
	DeltaTTL         time.Duration `mapstructure:"delta_ttl"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
}

// ProxyConfig holds rotating-pool tuning
type ProxyConfig struct {
	CooldownMinutes    int `mapstructure:"cooldown_minutes"`
	MaxConsecutive403s int `mapstructure:"max_consecutive_403s"`
}

// ScanConfig holds scan engine concurrency and paging configuration
type ScanConfig struct {
	MaxParallelCategories  int           `mapstructure:"max_parallel_categories"`
	MaxPagesPerCategory    int           `mapstructure:"max_pages_per_category"`
	MaxParallelPages       int           `mapstructure:"max_parallel_pages"`
	AmazonMaxParallelPages int           `mapstructure:"amazon_max_parallel_pages"`
	MinPageDelay           time.Duration `mapstructure:"min_page_delay"`
	MaxPageDelay           time.Duration `mapstructure:"max_page_delay"`
	ProxyAttemptsPerPage   int           `mapstructure:"proxy_attempts_per_page"`
	GlobalMinDiscount      float64       `mapstructure:"global_min_discount_percent"`
	DBBatchUpdateSize      int           `mapstructure:"db_batch_update_size"`
	DisableOn404           bool          `mapstructure:"disable_on_404"`
}

// SchedulerConfig holds the scan-loop cadence and interval tuning
type SchedulerConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	Interval         time.Duration  `mapstructure:"interval"`
	BaseScanInterval time.Duration  `mapstructure:"base_scan_interval"`
	NoDealsPenalty   float64        `mapstructure:"no_deals_penalty"`
	SuccessRateBoost float64        `mapstructure:"success_rate_boost"`
	ErrorCooldowns   map[string]int `mapstructure:"error_cooldown_seconds"` // substring -> seconds
}

// FilterConfig holds global product filters applied after parsing
type FilterConfig struct {
	GlobalMinPrice  float64             `mapstructure:"global_min_price"`
	MinRetailPrice  float64             `mapstructure:"min_retail_price"`
	KidsLowPriceMax float64             `mapstructure:"kids_low_price_max"`
	KidsKeywords    []string            `mapstructure:"kids_keywords"`
	KidsExcludeSKUs map[string][]string `mapstructure:"kids_exclude_skus"` // store -> SKUs
}

// AlertConfig holds alert suppression windows and the aggregator set
type AlertConfig struct {
	DedupeTTL      time.Duration `mapstructure:"dedupe_ttl"`
	CooldownTTL    time.Duration `mapstructure:"cooldown_ttl"`
	CrossSourceTTL time.Duration `mapstructure:"cross_source_ttl"`
	Aggregators    []string      `mapstructure:"aggregators"`
}

// StorageConfig holds debug-bundle storage configuration
type StorageConfig struct {
	Type     string `mapstructure:"type"`
	BasePath string `mapstructure:"base_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

var globalConfig *Config

// Load loads the configuration from file, .env, and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// Load .env file
	if err := loadEnvFile(v); err != nil {
		// .env is optional, log but don't fail
		log.Warn().Err(err).Msg("Warning: .env file not loaded")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvPrefix("SCAN_SERVICE")

	// Bind env keys for nested config
	bindEnvVars(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// loadEnvFile loads .env file by parsing KEY=VALUE lines and setting them as environment variables
func loadEnvFile(v *viper.Viper) error {
	envPaths := []string{
		".",
		"./config",
	}

	for _, path := range envPaths {
		envFile := fmt.Sprintf("%s/.env", path)
		if _, err := os.Stat(envFile); err == nil {
			if err := loadDotEnvFile(envFile); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("no .env file found")
}

// loadDotEnvFile reads a .env file and sets environment variables
func loadDotEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			value = strings.Trim(value, "\"'")
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// bindEnvVars binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	// Database / Redis
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.host", "HOST")
	v.BindEnv("server.internal_api_key", "INTERNAL_API_KEY")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")

	// Storage
	v.BindEnv("storage.base_path", "STORAGE_PATH")

	// Telemetry
	v.BindEnv("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit_rpm", 120)

	// Database defaults
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", 1*time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Outbound HTTP defaults
	v.SetDefault("http.connection_timeout", 10*time.Second)
	v.SetDefault("http.category_request_timeout", 30*time.Second)
	v.SetDefault("http.max_connections", 100)
	v.SetDefault("http.connection_keepalive", 90*time.Second)
	v.SetDefault("http.connection_pool_warmup", false)

	// Rate limit defaults
	v.SetDefault("rate_limit.min_delay", 2*time.Second)
	v.SetDefault("rate_limit.max_delay", 5*time.Second)
	v.SetDefault("rate_limit.jitter", 500*time.Millisecond)
	v.SetDefault("rate_limit.adaptive_enabled", true)
	v.SetDefault("rate_limit.adaptive_base_delay", 2*time.Second)
	v.SetDefault("rate_limit.adaptive_max_delay", 60*time.Second)
	v.SetDefault("rate_limit.error_rate_threshold", 0.3)
	v.SetDefault("rate_limit.high_latency", 5*time.Second)
	v.SetDefault("rate_limit.cooldown_429", 5*time.Minute)

	// Cache defaults
	v.SetDefault("cache.http_cache_enabled", true)
	v.SetDefault("cache.http_cache_ttl", 1*time.Hour)
	v.SetDefault("cache.delta_enabled", true)
	v.SetDefault("cache.delta_ttl", 24*time.Hour)
	v.SetDefault("cache.session_ttl", 30*time.Minute)

	// Proxy defaults
	v.SetDefault("proxy.cooldown_minutes", 30)
	v.SetDefault("proxy.max_consecutive_403s", 5)

	// Scan defaults
	v.SetDefault("scan.max_parallel_categories", 4)
	v.SetDefault("scan.max_pages_per_category", 10)
	v.SetDefault("scan.max_parallel_pages", 3)
	v.SetDefault("scan.amazon_max_parallel_pages", 1)
	v.SetDefault("scan.min_page_delay", 2*time.Second)
	v.SetDefault("scan.max_page_delay", 6*time.Second)
	v.SetDefault("scan.proxy_attempts_per_page", 3)
	v.SetDefault("scan.global_min_discount_percent", 40.0)
	v.SetDefault("scan.db_batch_update_size", 10)
	v.SetDefault("scan.disable_on_404", true)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 5*time.Minute)
	v.SetDefault("scheduler.base_scan_interval", 30*time.Minute)
	v.SetDefault("scheduler.no_deals_penalty", 1.5)
	v.SetDefault("scheduler.success_rate_boost", 0.8)
	v.SetDefault("scheduler.error_cooldown_seconds", map[string]int{
		"http 403":   8 * 3600,
		"http 429":   3600,
		"timeout":    1800,
		"captcha":    6 * 3600,
		"blocked":    6 * 3600,
		"cloudflare": 6 * 3600,
	})

	// Filter defaults
	v.SetDefault("filters.global_min_price", 5.0)
	v.SetDefault("filters.min_retail_price", 0.0)
	v.SetDefault("filters.kids_low_price_max", 15.0)
	v.SetDefault("filters.kids_keywords", []string{"kids", "toddler", "baby", "infant", "boys", "girls"})

	// Alert defaults
	v.SetDefault("alerts.dedupe_ttl", 12*time.Hour)
	v.SetDefault("alerts.cooldown_ttl", 1*time.Hour)
	v.SetDefault("alerts.cross_source_ttl", 6*time.Hour)
	v.SetDefault("alerts.aggregators", []string{"saveyourdeals", "slickdeals", "woot"})

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.base_path", "./data/bundles")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.no_color", false)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "scan-service")
	v.SetDefault("telemetry.sample_ratio", 0.1)
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// GetDatabaseURL returns the database URL from config or environment
func GetDatabaseURL() string {
	if cfg := Get(); cfg != nil && cfg.Database.URL != "" {
		return cfg.Database.URL
	}
	return os.Getenv("DATABASE_URL")
}

// Package config handles configuration for the vector processing service
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete configuration for the vector service
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Cache         CacheConfig         `mapstructure:"cache"`
	TaskQueue     TaskQueueConfig     `mapstructure:"task_queue"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	ModeSwitching ModeSwitchingConfig `mapstructure:"mode_switching"`
	Preprocessing PreprocessingConfig `mapstructure:"preprocessing"`
	Quality       QualityConfig       `mapstructure:"quality"`
}

// ServiceConfig contains service-level configuration
type ServiceConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
	DefaultMode     string        `mapstructure:"default_mode"`
	SelectionPolicy string        `mapstructure:"selection_policy"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Address     string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	MaxRetries  int           `mapstructure:"max_retries"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
}

// ProvidersConfig selects and tunes the embedding backends
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Local  LocalConfig  `mapstructure:"local"`
}

// OpenAIConfig contains the remote API provider settings
type OpenAIConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	DefaultModel   string        `mapstructure:"default_model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitRPM   int           `mapstructure:"rate_limit_rpm"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// LocalConfig contains the in-process provider settings
type LocalConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DefaultModel string `mapstructure:"default_model"`
}

// CacheConfig contains vector cache settings
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// TaskQueueConfig contains task queue settings
type TaskQueueConfig struct {
	MaxQueueSize int           `mapstructure:"max_queue_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

// SchedulerConfig contains batch scheduler settings
type SchedulerConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	MonitorInterval     time.Duration `mapstructure:"monitor_interval"`
	HealthInterval      time.Duration `mapstructure:"health_interval"`
	BatchSize           int           `mapstructure:"batch_size"`
	MaxConcurrentChunks int           `mapstructure:"max_concurrent_chunks"`
}

// ModeSwitchingConfig contains the auto mode-switch thresholds
type ModeSwitchingConfig struct {
	AutoSwitchEnabled    bool          `mapstructure:"auto_switch_enabled"`
	CostThresholdCents   int64         `mapstructure:"cost_threshold_cents"`
	LatencyThresholdMs   float64       `mapstructure:"latency_threshold_ms"`
	QueueSizeThreshold   int           `mapstructure:"queue_size_threshold"`
	LoadThreshold        float64       `mapstructure:"load_threshold"`
	RealtimePriorityBand int           `mapstructure:"realtime_priority_band"`
	MinSwitchInterval    time.Duration `mapstructure:"min_switch_interval"`
}

// PreprocessingConfig contains text cleaning and chunking settings
type PreprocessingConfig struct {
	MaxChunkSize    int  `mapstructure:"max_chunk_size"`
	ChunkOverlap    int  `mapstructure:"chunk_overlap"`
	MinChunkSize    int  `mapstructure:"min_chunk_size"`
	RemoveStopWords bool `mapstructure:"remove_stop_words"`
}

// QualityConfig contains embedding quality thresholds
type QualityConfig struct {
	MinMagnitude        float64 `mapstructure:"min_magnitude"`
	MaxMagnitude        float64 `mapstructure:"max_magnitude"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	VarianceThreshold   float64 `mapstructure:"variance_threshold"`
}

// Load loads configuration from environment and config files
func Load() (*Config, error) {
	viper.SetConfigName("vectord")
	viper.SetConfigType("yaml")

	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/configs")

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		// Defaults and env vars carry the service when no file is present
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	// Service defaults
	viper.SetDefault("service.shutdown_timeout", "30s")
	viper.SetDefault("service.log_level", "info")
	viper.SetDefault("service.default_mode", "auto_switch")
	viper.SetDefault("service.selection_policy", "balanced")

	// Redis defaults
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.pool_size", 10)

	// Provider defaults
	viper.SetDefault("providers.openai.enabled", false)
	viper.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("providers.openai.default_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.request_timeout", "30s")
	viper.SetDefault("providers.openai.rate_limit_rpm", 100)
	viper.SetDefault("providers.openai.retry_attempts", 3)
	viper.SetDefault("providers.openai.retry_delay", "1s")
	viper.SetDefault("providers.local.enabled", true)
	viper.SetDefault("providers.local.default_model", "all-MiniLM-L6-v2")

	// Cache defaults
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.default_ttl", "24h")

	// Task queue defaults
	viper.SetDefault("task_queue.max_queue_size", 10000)
	viper.SetDefault("task_queue.max_retries", 3)
	viper.SetDefault("task_queue.retry_delay", "1s")

	// Scheduler defaults
	viper.SetDefault("scheduler.tick_interval", "2s")
	viper.SetDefault("scheduler.monitor_interval", "30s")
	viper.SetDefault("scheduler.health_interval", "60s")
	viper.SetDefault("scheduler.batch_size", 50)
	viper.SetDefault("scheduler.max_concurrent_chunks", 4)

	// Preprocessing defaults
	viper.SetDefault("preprocessing.max_chunk_size", 512)
	viper.SetDefault("preprocessing.chunk_overlap", 50)
	viper.SetDefault("preprocessing.min_chunk_size", 50)
	viper.SetDefault("preprocessing.remove_stop_words", false)

	// Quality defaults
	viper.SetDefault("quality.min_magnitude", 0.1)
	viper.SetDefault("quality.max_magnitude", 10.0)
	viper.SetDefault("quality.similarity_threshold", 0.95)
	viper.SetDefault("quality.variance_threshold", 0.001)

	// Mode switching defaults
	viper.SetDefault("mode_switching.auto_switch_enabled", true)
	viper.SetDefault("mode_switching.cost_threshold_cents", 1000)
	viper.SetDefault("mode_switching.latency_threshold_ms", 3000)
	viper.SetDefault("mode_switching.queue_size_threshold", 100)
	viper.SetDefault("mode_switching.load_threshold", 0.8)
	viper.SetDefault("mode_switching.realtime_priority_band", 3)
	viper.SetDefault("mode_switching.min_switch_interval", "1m")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.AutomaticEnv()

	_ = viper.BindEnv("service.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("service.default_mode", "VECTOR_DEFAULT_MODE")

	_ = viper.BindEnv("redis.address", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")

	_ = viper.BindEnv("providers.openai.enabled", "OPENAI_ENABLED")
	_ = viper.BindEnv("providers.openai.api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("providers.openai.base_url", "OPENAI_BASE_URL")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Providers.OpenAI.Enabled && cfg.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("providers.openai.api_key is required when the openai provider is enabled")
	}
	if !cfg.Providers.OpenAI.Enabled && !cfg.Providers.Local.Enabled {
		return fmt.Errorf("at least one embedding provider must be enabled")
	}
	if cfg.ModeSwitching.LoadThreshold <= 0 || cfg.ModeSwitching.LoadThreshold > 1 {
		return fmt.Errorf("mode_switching.load_threshold must be in (0,1]: %v", cfg.ModeSwitching.LoadThreshold)
	}
	if cfg.TaskQueue.MaxRetries < 0 {
		return fmt.Errorf("task_queue.max_retries must not be negative: %d", cfg.TaskQueue.MaxRetries)
	}
	return nil
}

// Package config 提供 zenoo 的配置加载
//
// 加载顺序：Default() → YAML 文件（可选）→ ZENOO_* 环境变量。
// 后一层只覆盖显式给出的值。
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"zenoo/batch"
	"zenoo/patterns/retry"
)

// ServerConfig 远端服务连接配置
type ServerConfig struct {
	URL      string        `yaml:"url" env:"URL"`
	Database string        `yaml:"database" env:"DATABASE"`
	Username string        `yaml:"username" env:"USERNAME"`
	Password string        `yaml:"password" env:"PASSWORD"`
	UID      int64         `yaml:"uid" env:"UID"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// RateLimit 每秒最大请求数，0 表示不限制
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"RATE_BURST"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialDelay  time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay      time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	BackoffFactor float64       `yaml:"backoff_factor" env:"BACKOFF_FACTOR"`
	MaxElapsed    time.Duration `yaml:"max_elapsed" env:"MAX_ELAPSED"`
}

// BreakerConfig 熔断配置
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	Window           time.Duration `yaml:"window" env:"WINDOW"`
	Cooldown         time.Duration `yaml:"cooldown" env:"COOLDOWN"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Backend memory | redis
	Backend  string `yaml:"backend" env:"BACKEND"`
	Capacity int    `yaml:"capacity" env:"CAPACITY"`
	// DefaultTTL 0 表示不过期，仅靠 LRU 和写失效
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
}

// BatchConfig 批量配置
type BatchConfig struct {
	MaxChunkSize   int `yaml:"max_chunk_size" env:"MAX_CHUNK_SIZE"`
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
}

// RedisConfig Redis 缓存后端
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

// NATSConfig 跨进程缓存失效广播
type NATSConfig struct {
	URL     string `yaml:"url" env:"URL"`
	Subject string `yaml:"subject" env:"SUBJECT"`
}

// JournalConfig 事务日志持久化；Driver 为空时只保存在内存
type JournalConfig struct {
	// Driver database/sql 驱动名：sqlite | postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
	Table  string `yaml:"table" env:"TABLE"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// Config 顶层配置
type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Retry   RetryConfig   `yaml:"retry" envPrefix:"RETRY_"`
	Breaker BreakerConfig `yaml:"breaker" envPrefix:"BREAKER_"`
	Cache   CacheConfig   `yaml:"cache" envPrefix:"CACHE_"`
	Batch   BatchConfig   `yaml:"batch" envPrefix:"BATCH_"`
	Redis   RedisConfig   `yaml:"redis" envPrefix:"REDIS_"`
	NATS    NATSConfig    `yaml:"nats" envPrefix:"NATS_"`
	Journal JournalConfig `yaml:"journal" envPrefix:"JOURNAL_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

// EnvPrefix 环境变量前缀
const EnvPrefix = "ZENOO_"

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout:   30 * time.Second,
			RateBurst: 10,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
			MaxElapsed:    30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Window:           time.Minute,
			Cooldown:         30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Backend:  "memory",
			Capacity: 1000,
		},
		Batch: BatchConfig{
			MaxChunkSize:   100,
			MaxConcurrency: 4,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "zenoo:",
		},
		NATS: NATSConfig{
			Subject: "zenoo.cache.invalidate",
		},
		Journal: JournalConfig{
			Table: "zenoo_tx_journal",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load 加载配置
//
// 参数：
//   - path: YAML 文件路径，空字符串表示跳过文件
//
// 返回：
//   - *Config: 合并后的配置（已校验）
//   - error: 文件读取、解析或校验失败
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be >= 1, got %v", c.Retry.BackoffFactor)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be >= 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Batch.MaxChunkSize < 1 {
		return fmt.Errorf("batch.max_chunk_size must be >= 1, got %d", c.Batch.MaxChunkSize)
	}
	if c.Batch.MaxConcurrency < 1 {
		return fmt.Errorf("batch.max_concurrency must be >= 1, got %d", c.Batch.MaxConcurrency)
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must be >= 0, got %d", c.Cache.Capacity)
	}
	switch c.Journal.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("journal.driver must be sqlite or postgres, got %q", c.Journal.Driver)
	}
	if c.Journal.Driver != "" && c.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn is required when journal.driver is %q", c.Journal.Driver)
	}
	return nil
}

// RetryPolicy 重试控制器配置
func (c *Config) RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts:   c.Retry.MaxAttempts,
		InitialDelay:  c.Retry.InitialDelay,
		BackoffFactor: c.Retry.BackoffFactor,
		MaxDelay:      c.Retry.MaxDelay,
		MaxElapsed:    c.Retry.MaxElapsed,
	}
}

// BreakerConfig 熔断器配置
func (c *Config) BreakerConfig() retry.BreakerConfig {
	return retry.BreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		Window:           c.Breaker.Window,
		Cooldown:         c.Breaker.Cooldown,
	}
}

// BatchConfig 批量协调器配置
func (c *Config) BatchConfig() batch.Config {
	return batch.Config{
		MaxChunkSize:   c.Batch.MaxChunkSize,
		MaxConcurrency: c.Batch.MaxConcurrency,
	}
}

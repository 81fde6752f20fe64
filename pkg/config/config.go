// Package config loads the gateway configuration. All values are plain
// value objects with defaults; nothing here reads the environment beyond
// variable expansion in the config file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gateway configuration.
type Config struct {
	Backend       BackendConfig `yaml:"backend"`
	Cache         CacheConfig   `yaml:"cache"`
	Batch         BatchConfig   `yaml:"batch"`
	Breaker       BreakerConfig `yaml:"breaker"`
	Retry         RetryConfig   `yaml:"retry"`
	Rate          RateConfig    `yaml:"rate"`
	Journal       JournalConfig `yaml:"journal"`
	MaxConcurrent int           `yaml:"max_concurrent"`
}

// BackendConfig identifies the upstream text-generation endpoint.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig controls the response cache. Backend is "memory" or "redis".
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Backend   string        `yaml:"backend"`
	MaxSize   int           `yaml:"max_size"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"`
}

// BatchConfig controls the batch coalescer.
type BatchConfig struct {
	MaxBatchSize int           `yaml:"max_batch_size"`
	MinBatchSize int           `yaml:"min_batch_size"`
	Timeout      time.Duration `yaml:"batch_timeout"`
}

// BreakerConfig controls the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// RetryConfig controls retry and backoff behavior.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Fallback          bool          `yaml:"fallback"`
}

// RateConfig controls the adaptive rate controller.
type RateConfig struct {
	TargetSuccessRate float64       `yaml:"target_success_rate"`
	AdjustmentFactor  float64       `yaml:"adjustment_factor"`
	MinDelay          time.Duration `yaml:"min_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
}

// JournalConfig controls the call journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: "memory",
			MaxSize: 1000,
			TTL:     time.Hour,
		},
		Batch: BatchConfig{
			MaxBatchSize: 10,
			MinBatchSize: 2,
			Timeout:      2 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     5 * time.Minute,
		},
		Retry: RetryConfig{
			MaxRetries:        3,
			BaseDelay:         time.Second,
			MaxDelay:          60 * time.Second,
			BackoffMultiplier: 2.0,
			Fallback:          true,
		},
		Rate: RateConfig{
			TargetSuccessRate: 0.95,
			AdjustmentFactor:  1.2,
			MinDelay:          0,
			MaxDelay:          5 * time.Second,
		},
		Journal: JournalConfig{
			Enabled: false,
			DBPath:  "loran.db",
		},
		MaxConcurrent: 8,
	}
}

// Load reads a YAML config file over the defaults and expands environment
// variables in its values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Package config loads service settings from INVENTORY_* environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "inventory"

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	NATSURL        string `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	WorkerPoolSize int    `envconfig:"WORKER_POOL_SIZE" default:"10"`
	WorkerQueue    int    `envconfig:"WORKER_QUEUE_SIZE" default:"1000"`

	DefaultLocation   string `envconfig:"DEFAULT_LOCATION" default:"main"`
	LowStockThreshold int    `envconfig:"LOW_STOCK_THRESHOLD" default:"10"`
	AvailabilityLimit int    `envconfig:"AVAILABILITY_CONCURRENCY" default:"8"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database url is required")
	}
	if c.LowStockThreshold < 0 {
		return fmt.Errorf("low stock threshold cannot be negative: %d", c.LowStockThreshold)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive: %d", c.WorkerPoolSize)
	}
	if c.AvailabilityLimit < 0 {
		return fmt.Errorf("availability concurrency cannot be negative: %d", c.AvailabilityLimit)
	}
	return nil
}

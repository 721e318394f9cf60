package config

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Validate checks the configuration for values the application cannot start
// with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	if c.Redis.DB < 0 {
		return errors.New("redis.db must not be negative")
	}

	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be a positive integer")
	}
	if c.Worker.Location == "" {
		return errors.New("worker.location is required")
	}
	for name, priority := range c.Worker.Queues {
		if name == "" {
			return errors.New("worker.queues contains an empty location name")
		}
		if priority <= 0 {
			return fmt.Errorf("worker.queues priority for location '%s' must be positive", name)
		}
	}
	if c.Distributed() {
		if _, ok := c.Worker.Queues[c.Worker.Location]; !ok {
			return fmt.Errorf("worker.queues must include the worker location '%s'", c.Worker.Location)
		}
	}

	switch c.Pipeline.JoinBarrier {
	case "db":
	case "redis":
		if !c.Distributed() {
			return errors.New("redis.address is required when pipeline.join_barrier is redis")
		}
	default:
		return fmt.Errorf("pipeline.join_barrier must be db or redis, got %q", c.Pipeline.JoinBarrier)
	}
	if c.Pipeline.ProgressLines <= 0 {
		return errors.New("pipeline.progress_lines must be positive")
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	return nil
}

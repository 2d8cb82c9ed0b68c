package order

import (
	"fmt"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultCallTimeout = 10 * time.Second
	defaultWorkers     = 4
	defaultQueueSize   = 64
)

// Config controls submission retries, timeouts and the worker pool.
type Config struct {
	Namespace   string        `json:"namespace"`
	MaxAttempts int           `json:"maxAttempts"`
	CallTimeout time.Duration `json:"callTimeout"`
	BackoffMin  time.Duration `json:"backoffMin"`
	BackoffMax  time.Duration `json:"backoffMax"`
	Workers     int           `json:"workers"`
	QueueSize   int           `json:"queueSize"`
}

// DefaultConfig returns 3 attempts, 2s-15s backoff and a 10s hard timeout per broker call.
func DefaultConfig() Config {
	b := DefaultBackoff()
	return Config{
		Namespace:   defaultKeyNamespace,
		MaxAttempts: defaultMaxAttempts,
		CallTimeout: defaultCallTimeout,
		BackoffMin:  b.Min,
		BackoffMax:  b.Max,
		Workers:     defaultWorkers,
		QueueSize:   defaultQueueSize,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Namespace == "" {
		c.Namespace = def.Namespace
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.BackoffMin == 0 {
		c.BackoffMin = def.BackoffMin
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = def.BackoffMax
	}
	if c.Workers == 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize == 0 {
		c.QueueSize = def.QueueSize
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("invalid order config: MaxAttempts must be > 0")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("invalid order config: CallTimeout must be > 0")
	}
	if c.BackoffMin <= 0 || c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("invalid order config: backoff must satisfy 0 < BackoffMin <= BackoffMax")
	}
	if c.Workers <= 0 || c.QueueSize <= 0 {
		return fmt.Errorf("invalid order config: Workers and QueueSize must be > 0")
	}
	return nil
}

func (c Config) backoff() Backoff {
	b := DefaultBackoff()
	b.Min = c.BackoffMin
	b.Max = c.BackoffMax
	return b
}

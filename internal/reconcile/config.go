package reconcile

import (
	"fmt"
	"time"
)

const (
	defaultInterval       = 30 * time.Second
	defaultStaleThreshold = 100
	defaultCallTimeout    = 10 * time.Second
	defaultRetention      = 7 * 24 * time.Hour
)

// Config controls the poll loop. An order is flagged for manual review once
// its check count exceeds StaleThreshold. Tombstones of resolved orders are
// kept for ResolvedRetention.
type Config struct {
	Interval          time.Duration `json:"interval"`
	StaleThreshold    int           `json:"staleThreshold"`
	CallTimeout       time.Duration `json:"callTimeout"`
	CloseReason       string        `json:"closeReason"`
	ResolvedRetention time.Duration `json:"resolvedRetention"`
}

// DefaultConfig polls every 30s and flags orders after 100 checks.
func DefaultConfig() Config {
	return Config{
		Interval:          defaultInterval,
		StaleThreshold:    defaultStaleThreshold,
		CallTimeout:       defaultCallTimeout,
		CloseReason:       "signal",
		ResolvedRetention: defaultRetention,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval == 0 {
		c.Interval = def.Interval
	}
	if c.StaleThreshold == 0 {
		c.StaleThreshold = def.StaleThreshold
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.CloseReason == "" {
		c.CloseReason = def.CloseReason
	}
	if c.ResolvedRetention == 0 {
		c.ResolvedRetention = def.ResolvedRetention
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("invalid reconcile config: Interval must be > 0")
	}
	if c.StaleThreshold <= 0 {
		return fmt.Errorf("invalid reconcile config: StaleThreshold must be > 0")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("invalid reconcile config: CallTimeout must be > 0")
	}
	if c.ResolvedRetention <= 0 {
		return fmt.Errorf("invalid reconcile config: ResolvedRetention must be > 0")
	}
	return nil
}

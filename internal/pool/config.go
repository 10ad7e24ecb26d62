package pool

import "time"

// Default pool configuration values.
const (
	DefaultMaxCapacity            = 4
	DefaultMaxPerIdentifier       = 2
	DefaultAutoReplenishThreshold = 0.5
)

// Config holds the pool limits and replenishment policy.
type Config struct {
	// MaxCapacity bounds the total number of pooled engines.
	MaxCapacity int `json:"max_capacity"`
	// MaxPerIdentifier bounds the engines pooled under one identifier.
	MaxPerIdentifier int `json:"max_per_identifier"`
	// AutoReplenish tops an identifier back up after a dequeue leaves it
	// below the threshold.
	AutoReplenish bool `json:"auto_replenish"`
	// AutoReplenishThreshold is the fraction of MaxPerIdentifier below
	// which replenishment starts. Clamped to [0,1].
	AutoReplenishThreshold float64 `json:"auto_replenish_threshold"`
	// IdleTimeout reclaims engines that sat unused this long. Zero disables.
	IdleTimeout time.Duration `json:"idle_timeout"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxCapacity:            DefaultMaxCapacity,
		MaxPerIdentifier:       DefaultMaxPerIdentifier,
		AutoReplenishThreshold: DefaultAutoReplenishThreshold,
	}
}

// Normalize clamps every field into its valid range.
func (c Config) Normalize() Config {
	c.MaxCapacity = max(1, c.MaxCapacity)
	c.MaxPerIdentifier = max(1, c.MaxPerIdentifier)
	c.AutoReplenishThreshold = min(1, max(0, c.AutoReplenishThreshold))
	c.IdleTimeout = max(0, c.IdleTimeout)
	return c
}

// Statistics are cumulative pool counters.
type Statistics struct {
	TotalEnqueued int `json:"total_enqueued"`
	TotalDequeued int `json:"total_dequeued"`
	Hits          int `json:"hits"`
	Misses        int `json:"misses"`
	Evictions     int `json:"evictions"`
	IdleCleanups  int `json:"idle_cleanups"`
}

// HitRate returns hits / (hits + misses), or 0 before any dequeue.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

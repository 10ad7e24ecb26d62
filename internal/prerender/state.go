package prerender

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a pre-render entry.
type State int

const (
	Idle State = iota
	Preparing
	ReadyToPlay
	ReadyToDisplay
	Cancelled
	Expired
	Failed
)

var stateNames = map[State]string{
	Idle:           "idle",
	Preparing:      "preparing",
	ReadyToPlay:    "ready_to_play",
	ReadyToDisplay: "ready_to_display",
	Cancelled:      "cancelled",
	Expired:        "expired",
	Failed:         "failed",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Consumable reports whether an entry in this state may be consumed.
func (s State) Consumable() bool {
	return s == ReadyToPlay || s == ReadyToDisplay
}

// Terminal reports whether no further transitions leave this state.
func (s State) Terminal() bool {
	return s == Cancelled || s == Expired || s == Failed
}

// Default manager configuration values.
const (
	DefaultMaxPreRenderCount = 3
	DefaultTimeout           = 10 * time.Second
	MinTimeout               = time.Second
	DefaultPoolIdentifier    = "default"
)

// Config configures a Manager.
type Config struct {
	// MaxPreRenderCount bounds concurrently held entries. Minimum 1.
	MaxPreRenderCount int `json:"max_prerender_count"`
	// Timeout expires entries still preparing after this long. Minimum 1s.
	Timeout time.Duration `json:"timeout"`
	// PoolIdentifier is the pool key engines are borrowed from and returned to.
	PoolIdentifier string `json:"pool_identifier"`
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxPreRenderCount: DefaultMaxPreRenderCount,
		Timeout:           DefaultTimeout,
		PoolIdentifier:    DefaultPoolIdentifier,
	}
}

// Normalize clamps every field into its valid range.
func (c Config) Normalize() Config {
	c.MaxPreRenderCount = max(1, c.MaxPreRenderCount)
	c.Timeout = max(MinTimeout, c.Timeout)
	if c.PoolIdentifier == "" {
		c.PoolIdentifier = DefaultPoolIdentifier
	}
	return c
}

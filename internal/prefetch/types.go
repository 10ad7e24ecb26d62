package prefetch

import (
	"fmt"
	"strings"
)

// Priority orders queued prefetches. Higher runs first.
type Priority int

const (
	Low    Priority = 1
	Normal Priority = 2
	High   Priority = 3
	Urgent Priority = 4
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Urgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority parses a priority name. The empty string is Normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return Low, nil
	case "", "normal":
		return Normal, nil
	case "high":
		return High, nil
	case "urgent":
		return Urgent, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// StatusKind is the coarse state of a URL.
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusQueued
	StatusRunning
	StatusCompleted
	StatusFailed
)

// String returns the status name.
func (k StatusKind) String() string {
	switch k {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k StatusKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Status is the point-in-time prefetch state of a URL. Bytes is set while
// running; Reason is set when failed.
type Status struct {
	Kind   StatusKind `json:"state"`
	Bytes  int64      `json:"bytes,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// String renders the status as idle, queued, running(n), completed or
// failed(reason).
func (s Status) String() string {
	switch s.Kind {
	case StatusRunning:
		return fmt.Sprintf("running(%d)", s.Bytes)
	case StatusFailed:
		return fmt.Sprintf("failed(%s)", s.Reason)
	default:
		return s.Kind.String()
	}
}

// Default scheduler configuration values.
const (
	DefaultMaxConcurrent  = 2
	DefaultBytesPerURL    = 512 * 1024
	DefaultWindowAhead    = 2
	DefaultWindowBehind   = 2
	DefaultMaxTrackedURLs = 10
)

// Config configures a Scheduler.
type Config struct {
	// MaxConcurrent bounds running transfers. Minimum 1.
	MaxConcurrent int `json:"max_concurrent"`
	// BytesPerURL caps each transfer. Zero fetches the whole resource.
	BytesPerURL int64 `json:"bytes_per_url"`
	// WindowAhead and WindowBehind size the window around the focus index.
	WindowAhead  int `json:"window_ahead"`
	WindowBehind int `json:"window_behind"`
	// MaxTrackedURLs bounds remembered URLs. It is raised to fit the window
	// and the concurrency limit.
	MaxTrackedURLs int `json:"max_tracked_urls"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  DefaultMaxConcurrent,
		BytesPerURL:    DefaultBytesPerURL,
		WindowAhead:    DefaultWindowAhead,
		WindowBehind:   DefaultWindowBehind,
		MaxTrackedURLs: DefaultMaxTrackedURLs,
	}
}

// Normalize clamps every field into its valid range.
func (c Config) Normalize() Config {
	c.MaxConcurrent = max(1, c.MaxConcurrent)
	c.BytesPerURL = max(0, c.BytesPerURL)
	c.WindowAhead = max(0, c.WindowAhead)
	c.WindowBehind = max(0, c.WindowBehind)
	c.MaxTrackedURLs = max(1, c.MaxTrackedURLs, c.WindowAhead+c.WindowBehind+1, c.MaxConcurrent)
	return c
}

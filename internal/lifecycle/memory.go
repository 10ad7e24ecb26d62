package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// Memory monitor defaults.
const (
	DefaultMemoryInterval  = 15 * time.Second
	DefaultMemoryThreshold = 90.0
)

// MemoryMonitor polls system memory and emits MemoryPressure when usage
// crosses Threshold. It re-arms once usage falls back below it.
type MemoryMonitor struct {
	hub       *Hub
	interval  time.Duration
	threshold float64
	logger    *slog.Logger

	usage    func(ctx context.Context) (float64, error)
	pressure bool
}

// NewMemoryMonitor creates a monitor emitting on hub.
func NewMemoryMonitor(hub *Hub, interval time.Duration, threshold float64) *MemoryMonitor {
	if interval <= 0 {
		interval = DefaultMemoryInterval
	}
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultMemoryThreshold
	}
	return &MemoryMonitor{
		hub:       hub,
		interval:  interval,
		threshold: threshold,
		logger:    slog.Default(),
		usage:     virtualMemoryUsage,
	}
}

// WithLogger sets the logger.
func (m *MemoryMonitor) WithLogger(logger *slog.Logger) *MemoryMonitor {
	m.logger = logger
	return m
}

func virtualMemoryUsage(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// Check samples memory once and emits MemoryPressure on an upward crossing.
func (m *MemoryMonitor) Check(ctx context.Context) {
	used, err := m.usage(ctx)
	if err != nil {
		m.logger.Debug("failed to read memory usage", slog.String("error", err.Error()))
		return
	}

	switch {
	case used >= m.threshold && !m.pressure:
		m.pressure = true
		m.logger.Warn("memory pressure detected",
			slog.Float64("used_percent", used),
			slog.Float64("threshold", m.threshold),
		)
		m.hub.Emit(MemoryPressure)
	case used < m.threshold && m.pressure:
		m.pressure = false
		m.logger.Info("memory pressure relieved", slog.Float64("used_percent", used))
	}
}

// Run polls until ctx is cancelled.
func (m *MemoryMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jmylchreest/feedplay/pkg/httpclient"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	registry  *httpclient.Registry
	checks    map[string]func() string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]func() string),
	}
}

// WithRegistry reports the circuit breakers of the registry's clients.
func (h *HealthHandler) WithRegistry(registry *httpclient.Registry) *HealthHandler {
	h.registry = registry
	return h
}

// WithCheck adds a named component check returning a short status.
func (h *HealthHandler) WithCheck(name string, check func() string) *HealthHandler {
	h.checks[name] = check
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status          string                           `json:"status"`
	Timestamp       string                           `json:"timestamp"`
	Version         string                           `json:"version"`
	Uptime          string                           `json:"uptime"`
	UptimeSeconds   float64                          `json:"uptime_seconds"`
	CPUInfo         CPUInfo                          `json:"cpu_info"`
	Memory          MemoryInfo                       `json:"memory"`
	Components      map[string]string                `json:"components"`
	CircuitBreakers []httpclient.CircuitBreakerStatus `json:"circuit_breakers"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and runtime memory figures.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	UsedPercent       float64 `json:"used_percent"`
	HeapAllocMB       float64 `json:"heap_alloc_mb"`
	Goroutines        int     `json:"goroutines"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health, system metrics and component status",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	components := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		components[name] = check()
	}

	breakers := []httpclient.CircuitBreakerStatus{}
	status := "healthy"
	if h.registry != nil {
		breakers = h.registry.CircuitBreakerStatuses()
		if len(h.registry.Degraded()) > 0 {
			status = "degraded"
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:          status,
			Timestamp:       now.UTC().Format(time.RFC3339),
			Version:         h.version,
			Uptime:          uptime.Round(time.Second).String(),
			UptimeSeconds:   uptime.Seconds(),
			CPUInfo:         cpuInfo(ctx),
			Memory:          memoryInfo(ctx),
			Components:      components,
			CircuitBreakers: breakers,
		},
	}, nil
}

func cpuInfo(ctx context.Context) CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	avg, err := load.AvgWithContext(ctx)
	if err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
		}
	}
	return info
}

const megabyte = 1024 * 1024

func memoryInfo(ctx context.Context) MemoryInfo {
	var info MemoryInfo

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / megabyte
		info.UsedMemoryMB = float64(vm.Used) / megabyte
		info.AvailableMemoryMB = float64(vm.Available) / megabyte
		info.UsedPercent = vm.UsedPercent
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info.HeapAllocMB = float64(ms.HeapAlloc) / megabyte
	info.Goroutines = runtime.NumGoroutine()
	return info
}

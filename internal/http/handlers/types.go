// Package handlers provides HTTP API handlers for feedplay.
package handlers

import (
	"time"

	"github.com/jmylchreest/feedplay/internal/pool"
	"github.com/jmylchreest/feedplay/internal/prefetch"
	"github.com/jmylchreest/feedplay/internal/prerender"
)

// Pool types

// PoolStatistics mirrors pool.Statistics.
type PoolStatistics struct {
	TotalEnqueued int     `json:"total_enqueued"`
	TotalDequeued int     `json:"total_dequeued"`
	Hits          int     `json:"hits"`
	Misses        int     `json:"misses"`
	Evictions     int     `json:"evictions"`
	IdleCleanups  int     `json:"idle_cleanups"`
	HitRate       float64 `json:"hit_rate"`
}

// PoolConfigResponse mirrors pool.Config.
type PoolConfigResponse struct {
	MaxCapacity            int     `json:"max_capacity"`
	MaxPerIdentifier       int     `json:"max_per_identifier"`
	AutoReplenish          bool    `json:"auto_replenish"`
	AutoReplenishThreshold float64 `json:"auto_replenish_threshold"`
	IdleTimeout            string  `json:"idle_timeout"`
}

// PoolResponse describes the engine pool.
type PoolResponse struct {
	Count         int                `json:"count"`
	PerIdentifier map[string]int     `json:"per_identifier"`
	Statistics    PoolStatistics     `json:"statistics"`
	Config        PoolConfigResponse `json:"config"`
}

// PoolFromSnapshot converts a pool snapshot to a response.
func PoolFromSnapshot(s pool.Snapshot) PoolResponse {
	return PoolResponse{
		Count:         s.Count,
		PerIdentifier: s.PerIdentifier,
		Statistics: PoolStatistics{
			TotalEnqueued: s.Statistics.TotalEnqueued,
			TotalDequeued: s.Statistics.TotalDequeued,
			Hits:          s.Statistics.Hits,
			Misses:        s.Statistics.Misses,
			Evictions:     s.Statistics.Evictions,
			IdleCleanups:  s.Statistics.IdleCleanups,
			HitRate:       s.HitRate,
		},
		Config: PoolConfigResponse{
			MaxCapacity:            s.Config.MaxCapacity,
			MaxPerIdentifier:       s.Config.MaxPerIdentifier,
			AutoReplenish:          s.Config.AutoReplenish,
			AutoReplenishThreshold: s.Config.AutoReplenishThreshold,
			IdleTimeout:            s.Config.IdleTimeout.String(),
		},
	}
}

// Pre-render types

// PreRenderEntryResponse describes one held pre-render entry.
type PreRenderEntryResponse struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	URL        string    `json:"url"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// PreRenderEntryFromEntry converts an entry to a response.
func PreRenderEntryFromEntry(e prerender.Entry) PreRenderEntryResponse {
	return PreRenderEntryResponse{
		ID:         e.ID.String(),
		Identifier: e.Identifier,
		URL:        e.URL,
		State:      e.State.String(),
		CreatedAt:  e.CreatedAt,
	}
}

// Prefetch types

// PrefetchStatusResponse is the status of one URL.
type PrefetchStatusResponse struct {
	URL    string `json:"url"`
	State  string `json:"state" enum:"idle,queued,running,completed,failed"`
	Bytes  int64  `json:"bytes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PrefetchStatusFromStatus converts a status to a response.
func PrefetchStatusFromStatus(url string, s prefetch.Status) PrefetchStatusResponse {
	return PrefetchStatusResponse{
		URL:    url,
		State:  s.Kind.String(),
		Bytes:  s.Bytes,
		Reason: s.Reason,
	}
}

// PrefetchTransfer is a queued or running transfer.
type PrefetchTransfer struct {
	URL      string `json:"url"`
	Priority string `json:"priority"`
	Bytes    int64  `json:"bytes,omitempty"`
}

// PrefetchResponse describes the prefetch scheduler.
type PrefetchResponse struct {
	Queued    []PrefetchTransfer  `json:"queued"`
	Running   []PrefetchTransfer  `json:"running"`
	Completed []string            `json:"completed"`
	Failed    map[string]string   `json:"failed"`
	Tracked   int                 `json:"tracked"`
	Stats     prefetch.Statistics `json:"stats"`
}

// PrefetchFromSnapshot converts a scheduler snapshot to a response.
func PrefetchFromSnapshot(s prefetch.Snapshot) PrefetchResponse {
	resp := PrefetchResponse{
		Queued:    make([]PrefetchTransfer, 0, len(s.Queued)),
		Running:   make([]PrefetchTransfer, 0, len(s.Running)),
		Completed: s.Completed,
		Failed:    s.Failed,
		Tracked:   s.Tracked,
		Stats:     s.Stats,
	}
	for _, q := range s.Queued {
		resp.Queued = append(resp.Queued, PrefetchTransfer{URL: q.URL, Priority: q.Priority.String()})
	}
	for _, r := range s.Running {
		resp.Running = append(resp.Running, PrefetchTransfer{URL: r.URL, Priority: r.Priority.String(), Bytes: r.Bytes})
	}
	return resp
}

// MessageResponse acknowledges an accepted command.
type MessageResponse struct {
	Message string `json:"message"`
}

package httpclient

import (
	"cmp"
	"slices"
	"sync"
)

// CircuitBreakerStatus is one client's breaker as shown on /health.
type CircuitBreakerStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// Registry holds the named clients media is fetched through (the probe
// engines' client and the prefetcher's) for health reporting.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register adds client under name. A later registration under the same name
// wins.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
}

// CircuitBreakerStatuses returns every client's breaker, ordered by name.
func (r *Registry) CircuitBreakerStatuses() []CircuitBreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]CircuitBreakerStatus, 0, len(r.clients))
	for name, client := range r.clients {
		statuses = append(statuses, CircuitBreakerStatus{
			Name:     name,
			State:    client.CircuitState().String(),
			Failures: client.breaker.Failures(),
		})
	}
	slices.SortFunc(statuses, func(a, b CircuitBreakerStatus) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return statuses
}

// Degraded returns the names of clients whose breaker is not closed.
func (r *Registry) Degraded() []string {
	var names []string
	for _, s := range r.CircuitBreakerStatuses() {
		if s.State != CircuitClosed.String() {
			names = append(names, s.Name)
		}
	}
	return names
}

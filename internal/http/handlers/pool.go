package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/feedplay/internal/pool"
)

// PoolHandler exposes the engine pool.
type PoolHandler struct {
	pool *pool.Pool
}

// NewPoolHandler creates a pool handler.
func NewPoolHandler(p *pool.Pool) *PoolHandler {
	return &PoolHandler{pool: p}
}

// Register registers the pool routes with the API.
func (h *PoolHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getPool",
		Method:      http.MethodGet,
		Path:        "/api/v1/pool",
		Summary:     "Get engine pool",
		Description: "Returns pooled engine counts, statistics and configuration",
		Tags:        []string{"Pool"},
	}, h.GetPool)

	huma.Register(api, huma.Operation{
		OperationID: "clearPool",
		Method:      http.MethodPost,
		Path:        "/api/v1/pool/clear",
		Summary:     "Clear engine pool",
		Description: "Releases pooled engines, for one identifier or all of them",
		Tags:        []string{"Pool"},
	}, h.ClearPool)

	huma.Register(api, huma.Operation{
		OperationID: "fillPool",
		Method:      http.MethodPost,
		Path:        "/api/v1/pool/fill",
		Summary:     "Warm engine pool",
		Description: "Creates idle engines for an identifier up to the configured limits",
		Tags:        []string{"Pool"},
	}, h.FillPool)
}

// GetPoolInput is the input for getting the pool.
type GetPoolInput struct{}

// PoolOutput is the output of every pool operation.
type PoolOutput struct {
	Body PoolResponse
}

// GetPool returns the pool state.
func (h *PoolHandler) GetPool(_ context.Context, _ *GetPoolInput) (*PoolOutput, error) {
	return &PoolOutput{Body: PoolFromSnapshot(h.pool.Snapshot())}, nil
}

// ClearPoolInput is the input for clearing the pool.
type ClearPoolInput struct {
	Body struct {
		Identifier string `json:"identifier,omitempty" doc:"Only clear engines pooled under this identifier"`
	} `required:"false"`
}

// ClearPool releases pooled engines.
func (h *PoolHandler) ClearPool(_ context.Context, input *ClearPoolInput) (*PoolOutput, error) {
	if input.Body.Identifier != "" {
		h.pool.ClearIdentifier(input.Body.Identifier)
	} else {
		h.pool.Clear()
	}
	return &PoolOutput{Body: PoolFromSnapshot(h.pool.Snapshot())}, nil
}

// FillPoolInput is the input for warming the pool.
type FillPoolInput struct {
	Body struct {
		Identifier string `json:"identifier" minLength:"1" doc:"Pool identifier"`
		Count      int    `json:"count" minimum:"1" doc:"Engines to create"`
	}
}

// FillPoolOutput reports how many engines were created.
type FillPoolOutput struct {
	Body struct {
		Created int          `json:"created"`
		Pool    PoolResponse `json:"pool"`
	}
}

// FillPool creates idle engines.
func (h *PoolHandler) FillPool(_ context.Context, input *FillPoolInput) (*FillPoolOutput, error) {
	out := &FillPoolOutput{}
	out.Body.Created = h.pool.Fill(input.Body.Count, input.Body.Identifier)
	out.Body.Pool = PoolFromSnapshot(h.pool.Snapshot())
	return out, nil
}

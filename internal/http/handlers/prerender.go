package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/feedplay/internal/observability"
	"github.com/jmylchreest/feedplay/internal/prerender"
)

// PreRenderHandler exposes the pre-render manager.
type PreRenderHandler struct {
	manager *prerender.Manager
}

// NewPreRenderHandler creates a pre-render handler.
func NewPreRenderHandler(m *prerender.Manager) *PreRenderHandler {
	return &PreRenderHandler{manager: m}
}

// Register registers the pre-render routes with the API.
func (h *PreRenderHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listPreRenders",
		Method:      http.MethodGet,
		Path:        "/api/v1/prerender",
		Summary:     "List pre-renders",
		Description: "Returns held pre-render entries, oldest first",
		Tags:        []string{"PreRender"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID:   "createPreRender",
		Method:        http.MethodPost,
		Path:          "/api/v1/prerender",
		Summary:       "Start pre-render",
		Description:   "Prepares an engine for url under identifier, replacing any existing entry",
		Tags:          []string{"PreRender"},
		DefaultStatus: http.StatusAccepted,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID:   "cancelPreRender",
		Method:        http.MethodDelete,
		Path:          "/api/v1/prerender/{identifier}",
		Summary:       "Cancel pre-render",
		Description:   "Cancels the entry and returns its engine to the pool",
		Tags:          []string{"PreRender"},
		DefaultStatus: http.StatusNoContent,
	}, h.Cancel)
}

// ListPreRendersInput is the input for listing pre-renders.
type ListPreRendersInput struct{}

// ListPreRendersOutput is the output for listing pre-renders.
type ListPreRendersOutput struct {
	Body struct {
		Entries []PreRenderEntryResponse `json:"entries"`
	}
}

// List returns the held entries.
func (h *PreRenderHandler) List(_ context.Context, _ *ListPreRendersInput) (*ListPreRendersOutput, error) {
	entries := h.manager.ActiveEntries()
	out := &ListPreRendersOutput{}
	out.Body.Entries = make([]PreRenderEntryResponse, 0, len(entries))
	for _, e := range entries {
		out.Body.Entries = append(out.Body.Entries, PreRenderEntryFromEntry(e))
	}
	return out, nil
}

// CreatePreRenderInput is the input for starting a pre-render.
type CreatePreRenderInput struct {
	Body struct {
		URL        string `json:"url" minLength:"1" doc:"Media URL to prepare"`
		Identifier string `json:"identifier" minLength:"1" doc:"Caller-chosen key, e.g. feed_3"`
	}
}

// CreatePreRenderOutput is the output for starting a pre-render.
type CreatePreRenderOutput struct {
	Body PreRenderEntryResponse
}

// Create starts a pre-render.
func (h *PreRenderHandler) Create(ctx context.Context, input *CreatePreRenderInput) (*CreatePreRenderOutput, error) {
	err := h.manager.PreRender(input.Body.URL, input.Body.Identifier)
	if err != nil {
		logger := observability.WithIdentifier(observability.LoggerFromContext(ctx), input.Body.Identifier)
		observability.WithError(logger, err).Warn("pre-render request rejected")
	}
	switch {
	case errors.Is(err, prerender.ErrClosed), errors.Is(err, prerender.ErrNoEngine):
		return nil, huma.Error503ServiceUnavailable("pre-render unavailable", err)
	case err != nil:
		return nil, huma.Error500InternalServerError("failed to start pre-render", err)
	}

	for _, e := range h.manager.ActiveEntries() {
		if e.Identifier == input.Body.Identifier {
			return &CreatePreRenderOutput{Body: PreRenderEntryFromEntry(e)}, nil
		}
	}

	// Resolved (or failed) before the lookup.
	return &CreatePreRenderOutput{Body: PreRenderEntryResponse{
		Identifier: input.Body.Identifier,
		URL:        input.Body.URL,
		State:      h.manager.State(input.Body.Identifier).String(),
	}}, nil
}

// CancelPreRenderInput is the input for cancelling a pre-render.
type CancelPreRenderInput struct {
	Identifier string `path:"identifier" doc:"Pre-render identifier"`
}

// CancelPreRenderOutput is empty.
type CancelPreRenderOutput struct{}

// Cancel cancels a pre-render. Unknown identifiers are not an error.
func (h *PreRenderHandler) Cancel(_ context.Context, input *CancelPreRenderInput) (*CancelPreRenderOutput, error) {
	h.manager.CancelPreRender(input.Identifier)
	return &CancelPreRenderOutput{}, nil
}

package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/feedplay/internal/prefetch"
)

// PrefetchHandler exposes the prefetch scheduler.
type PrefetchHandler struct {
	scheduler *prefetch.Scheduler
}

// NewPrefetchHandler creates a prefetch handler.
func NewPrefetchHandler(s *prefetch.Scheduler) *PrefetchHandler {
	return &PrefetchHandler{scheduler: s}
}

// Register registers the prefetch routes with the API.
func (h *PrefetchHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getPrefetch",
		Method:      http.MethodGet,
		Path:        "/api/v1/prefetch",
		Summary:     "Get prefetch scheduler",
		Description: "Returns queued, running, completed and failed prefetches",
		Tags:        []string{"Prefetch"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "updatePrefetchWindow",
		Method:        http.MethodPost,
		Path:          "/api/v1/prefetch/window",
		Summary:       "Update prefetch window",
		Description:   "Reports the ordered feed and focused index",
		Tags:          []string{"Prefetch"},
		DefaultStatus: http.StatusAccepted,
	}, h.UpdateWindow)

	huma.Register(api, huma.Operation{
		OperationID:   "preloadURL",
		Method:        http.MethodPost,
		Path:          "/api/v1/prefetch/preload",
		Summary:       "Preload URL",
		Description:   "Queues a URL at a priority; urgent preempts lower-priority transfers",
		Tags:          []string{"Prefetch"},
		DefaultStatus: http.StatusAccepted,
	}, h.Preload)

	huma.Register(api, huma.Operation{
		OperationID:   "cancelPrefetch",
		Method:        http.MethodPost,
		Path:          "/api/v1/prefetch/cancel",
		Summary:       "Cancel prefetch",
		Description:   "Cancels one URL, or everything when no URL is given",
		Tags:          []string{"Prefetch"},
		DefaultStatus: http.StatusAccepted,
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "getPrefetchStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/prefetch/status",
		Summary:     "Get prefetch status",
		Description: "Returns the prefetch state of one URL",
		Tags:        []string{"Prefetch"},
	}, h.Status)
}

// GetPrefetchInput is the input for getting the scheduler state.
type GetPrefetchInput struct{}

// GetPrefetchOutput is the output for getting the scheduler state.
type GetPrefetchOutput struct {
	Body PrefetchResponse
}

// Get returns the scheduler state.
func (h *PrefetchHandler) Get(_ context.Context, _ *GetPrefetchInput) (*GetPrefetchOutput, error) {
	return &GetPrefetchOutput{Body: PrefetchFromSnapshot(h.scheduler.Snapshot())}, nil
}

// UpdateWindowInput is the input for updating the window.
type UpdateWindowInput struct {
	Body struct {
		URLs  []string `json:"urls" doc:"Feed URLs in display order"`
		Focus int      `json:"focus" minimum:"0" doc:"Index of the focused item"`
	}
}

// AcceptedOutput acknowledges an asynchronous command.
type AcceptedOutput struct {
	Body MessageResponse
}

// UpdateWindow reports the feed and focus.
func (h *PrefetchHandler) UpdateWindow(_ context.Context, input *UpdateWindowInput) (*AcceptedOutput, error) {
	h.scheduler.UpdateWindow(input.Body.URLs, input.Body.Focus)
	return &AcceptedOutput{Body: MessageResponse{Message: "window updated"}}, nil
}

// PreloadInput is the input for preloading a URL.
type PreloadInput struct {
	Body struct {
		URL      string `json:"url" minLength:"1" doc:"Media URL"`
		Priority string `json:"priority,omitempty" enum:"low,normal,high,urgent" doc:"Defaults to normal"`
	}
}

// Preload queues a URL. Urgent requests use Prioritize so they can
// preempt running transfers.
func (h *PrefetchHandler) Preload(_ context.Context, input *PreloadInput) (*AcceptedOutput, error) {
	priority, err := prefetch.ParsePriority(input.Body.Priority)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid priority", err)
	}

	if priority == prefetch.Urgent {
		h.scheduler.Prioritize(input.Body.URL)
	} else {
		h.scheduler.Preload(input.Body.URL, priority)
	}
	return &AcceptedOutput{Body: MessageResponse{Message: "preload queued at " + priority.String()}}, nil
}

// CancelPrefetchInput is the input for cancelling prefetches.
type CancelPrefetchInput struct {
	Body struct {
		URL string `json:"url,omitempty" doc:"URL to cancel; empty cancels everything"`
	} `required:"false"`
}

// Cancel cancels prefetches.
func (h *PrefetchHandler) Cancel(_ context.Context, input *CancelPrefetchInput) (*AcceptedOutput, error) {
	if input.Body.URL == "" {
		h.scheduler.CancelAll()
		return &AcceptedOutput{Body: MessageResponse{Message: "all prefetches cancelled"}}, nil
	}
	h.scheduler.Cancel(input.Body.URL)
	return &AcceptedOutput{Body: MessageResponse{Message: "prefetch cancelled"}}, nil
}

// PrefetchStatusInput is the input for a URL status.
type PrefetchStatusInput struct {
	URL string `query:"url" required:"true" doc:"Media URL"`
}

// PrefetchStatusOutput is the output for a URL status.
type PrefetchStatusOutput struct {
	Body PrefetchStatusResponse
}

// Status returns the state of one URL.
func (h *PrefetchHandler) Status(_ context.Context, input *PrefetchStatusInput) (*PrefetchStatusOutput, error) {
	return &PrefetchStatusOutput{Body: PrefetchStatusFromStatus(input.URL, h.scheduler.Status(input.URL))}, nil
}

package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"clubmailer/internal/queue"
	"clubmailer/internal/service"
)

// Dispatcher runs one bounded pass over a tenant's queue
type Dispatcher interface {
	Run(ctx context.Context, tenantID string, opts service.RunOptions) (*service.Summary, error)
}

// RunPublisher hands a run request to the worker pool
type RunPublisher interface {
	PublishRun(ctx context.Context, req queue.RunRequest) error
}

// DispatchHandler triggers dispatcher runs
type DispatchHandler struct {
	dispatcher Dispatcher
	publisher  RunPublisher
}

// NewDispatchHandler creates a dispatch handler. A nil publisher disables
// async triggering.
func NewDispatchHandler(dispatcher Dispatcher, publisher RunPublisher) *DispatchHandler {
	return &DispatchHandler{
		dispatcher: dispatcher,
		publisher:  publisher,
	}
}

// Trigger handles POST /tenants/{tenant}/dispatch. The body is optional
// RunOptions. With ?async=true the run is queued for a worker and 202 is
// returned; otherwise the run completes before the response is written.
func (h *DispatchHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromPath(w, r)
	if !ok {
		return
	}

	var opts service.RunOptions
	if !decodeJSON(w, r, &opts, true) {
		return
	}
	if opts.MaxPerRun < 0 || opts.BatchSize < 0 {
		WriteValidationError(w, "max_per_run and batch_size must not be negative")
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		h.enqueue(w, r, tenantID, opts)
		return
	}

	// A client hanging up must not interrupt a batch between delivery and
	// settlement. MaxPerRun bounds how long the run holds the request.
	summary, err := h.dispatcher.Run(context.WithoutCancel(r.Context()), tenantID, opts)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	_ = WriteOK(w, summary)
}

func (h *DispatchHandler) enqueue(w http.ResponseWriter, r *http.Request, tenantID string, opts service.RunOptions) {
	if h.publisher == nil {
		WriteError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Async dispatch is not available")
		return
	}

	req := queue.RunRequest{
		TenantID:    tenantID,
		MaxPerRun:   opts.MaxPerRun,
		BatchSize:   opts.BatchSize,
		RequestedAt: time.Now().UTC(),
	}
	if err := h.publisher.PublishRun(r.Context(), req); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("tenant_id", tenantID).Msg("failed to publish run request")
		WriteError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "Failed to queue dispatch run")
		return
	}

	_ = WriteAccepted(w, DispatchQueuedResponse{Status: "queued", TenantID: tenantID})
}

// DispatchQueuedResponse acknowledges an async trigger
type DispatchQueuedResponse struct {
	Status   string `json:"status"`
	TenantID string `json:"tenant_id"`
}

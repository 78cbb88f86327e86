package api

import (
	"context"
	"net/http"

	"github.com/okian/atlas/internal/domain/trace"
	"github.com/okian/atlas/pkg/logger"
)

// TracesDependencies defines the interface for trace lookups.
type TracesDependencies interface {
	Traces(ctx context.Context, storeID string) ([]trace.Flat, error)
}

// TracesHandler serves the flattened traces of one store.
type TracesHandler struct {
	deps   TracesDependencies
	logger logger.Logger
}

// NewTracesHandler creates a new traces handler.
func NewTracesHandler(deps TracesDependencies, l logger.Logger) *TracesHandler {
	return &TracesHandler{deps: deps, logger: l}
}

// HandleGetTraces handles GET /traces/{store_id} requests.
func (h *TracesHandler) HandleGetTraces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id, ok := pathID(r.URL.Path, "/traces/")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrMissingID)
		return
	}
	rows, err := h.deps.Traces(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		h.logger.Error(r.Context(), "trace lookup failed", logger.String("store_id", id), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

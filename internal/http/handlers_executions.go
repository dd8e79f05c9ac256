package httpx

import (
	"errors"
	"net/http"

	"github.com/pixeldeck/pixeldeck/internal/service"
)

// ExecutionHandlers provides HTTP handlers for the execution ledger.
type ExecutionHandlers struct {
	Svc *service.ExecutionService
}

const (
	defaultExecutionLimit = 50
	maxExecutionLimit     = 200
)

// List handles HTTP requests to list executions newest-first.
func (h *ExecutionHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultExecutionLimit, maxExecutionLimit)

	execs, err := h.Svc.List(r.Context(), limit, offset)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, execs)
}

// Get handles HTTP requests to fetch a single execution.
func (h *ExecutionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("execution id is required")})
		return
	}

	exec, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, exec)
}

// Images handles HTTP requests to list an execution's images oldest-first.
func (h *ExecutionHandlers) Images(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("execution id is required")})
		return
	}

	images, err := h.Svc.ListImages(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, images)
}

// Rename handles HTTP requests to relabel an execution.
func (h *ExecutionHandlers) Rename(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("execution id is required")})
		return
	}

	var body struct {
		Label string `json:"label"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	if err := h.Svc.Rename(r.Context(), id, body.Label); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Delete handles HTTP requests to delete a terminal execution and its images.
func (h *ExecutionHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("execution id is required")})
		return
	}

	if err := h.Svc.Delete(r.Context(), id); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ListImagesByStatus handles HTTP requests to list images in a quality-review
// state across all executions. The qc_status query parameter is required.
func (h *ExecutionHandlers) ListImagesByStatus(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("qc_status")
	if status == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: errors.New("qc_status is required")})
		return
	}

	images, err := h.Svc.ListImagesByStatus(r.Context(), status)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, images)
}

// ApproveImage handles HTTP requests to manually approve an image.
func (h *ExecutionHandlers) ApproveImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("image id is required")})
		return
	}

	var body struct {
		FinalPath *string `json:"finalPath,omitempty"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	if err := h.Svc.ApproveImage(r.Context(), id, body.FinalPath); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RejectImage handles HTTP requests to manually fail an image's review.
func (h *ExecutionHandlers) RejectImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("image id is required")})
		return
	}

	if err := h.Svc.RejectImage(r.Context(), id); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Stats handles HTTP requests for the per-status execution summary.
func (h *ExecutionHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

package httpx

import (
	"net/http"

	"github.com/pixeldeck/pixeldeck/internal/service"
)

// RerunHandlers provides HTTP handlers for the rerun queue.
type RerunHandlers struct {
	Queue *service.RerunQueue
}

type bulkRerunRequest struct {
	ExecutionIDs []string `json:"executionIds"`
}

// Bulk handles HTTP requests to replay a batch of past executions in order.
// The whole batch is rejected when any id is unknown or a job is running.
func (h *RerunHandlers) Bulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRerunRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	res := h.Queue.BulkRerun(r.Context(), req.ExecutionIDs)
	code := http.StatusOK
	if !res.Success {
		code = http.StatusConflict
	}
	WriteJSON(w, code, res)
}

// Pending reports how many reruns are waiting.
func (h *RerunHandlers) Pending(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]int{"pending": h.Queue.Len()})
}

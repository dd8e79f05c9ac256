package httpx

import (
	"net/http"

	"github.com/pixeldeck/pixeldeck/internal/domain/model"
	"github.com/pixeldeck/pixeldeck/internal/service"
)

// RetryHandlers provides HTTP handlers for the retry queue.
type RetryHandlers struct {
	Queue *service.RetryQueue
}

// Batch handles HTTP requests to queue failed images for retry. Success means
// queued, not completed; per-image outcomes land in the image ledger.
func (h *RetryHandlers) Batch(w http.ResponseWriter, r *http.Request) {
	var req model.RetryBatchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	res := h.Queue.RetryBatch(r.Context(), &req)
	code := http.StatusOK
	if !res.Success {
		code = http.StatusBadRequest
	}
	WriteJSON(w, code, res)
}

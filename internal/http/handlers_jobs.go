// Package httpx provides HTTP handlers and utilities for the pixeldeck job engine API.
package httpx

import (
	"net/http"

	"github.com/pixeldeck/pixeldeck/internal/domain/model"
	"github.com/pixeldeck/pixeldeck/internal/service"
)

// JobHandlers provides HTTP handlers for job orchestration operations.
type JobHandlers struct {
	Orchestrator *service.Orchestrator
}

type startJobRequest struct {
	Label           string                      `json:"label,omitempty"`
	ConfigurationID *int64                      `json:"configurationId,omitempty"`
	Settings        model.ConfigurationSettings `json:"settings"`
}

// Start handles HTTP requests to start the primary job. The orchestrator
// returns a structured result; the HTTP status mirrors its error code.
func (h *JobHandlers) Start(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	res := h.Orchestrator.StartJob(r.Context(), service.StartJobRequest{
		Label:           req.Label,
		ConfigurationID: req.ConfigurationID,
		Settings:        req.Settings,
	})

	WriteJSON(w, startStatus(res), res)
}

func startStatus(res *model.StartJobResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Code {
	case model.CodeJobAlreadyRunning:
		return http.StatusConflict
	case model.CodeJobConfigurationError:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// Stop handles HTTP requests to gracefully stop the active job.
func (h *JobHandlers) Stop(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.Orchestrator.StopJob(r.Context()))
}

// ForceStop handles HTTP requests to cancel the active job and drain all queues.
func (h *JobHandlers) ForceStop(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.Orchestrator.ForceStopAll(r.Context()))
}

// Status reports whether a job is running and which execution it belongs to.
func (h *JobHandlers) Status(w http.ResponseWriter, _ *http.Request) {
	executionID, jobID := h.Orchestrator.Running()
	WriteJSON(w, http.StatusOK, map[string]any{
		"running":     executionID != "",
		"executionId": executionID,
		"jobId":       jobID,
	})
}

// Reconcile repairs ledger rows left behind by an unclean shutdown.
func (h *JobHandlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.Orchestrator.Reconcile(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "reconcile_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

package model

import "encoding/json"

// Error codes surfaced to the host shell. Every public orchestration method
// returns a structured result instead of raising; these codes let the UI
// branch without parsing messages.
const (
	// CodeJobAlreadyRunning rejects a start while another execution is running.
	CodeJobAlreadyRunning = "JOB_ALREADY_RUNNING"
	// CodeJobConfigurationError rejects a start with missing credentials or
	// malformed settings, before any ledger write.
	CodeJobConfigurationError = "JOB_CONFIGURATION_ERROR"
	// CodeJobStartError reports a downstream initialization failure; any
	// already-written execution row is left as failed.
	CodeJobStartError = "JOB_START_ERROR"
	// CodeJobStopError reports a cancellation failure.
	CodeJobStopError = "JOB_STOP_ERROR"
)

// StartJobResult is returned by the orchestrator's StartJob.
type StartJobResult struct {
	Success     bool   `json:"success"`
	JobID       string `json:"jobId,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
}

// StopResult is returned by StopJob and ForceStopAll.
type StopResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RetryFailOptions tunes how background-removal failures are treated during
// a retry, mirroring the removeBgFailureMode processing setting.
type RetryFailOptions struct {
	RemoveBgFailureMode string `json:"removeBgFailureMode,omitempty"`
}

// RetryBatchRequest is an ad-hoc retry request for one or more failed images.
// ModifiedSettings is an arbitrary client payload; it is normalized before it
// is attached to a queue item and downstream code never sees the raw form.
type RetryBatchRequest struct {
	ImageIDs            []string          `json:"imageIds"`
	UseOriginalSettings bool              `json:"useOriginalSettings"`
	ModifiedSettings    map[string]any    `json:"modifiedSettings,omitempty"`
	IncludeMetadata     bool              `json:"includeMetadata"`
	FailOptions         *RetryFailOptions `json:"failOptions,omitempty"`
}

// QueuedRetryJob is the receipt for an accepted retry item.
type QueuedRetryJob struct {
	ID          string   `json:"id"`
	ImageIDs    []string `json:"imageIds"`
	ExecutionID string   `json:"executionId,omitempty"`
	Status      string   `json:"status"`
	// Settings are the normalized processing settings the retry will use;
	// for original-settings requests they are resolved from the execution's
	// frozen configuration snapshot.
	Settings json.RawMessage `json:"settings,omitempty"`
}

// RetryBatchResult is returned by RetryBatch. Success means queued, not
// completed; per-item outcomes land asynchronously in the image ledger.
type RetryBatchResult struct {
	Success    bool             `json:"success"`
	QueuedJobs int              `json:"queuedJobs,omitempty"`
	Message    string           `json:"message,omitempty"`
	BatchJob   []QueuedRetryJob `json:"batchJob,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// BulkRerunResult is returned by BulkRerun.
type BulkRerunResult struct {
	Success    bool   `json:"success"`
	QueuedJobs int    `json:"queuedJobs,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReconcileResult reports the startup ledger repair outcome.
type ReconcileResult struct {
	ReconciledCount int `json:"reconciledCount"`
	// ResetImages counts images force-reset from processing to retry_failed.
	ResetImages int `json:"resetImages"`
}

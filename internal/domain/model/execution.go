package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExecutionStatus represents the lifecycle state of a job execution.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ExecutionStatus string

const (
	// ExecutionStatusRunning indicates the execution is in progress. At most
	// one execution may be running system-wide; the ledger enforces this.
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusCompleted indicates the execution finished successfully.
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusFailed indicates the execution failed or was reconciled
	// after an unclean shutdown.
	ExecutionStatusFailed ExecutionStatus = "failed"
	// ExecutionStatusStopped indicates the execution was cancelled by the user.
	ExecutionStatusStopped ExecutionStatus = "stopped"
)

// Valid returns true if the ExecutionStatus is a known state.
func (s ExecutionStatus) Valid() bool {
	return s == ExecutionStatusRunning || s == ExecutionStatusCompleted ||
		s == ExecutionStatusFailed || s == ExecutionStatusStopped
}

// Terminal returns true for states that permit a new job to start.
func (s ExecutionStatus) Terminal() bool {
	return s.Valid() && s != ExecutionStatusRunning
}

// UnmarshalText implements encoding.TextUnmarshaler for ExecutionStatus.
func (s *ExecutionStatus) UnmarshalText(text []byte) error {
	v := ExecutionStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid ExecutionStatus: %q", v)
	}
	*s = v
	return nil
}

// rerunSuffix is appended to labels of replayed executions. Reruns of reruns
// collapse to a single suffix rather than stacking.
const rerunSuffix = " (Rerun)"

// FallbackLabel generates the label used when a job is started without one.
// The same value doubles as the configuration name so display names never
// diverge across views. Format: job_YYYYMMDD_HHMMSS (UTC).
func FallbackLabel(t time.Time) string {
	return "job_" + t.UTC().Format("20060102_150405")
}

// RerunLabel derives the label for a rerun of an execution labelled orig.
func RerunLabel(orig string) string {
	return strings.TrimSuffix(strings.TrimSpace(orig), rerunSuffix) + rerunSuffix
}

// Execution is one recorded run of the job process. The label is set once at
// creation and is never overwritten by completion or failure handlers; only
// an explicit rename or rerun suffixing changes it.
type Execution struct {
	ID               string          `json:"id"                          db:"id"`
	ConfigurationID  *int64          `json:"configuration_id,omitempty"  db:"configuration_id"`
	Label            string          `json:"label"                       db:"label"`
	Status           ExecutionStatus `json:"status"                      db:"status"`
	StartedAt        time.Time       `json:"started_at"                  db:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"      db:"completed_at"`
	TotalImages      int             `json:"total_images"                db:"total_images"`
	SuccessfulImages int             `json:"successful_images"           db:"successful_images"`
	FailedImages     int             `json:"failed_images"               db:"failed_images"`
	ErrorMessage     *string         `json:"error_message,omitempty"     db:"error_message"`
	// ConfigurationSnapshot is the credential-stripped settings frozen at
	// start time, independent of later edits to the named configuration.
	ConfigurationSnapshot json.RawMessage `json:"configuration_snapshot" db:"configuration_snapshot_json"`
}

// Snapshot decodes the frozen configuration snapshot.
func (e *Execution) Snapshot() (ConfigurationSettings, error) {
	var s ConfigurationSettings
	if len(e.ConfigurationSnapshot) == 0 {
		return s, errors.New("execution has no configuration snapshot")
	}
	if err := json.Unmarshal(e.ConfigurationSnapshot, &s); err != nil {
		return s, fmt.Errorf("decode configuration snapshot: %w", err)
	}
	return s, nil
}

// CreateExecutionRequest carries the data needed to open a new execution row.
type CreateExecutionRequest struct {
	Label           string
	ConfigurationID *int64
	Snapshot        ConfigurationSettings
}

// Validate validates the CreateExecutionRequest fields.
func (r *CreateExecutionRequest) Validate() error {
	if strings.TrimSpace(r.Label) == "" {
		return errors.New("execution label is required")
	}
	if len(r.Snapshot.Credentials) > 0 {
		return errors.New("configuration snapshot must not carry credentials")
	}
	return nil
}

// ExecutionCounters carries the per-run image counters updated on completion.
type ExecutionCounters struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// ExecutionStats summarises ledger contents per status.
type ExecutionStats struct {
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Stopped   int `json:"stopped"`
}

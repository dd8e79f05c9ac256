package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QCStatus represents the quality-review lifecycle stage of a generated image.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type QCStatus string

const (
	// QCStatusPending indicates the image awaits quality review.
	QCStatusPending QCStatus = "pending"
	// QCStatusApproved indicates the image passed review; finalImagePath is
	// set exactly when this state is reached.
	QCStatusApproved QCStatus = "approved"
	// QCStatusQCFailed indicates the image failed automated quality checks.
	QCStatusQCFailed QCStatus = "qc_failed"
	// QCStatusRetryPending indicates the image is queued for retry.
	QCStatusRetryPending QCStatus = "retry_pending"
	// QCStatusProcessing indicates a retry is currently being processed.
	QCStatusProcessing QCStatus = "processing"
	// QCStatusRetryFailed indicates the retry attempt failed.
	QCStatusRetryFailed QCStatus = "retry_failed"
)

// Valid returns true if the QCStatus is a known state.
func (s QCStatus) Valid() bool {
	switch s {
	case QCStatusPending, QCStatusApproved, QCStatusQCFailed,
		QCStatusRetryPending, QCStatusProcessing, QCStatusRetryFailed:
		return true
	default:
		return false
	}
}

// Retryable returns true for states a retry request may be issued from.
func (s QCStatus) Retryable() bool {
	return s == QCStatusQCFailed || s == QCStatusRetryFailed || s == QCStatusPending
}

// UnmarshalText implements encoding.TextUnmarshaler for QCStatus.
func (s *QCStatus) UnmarshalText(text []byte) error {
	v := QCStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid QCStatus: %q", v)
	}
	*s = v
	return nil
}

// GeneratedImage is one output unit of an execution. ExecutionID is immutable:
// an image is never reattached to a different execution, which keeps runs
// isolated from each other.
type GeneratedImage struct {
	ID          string   `json:"id"                     db:"id"`
	ExecutionID string   `json:"execution_id"           db:"execution_id"`
	Prompt      string   `json:"prompt,omitempty"       db:"prompt"`
	Seed        *int64   `json:"seed,omitempty"         db:"seed"`
	QCStatus    QCStatus `json:"qc_status"              db:"qc_status"`
	TempPath    *string  `json:"temp_path,omitempty"    db:"temp_path"`
	FinalPath   *string  `json:"final_path,omitempty"   db:"final_path"`
	// Metadata holds optional title/description/tags emitted by the
	// metadata-generation feature.
	Metadata json.RawMessage `json:"metadata,omitempty" db:"metadata_json"`
	// ProcessingSettings records the normalized settings actually applied,
	// never a raw client payload.
	ProcessingSettings json.RawMessage `json:"processing_settings,omitempty" db:"processing_settings_json"`
	CreatedAt          time.Time       `json:"created_at"                    db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"                    db:"updated_at"`
}

// CreateImageRequest records a downstream processing result in the ledger.
type CreateImageRequest struct {
	ExecutionID        string
	Prompt             string
	Seed               *int64
	QCStatus           QCStatus
	TempPath           *string
	Metadata           json.RawMessage
	ProcessingSettings json.RawMessage
}

// Validate validates the CreateImageRequest fields.
func (r *CreateImageRequest) Validate() error {
	if strings.TrimSpace(r.ExecutionID) == "" {
		return fmt.Errorf("execution id is required")
	}
	if r.QCStatus != "" && !r.QCStatus.Valid() {
		return fmt.Errorf("invalid qc status: %q", r.QCStatus)
	}
	return nil
}

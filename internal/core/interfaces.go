package core

import (
	"context"
	"encoding/json"

	"github.com/pixeldeck/pixeldeck/internal/data"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// ConfigurationRepository defines the interface for saved configuration data operations.
type ConfigurationRepository interface {
	Create(ctx context.Context, req *model.CreateConfigurationRequest) (*model.Configuration, error)
	GetByID(ctx context.Context, id int64) (*model.Configuration, error)
	GetByName(ctx context.Context, name string) (*model.Configuration, error)
	List(ctx context.Context) ([]*model.Configuration, error)
	Update(ctx context.Context, id int64, settings model.ConfigurationSettings) (*model.Configuration, error)
	Delete(ctx context.Context, id int64) error
}

// ExecutionRepository defines the interface for execution ledger operations.
type ExecutionRepository interface {
	// Create opens a running execution. Returns data.ErrExecutionRunning when
	// another execution already holds the running slot.
	Create(ctx context.Context, req *model.CreateExecutionRequest) (*model.Execution, error)
	GetByID(ctx context.Context, id string) (*model.Execution, error)
	GetByIDs(ctx context.Context, ids []string) ([]*model.Execution, error)
	// GetRunning returns nil, nil when no execution is running.
	GetRunning(ctx context.Context) (*model.Execution, error)
	List(ctx context.Context, limit, offset int) ([]*model.Execution, error)
	Finish(ctx context.Context, id string, params data.FinishParams) error
	UpdateCounters(ctx context.Context, id string, c model.ExecutionCounters) error
	Rename(ctx context.Context, id, label string) error
	Delete(ctx context.Context, id string) error
	// FailOrphanedRunning moves executions stranded in running by an unclean
	// shutdown to failed. Returns the number of rows repaired.
	FailOrphanedRunning(ctx context.Context, reason string) (int64, error)
	Stats(ctx context.Context) (*model.ExecutionStats, error)
}

// ImageRepository defines the interface for generated-image ledger operations.
type ImageRepository interface {
	Create(ctx context.Context, req *model.CreateImageRequest) (*model.GeneratedImage, error)
	GetByID(ctx context.Context, id string) (*model.GeneratedImage, error)
	GetByIDs(ctx context.Context, ids []string) ([]*model.GeneratedImage, error)
	ListByExecution(ctx context.Context, executionID string) ([]*model.GeneratedImage, error)
	ListByStatus(ctx context.Context, status model.QCStatus) ([]*model.GeneratedImage, error)
	MarkQueuedForRetry(ctx context.Context, ids []string) error
	// StartProcessing transitions retry_pending to processing, failing when
	// the image is in any other state.
	StartProcessing(ctx context.Context, id string) error
	FinishRetry(ctx context.Context, id string, success bool, finalPath *string, appliedSettings json.RawMessage) error
	Approve(ctx context.Context, id string, finalPath *string) error
	MarkQCFailed(ctx context.Context, id string) error
	// ResetStuckProcessing repairs images stranded in processing by an
	// unclean shutdown, moving them to retry_failed.
	ResetStuckProcessing(ctx context.Context) (int64, error)
	CountByExecution(ctx context.Context, executionID string) (*model.ExecutionCounters, error)
}

// CredentialRepository defines the interface for the persisted credential tier.
type CredentialRepository interface {
	Get(ctx context.Context, service string) (string, error)
	Set(ctx context.Context, service, value string) error
	Delete(ctx context.Context, service string) error
	ListServices(ctx context.Context) ([]string, error)
}

// ProcessorRunOptions carries a resolved run to the processor. Settings
// include live credentials; they exist only for the duration of the call.
type ProcessorRunOptions struct {
	ExecutionID string
	Settings    model.ConfigurationSettings
}

// ProcessorResult is the processor's report for one generated image.
type ProcessorResult struct {
	Prompt             string
	Seed               *int64
	TempPath           *string
	Metadata           json.RawMessage
	ProcessingSettings json.RawMessage
	QCStatus           model.QCStatus
	Err                error
}

// ProcessHandle is returned once the downstream engine has accepted a run.
// Results stream until the channel is closed; the closer is the processor.
type ProcessHandle struct {
	JobID   string
	Results <-chan ProcessorResult
}

// RetryRunOptions carries a single retry unit to the processor. Secret is the
// live provider credential; like run settings, it exists only for the
// duration of the call and is never persisted.
type RetryRunOptions struct {
	Image    *model.GeneratedImage
	Settings json.RawMessage
	Provider string
	Secret   string
}

// RetryResult is the processor's report for one retried image.
type RetryResult struct {
	Success         bool
	FinalPath       *string
	AppliedSettings json.RawMessage
	Err             error
}

// Processor is the downstream engine that turns prompts into images and
// re-processes failed ones. Implementations must honor context cancellation;
// stopping a job works by cancelling the run context, never by killing the
// external engine.
type Processor interface {
	// Process returns an error only when downstream initialization fails;
	// per-image failures are reported on the result stream instead.
	Process(ctx context.Context, opts ProcessorRunOptions) (*ProcessHandle, error)
	Retry(ctx context.Context, opts RetryRunOptions) (*RetryResult, error)
}

// CredentialResolver resolves a credential for a service across tiers
// (environment first, then the persisted store).
type CredentialResolver interface {
	Resolve(ctx context.Context, service string) (string, error)
}

// Drainable is a work queue that can drop its pending items. Returns the
// number of items dropped.
type Drainable interface {
	Drain(ctx context.Context) int
}

// EventPublisher broadcasts lifecycle events for observers. Implementations
// must be safe to call with a nil receiver semantics in mind: publishing is
// best-effort and never fails a job.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// Event is a lifecycle notification emitted by the engine.
type Event struct {
	Type        string          `json:"type"`
	ExecutionID string          `json:"execution_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Lifecycle event types published by the engine.
const (
	EventJobStarted    = "job.started"
	EventJobCompleted  = "job.completed"
	EventJobFailed     = "job.failed"
	EventJobStopped    = "job.stopped"
	EventRetryQueued   = "retry.queued"
	EventRetryFinished = "retry.finished"
	EventRerunQueued   = "rerun.queued"
	EventImageRecorded = "image.recorded"
	EventReconciled    = "engine.reconciled"
)

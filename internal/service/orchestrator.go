package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixeldeck/pixeldeck/internal/core"
	"github.com/pixeldeck/pixeldeck/internal/data"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
	"github.com/pixeldeck/pixeldeck/internal/observability/metrics"
	"github.com/pixeldeck/pixeldeck/internal/observability/statsd"
)

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Executions     core.ExecutionRepository     // Required: execution ledger
	Images         core.ImageRepository         // Required: image ledger
	Configurations core.ConfigurationRepository // Required: saved configurations
	Processor      core.Processor               // Required: downstream engine
	Credentials    core.CredentialResolver      // Required: credential tiers
	Translator     *ErrorTranslator             // Optional: defaults to a fresh translator
	Publisher      core.EventPublisher          // Optional: lifecycle event fan-out
	Metrics        statsd.Sink                  // Optional: metric emission
	Logger         *slog.Logger                 // Optional: structured logger
	TimeProvider   data.TimeProvider            // Optional: defaults to real time
}

// Orchestrator owns the single-job guard and the execution state machine.
//
// At most one execution runs at a time. The guard is enforced twice: an
// in-process mutex serialises starts within this instance, and the ledger's
// partial unique index on status=running rejects a second running row even
// across processes. Every public method returns a structured result instead
// of an error; raw failures never cross the orchestration boundary.
type Orchestrator struct {
	executions     core.ExecutionRepository
	images         core.ImageRepository
	configurations core.ConfigurationRepository
	processor      core.Processor
	credentials    core.CredentialResolver
	translator     *ErrorTranslator
	publisher      core.EventPublisher
	metrics        statsd.Sink
	logger         *slog.Logger
	timeProvider   data.TimeProvider

	mu sync.Mutex
	// active is the running job; starting reserves the slot while a start
	// sequence is still validating and talking to the provider. Either one
	// being set means the guard is held.
	active     *activeRun
	starting   bool
	onTerminal func(executionID string, status model.ExecutionStatus)
	queues     []core.Drainable
}

type activeRun struct {
	jobID         string
	executionID   string
	startedAt     time.Time
	cancel        context.CancelFunc
	done          chan struct{}
	stopRequested bool
}

// NewOrchestrator constructs a new Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Executions == nil {
		return nil, errors.New("ExecutionRepository is required")
	}
	if opts.Images == nil {
		return nil, errors.New("ImageRepository is required")
	}
	if opts.Configurations == nil {
		return nil, errors.New("ConfigurationRepository is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("Processor is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("CredentialResolver is required")
	}

	translator := opts.Translator
	if translator == nil {
		translator = NewErrorTranslator(ErrorTranslatorOptions{Logger: opts.Logger})
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "orchestrator")
	}

	return &Orchestrator{
		executions:     opts.Executions,
		images:         opts.Images,
		configurations: opts.Configurations,
		processor:      opts.Processor,
		credentials:    opts.Credentials,
		translator:     translator,
		publisher:      opts.Publisher,
		metrics:        opts.Metrics,
		logger:         logger,
		timeProvider:   tp,
	}, nil
}

// SetOnTerminal registers the hook invoked after a run's terminal status is
// persisted. The rerun queue uses this to advance; the hook always runs after
// the ledger write, never before.
func (o *Orchestrator) SetOnTerminal(fn func(executionID string, status model.ExecutionStatus)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onTerminal = fn
}

// AttachQueues registers queues drained by ForceStopAll.
func (o *Orchestrator) AttachQueues(queues ...core.Drainable) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queues = append(o.queues, queues...)
}

// StartJobRequest carries the inputs for StartJob.
type StartJobRequest struct {
	// Label is optional; when empty a job_<timestamp> fallback is generated
	// and doubles as the configuration name.
	Label           string
	ConfigurationID *int64
	Settings        model.ConfigurationSettings
}

// StartJob starts the primary job. The single-job guard is checked before any
// validation, credential lookup, or ledger write, so a competing start is
// always answered with the already-running rejection no matter how broken its
// own configuration is. A rejected start leaves zero rows behind.
func (o *Orchestrator) StartJob(ctx context.Context, req StartJobRequest) *model.StartJobResult {
	o.mu.Lock()
	if o.active != nil || o.starting {
		o.mu.Unlock()
		return &model.StartJobResult{
			Success: false,
			Error:   "a job is already running",
			Code:    model.CodeJobAlreadyRunning,
		}
	}
	o.starting = true
	o.mu.Unlock()

	res := o.launch(ctx, req)

	o.mu.Lock()
	o.starting = false
	o.mu.Unlock()
	return res
}

// launch runs the start sequence. The caller holds the start reservation, so
// no lock is taken across validation, credential resolution, or the provider
// round trip; StopJob, Running, and a competing StartJob all stay responsive
// while the provider is slow.
func (o *Orchestrator) launch(ctx context.Context, req StartJobRequest) *model.StartJobResult {
	if err := req.Settings.Validate(); err != nil {
		return &model.StartJobResult{
			Success: false,
			Error:   err.Error(),
			Code:    model.CodeJobConfigurationError,
		}
	}

	resolved, err := o.resolveCredentials(ctx, req.Settings)
	if err != nil {
		return &model.StartJobResult{
			Success: false,
			Error:   fmt.Sprintf("missing credentials for provider %q", req.Settings.Provider),
			Code:    model.CodeJobConfigurationError,
		}
	}

	label := req.Label
	if label == "" {
		label = model.FallbackLabel(o.timeProvider.Now())
	}

	configurationID, err := o.ensureConfiguration(ctx, req.ConfigurationID, label, req.Settings)
	if err != nil {
		translated := o.translator.Translate(ctx, "", err, model.CodeJobConfigurationError)
		return &model.StartJobResult{Success: false, Error: translated.Message, Code: translated.Code}
	}

	execution, err := o.executions.Create(ctx, &model.CreateExecutionRequest{
		Label:           label,
		ConfigurationID: configurationID,
		Snapshot:        req.Settings.StripCredentials(),
	})
	if err != nil {
		if errors.Is(err, data.ErrExecutionRunning) {
			return &model.StartJobResult{
				Success: false,
				Error:   "a job is already running",
				Code:    model.CodeJobAlreadyRunning,
			}
		}
		translated := o.translator.Translate(ctx, "", err, model.CodeJobStartError)
		return &model.StartJobResult{Success: false, Error: translated.Message, Code: translated.Code}
	}

	jobID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	handle, err := o.processor.Process(runCtx, core.ProcessorRunOptions{
		ExecutionID: execution.ID,
		Settings:    resolved,
	})
	if err != nil {
		cancel()
		translated := o.translator.Translate(ctx, jobID, err, model.CodeJobStartError)
		o.failExecution(ctx, execution.ID, translated.Message)
		return &model.StartJobResult{Success: false, Error: translated.Message, Code: translated.Code}
	}

	run := &activeRun{
		jobID:       jobID,
		executionID: execution.ID,
		startedAt:   o.timeProvider.Now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	o.mu.Lock()
	o.active = run
	o.mu.Unlock()

	go o.consume(runCtx, run, handle)

	if o.logger != nil {
		o.logger.InfoContext(ctx, "job started",
			"job_id", jobID, "execution_id", execution.ID, "label", label)
	}
	o.publish(ctx, core.EventJobStarted, execution.ID, map[string]string{"label": label})
	metrics.EmitExecutionLifecycle(o.metrics, metrics.ExecutionMetric{
		Transition: "start",
		Result:     metrics.ResultSuccess,
	})

	return &model.StartJobResult{Success: true, JobID: jobID, ExecutionID: execution.ID}
}

// StopJob requests graceful cancellation of the active job. Idempotent when
// nothing is running.
func (o *Orchestrator) StopJob(ctx context.Context) *model.StopResult {
	o.mu.Lock()
	run := o.active
	if run != nil {
		run.stopRequested = true
	}
	o.mu.Unlock()

	if run == nil {
		return &model.StopResult{Success: true}
	}

	run.cancel()
	if o.logger != nil {
		o.logger.InfoContext(ctx, "stop requested", "execution_id", run.executionID)
	}
	return &model.StopResult{Success: true}
}

// ForceStopAll cancels the active job and drains the retry and rerun queues.
func (o *Orchestrator) ForceStopAll(ctx context.Context) *model.StopResult {
	o.mu.Lock()
	queues := make([]core.Drainable, len(o.queues))
	copy(queues, o.queues)
	o.mu.Unlock()

	dropped := 0
	for _, q := range queues {
		dropped += q.Drain(ctx)
	}
	if dropped > 0 && o.logger != nil {
		o.logger.InfoContext(ctx, "queues drained", "dropped", dropped)
	}

	return o.StopJob(ctx)
}

// Running returns the active execution id and job id, or empty strings when idle.
func (o *Orchestrator) Running() (executionID, jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return "", ""
	}
	return o.active.executionID, o.active.jobID
}

// Reconcile repairs ledger rows left inconsistent by an unclean shutdown.
// Runs once at process start, before any new job may start: running
// executions become failed with their counters untouched, and images stranded
// in processing become retry_failed so they surface as retryable failures.
func (o *Orchestrator) Reconcile(ctx context.Context) (*model.ReconcileResult, error) {
	reconciled, err := o.executions.FailOrphanedRunning(ctx,
		"process terminated before the job finished")
	if err != nil {
		return nil, fmt.Errorf("reconcile orphaned executions: %w", err)
	}

	resetImages, err := o.images.ResetStuckProcessing(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset stuck processing images: %w", err)
	}

	if reconciled > 0 || resetImages > 0 {
		o.publish(ctx, core.EventReconciled, "", map[string]int64{
			"executions": reconciled,
			"images":     resetImages,
		})
	}
	metrics.EmitReconciliation(o.metrics, reconciled, resetImages)

	return &model.ReconcileResult{
		ReconciledCount: int(reconciled),
		ResetImages:     int(resetImages),
	}, nil
}

// Wait blocks until the active run finishes. Used by tests and shutdown.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	run := o.active
	o.mu.Unlock()
	if run != nil {
		<-run.done
	}
}

// consume drains the processor's result stream, records each image in the
// ledger, and persists the terminal status once the stream closes.
func (o *Orchestrator) consume(ctx context.Context, run *activeRun, handle *core.ProcessHandle) {
	defer close(run.done)

	for res := range handle.Results {
		o.recordResult(ctx, run.executionID, res)
	}

	status := model.ExecutionStatusCompleted
	o.mu.Lock()
	if run.stopRequested {
		status = model.ExecutionStatusStopped
	}
	o.mu.Unlock()
	if status == model.ExecutionStatusCompleted && ctx.Err() != nil {
		status = model.ExecutionStatusStopped
	}

	counters, err := o.images.CountByExecution(ctx, run.executionID)
	if err != nil {
		if o.logger != nil {
			o.logger.ErrorContext(ctx, "count images at completion",
				"execution_id", run.executionID, "err", err)
		}
		counters = nil
	}

	finishCtx := context.WithoutCancel(ctx)
	if err := o.executions.Finish(finishCtx, run.executionID, data.FinishParams{
		Status:   status,
		Counters: counters,
	}); err != nil && o.logger != nil {
		o.logger.ErrorContext(finishCtx, "persist terminal status",
			"execution_id", run.executionID, "status", status, "err", err)
	}

	eventType := core.EventJobCompleted
	result := metrics.ResultSuccess
	if status == model.ExecutionStatusStopped {
		eventType = core.EventJobStopped
		result = metrics.ResultStopped
	}
	o.publish(finishCtx, eventType, run.executionID, counters)
	metrics.EmitExecutionLifecycle(o.metrics, metrics.ExecutionMetric{
		Transition: "finish",
		Result:     result,
		Duration:   o.timeProvider.Now().Sub(run.startedAt),
		Images:     countersTotal(counters),
	})

	o.finishActive(run, status)
}

func (o *Orchestrator) recordResult(ctx context.Context, executionID string, res core.ProcessorResult) {
	status := res.QCStatus
	if status == "" {
		status = model.QCStatusPending
	}
	if res.Err != nil {
		status = model.QCStatusQCFailed
	}

	img, err := o.images.Create(ctx, &model.CreateImageRequest{
		ExecutionID:        executionID,
		Prompt:             res.Prompt,
		Seed:               res.Seed,
		QCStatus:           status,
		TempPath:           res.TempPath,
		Metadata:           res.Metadata,
		ProcessingSettings: res.ProcessingSettings,
	})
	if err != nil {
		if o.logger != nil {
			o.logger.ErrorContext(ctx, "record image",
				"execution_id", executionID, "err", err)
		}
		return
	}
	o.publish(ctx, core.EventImageRecorded, executionID, map[string]string{
		"image_id": img.ID, "qc_status": string(img.QCStatus),
	})
}

// finishActive releases the guard and invokes the terminal hook. The hook runs
// after the terminal status has been persisted, which is what lets the rerun
// queue safely start the next job.
func (o *Orchestrator) finishActive(run *activeRun, status model.ExecutionStatus) {
	o.mu.Lock()
	if o.active == run {
		o.active = nil
	}
	hook := o.onTerminal
	o.mu.Unlock()

	if hook != nil {
		hook(run.executionID, status)
	}
}

// failExecution marks an execution failed after a downstream start failure.
func (o *Orchestrator) failExecution(ctx context.Context, executionID, message string) {
	if err := o.executions.Finish(ctx, executionID, data.FinishParams{
		Status:       model.ExecutionStatusFailed,
		ErrorMessage: &message,
	}); err != nil && o.logger != nil {
		o.logger.ErrorContext(ctx, "mark execution failed",
			"execution_id", executionID, "err", err)
	}
	o.publish(ctx, core.EventJobFailed, executionID, map[string]string{"error": message})
	metrics.EmitExecutionLifecycle(o.metrics, metrics.ExecutionMetric{
		Transition: "start",
		Result:     metrics.ResultError,
	})
}

// resolveCredentials fills in the provider credential when the caller did not
// supply one. The resolved secret lives only in the returned copy; snapshots
// are stripped before persistence.
func (o *Orchestrator) resolveCredentials(ctx context.Context, settings model.ConfigurationSettings) (model.ConfigurationSettings, error) {
	if _, ok := settings.Credentials[settings.Provider]; ok {
		return settings, nil
	}

	secret, err := o.credentials.Resolve(ctx, settings.Provider)
	if err != nil {
		return settings, err
	}

	creds := make(map[string]string, len(settings.Credentials)+1)
	for k, v := range settings.Credentials {
		creds[k] = v
	}
	creds[settings.Provider] = secret
	settings.Credentials = creds
	return settings, nil
}

// ensureConfiguration persists an unnamed configuration under the resolved
// label so the configuration name and execution label never diverge. An
// existing name is reused rather than treated as a failure.
func (o *Orchestrator) ensureConfiguration(ctx context.Context, id *int64, label string, settings model.ConfigurationSettings) (*int64, error) {
	if id != nil {
		return id, nil
	}

	cfg, err := o.configurations.Create(ctx, &model.CreateConfigurationRequest{
		Name:     label,
		Settings: settings,
	})
	if errors.Is(err, data.ErrConfigurationNameExists) {
		cfg, err = o.configurations.GetByName(ctx, label)
	}
	if err != nil {
		return nil, fmt.Errorf("persist configuration %q: %w", label, err)
	}
	return &cfg.ID, nil
}

func (o *Orchestrator) publish(ctx context.Context, eventType, executionID string, payload any) {
	if o.publisher == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	o.publisher.Publish(ctx, core.Event{
		Type:        eventType,
		ExecutionID: executionID,
		Payload:     raw,
	})
}

func countersTotal(c *model.ExecutionCounters) int {
	if c == nil {
		return 0
	}
	return c.Total
}

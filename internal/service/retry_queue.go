package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/pixeldeck/pixeldeck/internal/core"
	"github.com/pixeldeck/pixeldeck/internal/data"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
	"github.com/pixeldeck/pixeldeck/internal/domain/settings"
	"github.com/pixeldeck/pixeldeck/internal/observability/metrics"
	"github.com/pixeldeck/pixeldeck/internal/observability/statsd"
)

// RetryQueueOptions groups dependencies for RetryQueue.
type RetryQueueOptions struct {
	Images       core.ImageRepository     // Required: image ledger
	Executions   core.ExecutionRepository // Required: execution ledger, snapshot lookups
	Processor    core.Processor           // Required: downstream engine
	Credentials  core.CredentialResolver  // Required: credential tiers
	Publisher    core.EventPublisher      // Optional: lifecycle event fan-out
	Metrics      statsd.Sink              // Optional: metric emission
	Logger       *slog.Logger             // Optional: structured logger
	TimeProvider data.TimeProvider        // Optional: defaults to real time
}

// RetryQueue accepts ad-hoc retry requests for failed images and drives them
// through downstream processing one item at a time.
//
// Items are held in process memory only; the durable record is the image
// ledger's qc_status column, which is flipped to retry_pending the moment a
// request is accepted. A crash loses queued-but-not-started items, and the
// stranded retry_pending rows surface on the next request or listing.
type RetryQueue struct {
	images       core.ImageRepository
	executions   core.ExecutionRepository
	processor    core.Processor
	credentials  core.CredentialResolver
	publisher    core.EventPublisher
	metrics      statsd.Sink
	logger       *slog.Logger
	timeProvider data.TimeProvider

	mu      sync.Mutex
	pending []*retryItem
	wake    chan struct{}
	running bool
}

type retryItem struct {
	id          string
	imageIDs    []string
	executionID string
	// settings are the normalized settings applied to every image in the
	// item. For original-settings requests they come from the execution's
	// frozen configuration snapshot, never from the image row.
	settings        json.RawMessage
	includeMetadata bool

	// creds caches execution id -> provider credential lookups for the
	// lifetime of one item.
	creds map[string]providerCredential
}

type providerCredential struct {
	provider string
	secret   string
}

// NewRetryQueue constructs a new RetryQueue.
func NewRetryQueue(opts RetryQueueOptions) (*RetryQueue, error) {
	if opts.Images == nil {
		return nil, errors.New("ImageRepository is required")
	}
	if opts.Executions == nil {
		return nil, errors.New("ExecutionRepository is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("Processor is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("CredentialResolver is required")
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "retry_queue")
	}

	return &RetryQueue{
		images:       opts.Images,
		executions:   opts.Executions,
		processor:    opts.Processor,
		credentials:  opts.Credentials,
		publisher:    opts.Publisher,
		metrics:      opts.Metrics,
		logger:       logger,
		timeProvider: tp,
		wake:         make(chan struct{}, 1),
	}, nil
}

// Start launches the sequential worker. Returns once the worker is running;
// the worker exits when ctx is cancelled.
func (q *RetryQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.loop(ctx)
}

// RetryBatch validates and queues a retry request. Success means queued, not
// completed: per-image outcomes land asynchronously in the image ledger.
// Validation is fail-fast; no image is touched until every check passes.
func (q *RetryQueue) RetryBatch(ctx context.Context, req *model.RetryBatchRequest) *model.RetryBatchResult {
	if req == nil || len(req.ImageIDs) == 0 {
		return &model.RetryBatchResult{Success: false, Error: "No images selected for retry"}
	}

	resolved, err := q.images.GetByIDs(ctx, req.ImageIDs)
	if err != nil {
		return &model.RetryBatchResult{Success: false, Error: "failed to load images for retry"}
	}
	if dropped := len(req.ImageIDs) - len(resolved); dropped > 0 && q.logger != nil {
		q.logger.WarnContext(ctx, "dropping unknown image ids from retry request",
			"requested", len(req.ImageIDs), "resolved", len(resolved))
	}
	// Images in a terminal or in-flight state are dropped: retrying an
	// approved image would destroy its final state, and a processing one is
	// already owned by another retry.
	retryable := resolved[:0]
	for _, img := range resolved {
		if img.QCStatus.Retryable() {
			retryable = append(retryable, img)
		}
	}
	if skipped := len(resolved) - len(retryable); skipped > 0 && q.logger != nil {
		q.logger.WarnContext(ctx, "dropping non-retryable images from retry request",
			"resolved", len(resolved), "retryable", len(retryable))
	}
	resolved = retryable
	if len(resolved) == 0 {
		return &model.RetryBatchResult{Success: false, Error: "No valid images found for retry"}
	}

	executionID := ""
	if req.UseOriginalSettings {
		executionID = resolved[0].ExecutionID
		for _, img := range resolved[1:] {
			if img.ExecutionID != executionID {
				return &model.RetryBatchResult{
					Success: false,
					Error:   "Cannot use original settings: images belong to different jobs",
				}
			}
		}
	}

	overrides := q.normalizeOverrides(req)
	if req.UseOriginalSettings {
		original, oerr := q.originalSettings(ctx, executionID)
		if oerr != nil {
			if q.logger != nil {
				q.logger.WarnContext(ctx, "original settings unavailable",
					"execution_id", executionID, "err", oerr)
			}
			return &model.RetryBatchResult{
				Success: false,
				Error:   "Cannot use original settings: job snapshot unavailable",
			}
		}
		overrides = original
	}

	ids := make([]string, len(resolved))
	for i, img := range resolved {
		ids[i] = img.ID
	}

	if err := q.images.MarkQueuedForRetry(ctx, ids); err != nil {
		return &model.RetryBatchResult{Success: false, Error: "failed to queue images for retry"}
	}

	item := &retryItem{
		id:              uuid.NewString(),
		imageIDs:        ids,
		executionID:     executionID,
		settings:        overrides,
		includeMetadata: req.IncludeMetadata,
	}

	status := "queued"
	if !q.enqueue(item) {
		// Worker not running: synthesize a local-only receipt so the caller
		// still gets a consistent answer. The images stay retry_pending.
		item.id = "retry_" + item.id
		status = "pending"
		if q.logger != nil {
			q.logger.WarnContext(ctx, "retry worker unavailable, synthesizing local receipt",
				"item_id", item.id)
		}
	}

	receipt := model.QueuedRetryJob{
		ID:          item.id,
		ImageIDs:    ids,
		ExecutionID: executionID,
		Status:      status,
		Settings:    overrides,
	}
	q.publishEvent(ctx, core.EventRetryQueued, executionID, receipt)

	return &model.RetryBatchResult{
		Success:    true,
		QueuedJobs: 1,
		Message:    fmt.Sprintf("Queued %d image(s) for retry", len(ids)),
		BatchJob:   []model.QueuedRetryJob{receipt},
	}
}

// Drain drops all pending items. In-flight work is not interrupted; its
// images finish their transitions normally.
func (q *RetryQueue) Drain(_ context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	return n
}

// Len returns the number of pending items.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *RetryQueue) enqueue(item *retryItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return false
	}
	q.pending = append(q.pending, item)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *RetryQueue) pop() *retryItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	return item
}

// loop processes items strictly sequentially; there is never more than one
// item in flight.
func (q *RetryQueue) loop(ctx context.Context) {
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	for {
		item := q.pop()
		if item == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		q.processItem(ctx, item)
	}
}

// processItem drives one item's images through retry_pending -> processing ->
// (approved | retry_failed). Progress is published once per item, not per
// image, to bound event volume.
func (q *RetryQueue) processItem(ctx context.Context, item *retryItem) {
	started := q.timeProvider.Now()
	succeeded, failed := 0, 0
	touched := map[string]struct{}{}

	for _, id := range item.imageIDs {
		if ctx.Err() != nil {
			return
		}

		if err := q.images.StartProcessing(ctx, id); err != nil {
			// The image left retry_pending since queuing (manual approval,
			// deletion, a competing retry). Skip it rather than failing it.
			if q.logger != nil {
				q.logger.WarnContext(ctx, "skipping retry image", "image_id", id, "err", err)
			}
			continue
		}

		ok, executionID := q.retryImage(ctx, id, item)
		if executionID != "" {
			touched[executionID] = struct{}{}
		}
		if ok {
			succeeded++
		} else {
			failed++
		}
	}

	for executionID := range touched {
		q.refreshCounters(ctx, executionID)
	}

	result := metrics.ResultSuccess
	if failed > 0 {
		result = metrics.ResultError
	}
	metrics.EmitRetryItem(q.metrics, metrics.RetryMetric{
		Result:   result,
		Images:   succeeded + failed,
		Duration: q.timeProvider.Now().Sub(started),
	})
	q.publishEvent(ctx, core.EventRetryFinished, item.executionID, map[string]any{
		"item_id":   item.id,
		"succeeded": succeeded,
		"failed":    failed,
	})
	if q.logger != nil {
		q.logger.InfoContext(ctx, "retry item processed",
			"item_id", item.id, "succeeded", succeeded, "failed", failed)
	}
}

func (q *RetryQueue) retryImage(ctx context.Context, id string, item *retryItem) (bool, string) {
	img, err := q.images.GetByID(ctx, id)
	if err != nil {
		q.finishRetry(ctx, id, &core.RetryResult{Success: false, Err: err})
		return false, ""
	}

	cred, err := q.credentialFor(ctx, item, img.ExecutionID)
	if err != nil {
		q.finishRetry(ctx, id, &core.RetryResult{Success: false, Err: err})
		return false, img.ExecutionID
	}

	res, err := q.processor.Retry(ctx, core.RetryRunOptions{
		Image:    img,
		Settings: item.settings,
		Provider: cred.provider,
		Secret:   cred.secret,
	})
	if err != nil {
		res = &core.RetryResult{Success: false, Err: err}
	}

	q.finishRetry(ctx, id, res)
	return res.Success, img.ExecutionID
}

// credentialFor resolves the provider credential for an image's execution,
// caching per item. The provider comes from the execution's frozen snapshot;
// the secret comes from the live credential tiers, since snapshots are
// persisted credential-free.
func (q *RetryQueue) credentialFor(ctx context.Context, item *retryItem, executionID string) (providerCredential, error) {
	if cred, ok := item.creds[executionID]; ok {
		return cred, nil
	}

	exec, err := q.executions.GetByID(ctx, executionID)
	if err != nil {
		return providerCredential{}, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	snap, err := exec.Snapshot()
	if err != nil {
		return providerCredential{}, err
	}
	secret, err := q.credentials.Resolve(ctx, snap.Provider)
	if err != nil {
		return providerCredential{}, fmt.Errorf("resolve credential for provider %q: %w", snap.Provider, err)
	}

	cred := providerCredential{provider: snap.Provider, secret: secret}
	if item.creds == nil {
		item.creds = make(map[string]providerCredential, 1)
	}
	item.creds[executionID] = cred
	return cred, nil
}

// originalSettings resolves the processing settings frozen in an execution's
// configuration snapshot. The image ledger is deliberately not consulted: a
// later modified-settings retry rewrites the per-image applied settings, and
// those must not bleed into an original-settings request.
func (q *RetryQueue) originalSettings(ctx context.Context, executionID string) (json.RawMessage, error) {
	exec, err := q.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	snap, err := exec.Snapshot()
	if err != nil {
		return nil, err
	}
	return settings.NormalizeJSON(snap.Processing).JSON(), nil
}

// refreshCounters recomputes an execution's image counters after retry
// outcomes changed them.
func (q *RetryQueue) refreshCounters(ctx context.Context, executionID string) {
	counters, err := q.images.CountByExecution(ctx, executionID)
	if err != nil || counters == nil {
		if err != nil && q.logger != nil {
			q.logger.ErrorContext(ctx, "recount images after retry",
				"execution_id", executionID, "err", err)
		}
		return
	}
	if err := q.executions.UpdateCounters(ctx, executionID, *counters); err != nil && q.logger != nil {
		q.logger.ErrorContext(ctx, "update execution counters after retry",
			"execution_id", executionID, "err", err)
	}
}

func (q *RetryQueue) finishRetry(ctx context.Context, id string, res *core.RetryResult) {
	if err := q.images.FinishRetry(ctx, id, res.Success, res.FinalPath, res.AppliedSettings); err != nil {
		if q.logger != nil {
			q.logger.ErrorContext(ctx, "persist retry outcome", "image_id", id, "err", err)
		}
	}
	if res.Err != nil && q.logger != nil {
		q.logger.WarnContext(ctx, "retry failed", "image_id", id, "err", res.Err)
	}
}

// normalizeOverrides runs the client payload through the settings normalizer.
// Downstream code only ever sees the normalized form.
func (q *RetryQueue) normalizeOverrides(req *model.RetryBatchRequest) json.RawMessage {
	if len(req.ModifiedSettings) == 0 && req.FailOptions == nil {
		return nil
	}

	payload := make(map[string]any, len(req.ModifiedSettings)+1)
	for k, v := range req.ModifiedSettings {
		payload[k] = v
	}
	if req.FailOptions != nil && req.FailOptions.RemoveBgFailureMode != "" {
		payload["removeBgFailureMode"] = req.FailOptions.RemoveBgFailureMode
	}

	return settings.Normalize(payload).JSON()
}

func (q *RetryQueue) publishEvent(ctx context.Context, eventType, executionID string, payload any) {
	if q.publisher == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	q.publisher.Publish(ctx, core.Event{Type: eventType, ExecutionID: executionID, Payload: raw})
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pixeldeck/pixeldeck/internal/core"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
)

// RerunQueueOptions groups dependencies for RerunQueue.
type RerunQueueOptions struct {
	Orchestrator *Orchestrator            // Required: starts each rerun
	Executions   core.ExecutionRepository // Required: execution ledger
	Publisher    core.EventPublisher      // Optional: lifecycle event fan-out
	Logger       *slog.Logger             // Optional: structured logger
}

// RerunQueue replays historical jobs sequentially through the orchestrator's
// single-job guard. It is an explicit, injected queue object rather than
// process-global state; the orchestrator's terminal hook advances it, so the
// next rerun never starts before the previous run's terminal status is
// persisted.
type RerunQueue struct {
	orchestrator *Orchestrator
	executions   core.ExecutionRepository
	publisher    core.EventPublisher
	logger       *slog.Logger

	mu      sync.Mutex
	pending []*rerunItem
}

// rerunItem carries one queued replay. Credentials are never frozen into
// items; the orchestrator re-supplies them live at start time.
type rerunItem struct {
	sourceExecutionID string
	configurationID   *int64
	settings          model.ConfigurationSettings
	label             string
}

// NewRerunQueue constructs a new RerunQueue and registers itself as the
// orchestrator's terminal hook.
func NewRerunQueue(opts RerunQueueOptions) (*RerunQueue, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("Orchestrator is required")
	}
	if opts.Executions == nil {
		return nil, errors.New("ExecutionRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "rerun_queue")
	}

	q := &RerunQueue{
		orchestrator: opts.Orchestrator,
		executions:   opts.Executions,
		publisher:    opts.Publisher,
		logger:       logger,
	}
	opts.Orchestrator.SetOnTerminal(q.onJobTerminal)
	opts.Orchestrator.AttachQueues(q)
	return q, nil
}

// BulkRerun queues replays for the given executions. The whole batch is
// rejected when anything is currently running or any id is unknown; partial
// queuing never happens. The first eligible job starts immediately.
func (q *RerunQueue) BulkRerun(ctx context.Context, executionIDs []string) *model.BulkRerunResult {
	if len(executionIDs) == 0 {
		return &model.BulkRerunResult{Success: false, Error: "No executions selected for rerun"}
	}

	if execID, _ := q.orchestrator.Running(); execID != "" {
		return &model.BulkRerunResult{Success: false, Error: "cannot rerun while a job is running"}
	}
	running, err := q.executions.GetRunning(ctx)
	if err != nil {
		return &model.BulkRerunResult{Success: false, Error: "failed to check running state"}
	}
	if running != nil {
		return &model.BulkRerunResult{Success: false, Error: "cannot rerun while a job is running"}
	}

	executions, err := q.executions.GetByIDs(ctx, executionIDs)
	if err != nil {
		return &model.BulkRerunResult{Success: false, Error: "failed to load executions"}
	}
	if len(executions) != len(executionIDs) {
		return &model.BulkRerunResult{Success: false, Error: "one or more executions were not found"}
	}

	// Preserve the caller's order; GetByIDs returns newest-first.
	byID := make(map[string]*model.Execution, len(executions))
	for _, e := range executions {
		byID[e.ID] = e
	}

	items := make([]*rerunItem, 0, len(executionIDs))
	for _, id := range executionIDs {
		exec := byID[id]
		if exec.Status == model.ExecutionStatusRunning {
			return &model.BulkRerunResult{Success: false, Error: "cannot rerun a running execution"}
		}
		snapshot, snapErr := exec.Snapshot()
		if snapErr != nil {
			return &model.BulkRerunResult{
				Success: false,
				Error:   fmt.Sprintf("execution %s has no usable configuration snapshot", exec.ID),
			}
		}
		items = append(items, &rerunItem{
			sourceExecutionID: exec.ID,
			configurationID:   exec.ConfigurationID,
			settings:          snapshot,
			label:             model.RerunLabel(exec.Label),
		})
	}

	q.mu.Lock()
	q.pending = append(q.pending, items...)
	q.mu.Unlock()

	q.publishQueued(ctx, len(items))
	q.ProcessNext(ctx)

	return &model.BulkRerunResult{Success: true, QueuedJobs: len(items)}
}

// ProcessNext pops queued items until one starts or the queue is empty.
// Invoked by the terminal hook of the currently running job; a start failure
// marks that item's ledger row failed (when one was written) and the loop
// continues rather than aborting the remaining queue.
func (q *RerunQueue) ProcessNext(ctx context.Context) {
	for {
		item := q.pop()
		if item == nil {
			return
		}

		result := q.orchestrator.StartJob(ctx, StartJobRequest{
			Label:           item.label,
			ConfigurationID: item.configurationID,
			Settings:        item.settings,
		})
		if result.Success {
			if q.logger != nil {
				q.logger.InfoContext(ctx, "rerun started",
					"source_execution_id", item.sourceExecutionID,
					"execution_id", result.ExecutionID,
					"label", item.label)
			}
			return
		}

		if result.Code == model.CodeJobAlreadyRunning {
			// Lost the race with a manual start; put the item back and let
			// the next terminal hook advance the queue.
			q.pushFront(item)
			return
		}

		if q.logger != nil {
			q.logger.WarnContext(ctx, "rerun start failed, continuing with next item",
				"source_execution_id", item.sourceExecutionID,
				"code", result.Code,
				"error", result.Error)
		}
	}
}

// Drain drops all queued reruns. Returns the number dropped.
func (q *RerunQueue) Drain(_ context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	return n
}

// Len returns the number of queued reruns.
func (q *RerunQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *RerunQueue) pop() *rerunItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	return item
}

func (q *RerunQueue) pushFront(item *rerunItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append([]*rerunItem{item}, q.pending...)
}

func (q *RerunQueue) onJobTerminal(_ string, _ model.ExecutionStatus) {
	q.ProcessNext(context.Background())
}

func (q *RerunQueue) publishQueued(ctx context.Context, count int) {
	if q.publisher == nil {
		return
	}
	payload, err := json.Marshal(map[string]int{"queued": count})
	if err != nil {
		return
	}
	q.publisher.Publish(ctx, core.Event{Type: core.EventRerunQueued, Payload: payload})
}

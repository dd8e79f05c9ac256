package metrics

import (
	"time"

	obserrors "github.com/pixeldeck/pixeldeck/internal/observability/errors"
	"github.com/pixeldeck/pixeldeck/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultStopped = "stopped"
	ResultNoop    = "noop"
)

// ExecutionMetric captures details about an execution lifecycle event for
// metric emission.
type ExecutionMetric struct {
	Transition string
	Result     string
	Duration   time.Duration
	Images     int
	Err        error
}

// EmitExecutionLifecycle emits standardised execution lifecycle metrics.
func EmitExecutionLifecycle(sink statsd.Sink, in ExecutionMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("execution.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("execution.duration", in.Duration, CloneTags(tags))
	}
	if in.Images > 0 {
		sink.Count("execution.images", int64(in.Images), CloneTags(tags))
	}
}

// RetryMetric captures details about one retry-queue item for metric emission.
type RetryMetric struct {
	Result   string
	Images   int
	Duration time.Duration
}

// EmitRetryItem emits metrics for a processed retry-queue item.
func EmitRetryItem(sink statsd.Sink, in RetryMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"result": in.Result}
	sink.Count("retry.item", 1, tags)
	if in.Images > 0 {
		sink.Count("retry.images", int64(in.Images), CloneTags(tags))
	}
	if in.Duration > 0 {
		sink.Timing("retry.duration", in.Duration, CloneTags(tags))
	}
}

// EmitReconciliation emits the startup ledger-repair counters.
func EmitReconciliation(sink statsd.Sink, executions, images int64) {
	if sink == nil {
		return
	}
	sink.Count("reconcile.executions", executions, nil)
	sink.Count("reconcile.images", images, nil)
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

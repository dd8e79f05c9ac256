package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pixeldeck/pixeldeck/internal/core"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
	"github.com/pixeldeck/pixeldeck/internal/mocks"
	"github.com/pixeldeck/pixeldeck/internal/testutil"
)

type retryQueueMocks struct {
	images      *mocks.MockImageRepository
	executions  *mocks.MockExecutionRepository
	processor   *mocks.MockProcessor
	credentials *mocks.MockCredentialResolver
	publisher   *capturingPublisher
}

func newRetryQueue(t *testing.T) (*retryQueueMocks, *RetryQueue) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := &retryQueueMocks{
		images:      mocks.NewMockImageRepository(ctrl),
		executions:  mocks.NewMockExecutionRepository(ctrl),
		processor:   mocks.NewMockProcessor(ctrl),
		credentials: mocks.NewMockCredentialResolver(ctrl),
		publisher:   newCapturingPublisher(),
	}
	q, err := NewRetryQueue(RetryQueueOptions{
		Images:       m.images,
		Executions:   m.executions,
		Processor:    m.processor,
		Credentials:  m.credentials,
		Publisher:    m.publisher,
		TimeProvider: testutil.NewTestTimeProvider(testutil.TestTime()),
	})
	require.NoError(t, err)
	return m, q
}

func retryImage(id, executionID string) *model.GeneratedImage {
	return &model.GeneratedImage{
		ID:          id,
		ExecutionID: executionID,
		Prompt:      "a red bicycle",
		QCStatus:    model.QCStatusQCFailed,
	}
}

func retryExecution(id, processing string) *model.Execution {
	return &model.Execution{
		ID:                    id,
		Status:                model.ExecutionStatusCompleted,
		ConfigurationSnapshot: []byte(`{"provider":"stability","processing":` + processing + `}`),
	}
}

func TestRetryQueue_RetryBatch_EmptySelection(t *testing.T) {
	t.Parallel()
	_, q := newRetryQueue(t)

	res := q.RetryBatch(context.Background(), &model.RetryBatchRequest{})
	assert.False(t, res.Success)
	assert.Equal(t, "No images selected for retry", res.Error)

	res = q.RetryBatch(context.Background(), nil)
	assert.False(t, res.Success)
}

func TestRetryQueue_RetryBatch_AllUnknownIDs(t *testing.T) {
	t.Parallel()
	m, q := newRetryQueue(t)

	m.images.EXPECT().GetByIDs(gomock.Any(), []string{"ghost"}).
		Return(nil, nil)

	res := q.RetryBatch(context.Background(), &model.RetryBatchRequest{ImageIDs: []string{"ghost"}})
	assert.False(t, res.Success)
	assert.Equal(t, "No valid images found for retry", res.Error)
}

func TestRetryQueue_RetryBatch_OriginalSettingsAcrossExecutions(t *testing.T) {
	t.Parallel()
	m, q := newRetryQueue(t)

	m.images.EXPECT().GetByIDs(gomock.Any(), []string{"a", "b"}).
		Return([]*model.GeneratedImage{
			retryImage("a", "exec-1"),
			retryImage("b", "exec-2"),
		}, nil)
	// No MarkQueuedForRetry: validation failures must leave the ledger alone.

	res := q.RetryBatch(context.Background(), &model.RetryBatchRequest{
		ImageIDs:            []string{"a", "b"},
		UseOriginalSettings: true,
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Cannot use original settings: images belong to different jobs", res.Error)
}

func TestRetryQueue_RetryBatch_DropsNonRetryableImages(t *testing.T) {
	t.Parallel()
	m, q := newRetryQueue(t)

	m.images.EXPECT().GetByIDs(gomock.Any(), []string{"keep", "done"}).
		Return([]*model.GeneratedImage{
			retryImage("keep", "exec-1"),
			{ID: "done", ExecutionID: "exec-1", QCStatus: model.QCStatusApproved},
		}, nil)
	m.images.EXPECT().MarkQueuedForRetry(gomock.Any(), []string{"keep"}).Return(nil)

	res := q.RetryBatch(context.Background(), &model.RetryBatchRequest{
		ImageIDs: []string{"keep", "done"},
	})
	require.True(t, res.Success)
	require.Len(t, res.BatchJob, 1)
	assert.Equal(t, []string{"keep"}, res.BatchJob[0].ImageIDs)
}

func TestRetryQueue_RetryBatch_ApprovedImagesAreNeverRequeued(t *testing.T) {
	t.Parallel()
	m, q := newRetryQueue(t)

	m.images.EXPECT().GetByIDs(gomock.Any(), []string{"done"}).
		Return([]*model.GeneratedImage{
			{ID: "done", ExecutionID: "exec-1", QCStatus: model.QCStatusApproved},
		}, nil)
	// No MarkQueuedForRetry: the approved state must survive the request.

	res := q.RetryBatch(context.Background(), &model.RetryBatchRequest{ImageIDs: []string{"done"}})
	assert.False(t, res.Success)
	assert.Equal(t, "No valid images found for retry", res.Error)
}

func TestRetryQueue_RetryBatch_OriginalSettingsWithoutSnapshot(t *testing.T) {
	t.Parallel()
	m, q := newRetryQueue(t)

	m.images.EXPECT().GetByIDs(gomock.Any(), []string{"a"}).
		Return([]*model.GeneratedImage{retryImage("a", "exec-1")}, nil)
	m.executions.EXPECT().GetByID(gomock.Any(), "exec-1").
		Return(&model.Execution{ID: "exec-1", Status: model.ExecutionStatusCompleted}, nil)
	// No MarkQueuedForRetry: validation failures must leave the ledger alone.

	res := q.RetryBatch(context.Background(), &model.RetryBatchRequest{
		ImageIDs:            []string{"a"},
		UseOriginalSettings: true,
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Cannot use original settings: job snapshot unavailable", res.Error)
}

func TestRetryQueue_OriginalSettingsComeFromSnapshot(t *testing.T) {
	t.Parallel()
	m, q := newRetryQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	// A previous modified-settings retry rewrote the applied settings on the
	// image row; the frozen snapshot must still win.
	img := retryImage("a", "exec-1")
	img.ProcessingSettings = json.RawMessage(`{"sharpening":90}`)

	m.images.EXPECT().GetByIDs(gomock.Any(), []string{"a"}).
		Return([]*model.GeneratedImage{img}, nil)
	m.executions.EXPECT().GetByID(gomock.Any(), "exec-1").
		Return(retryExecution("exec-1", `{"sharpening":25}`), nil).Times(2)
	m.images.EXPECT().MarkQueuedForRetry(gomock.Any(), []string{"a"}).Return(nil)
	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").Return("sk-live-secret", nil)

	m.images.EXPECT().StartProcessing(gomock.Any(), "a").Return(nil)
	m.images.EXPECT().GetByID(gomock.Any(), "a").Return(img, nil)
	m.processor.EXPECT().Retry(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, opts core.RetryRunOptions) (*core.RetryResult, error) {
			assert.JSONEq(t, `{"sharpening":25}`, string(opts.Settings))
			assert.Equal(t, "sk-live-secret", opts.Secret)
			return &core.RetryResult{Success: true, AppliedSettings: opts.Settings}, nil
		})
	m.images.EXPECT().
		FinishRetry(gomock.Any(), "a", true, gomock.Nil(), gomock.Any()).
		Return(nil)
	m.images.EXPECT().CountByExecution(gomock.Any(), "exec-1").
		Return(&model.ExecutionCounters{Total: 1, Successful: 1}, nil)
	m.executions.EXPECT().
		UpdateCounters(gomock.Any(), "exec-1", model.ExecutionCounters{Total: 1, Successful: 1}).
		Return(nil)

	res := q.RetryBatch(ctx, &model.RetryBatchRequest{
		ImageIDs:            []string{"a"},
		UseOriginalSettings: true,
	})
	require.True(t, res.Success)
	assert.JSONEq(t, `{"sharpening":25}`, string(res.BatchJob[0].Settings))

	m.publisher.waitFor(t, core.EventRetryFinished)
}

func TestRetryQueue_RetryBatch_WorkerDownSynthesizesReceipt(t *testing.T) {
	t.Parallel()
	m, q := newRetryQueue(t)

	m.images.EXPECT().GetByIDs(gomock.Any(), []string{"a"}).
		Return([]*model.GeneratedImage{retryImage("a", "exec-1")}, nil)
	m.images.EXPECT().MarkQueuedForRetry(gomock.Any(), []string{"a"}).Return(nil)

	res := q.RetryBatch(context.Background(), &model.RetryBatchRequest{ImageIDs: []string{"a"}})
	require.True(t, res.Success)
	assert.Equal(t, 1, res.QueuedJobs)
	require.Len(t, res.BatchJob, 1)
	assert.True(t, strings.HasPrefix(res.BatchJob[0].ID, "retry_"))
	assert.Equal(t, "pending", res.BatchJob[0].Status)
	assert.Equal(t, 0, q.Len(), "items must not accumulate without a worker")
}

func TestRetryQueue_ProcessesItemsSequentially(t *testing.T) {
	t.Parallel()
	m, q := newRetryQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	imgA := retryImage("a", "exec-1")
	imgB := retryImage("b", "exec-1")

	m.images.EXPECT().GetByIDs(gomock.Any(), []string{"a", "b"}).
		Return([]*model.GeneratedImage{imgA, imgB}, nil)
	// Once to resolve the snapshot settings at queue time, once to resolve
	// the provider credential when the item is processed.
	m.executions.EXPECT().GetByID(gomock.Any(), "exec-1").
		Return(retryExecution("exec-1", `{"removeBg":true}`), nil).Times(2)
	m.images.EXPECT().MarkQueuedForRetry(gomock.Any(), []string{"a", "b"}).Return(nil)
	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").Return("sk-live-secret", nil)

	finalPath := "/out/a.png"
	m.images.EXPECT().StartProcessing(gomock.Any(), "a").Return(nil)
	m.images.EXPECT().GetByID(gomock.Any(), "a").Return(imgA, nil)
	m.processor.EXPECT().Retry(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, opts core.RetryRunOptions) (*core.RetryResult, error) {
			assert.Equal(t, "a", opts.Image.ID)
			assert.Equal(t, "stability", opts.Provider)
			assert.Equal(t, "sk-live-secret", opts.Secret)
			return &core.RetryResult{Success: true, FinalPath: &finalPath}, nil
		})
	m.images.EXPECT().FinishRetry(gomock.Any(), "a", true, &finalPath, gomock.Nil()).Return(nil)

	m.images.EXPECT().StartProcessing(gomock.Any(), "b").Return(nil)
	m.images.EXPECT().GetByID(gomock.Any(), "b").Return(imgB, nil)
	m.processor.EXPECT().Retry(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("upscaler crashed"))
	m.images.EXPECT().FinishRetry(gomock.Any(), "b", false, gomock.Nil(), gomock.Nil()).Return(nil)

	m.images.EXPECT().CountByExecution(gomock.Any(), "exec-1").
		Return(&model.ExecutionCounters{Total: 2, Successful: 1, Failed: 1}, nil)
	m.executions.EXPECT().
		UpdateCounters(gomock.Any(), "exec-1", model.ExecutionCounters{Total: 2, Successful: 1, Failed: 1}).
		Return(nil)

	res := q.RetryBatch(ctx, &model.RetryBatchRequest{
		ImageIDs:            []string{"a", "b"},
		UseOriginalSettings: true,
	})
	require.True(t, res.Success)
	assert.Equal(t, "queued", res.BatchJob[0].Status)

	event := m.publisher.waitFor(t, core.EventRetryFinished)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.Contains(t, string(event.Payload), `"succeeded":1`)
	assert.Contains(t, string(event.Payload), `"failed":1`)
}

func TestRetryQueue_SkipsImagesThatLeftRetryPending(t *testing.T) {
	t.Parallel()
	m, q := newRetryQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	m.images.EXPECT().GetByIDs(gomock.Any(), []string{"a"}).
		Return([]*model.GeneratedImage{retryImage("a", "exec-1")}, nil)
	m.images.EXPECT().MarkQueuedForRetry(gomock.Any(), []string{"a"}).Return(nil)

	// Approved manually between queueing and processing; no Retry call follows.
	m.images.EXPECT().StartProcessing(gomock.Any(), "a").
		Return(errors.New("image is not retry_pending"))

	res := q.RetryBatch(ctx, &model.RetryBatchRequest{ImageIDs: []string{"a"}})
	require.True(t, res.Success)

	event := m.publisher.waitFor(t, core.EventRetryFinished)
	assert.Contains(t, string(event.Payload), `"succeeded":0`)
	assert.Contains(t, string(event.Payload), `"failed":0`)
}

func TestRetryQueue_NormalizesOverrideSettings(t *testing.T) {
	t.Parallel()
	m, q := newRetryQueue(t)

	m.images.EXPECT().GetByIDs(gomock.Any(), []string{"a"}).
		Return([]*model.GeneratedImage{retryImage("a", "exec-1")}, nil)
	m.images.EXPECT().MarkQueuedForRetry(gomock.Any(), []string{"a"}).Return(nil)

	res := q.RetryBatch(context.Background(), &model.RetryBatchRequest{
		ImageIDs:         []string{"a"},
		ModifiedSettings: map[string]any{"removeBg": "true", "jpgQuality": "250"},
		FailOptions:      &model.RetryFailOptions{RemoveBgFailureMode: "fail"},
	})
	require.True(t, res.Success)
	require.Len(t, res.BatchJob, 1)
	queued := string(res.BatchJob[0].Settings)
	assert.Contains(t, queued, `"removeBg":true`)
	assert.Contains(t, queued, `"jpgQuality":100`)
	assert.Contains(t, queued, `"removeBgFailureMode":"mark_failed"`)
}

func TestRetryQueue_Drain(t *testing.T) {
	t.Parallel()
	_, q := newRetryQueue(t)

	// Bypass the worker gate to stage pending items directly.
	q.mu.Lock()
	q.pending = []*retryItem{{id: "1"}, {id: "2"}}
	q.mu.Unlock()

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Drain(context.Background()))
	assert.Equal(t, 0, q.Len())
}

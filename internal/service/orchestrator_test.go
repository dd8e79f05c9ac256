package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pixeldeck/pixeldeck/internal/core"
	"github.com/pixeldeck/pixeldeck/internal/data"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
	"github.com/pixeldeck/pixeldeck/internal/mocks"
	"github.com/pixeldeck/pixeldeck/internal/testutil"
)

const (
	testExecutionID     = "11111111-1111-1111-1111-111111111111"
	testConfigurationID = int64(7)
)

// capturingPublisher is a hand-written double that records published events
// and signals each one on a channel for test synchronisation.
type capturingPublisher struct {
	mu     sync.Mutex
	events []core.Event
	ch     chan core.Event
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{ch: make(chan core.Event, 32)}
}

func (p *capturingPublisher) Publish(_ context.Context, e core.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	select {
	case p.ch <- e:
	default:
	}
}

func (p *capturingPublisher) waitFor(t *testing.T, eventType string) core.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-p.ch:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", eventType)
		}
	}
}

func (p *capturingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type orchestratorMocks struct {
	executions     *mocks.MockExecutionRepository
	images         *mocks.MockImageRepository
	configurations *mocks.MockConfigurationRepository
	processor      *mocks.MockProcessor
	credentials    *mocks.MockCredentialResolver
	publisher      *capturingPublisher
	timeProvider   *testutil.TestTimeProvider
}

func newOrchestrator(t *testing.T) (*orchestratorMocks, *Orchestrator) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := &orchestratorMocks{
		executions:     mocks.NewMockExecutionRepository(ctrl),
		images:         mocks.NewMockImageRepository(ctrl),
		configurations: mocks.NewMockConfigurationRepository(ctrl),
		processor:      mocks.NewMockProcessor(ctrl),
		credentials:    mocks.NewMockCredentialResolver(ctrl),
		publisher:      newCapturingPublisher(),
		timeProvider:   testutil.NewTestTimeProvider(testutil.TestTime()),
	}

	orch, err := NewOrchestrator(OrchestratorOptions{
		Executions:     m.executions,
		Images:         m.images,
		Configurations: m.configurations,
		Processor:      m.processor,
		Credentials:    m.credentials,
		Publisher:      m.publisher,
		TimeProvider:   m.timeProvider,
	})
	require.NoError(t, err)
	return m, orch
}

func testSettings() model.ConfigurationSettings {
	return model.ConfigurationSettings{
		Provider: "stability",
		Model:    "sd3-large",
		Prompts:  []string{"a lighthouse at dusk"},
	}
}

func testExecution(status model.ExecutionStatus) *model.Execution {
	id := testConfigurationID
	return &model.Execution{
		ID:                    testExecutionID,
		ConfigurationID:       &id,
		Label:                 "spring batch",
		Status:                status,
		StartedAt:             testutil.TestTime(),
		ConfigurationSnapshot: []byte(`{"provider":"stability"}`),
	}
}

func expectConfiguration(m *orchestratorMocks) {
	m.configurations.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateConfigurationRequest) (*model.Configuration, error) {
			return &model.Configuration{ID: testConfigurationID, Name: req.Name, Settings: req.Settings}, nil
		})
}

func TestOrchestrator_StartJob_Success(t *testing.T) {
	t.Parallel()
	m, orch := newOrchestrator(t)
	ctx := context.Background()

	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").Return("sk-live-secret", nil)
	expectConfiguration(m)

	m.executions.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateExecutionRequest) (*model.Execution, error) {
			// Snapshots must never carry the resolved credential.
			assert.Empty(t, req.Snapshot.Credentials)
			return testExecution(model.ExecutionStatusRunning), nil
		})

	results := make(chan core.ProcessorResult, 1)
	m.processor.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, opts core.ProcessorRunOptions) (*core.ProcessHandle, error) {
			// The processor receives the live credential.
			assert.Equal(t, "sk-live-secret", opts.Settings.Credentials["stability"])
			return &core.ProcessHandle{JobID: "p-1", Results: results}, nil
		})

	seed := int64(42)
	path := "/tmp/img.png"
	m.images.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateImageRequest) (*model.GeneratedImage, error) {
			assert.Equal(t, testExecutionID, req.ExecutionID)
			return &model.GeneratedImage{ID: "img-1", ExecutionID: req.ExecutionID, QCStatus: model.QCStatusApproved}, nil
		})
	m.images.EXPECT().
		CountByExecution(gomock.Any(), testExecutionID).
		Return(&model.ExecutionCounters{Total: 1, Successful: 1}, nil)
	m.executions.EXPECT().
		Finish(gomock.Any(), testExecutionID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, params data.FinishParams) error {
			assert.Equal(t, model.ExecutionStatusCompleted, params.Status)
			require.NotNil(t, params.Counters)
			assert.Equal(t, 1, params.Counters.Total)
			return nil
		})

	res := orch.StartJob(ctx, StartJobRequest{Label: "spring batch", Settings: testSettings()})
	require.True(t, res.Success, "start failed: %s", res.Error)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, testExecutionID, res.ExecutionID)

	results <- core.ProcessorResult{Prompt: "a lighthouse at dusk", Seed: &seed, TempPath: &path, QCStatus: model.QCStatusApproved}
	close(results)

	m.publisher.waitFor(t, core.EventJobCompleted)
	orch.Wait()

	execID, _ := orch.Running()
	assert.Empty(t, execID, "guard must be released after completion")
}

func TestOrchestrator_StartJob_RejectsSecondStart(t *testing.T) {
	t.Parallel()
	m, orch := newOrchestrator(t)
	ctx := context.Background()

	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").Return("secret", nil)
	expectConfiguration(m)
	m.executions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(testExecution(model.ExecutionStatusRunning), nil)

	results := make(chan core.ProcessorResult)
	m.processor.EXPECT().Process(gomock.Any(), gomock.Any()).
		Return(&core.ProcessHandle{JobID: "p-1", Results: results}, nil)
	m.images.EXPECT().CountByExecution(gomock.Any(), testExecutionID).
		Return(&model.ExecutionCounters{}, nil)
	m.executions.EXPECT().Finish(gomock.Any(), testExecutionID, gomock.Any()).Return(nil)

	first := orch.StartJob(ctx, StartJobRequest{Label: "one", Settings: testSettings()})
	require.True(t, first.Success)

	second := orch.StartJob(ctx, StartJobRequest{Label: "two", Settings: testSettings()})
	assert.False(t, second.Success)
	assert.Equal(t, model.CodeJobAlreadyRunning, second.Code)

	close(results)
	orch.Wait()
}

func TestOrchestrator_StartJob_BusyGuardWinsOverConfigurationErrors(t *testing.T) {
	t.Parallel()
	m, orch := newOrchestrator(t)
	ctx := context.Background()

	// Expectations cover the first start only; the second start must be
	// rejected before it validates settings or touches the credential tiers.
	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").Return("secret", nil)
	expectConfiguration(m)
	m.executions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(testExecution(model.ExecutionStatusRunning), nil)

	results := make(chan core.ProcessorResult)
	m.processor.EXPECT().Process(gomock.Any(), gomock.Any()).
		Return(&core.ProcessHandle{JobID: "p-1", Results: results}, nil)
	m.images.EXPECT().CountByExecution(gomock.Any(), testExecutionID).
		Return(&model.ExecutionCounters{}, nil)
	m.executions.EXPECT().Finish(gomock.Any(), testExecutionID, gomock.Any()).Return(nil)

	first := orch.StartJob(ctx, StartJobRequest{Label: "one", Settings: testSettings()})
	require.True(t, first.Success)

	// Empty settings would fail validation, and no credential resolution is
	// stubbed; the busy guard must answer before either gets a chance.
	second := orch.StartJob(ctx, StartJobRequest{Settings: model.ConfigurationSettings{}})
	assert.False(t, second.Success)
	assert.Equal(t, model.CodeJobAlreadyRunning, second.Code)

	close(results)
	orch.Wait()
}

func TestOrchestrator_StartJob_DoesNotBlockOnSlowProvider(t *testing.T) {
	t.Parallel()
	m, orch := newOrchestrator(t)
	ctx := context.Background()

	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").Return("secret", nil)
	expectConfiguration(m)
	m.executions.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(testExecution(model.ExecutionStatusRunning), nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	results := make(chan core.ProcessorResult)
	m.processor.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, core.ProcessorRunOptions) (*core.ProcessHandle, error) {
			close(entered)
			<-release
			return &core.ProcessHandle{JobID: "p-1", Results: results}, nil
		})
	m.images.EXPECT().CountByExecution(gomock.Any(), testExecutionID).
		Return(&model.ExecutionCounters{}, nil)
	m.executions.EXPECT().Finish(gomock.Any(), testExecutionID, gomock.Any()).Return(nil)

	firstDone := make(chan *model.StartJobResult, 1)
	go func() {
		firstDone <- orch.StartJob(ctx, StartJobRequest{Label: "one", Settings: testSettings()})
	}()
	<-entered

	// The provider call is still in flight; other entry points must answer
	// immediately instead of queueing on the guard.
	assert.True(t, orch.StopJob(ctx).Success)
	execID, jobID := orch.Running()
	assert.Empty(t, execID)
	assert.Empty(t, jobID)

	second := orch.StartJob(ctx, StartJobRequest{Label: "two", Settings: testSettings()})
	assert.False(t, second.Success)
	assert.Equal(t, model.CodeJobAlreadyRunning, second.Code)

	close(release)
	first := <-firstDone
	require.True(t, first.Success, "start failed: %s", first.Error)

	close(results)
	orch.Wait()
}

func TestOrchestrator_StartJob_InvalidSettings(t *testing.T) {
	t.Parallel()
	_, orch := newOrchestrator(t)

	res := orch.StartJob(context.Background(), StartJobRequest{
		Settings: model.ConfigurationSettings{Provider: ""},
	})
	assert.False(t, res.Success)
	assert.Equal(t, model.CodeJobConfigurationError, res.Code)
}

func TestOrchestrator_StartJob_MissingCredentials(t *testing.T) {
	t.Parallel()
	m, orch := newOrchestrator(t)

	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").
		Return("", errors.New("credential not found"))

	res := orch.StartJob(context.Background(), StartJobRequest{Settings: testSettings()})
	assert.False(t, res.Success)
	assert.Equal(t, model.CodeJobConfigurationError, res.Code)
	assert.Contains(t, res.Error, `missing credentials for provider "stability"`)
}

func TestOrchestrator_StartJob_LedgerGuard(t *testing.T) {
	t.Parallel()
	m, orch := newOrchestrator(t)

	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").Return("secret", nil)
	expectConfiguration(m)
	m.executions.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(nil, data.ErrExecutionRunning)

	res := orch.StartJob(context.Background(), StartJobRequest{Label: "x", Settings: testSettings()})
	assert.False(t, res.Success)
	assert.Equal(t, model.CodeJobAlreadyRunning, res.Code)
}

func TestOrchestrator_StartJob_ProcessorFailureMarksExecutionFailed(t *testing.T) {
	t.Parallel()
	m, orch := newOrchestrator(t)

	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").Return("secret", nil)
	expectConfiguration(m)
	m.executions.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(testExecution(model.ExecutionStatusRunning), nil)
	m.processor.EXPECT().Process(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("engine unreachable"))
	m.executions.EXPECT().
		Finish(gomock.Any(), testExecutionID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, params data.FinishParams) error {
			assert.Equal(t, model.ExecutionStatusFailed, params.Status)
			require.NotNil(t, params.ErrorMessage)
			return nil
		})

	res := orch.StartJob(context.Background(), StartJobRequest{Label: "x", Settings: testSettings()})
	assert.False(t, res.Success)
	assert.Equal(t, model.CodeJobStartError, res.Code)

	execID, _ := orch.Running()
	assert.Empty(t, execID, "guard must not be held after a failed start")
}

func TestOrchestrator_StartJob_FallbackLabel(t *testing.T) {
	t.Parallel()
	m, orch := newOrchestrator(t)

	wantLabel := model.FallbackLabel(testutil.TestTime())

	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").Return("secret", nil)
	m.configurations.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateConfigurationRequest) (*model.Configuration, error) {
			assert.Equal(t, wantLabel, req.Name)
			return &model.Configuration{ID: testConfigurationID, Name: req.Name}, nil
		})
	m.executions.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CreateExecutionRequest) (*model.Execution, error) {
			assert.Equal(t, wantLabel, req.Label)
			return testExecution(model.ExecutionStatusRunning), nil
		})

	results := make(chan core.ProcessorResult)
	close(results)
	m.processor.EXPECT().Process(gomock.Any(), gomock.Any()).
		Return(&core.ProcessHandle{JobID: "p-1", Results: results}, nil)
	m.images.EXPECT().CountByExecution(gomock.Any(), testExecutionID).
		Return(&model.ExecutionCounters{}, nil)
	m.executions.EXPECT().Finish(gomock.Any(), testExecutionID, gomock.Any()).Return(nil)

	res := orch.StartJob(context.Background(), StartJobRequest{Settings: testSettings()})
	require.True(t, res.Success)
	orch.Wait()
}

func TestOrchestrator_StopJob_MarksStopped(t *testing.T) {
	t.Parallel()
	m, orch := newOrchestrator(t)
	ctx := context.Background()

	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").Return("secret", nil)
	expectConfiguration(m)
	m.executions.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(testExecution(model.ExecutionStatusRunning), nil)

	results := make(chan core.ProcessorResult)
	m.processor.EXPECT().
		Process(gomock.Any(), gomock.Any()).
		DoAndReturn(func(runCtx context.Context, _ core.ProcessorRunOptions) (*core.ProcessHandle, error) {
			// Mirror the real engine: close the stream once the run is cancelled.
			go func() {
				<-runCtx.Done()
				close(results)
			}()
			return &core.ProcessHandle{JobID: "p-1", Results: results}, nil
		})
	m.images.EXPECT().CountByExecution(gomock.Any(), testExecutionID).
		Return(&model.ExecutionCounters{}, nil)
	m.executions.EXPECT().
		Finish(gomock.Any(), testExecutionID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, params data.FinishParams) error {
			assert.Equal(t, model.ExecutionStatusStopped, params.Status)
			return nil
		})

	res := orch.StartJob(ctx, StartJobRequest{Label: "x", Settings: testSettings()})
	require.True(t, res.Success)

	stop := orch.StopJob(ctx)
	assert.True(t, stop.Success)

	m.publisher.waitFor(t, core.EventJobStopped)
	orch.Wait()
}

func TestOrchestrator_StopJob_IdleIsIdempotent(t *testing.T) {
	t.Parallel()
	_, orch := newOrchestrator(t)

	res := orch.StopJob(context.Background())
	assert.True(t, res.Success)
}

func TestOrchestrator_TerminalHookRunsAfterFinish(t *testing.T) {
	t.Parallel()
	m, orch := newOrchestrator(t)
	ctx := context.Background()

	finished := make(chan struct{})
	hookOrder := make(chan string, 2)
	orch.SetOnTerminal(func(executionID string, status model.ExecutionStatus) {
		assert.Equal(t, testExecutionID, executionID)
		assert.Equal(t, model.ExecutionStatusCompleted, status)
		hookOrder <- "hook"
	})

	m.credentials.EXPECT().Resolve(gomock.Any(), "stability").Return("secret", nil)
	expectConfiguration(m)
	m.executions.EXPECT().Create(gomock.Any(), gomock.Any()).
		Return(testExecution(model.ExecutionStatusRunning), nil)

	results := make(chan core.ProcessorResult)
	close(results)
	m.processor.EXPECT().Process(gomock.Any(), gomock.Any()).
		Return(&core.ProcessHandle{JobID: "p-1", Results: results}, nil)
	m.images.EXPECT().CountByExecution(gomock.Any(), testExecutionID).
		Return(&model.ExecutionCounters{}, nil)
	m.executions.EXPECT().
		Finish(gomock.Any(), testExecutionID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ data.FinishParams) error {
			hookOrder <- "finish"
			close(finished)
			return nil
		})

	res := orch.StartJob(ctx, StartJobRequest{Label: "x", Settings: testSettings()})
	require.True(t, res.Success)

	<-finished
	assert.Equal(t, "finish", <-hookOrder)
	assert.Equal(t, "hook", <-hookOrder)
	orch.Wait()
}

func TestOrchestrator_Reconcile(t *testing.T) {
	t.Parallel()
	m, orch := newOrchestrator(t)

	m.executions.EXPECT().
		FailOrphanedRunning(gomock.Any(), gomock.Any()).
		Return(int64(2), nil)
	m.images.EXPECT().ResetStuckProcessing(gomock.Any()).Return(int64(3), nil)

	res, err := orch.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.ReconciledCount)
	assert.Equal(t, 3, res.ResetImages)
	assert.Contains(t, m.publisher.types(), core.EventReconciled)
}

func TestOrchestrator_ForceStopAll_DrainsQueues(t *testing.T) {
	t.Parallel()
	_, orch := newOrchestrator(t)

	q := &fakeDrainable{n: 4}
	orch.AttachQueues(q)

	res := orch.ForceStopAll(context.Background())
	assert.True(t, res.Success)
	assert.True(t, q.drained)
}

type fakeDrainable struct {
	n       int
	drained bool
}

func (f *fakeDrainable) Drain(_ context.Context) int {
	f.drained = true
	return f.n
}

package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixeldeck/pixeldeck/internal/domain/model"
	"github.com/pixeldeck/pixeldeck/internal/testutil"
)

func newTestExecutionRepo(db *sql.DB, tp TimeProvider) *ExecutionRepo {
	return NewExecutionRepo(db, ExecutionRepoConfig{TimeProvider: tp})
}

func createTestExecution(t *testing.T, repo *ExecutionRepo, label string) *model.Execution {
	t.Helper()
	exec, err := repo.Create(context.Background(), &model.CreateExecutionRequest{
		Label:    label,
		Snapshot: model.ConfigurationSettings{Provider: "stability", Model: "sd3-large"},
	})
	require.NoError(t, err)
	return exec
}

func finishTestExecution(t *testing.T, repo *ExecutionRepo, id string, status model.ExecutionStatus) {
	t.Helper()
	require.NoError(t, repo.Finish(context.Background(), id, FinishParams{Status: status}))
}

func TestExecutionRepo_Create_GetByID_RoundTrip(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := newTestExecutionRepo(db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		created, err := repo.Create(ctx, &model.CreateExecutionRequest{
			Label: "spring batch",
			Snapshot: model.ConfigurationSettings{
				Provider: "stability",
				Prompts:  []string{"a lighthouse at dusk"},
			},
		})
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.Equal(t, "spring batch", created.Label)
		assert.Equal(t, model.ExecutionStatusRunning, created.Status)
		assert.Nil(t, created.CompletedAt)

		fetched, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, fetched.ID)

		snapshot, err := fetched.Snapshot()
		require.NoError(t, err)
		assert.Equal(t, "stability", snapshot.Provider)
		assert.Equal(t, []string{"a lighthouse at dusk"}, snapshot.Prompts)
	})
}

func TestExecutionRepo_Create_SecondRunningRejected(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := newTestExecutionRepo(db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		first := createTestExecution(t, repo, "first")

		_, err := repo.Create(ctx, &model.CreateExecutionRequest{
			Label:    "second",
			Snapshot: model.ConfigurationSettings{Provider: "stability"},
		})
		require.ErrorIs(t, err, ErrExecutionRunning)

		// The rejected start leaves no row behind.
		list, err := repo.List(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, first.ID, list[0].ID)
	})
}

func TestExecutionRepo_Create_Validation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := newTestExecutionRepo(db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		_, err := repo.Create(ctx, &model.CreateExecutionRequest{
			Label:    "",
			Snapshot: model.ConfigurationSettings{Provider: "stability"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "label is required")

		_, err = repo.Create(ctx, &model.CreateExecutionRequest{
			Label: "leaky",
			Snapshot: model.ConfigurationSettings{
				Provider:    "stability",
				Credentials: map[string]string{"stability": "sk-live-secret"},
			},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not carry credentials")
	})
}

func TestExecutionRepo_GetRunning(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := newTestExecutionRepo(db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		running, err := repo.GetRunning(ctx)
		require.NoError(t, err)
		assert.Nil(t, running, "idle ledger has no running execution")

		created := createTestExecution(t, repo, "active")

		running, err = repo.GetRunning(ctx)
		require.NoError(t, err)
		require.NotNil(t, running)
		assert.Equal(t, created.ID, running.ID)

		finishTestExecution(t, repo, created.ID, model.ExecutionStatusCompleted)

		running, err = repo.GetRunning(ctx)
		require.NoError(t, err)
		assert.Nil(t, running)
	})
}

func TestExecutionRepo_Finish(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := testutil.NewTestTimeProvider(testutil.TestTime())
		repo := newTestExecutionRepo(db, tp)
		ctx := context.Background()

		created := createTestExecution(t, repo, "finishing")

		err := repo.Finish(ctx, created.ID, FinishParams{Status: model.ExecutionStatusRunning})
		require.Error(t, err, "running is not a terminal status")

		tp.AddTime(5 * time.Minute)
		msg := "engine unreachable"
		err = repo.Finish(ctx, created.ID, FinishParams{
			Status:       model.ExecutionStatusFailed,
			Counters:     &model.ExecutionCounters{Total: 3, Successful: 1, Failed: 2},
			ErrorMessage: &msg,
		})
		require.NoError(t, err)

		fetched, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionStatusFailed, fetched.Status)
		require.NotNil(t, fetched.CompletedAt)
		assert.Equal(t, 3, fetched.TotalImages)
		assert.Equal(t, 1, fetched.SuccessfulImages)
		assert.Equal(t, 2, fetched.FailedImages)
		require.NotNil(t, fetched.ErrorMessage)
		assert.Equal(t, msg, *fetched.ErrorMessage)
		assert.Equal(t, "finishing", fetched.Label, "completion must not rewrite the label")

		// A terminal row cannot be finished again.
		err = repo.Finish(ctx, created.ID, FinishParams{Status: model.ExecutionStatusCompleted})
		require.ErrorIs(t, err, ErrExecutionNotFound)
	})
}

func TestExecutionRepo_Rename(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := newTestExecutionRepo(db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		created := createTestExecution(t, repo, "before")
		require.NoError(t, repo.Rename(ctx, created.ID, "after"))

		fetched, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "after", fetched.Label)

		err = repo.Rename(ctx, "00000000-0000-0000-0000-000000000000", "x")
		require.ErrorIs(t, err, ErrExecutionNotFound)
	})
}

func TestExecutionRepo_Delete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := newTestExecutionRepo(db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		created := createTestExecution(t, repo, "doomed")
		finishTestExecution(t, repo, created.ID, model.ExecutionStatusCompleted)

		require.NoError(t, repo.Delete(ctx, created.ID))

		_, err := repo.GetByID(ctx, created.ID)
		require.ErrorIs(t, err, ErrExecutionNotFound)

		err = repo.Delete(ctx, created.ID)
		require.ErrorIs(t, err, ErrExecutionNotFound)
	})
}

func TestExecutionRepo_List_NewestFirst(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := testutil.NewTestTimeProvider(testutil.TestTime())
		repo := newTestExecutionRepo(db, tp)
		ctx := context.Background()

		older := createTestExecution(t, repo, "older")
		finishTestExecution(t, repo, older.ID, model.ExecutionStatusCompleted)
		tp.AddTime(time.Hour)
		newer := createTestExecution(t, repo, "newer")
		finishTestExecution(t, repo, newer.ID, model.ExecutionStatusStopped)

		list, err := repo.List(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, older.ID, list[1].ID)

		page, err := repo.List(ctx, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, older.ID, page[0].ID)
	})
}

func TestExecutionRepo_GetByIDs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := testutil.NewTestTimeProvider(testutil.TestTime())
		repo := newTestExecutionRepo(db, tp)
		ctx := context.Background()

		a := createTestExecution(t, repo, "a")
		finishTestExecution(t, repo, a.ID, model.ExecutionStatusCompleted)
		tp.AddTime(time.Minute)
		b := createTestExecution(t, repo, "b")
		finishTestExecution(t, repo, b.ID, model.ExecutionStatusCompleted)

		got, err := repo.GetByIDs(ctx, []string{a.ID, b.ID, "00000000-0000-0000-0000-000000000000"})
		require.NoError(t, err)
		require.Len(t, got, 2, "missing ids are omitted, not errors")

		none, err := repo.GetByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestExecutionRepo_FailOrphanedRunning(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := newTestExecutionRepo(db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		orphan := createTestExecution(t, repo, "orphan")

		n, err := repo.FailOrphanedRunning(ctx, "process terminated before the job finished")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		fetched, err := repo.GetByID(ctx, orphan.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ExecutionStatusFailed, fetched.Status)
		require.NotNil(t, fetched.ErrorMessage)
		assert.Equal(t, "process terminated before the job finished", *fetched.ErrorMessage)
		require.NotNil(t, fetched.CompletedAt)

		// Idempotent on a clean ledger.
		n, err = repo.FailOrphanedRunning(ctx, "again")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestExecutionRepo_Stats(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := testutil.NewTestTimeProvider(testutil.TestTime())
		repo := newTestExecutionRepo(db, tp)
		ctx := context.Background()

		a := createTestExecution(t, repo, "a")
		finishTestExecution(t, repo, a.ID, model.ExecutionStatusCompleted)
		tp.AddTime(time.Minute)
		b := createTestExecution(t, repo, "b")
		finishTestExecution(t, repo, b.ID, model.ExecutionStatusStopped)
		tp.AddTime(time.Minute)
		createTestExecution(t, repo, "c")

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Running)
		assert.Equal(t, 1, stats.Completed)
		assert.Equal(t, 1, stats.Stopped)
		assert.Zero(t, stats.Failed)
	})
}

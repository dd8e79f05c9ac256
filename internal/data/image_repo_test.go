package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixeldeck/pixeldeck/internal/domain/model"
	"github.com/pixeldeck/pixeldeck/internal/testutil"
)

func newTestImageRepo(db *sql.DB, tp TimeProvider) *ImageRepo {
	return NewImageRepo(db, ImageRepoConfig{TimeProvider: tp})
}

// imageTestFixture creates a terminal execution the images can attach to.
func imageTestFixture(t *testing.T, db *sql.DB, tp TimeProvider) (*ExecutionRepo, *ImageRepo, string) {
	t.Helper()
	execRepo := newTestExecutionRepo(db, tp)
	exec := createTestExecution(t, execRepo, "image fixture")
	finishTestExecution(t, execRepo, exec.ID, model.ExecutionStatusCompleted)
	return execRepo, newTestImageRepo(db, tp), exec.ID
}

func createTestImage(t *testing.T, repo *ImageRepo, executionID string, status model.QCStatus) *model.GeneratedImage {
	t.Helper()
	img, err := repo.Create(context.Background(), &model.CreateImageRequest{
		ExecutionID: executionID,
		Prompt:      "a red bicycle",
		Seed:        testutil.Int64Ptr(42),
		QCStatus:    status,
		TempPath:    testutil.StringPtr("/tmp/pending/img.png"),
	})
	require.NoError(t, err)
	return img
}

func TestImageRepo_Create_RoundTrip(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		_, repo, execID := imageTestFixture(t, db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		created, err := repo.Create(ctx, &model.CreateImageRequest{
			ExecutionID: execID,
			Prompt:      "a lighthouse at dusk",
			Metadata:    json.RawMessage(`{"title":"Lighthouse"}`),
		})
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		assert.Equal(t, model.QCStatusPending, created.QCStatus, "empty status defaults to pending")

		fetched, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, execID, fetched.ExecutionID)
		assert.Equal(t, "a lighthouse at dusk", fetched.Prompt)
		assert.JSONEq(t, `{"title":"Lighthouse"}`, string(fetched.Metadata))
	})
}

func TestImageRepo_Create_UnknownExecutionRejected(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := newTestImageRepo(db, testutil.NewTestTimeProvider(testutil.TestTime()))

		_, err := repo.Create(context.Background(), &model.CreateImageRequest{
			ExecutionID: "00000000-0000-0000-0000-000000000000",
			Prompt:      "orphan",
		})
		require.Error(t, err, "images cannot exist without their execution")
	})
}

func TestImageRepo_StartProcessing_OnlyFromRetryPending(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		_, repo, execID := imageTestFixture(t, db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		img := createTestImage(t, repo, execID, model.QCStatusQCFailed)

		// Not queued yet; a worker cannot claim it.
		err := repo.StartProcessing(ctx, img.ID)
		require.ErrorIs(t, err, ErrImageNotFound)

		require.NoError(t, repo.MarkQueuedForRetry(ctx, []string{img.ID}))
		require.NoError(t, repo.StartProcessing(ctx, img.ID))

		// A second worker loses the claim race.
		err = repo.StartProcessing(ctx, img.ID)
		require.ErrorIs(t, err, ErrImageNotFound)

		fetched, err := repo.GetByID(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QCStatusProcessing, fetched.QCStatus)
	})
}

func TestImageRepo_FinishRetry_Success(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		_, repo, execID := imageTestFixture(t, db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		img := createTestImage(t, repo, execID, model.QCStatusRetryPending)
		require.NoError(t, repo.StartProcessing(ctx, img.ID))

		finalPath := testutil.StringPtr("/out/approved/img.png")
		applied := json.RawMessage(`{"removeBg":true}`)
		require.NoError(t, repo.FinishRetry(ctx, img.ID, true, finalPath, applied))

		fetched, err := repo.GetByID(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QCStatusApproved, fetched.QCStatus)
		require.NotNil(t, fetched.FinalPath)
		assert.Equal(t, *finalPath, *fetched.FinalPath)
		assert.JSONEq(t, string(applied), string(fetched.ProcessingSettings))
	})
}

func TestImageRepo_FinishRetry_Failure(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		_, repo, execID := imageTestFixture(t, db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		img := createTestImage(t, repo, execID, model.QCStatusRetryPending)
		require.NoError(t, repo.StartProcessing(ctx, img.ID))
		require.NoError(t, repo.FinishRetry(ctx, img.ID, false, nil, nil))

		fetched, err := repo.GetByID(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QCStatusRetryFailed, fetched.QCStatus)
		require.NotNil(t, fetched.TempPath, "failed retries keep the temp path for later attempts")

		// Finishing an image that is not processing is rejected.
		err = repo.FinishRetry(ctx, img.ID, false, nil, nil)
		require.ErrorIs(t, err, ErrImageNotFound)
	})
}

func TestImageRepo_Approve(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		_, repo, execID := imageTestFixture(t, db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		img := createTestImage(t, repo, execID, model.QCStatusQCFailed)

		finalPath := testutil.StringPtr("/out/approved/img.png")
		require.NoError(t, repo.Approve(ctx, img.ID, finalPath))

		fetched, err := repo.GetByID(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QCStatusApproved, fetched.QCStatus)
		require.NotNil(t, fetched.FinalPath)
		assert.Equal(t, *finalPath, *fetched.FinalPath)

		err = repo.Approve(ctx, "00000000-0000-0000-0000-000000000000", nil)
		require.ErrorIs(t, err, ErrImageNotFound)
	})
}

func TestImageRepo_MarkQCFailed(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		_, repo, execID := imageTestFixture(t, db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		img := createTestImage(t, repo, execID, model.QCStatusPending)
		require.NoError(t, repo.MarkQCFailed(ctx, img.ID))

		fetched, err := repo.GetByID(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QCStatusQCFailed, fetched.QCStatus)
	})
}

func TestImageRepo_ResetStuckProcessing(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		_, repo, execID := imageTestFixture(t, db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		stuck := createTestImage(t, repo, execID, model.QCStatusRetryPending)
		require.NoError(t, repo.StartProcessing(ctx, stuck.ID))
		untouched := createTestImage(t, repo, execID, model.QCStatusApproved)

		n, err := repo.ResetStuckProcessing(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		fetched, err := repo.GetByID(ctx, stuck.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QCStatusRetryFailed, fetched.QCStatus)

		fetched, err = repo.GetByID(ctx, untouched.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QCStatusApproved, fetched.QCStatus)
	})
}

func TestImageRepo_CountByExecution(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		_, repo, execID := imageTestFixture(t, db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		createTestImage(t, repo, execID, model.QCStatusApproved)
		createTestImage(t, repo, execID, model.QCStatusApproved)
		createTestImage(t, repo, execID, model.QCStatusQCFailed)
		createTestImage(t, repo, execID, model.QCStatusRetryFailed)
		createTestImage(t, repo, execID, model.QCStatusPending)

		c, err := repo.CountByExecution(ctx, execID)
		require.NoError(t, err)
		assert.Equal(t, 5, c.Total)
		assert.Equal(t, 2, c.Successful)
		assert.Equal(t, 2, c.Failed)
	})
}

func TestImageRepo_ListByExecution_And_Status(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := testutil.NewTestTimeProvider(testutil.TestTime())
		_, repo, execID := imageTestFixture(t, db, tp)
		ctx := context.Background()

		first := createTestImage(t, repo, execID, model.QCStatusApproved)
		tp.AddTime(time.Second)
		second := createTestImage(t, repo, execID, model.QCStatusQCFailed)

		list, err := repo.ListByExecution(ctx, execID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID, "oldest first")
		assert.Equal(t, second.ID, list[1].ID)

		failed, err := repo.ListByStatus(ctx, model.QCStatusQCFailed)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, second.ID, failed[0].ID)
	})
}

func TestImageRepo_GetByIDs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		_, repo, execID := imageTestFixture(t, db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		a := createTestImage(t, repo, execID, model.QCStatusQCFailed)
		b := createTestImage(t, repo, execID, model.QCStatusQCFailed)

		got, err := repo.GetByIDs(ctx, []string{a.ID, b.ID, "00000000-0000-0000-0000-000000000000"})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		none, err := repo.GetByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}

func TestImageRepo_DeleteExecutionCascades(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithAutoDB(t, func(db *sql.DB) {
		execRepo, repo, execID := imageTestFixture(t, db, testutil.NewTestTimeProvider(testutil.TestTime()))
		ctx := context.Background()

		img := createTestImage(t, repo, execID, model.QCStatusApproved)
		require.NoError(t, execRepo.Delete(ctx, execID))

		_, err := repo.GetByID(ctx, img.ID)
		require.ErrorIs(t, err, ErrImageNotFound)
	})
}

package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/pixeldeck/pixeldeck/internal/data/pgxutil"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
)

// ImageRepoConfig holds configuration options for the image repository.
type ImageRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// ImageRepo provides database operations on the generated-image ledger.
type ImageRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewImageRepo creates an ImageRepo with the given connection and configuration.
func NewImageRepo(db *sql.DB, cfg ImageRepoConfig) *ImageRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ImageRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

const imageColumns = `
  id,
  execution_id,
  prompt,
  seed,
  qc_status,
  temp_path,
  final_path,
  metadata_json,
  processing_settings_json,
  created_at,
  updated_at
`

// Create records a newly generated image in the ledger.
func (r *ImageRepo) Create(ctx context.Context, req *model.CreateImageRequest) (*model.GeneratedImage, error) {
	if req == nil {
		return nil, errors.New("create image request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	status := req.QCStatus
	if status == "" {
		status = model.QCStatusPending
	}

	now := r.timeProvider.Now().UTC()
	var out model.GeneratedImage
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO generated_images
				(execution_id, prompt, seed, qc_status, temp_path, metadata_json, processing_settings_json, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			RETURNING `+imageColumns,
			req.ExecutionID, req.Prompt, req.Seed, status, req.TempPath,
			req.Metadata, req.ProcessingSettings, now)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.GeneratedImage])
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("insert image: %w", err)
	}
	return &out, nil
}

// GetByID returns a generated image by its id.
func (r *ImageRepo) GetByID(ctx context.Context, id string) (*model.GeneratedImage, error) {
	var out model.GeneratedImage
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+imageColumns+` FROM generated_images WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.GeneratedImage])
		return qerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image %s: %w", id, err)
	}
	return &out, nil
}

// GetByIDs returns the images for the given ids. Missing ids are simply
// absent from the result; callers that need all ids present compare lengths.
func (r *ImageRepo) GetByIDs(ctx context.Context, ids []string) ([]*model.GeneratedImage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []*model.GeneratedImage
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+imageColumns+` FROM generated_images WHERE id = ANY($1)`, ids)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.GeneratedImage])
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("get images by ids: %w", err)
	}
	return out, nil
}

// ListByExecution returns all images of one execution, oldest first.
func (r *ImageRepo) ListByExecution(ctx context.Context, executionID string) ([]*model.GeneratedImage, error) {
	var out []*model.GeneratedImage
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+imageColumns+` FROM generated_images WHERE execution_id = $1 ORDER BY created_at`,
			executionID)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.GeneratedImage])
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("list images for execution %s: %w", executionID, err)
	}
	return out, nil
}

// ListByStatus returns images in the given review state, oldest first.
func (r *ImageRepo) ListByStatus(ctx context.Context, status model.QCStatus) ([]*model.GeneratedImage, error) {
	var out []*model.GeneratedImage
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+imageColumns+` FROM generated_images WHERE qc_status = $1 ORDER BY created_at`,
			status)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.GeneratedImage])
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("list images by status %s: %w", status, err)
	}
	return out, nil
}

// MarkQueuedForRetry flips the given images to retry_pending in one statement.
func (r *ImageRepo) MarkQueuedForRetry(ctx context.Context, ids []string) error {
	return r.setStatus(ctx, ids, model.QCStatusRetryPending)
}

// StartProcessing moves an image from retry_pending to processing. Returns
// ErrImageNotFound when the image is not in retry_pending, so a crashed or
// duplicated worker cannot pick the same image up twice.
func (r *ImageRepo) StartProcessing(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE generated_images
		SET qc_status = 'processing', updated_at = $2
		WHERE id = $1 AND qc_status = 'retry_pending'
	`, id, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("start processing image %s: %w", id, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return ErrImageNotFound
	}
	return nil
}

// FinishRetry records a retry outcome. On success the image is approved and
// the final path plus applied settings are written; on failure it moves to
// retry_failed with the temp path untouched.
func (r *ImageRepo) FinishRetry(ctx context.Context, id string, success bool, finalPath *string, appliedSettings json.RawMessage) error {
	now := r.timeProvider.Now().UTC()
	var (
		res sql.Result
		err error
	)
	if success {
		res, err = r.DB.ExecContext(ctx, `
			UPDATE generated_images
			SET qc_status = 'approved',
			    final_path = COALESCE($2, final_path),
			    processing_settings_json = COALESCE($3, processing_settings_json),
			    updated_at = $4
			WHERE id = $1 AND qc_status = 'processing'
		`, id, finalPath, appliedSettings, now)
	} else {
		res, err = r.DB.ExecContext(ctx, `
			UPDATE generated_images
			SET qc_status = 'retry_failed', updated_at = $2
			WHERE id = $1 AND qc_status = 'processing'
		`, id, now)
	}
	if err != nil {
		return fmt.Errorf("finish retry for image %s: %w", id, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return ErrImageNotFound
	}
	return nil
}

// Approve marks an image approved, recording the final path when provided.
// Used both by automated QC passes and manual review.
func (r *ImageRepo) Approve(ctx context.Context, id string, finalPath *string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE generated_images
		SET qc_status = 'approved',
		    final_path = COALESCE($2, final_path),
		    updated_at = $3
		WHERE id = $1
	`, id, finalPath, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("approve image %s: %w", id, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return ErrImageNotFound
	}
	return nil
}

// MarkQCFailed marks an image as having failed automated quality checks.
func (r *ImageRepo) MarkQCFailed(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE generated_images
		SET qc_status = 'qc_failed', updated_at = $2
		WHERE id = $1
	`, id, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark image %s qc_failed: %w", id, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return ErrImageNotFound
	}
	return nil
}

// ResetStuckProcessing repairs images stranded in processing by an unclean
// shutdown, moving them to retry_failed so they surface as retryable failures
// rather than sitting in a state no worker owns. Runs under the same advisory
// lock namespace as execution reconciliation.
func (r *ImageRepo) ResetStuckProcessing(ctx context.Context) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReconcileMajor, advisoryLockReconcileImages).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			res, err := tx.ExecContext(ctx, `
				UPDATE generated_images
				SET qc_status = 'retry_failed', updated_at = $1
				WHERE qc_status = 'processing'
			`, r.timeProvider.Now().UTC())
			if err != nil {
				return fmt.Errorf("reset stuck processing images: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}

	if rowsAffected > 0 && r.logger != nil {
		r.logger.InfoContext(ctx, "reset stuck processing images", "count", rowsAffected)
	}
	return rowsAffected, nil
}

// CountByExecution tallies an execution's images into run counters. Total is
// all images; successful is the approved subset; failed covers the failure
// states, with in-flight review states counted in neither bucket.
func (r *ImageRepo) CountByExecution(ctx context.Context, executionID string) (*model.ExecutionCounters, error) {
	var c model.ExecutionCounters
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE qc_status = 'approved'),
			COUNT(*) FILTER (WHERE qc_status IN ('qc_failed', 'retry_failed'))
		FROM generated_images
		WHERE execution_id = $1
	`, executionID).Scan(&c.Total, &c.Successful, &c.Failed)
	if err != nil {
		return nil, fmt.Errorf("count images for execution %s: %w", executionID, err)
	}
	return &c, nil
}

func (r *ImageRepo) setStatus(ctx context.Context, ids []string, status model.QCStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.DB.ExecContext(ctx, `
		UPDATE generated_images
		SET qc_status = $2, updated_at = $3
		WHERE id = ANY($1)
	`, ids, status, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("set status %s on images: %w", status, err)
	}
	return nil
}

package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/pixeldeck/pixeldeck/internal/data/pgxutil"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
	apperrors "github.com/pixeldeck/pixeldeck/internal/errors"
)

// Advisory lock namespace for startup reconciliation. Two-arg
// pg_try_advisory_xact_lock(major, minor) keeps concurrent engine instances
// from repairing the same rows twice.
const (
	advisoryLockReconcileMajor  = 2000
	advisoryLockReconcileOrphan = 1
	advisoryLockReconcileImages = 2
)

// ExecutionRepoConfig holds configuration options for the execution repository.
type ExecutionRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// ExecutionRepo provides database operations on the execution ledger.
type ExecutionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewExecutionRepo creates an ExecutionRepo with the given connection and configuration.
func NewExecutionRepo(db *sql.DB, cfg ExecutionRepoConfig) *ExecutionRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ExecutionRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

const executionColumns = `
  id,
  configuration_id,
  label,
  status,
  started_at,
  completed_at,
  total_images,
  successful_images,
  failed_images,
  error_message,
  configuration_snapshot_json
`

// Create opens a new execution row in status running. The partial unique
// index on status='running' makes this the atomic check-and-set behind the
// single-job guard: a second concurrent insert fails with a unique violation
// which is surfaced as ErrExecutionRunning, with zero rows written.
func (r *ExecutionRepo) Create(ctx context.Context, req *model.CreateExecutionRequest) (*model.Execution, error) {
	if req == nil {
		return nil, errors.New("create execution request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	snapshot := req.Snapshot.StripCredentials()

	var out model.Execution
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO job_executions (configuration_id, label, status, started_at, configuration_snapshot_json)
			VALUES ($1, $2, 'running', $3, $4)
			RETURNING `+executionColumns,
			req.ConfigurationID, req.Label, r.timeProvider.Now().UTC(), snapshot)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Execution])
		return qerr
	})
	if err != nil {
		if apperrors.IsUniqueViolation(err) {
			return nil, ErrExecutionRunning
		}
		return nil, fmt.Errorf("insert execution: %w", err)
	}
	return &out, nil
}

// GetByID returns an execution by its id.
func (r *ExecutionRepo) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	var out model.Execution
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+executionColumns+` FROM job_executions WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Execution])
		return qerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return &out, nil
}

// GetRunning returns the currently running execution, or nil when idle.
func (r *ExecutionRepo) GetRunning(ctx context.Context) (*model.Execution, error) {
	var out model.Execution
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+executionColumns+` FROM job_executions WHERE status = 'running' LIMIT 1`)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Execution])
		return qerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get running execution: %w", err)
	}
	return &out, nil
}

// List returns executions ordered by start time, newest first.
func (r *ExecutionRepo) List(ctx context.Context, limit, offset int) ([]*model.Execution, error) {
	var out []*model.Execution
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+executionColumns+` FROM job_executions ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Execution])
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return out, nil
}

// GetByIDs returns the executions for the given ids; missing ids are omitted.
func (r *ExecutionRepo) GetByIDs(ctx context.Context, ids []string) ([]*model.Execution, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []*model.Execution
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+executionColumns+` FROM job_executions WHERE id = ANY($1) ORDER BY started_at DESC`, ids)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Execution])
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("get executions by ids: %w", err)
	}
	return out, nil
}

// FinishParams groups the terminal transition written when a job ends.
type FinishParams struct {
	Status       model.ExecutionStatus
	Counters     *model.ExecutionCounters
	ErrorMessage *string
}

// Finish moves an execution to a terminal status, setting completed_at and
// optionally counters and error message. The label column is deliberately
// not part of this statement: completion handlers never regenerate labels.
func (r *ExecutionRepo) Finish(ctx context.Context, id string, params FinishParams) error {
	if !params.Status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", params.Status)
	}

	var total, successful, failed *int
	if params.Counters != nil {
		total, successful, failed = &params.Counters.Total, &params.Counters.Successful, &params.Counters.Failed
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE job_executions
		SET status = $2,
		    completed_at = $3,
		    total_images = COALESCE($4, total_images),
		    successful_images = COALESCE($5, successful_images),
		    failed_images = COALESCE($6, failed_images),
		    error_message = COALESCE($7, error_message)
		WHERE id = $1 AND status = 'running'
	`, id, params.Status, r.timeProvider.Now().UTC(), total, successful, failed, params.ErrorMessage)
	if err != nil {
		return fmt.Errorf("finish execution %s: %w", id, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// UpdateCounters updates the per-run image counters in place.
func (r *ExecutionRepo) UpdateCounters(ctx context.Context, id string, c model.ExecutionCounters) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE job_executions
		SET total_images = $2, successful_images = $3, failed_images = $4
		WHERE id = $1
	`, id, c.Total, c.Successful, c.Failed)
	if err != nil {
		return fmt.Errorf("update execution counters %s: %w", id, err)
	}
	return nil
}

// Rename sets a new label. This and rerun suffixing are the only label
// mutations the ledger permits.
func (r *ExecutionRepo) Rename(ctx context.Context, id, label string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE job_executions SET label = $2 WHERE id = $1`, id, label)
	if err != nil {
		return fmt.Errorf("rename execution %s: %w", id, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// Delete removes an execution and, via cascade, its images. Only explicit
// user deletion goes through here.
func (r *ExecutionRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM job_executions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete execution %s: %w", id, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// FailOrphanedRunning transitions running rows left behind by an unclean
// shutdown to failed, leaving counters untouched. Runs inside an advisory
// lock so concurrent engine instances do not double-repair.
func (r *ExecutionRepo) FailOrphanedRunning(ctx context.Context, reason string) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReconcileMajor, advisoryLockReconcileOrphan).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			res, err := tx.ExecContext(ctx, `
				UPDATE job_executions
				SET status = 'failed',
				    error_message = $1,
				    completed_at = $2
				WHERE status = 'running'
			`, reason, r.timeProvider.Now().UTC())
			if err != nil {
				return fmt.Errorf("fail orphaned executions: %w", err)
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
		r.logger.InfoContext(ctx, "reconciled orphaned executions", "count", rowsAffected)
	}
	return rowsAffected, nil
}

// Stats summarises the execution ledger per status.
func (r *ExecutionRepo) Stats(ctx context.Context) (*model.ExecutionStats, error) {
	var stats model.ExecutionStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'stopped')
		FROM job_executions
	`).Scan(&stats.Running, &stats.Completed, &stats.Failed, &stats.Stopped)
	if err != nil {
		return nil, fmt.Errorf("execution stats: %w", err)
	}
	return &stats, nil
}

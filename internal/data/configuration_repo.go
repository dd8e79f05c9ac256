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

// ConfigurationRepoConfig holds configuration options for the configuration repository.
type ConfigurationRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// ConfigurationRepo provides database operations on saved job configurations.
type ConfigurationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewConfigurationRepo creates a ConfigurationRepo with the given connection and configuration.
func NewConfigurationRepo(db *sql.DB, cfg ConfigurationRepoConfig) *ConfigurationRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ConfigurationRepo{DB: db, timeProvider: tp, logger: cfg.Logger}
}

const configurationColumns = `id, name, settings_json, created_at, updated_at`

// Create saves a new named configuration. Credentials are stripped before the
// settings reach the table; the credential store is the only place secrets live.
func (r *ConfigurationRepo) Create(ctx context.Context, req *model.CreateConfigurationRequest) (*model.Configuration, error) {
	if req == nil {
		return nil, errors.New("create configuration request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	settings := req.Settings.StripCredentials()

	var out model.Configuration
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO job_configurations (name, settings_json, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			RETURNING `+configurationColumns,
			req.Name, settings, r.timeProvider.Now().UTC())
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Configuration])
		return qerr
	})
	if err != nil {
		if apperrors.IsUniqueViolation(err) {
			return nil, ErrConfigurationNameExists
		}
		return nil, fmt.Errorf("insert configuration: %w", err)
	}
	return &out, nil
}

// GetByID returns a configuration by its id.
func (r *ConfigurationRepo) GetByID(ctx context.Context, id int64) (*model.Configuration, error) {
	var out model.Configuration
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+configurationColumns+` FROM job_configurations WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Configuration])
		return qerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigurationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get configuration %d: %w", id, err)
	}
	return &out, nil
}

// GetByName returns a configuration by its unique name.
func (r *ConfigurationRepo) GetByName(ctx context.Context, name string) (*model.Configuration, error) {
	var out model.Configuration
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+configurationColumns+` FROM job_configurations WHERE name = $1`, name)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Configuration])
		return qerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigurationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get configuration %q: %w", name, err)
	}
	return &out, nil
}

// List returns all saved configurations ordered by name.
func (r *ConfigurationRepo) List(ctx context.Context) ([]*model.Configuration, error) {
	var out []*model.Configuration
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx,
			`SELECT `+configurationColumns+` FROM job_configurations ORDER BY name`)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Configuration])
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	return out, nil
}

// Update replaces the settings of an existing configuration. Executions keep
// their frozen snapshots, so updates never rewrite history.
func (r *ConfigurationRepo) Update(ctx context.Context, id int64, settings model.ConfigurationSettings) (*model.Configuration, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	stripped := settings.StripCredentials()

	var out model.Configuration
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			UPDATE job_configurations
			SET settings_json = $2, updated_at = $3
			WHERE id = $1
			RETURNING `+configurationColumns,
			id, stripped, r.timeProvider.Now().UTC())
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		out, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Configuration])
		return qerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigurationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update configuration %d: %w", id, err)
	}
	return &out, nil
}

// Delete removes a configuration. Executions referencing it keep running off
// their snapshots; the FK nulls out on delete.
func (r *ConfigurationRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM job_configurations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete configuration %d: %w", id, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return ErrConfigurationNotFound
	}
	return nil
}

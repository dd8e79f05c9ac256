package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pixeldeck/pixeldeck/internal/data/cryptoutil"
	"github.com/pixeldeck/pixeldeck/internal/data/pgxutil"
)

// CredentialRepoConfig holds configuration options for the credential repository.
type CredentialRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
	Encryptor    cryptoutil.Encryptor
}

// CredentialRepo stores provider credentials encrypted at rest. Values only
// ever leave this package as plaintext through Get; they are never logged and
// never appear in list output.
type CredentialRepo struct {
	DB           *sql.DB
	encryptor    cryptoutil.Encryptor
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewCredentialRepo creates a CredentialRepo with the given connection and configuration.
func NewCredentialRepo(db *sql.DB, cfg CredentialRepoConfig) *CredentialRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	enc := cfg.Encryptor
	if enc == nil {
		enc = cryptoutil.NoopEncryptor{}
	}
	return &CredentialRepo{DB: db, encryptor: enc, timeProvider: tp, logger: cfg.Logger}
}

type credentialRow struct {
	ID             int64     `db:"id"`
	Service        string    `db:"service"`
	ValueEncrypted string    `db:"value_encrypted"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Get returns the decrypted credential for a service.
func (r *CredentialRepo) Get(ctx context.Context, service string) (string, error) {
	var row credentialRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT id, service, value_encrypted, created_at, updated_at
			FROM provider_credentials
			WHERE service = $1
		`, service)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		row, qerr = pgx.CollectOneRow(rows, pgx.RowToStructByName[credentialRow])
		return qerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get credential for %s: %w", service, err)
	}

	plaintext, err := r.encryptor.Decrypt(row.ValueEncrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt credential for %s: %w", service, err)
	}
	return string(plaintext), nil
}

// Set stores or replaces a credential for a service.
func (r *CredentialRepo) Set(ctx context.Context, service, value string) error {
	encrypted, err := r.encryptor.Encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("encrypt credential for %s: %w", service, err)
	}

	now := r.timeProvider.Now().UTC()
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO provider_credentials (service, value_encrypted, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (service) DO UPDATE
		SET value_encrypted = EXCLUDED.value_encrypted, updated_at = EXCLUDED.updated_at
	`, service, encrypted, now)
	if err != nil {
		return fmt.Errorf("set credential for %s: %w", service, err)
	}
	return nil
}

// Delete removes a stored credential.
func (r *CredentialRepo) Delete(ctx context.Context, service string) error {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM provider_credentials WHERE service = $1`, service)
	if err != nil {
		return fmt.Errorf("delete credential for %s: %w", service, err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// ListServices returns the service names that have a stored credential.
// Values are intentionally excluded.
func (r *CredentialRepo) ListServices(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT service FROM provider_credentials ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("list credential services: %w", err)
	}
	defer rows.Close()

	var services []string
	for rows.Next() {
		var s string
		if scanErr := rows.Scan(&s); scanErr != nil {
			return nil, fmt.Errorf("scan credential service: %w", scanErr)
		}
		services = append(services, s)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate credential services: %w", rowsErr)
	}
	return services, nil
}

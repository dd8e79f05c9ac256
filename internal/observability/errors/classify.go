package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/pixeldeck/pixeldeck/internal/errors"
)

// Classify maps an error to a stable class name used as a metric tag.
// Engine errors report their application code, database errors their
// Postgres code, and anything else falls back to a normalized form of
// the innermost concrete type.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var appErr *apperrors.AppError
	if goerrors.As(err, &appErr) {
		return string(appErr.Code)
	}

	switch {
	case goerrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	}

	var pgErr *pgconn.PgError
	if goerrors.As(err, &pgErr) {
		return "pg_" + strings.ToLower(pgErr.Code)
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	name := strings.Trim(fmt.Sprintf("%T", err), "*")
	name = strings.NewReplacer(".", "_", " ", "_").Replace(strings.ToLower(name))
	if name == "" {
		return "unknown"
	}
	return name
}

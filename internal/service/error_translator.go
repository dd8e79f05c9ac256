package service

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/pixeldeck/pixeldeck/internal/domain/model"
	apperrors "github.com/pixeldeck/pixeldeck/internal/errors"
)

// sensitivePattern matches credential-bearing fragments that must never reach
// the host shell: bearer headers, key/token query or form pairs, and anything
// that looks like an API key assignment.
var sensitivePattern = regexp.MustCompile(
	`(?i)(bearer\s+[a-z0-9._~+/=-]+|(api[_-]?key|token|secret|password|authorization)\s*[=:]\s*\S+)`)

// TranslatedError is a user-safe message/code pair.
type TranslatedError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ErrorTranslatorOptions groups dependencies for ErrorTranslator.
type ErrorTranslatorOptions struct {
	Logger *slog.Logger // Optional: structured logger for the full, unredacted error
}

// ErrorTranslator converts raw downstream errors into user-safe message/code
// pairs. The full error is logged internally; the returned message carries no
// credentials, stack traces, or connection strings.
type ErrorTranslator struct {
	logger *slog.Logger
}

// NewErrorTranslator constructs a new ErrorTranslator.
func NewErrorTranslator(opts ErrorTranslatorOptions) *ErrorTranslator {
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "error_translator")
	}
	return &ErrorTranslator{logger: logger}
}

// Translate produces the pair surfaced to the caller. The defaultCode applies
// unless the error itself carries a more specific classification.
func (t *ErrorTranslator) Translate(ctx context.Context, jobID string, err error, defaultCode string) TranslatedError {
	if err == nil {
		return TranslatedError{Message: "an unknown error occurred", Code: defaultCode}
	}

	if t.logger != nil {
		t.logger.ErrorContext(ctx, "job error", "job_id", jobID, "code", defaultCode, "err", err)
	}

	code := defaultCode
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrCodeValidation:
			code = model.CodeJobConfigurationError
		case apperrors.ErrCodeConflict:
			code = model.CodeJobAlreadyRunning
		}
	}

	return TranslatedError{Message: sanitizeMessage(err.Error()), Code: code}
}

// sanitizeMessage keeps the first line of the error, redacts anything that
// looks like a credential, and caps the length.
func sanitizeMessage(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	msg = sensitivePattern.ReplaceAllString(msg, "[redacted]")
	msg = strings.TrimSpace(msg)
	const maxLen = 300
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "..."
	}
	if msg == "" {
		msg = "an unknown error occurred"
	}
	return msg
}

package httpx

import (
	"net/http"

	apperrors "github.com/pixeldeck/pixeldeck/internal/errors"
)

// WriteAppError maps an application error onto the right HTTP status and
// error code.
func WriteAppError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	errCode := "internal_error"

	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeNotFound:
		code, errCode = http.StatusNotFound, "not_found"
	case apperrors.ErrCodeValidation:
		code, errCode = http.StatusBadRequest, "validation_error"
	case apperrors.ErrCodeConflict:
		code, errCode = http.StatusConflict, "conflict"
	case apperrors.ErrCodeForeignKey:
		code, errCode = http.StatusBadRequest, "foreign_key_violation"
	case apperrors.ErrCodeTimeout:
		code, errCode = http.StatusGatewayTimeout, "timeout"
	case apperrors.ErrCodeCanceled:
		code, errCode = http.StatusRequestTimeout, "canceled"
	}

	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err})
}

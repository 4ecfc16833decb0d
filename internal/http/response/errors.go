package response

import (
	"errors"
	"net/http"

	apperrors "github.com/yungbote/kanda-backend/internal/pkg/errors"
	"github.com/yungbote/kanda-backend/internal/platform/apierr"
)

// StatusFor maps a service error onto an HTTP status and a stable code.
func StatusFor(err error) (int, string) {
	var ae *apierr.Error
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &ae) && ae.Status != 0:
		return ae.Status, ae.Code
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrLimitReached):
		return http.StatusBadRequest, "limit_reached"
	case errors.Is(err, apperrors.ErrNotReady):
		return http.StatusBadRequest, "not_ready"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

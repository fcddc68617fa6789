// Package apperr holds the error kinds every slot operation can return.
// Callers match them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/window"
)

var (
	// InvalidTimeFormat shares identity with the normalizer's error so that
	// window failures match without re-wrapping.
	InvalidTimeFormat = window.ErrInvalidTimeFormat
	PastWindow        = errors.New("window starts in the past")
	InvalidUnit       = errors.New("unknown resource or unit")
	Conflict          = errors.New("window conflicts with an existing block or reservation")
	Forbidden         = errors.New("principal does not own the resource")
	NotFound          = errors.New("not found")
	InvalidInput      = errors.New("invalid input")
	Unavailable       = errors.New("storage unavailable")
)

// Unavailablef wraps a storage or transport failure so it matches both
// Unavailable and the original cause.
func Unavailablef(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, Unavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", Unavailable, err)
}

// Code is the stable machine-readable name of an error kind.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	// Checked first: a transient failure joined with any other kind must
	// stay retryable.
	case errors.Is(err, Unavailable):
		return "unavailable"
	case errors.Is(err, InvalidTimeFormat):
		return "invalid_time_format"
	case errors.Is(err, PastWindow):
		return "past_window"
	case errors.Is(err, InvalidUnit):
		return "invalid_unit"
	case errors.Is(err, Conflict):
		return "conflict"
	case errors.Is(err, Forbidden):
		return "forbidden"
	case errors.Is(err, NotFound):
		return "not_found"
	case errors.Is(err, InvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case "invalid_time_format", "invalid_input":
		return http.StatusBadRequest
	case "past_window", "invalid_unit":
		return http.StatusUnprocessableEntity
	case "conflict":
		return http.StatusConflict
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

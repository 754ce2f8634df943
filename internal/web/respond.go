package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kirakira-garden/kirakira-api/internal/access"
	"github.com/kirakira-garden/kirakira-api/internal/db"
	"github.com/kirakira-garden/kirakira-api/internal/garden"
	"github.com/kirakira-garden/kirakira-api/internal/streak"
	"github.com/kirakira-garden/kirakira-api/internal/telegram"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

var (
	errMalformedBody = errors.New("request body is not valid JSON")
	errUnavailable   = errors.New("feature is not configured")
)

// inputError is a request that parsed but is not acceptable.
type inputError struct {
	msg string
}

func (e *inputError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &inputError{msg: fmt.Sprintf(format, args...)}
}

// statusFor maps an error from any layer to its HTTP status.
func statusFor(err error) int {
	var (
		input    *inputError
		validate *streak.ValidationError
		config   *access.ConfigurationError
	)
	switch {
	case errors.Is(err, errMalformedBody):
		return http.StatusBadRequest
	case errors.Is(err, access.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, access.ErrForbidden), errors.Is(err, garden.ErrPremiumRequired):
		return http.StatusForbidden
	case errors.Is(err, db.ErrNotFound), errors.Is(err, telegram.ErrNoPhoto):
		return http.StatusNotFound
	case errors.Is(err, db.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &input),
		errors.As(err, &validate),
		errors.Is(err, garden.ErrUnknownMood),
		errors.Is(err, garden.ErrDateOutOfRange),
		errors.Is(err, garden.ErrNoteTooLong),
		errors.Is(err, garden.ErrInsufficientCoins):
		return http.StatusUnprocessableEntity
	case errors.As(err, &config),
		errors.Is(err, errUnavailable),
		errors.Is(err, telegram.ErrRateLimited),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError writes err as {"error": "..."}. Server-side failures are logged
// and answered with the bare status text.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
		h.log.Errorw("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"caller", callerOf(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a single JSON object into dst. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", errMalformedBody)
	}
	return nil
}

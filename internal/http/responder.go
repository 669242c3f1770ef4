package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/example/fleetshare/internal/access"
	"github.com/example/fleetshare/internal/booking"
	"github.com/example/fleetshare/internal/latefee"
	"github.com/example/fleetshare/internal/logging"
	"github.com/example/fleetshare/internal/persistence"
	"github.com/example/fleetshare/internal/recurrence"
	"github.com/example/fleetshare/internal/trip"
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
	Conflicts []conflictView    `json:"conflicts,omitempty"`
}

type conflictView struct {
	ReservationID string `json:"reservation_id"`
	Start         string `json:"start"`
	End           string `json:"end"`
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

// handleServiceError maps domain errors onto HTTP statuses. Token failures
// are deliberately generic: the client learns only that the code no longer
// works, never which check rejected it.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, "unknown error")
		return
	}

	var vErr *booking.ValidationError
	var cErr *booking.ConflictError

	switch {
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			Message: "validation failed",
			Errors:  vErr.FieldErrors,
		})
	case errors.As(err, &cErr):
		conflicts := make([]conflictView, 0, len(cErr.Conflicts))
		for _, interval := range cErr.Conflicts {
			conflicts = append(conflicts, conflictView{
				ReservationID: interval.ID,
				Start:         interval.Start.UTC().Format(timeLayout),
				End:           interval.End.UTC().Format(timeLayout),
			})
		}
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode: "RESERVATION_CONFLICT",
			Message:   "the requested time overlaps existing reservations",
			Conflicts: conflicts,
		})
	case errors.Is(err, booking.ErrUnauthorized):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{
			ErrorCode: "FORBIDDEN",
			Message:   "you are not allowed to perform this operation",
		})
	case errors.Is(err, access.ErrTokenInvalid):
		r.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
			ErrorCode: "TOKEN_INVALID",
			Message:   "access code is no longer valid",
		})
	case errors.Is(err, booking.ErrNotFound),
		errors.Is(err, recurrence.ErrNotFound),
		errors.Is(err, latefee.ErrNotFound),
		errors.Is(err, trip.ErrNotFound),
		errors.Is(err, persistence.ErrNotFound):
		r.writeError(ctx, w, http.StatusNotFound, "resource not found")
	case errors.Is(err, trip.ErrAlreadyCheckedOut):
		r.writeError(ctx, w, http.StatusConflict, "reservation is already checked out")
	case errors.Is(err, trip.ErrNotConfirmed),
		errors.Is(err, trip.ErrNotCheckedOut),
		errors.Is(err, trip.ErrNotCancellable),
		errors.Is(err, latefee.ErrNotWaivable):
		r.writeError(ctx, w, http.StatusConflict, "the operation conflicts with the current state")
	case errors.Is(err, latefee.ErrReasonRequired):
		r.writeError(ctx, w, http.StatusBadRequest, "a waiver reason is required")
	case errors.Is(err, persistence.ErrUnavailable):
		r.loggerFor(ctx).ErrorContext(ctx, "storage unavailable", "error", err)
		r.writeError(ctx, w, http.StatusServiceUnavailable, "the service is temporarily unavailable")
	default:
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "error", err)
		r.writeError(ctx, w, http.StatusInternalServerError, "internal server error")
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

package dispatchapi

import (
	"log/slog"
	"net/http"

	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/models"
)

// writeError maps business errors to HTTP codes. Anything unrecognised is an
// infrastructure failure: лог с деталями, клиенту — 500 без внутренностей.
func writeError(w http.ResponseWriter, err error) {
	var invalidTransition *models.InvalidTransitionError
	var codeMismatch *models.CodeMismatchError

	switch {
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorView{Error: "not found"})
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorView{Error: err.Error()})
	case errors.Is(err, models.ErrAlreadyAssigned):
		writeJSON(w, http.StatusConflict, errorView{Error: "order already assigned"})
	case errors.Is(err, models.ErrConflict):
		writeJSON(w, http.StatusConflict, errorView{Error: "concurrent state change, re-read and retry"})
	case errors.Is(err, models.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, errorView{Error: "forbidden"})
	case errors.Is(err, models.ErrInsufficientBalance):
		writeJSON(w, http.StatusConflict, errorView{Error: "balance allowance exceeded"})
	case errors.Is(err, models.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorView{Error: "too many attempts, slow down"})
	case errors.As(err, &invalidTransition):
		writeJSON(w, http.StatusConflict, errorView{Error: invalidTransition.Error()})
	case errors.As(err, &codeMismatch):
		writeJSON(w, http.StatusUnprocessableEntity, errorView{
			Error:    "delivery code mismatch",
			Attempts: codeMismatch.Attempts,
		})
	default:
		slog.Error("request failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorView{Error: "internal error"})
	}
}

package httpx

import (
	"errors"
	"net/http"

	"github.com/balcao-erp/balcao-erp/internal/shared"
)

// RespondError maps domain errors to RFC7807 responses. Typed errors carry
// their detail; unknown errors collapse to a bare 500.
func RespondError(w http.ResponseWriter, err error) {
	var stockErr *shared.InsufficientStockError
	switch {
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &stockErr):
		Problem(w, http.StatusConflict, "Insufficient Stock", stockErr.Error())
	case errors.Is(err, shared.ErrInvalidAmount),
		errors.Is(err, shared.ErrInvalidQuantity),
		errors.Is(err, shared.ErrMissingIdempotencyToken),
		errors.Is(err, shared.ErrInvalidMonth),
		errors.Is(err, shared.ErrPaymentMethodRequired):
		Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, shared.ErrOwnershipMismatch):
		Problem(w, http.StatusConflict, "Ownership Mismatch", err.Error())
	case errors.Is(err, shared.ErrAlreadySettled),
		errors.Is(err, shared.ErrAlreadyOpen),
		errors.Is(err, shared.ErrRegisterNotOpen),
		errors.Is(err, shared.ErrAlreadyClosed),
		errors.Is(err, shared.ErrCannotCloseCurrentMonth):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrPeriodClosed):
		Problem(w, http.StatusUnprocessableEntity, "Period Closed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusUnprocessableEntity, "Idempotency Conflict", err.Error())
	case errors.Is(err, shared.ErrAlreadyProcessing):
		Problem(w, http.StatusConflict, "Already Processing", err.Error())
	case errors.Is(err, shared.ErrDuplicateSKU):
		Problem(w, http.StatusConflict, "Duplicate SKU", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates a missing or unidentified caller.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller's role does not permit the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAmount indicates a non-positive monetary input.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidQuantity indicates a non-positive quantity input.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	// ErrOwnershipMismatch indicates the entity belongs to a different client.
	ErrOwnershipMismatch = errors.New("entity does not belong to the given client")
	// ErrAlreadySettled indicates a payment against a fully settled order.
	ErrAlreadySettled = errors.New("order has no remaining balance")
	// ErrRegisterNotOpen indicates the referenced cash register is not OPEN.
	ErrRegisterNotOpen = errors.New("cash register is not open")
	// ErrAlreadyOpen indicates the operator already has an open register.
	ErrAlreadyOpen = errors.New("operator already has an open cash register")
	// ErrPaymentMethodRequired indicates a positive exchange difference without a method.
	ErrPaymentMethodRequired = errors.New("payment method required for cash difference")
	// ErrPeriodClosed indicates the target competency month has been closed.
	ErrPeriodClosed = errors.New("accounting period is closed")
	// ErrIdempotencyConflict indicates a token reused with a different payload.
	ErrIdempotencyConflict = errors.New("idempotency token reused with different payload")
	// ErrAlreadyProcessing indicates a duplicate request still in flight.
	ErrAlreadyProcessing = errors.New("request with this token is still processing")
	// ErrMissingIdempotencyToken indicates a mutating call without a token.
	ErrMissingIdempotencyToken = errors.New("idempotency token required")
	// ErrInvalidMonth indicates a month outside the YYYY-MM pattern.
	ErrInvalidMonth = errors.New("month must match YYYY-MM")
	// ErrCannotCloseCurrentMonth rejects closing the running calendar month.
	ErrCannotCloseCurrentMonth = errors.New("current month cannot be closed")
	// ErrAlreadyClosed indicates the month has a financial closure already.
	ErrAlreadyClosed = errors.New("month already closed")
	// ErrDuplicateSKU indicates the SKU is already assigned to another product.
	ErrDuplicateSKU = errors.New("sku already exists")
)

// InsufficientStockError names the product, size and available quantity so
// callers can render a precise message.
type InsufficientStockError struct {
	ProductID string
	Size      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	if e.Size != "" {
		return fmt.Sprintf("insufficient stock for product %s size %s: available %d, requested %d",
			e.ProductID, e.Size, e.Available, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// IsInsufficientStock reports whether err is an InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var ise *InsufficientStockError
	return errors.As(err, &ise)
}

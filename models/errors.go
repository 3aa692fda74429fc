package models

import (
	"errors"
	"net/http"
)

// Error taxonomy shared by the stores, the engines and the HTTP layer.
// Callers classify with errors.Is; every layer wraps with fmt.Errorf("...: %w").
var (
	ErrValidation          = errors.New("validation failed")
	ErrDuplicate           = errors.New("duplicate")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDepthExceeded       = errors.New("genealogy depth exceeded")
	ErrNotFound            = errors.New("not found")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// ErrNotEligible marks a deposit that can no longer accrue. It is a validation-class error.
var ErrNotEligible = &classifiedError{msg: "deposit not eligible for accrual", kind: ErrValidation}

type classifiedError struct {
	msg  string
	kind error
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() error { return e.kind }

// IsRecoverable reports whether the caller may safely retry or ignore err.
// Validation and duplicate errors are recoverable; everything else is surfaced.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrDuplicate)
}

// IsDataIntegrityFault reports errors that abort a batch item and need manual review.
func IsDataIntegrityFault(err error) bool {
	return errors.Is(err, ErrDepthExceeded) || errors.Is(err, ErrInvariantViolation)
}

// HTTPStatus maps an error to the status code the API layer answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrDepthExceeded), errors.Is(err, ErrInvariantViolation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

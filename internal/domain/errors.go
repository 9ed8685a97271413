package domain

import (
	"fmt"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches by code, so errors.Is(ErrX.WithError(cause), ErrX) holds.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

// Pre-defined errors
var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: 500,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: 400,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Invalid or missing admin token",
		StatusCode: 401,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests",
		StatusCode: 429,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: 422,
	}

	// Matching errors
	ErrDimensionMismatch = &AppError{
		Code:       "DIMENSION_MISMATCH",
		Message:    "Embedding dimension does not match enrolled embeddings",
		StatusCode: 422,
	}

	ErrInvalidEmbedding = &AppError{
		Code:       "INVALID_EMBEDDING",
		Message:    "Embedding is not a valid L2-normalized vector",
		StatusCode: 422,
	}

	// Enrollment errors
	ErrIdentityNotFound = &AppError{
		Code:       "IDENTITY_NOT_FOUND",
		Message:    "Identity not found",
		StatusCode: 404,
	}

	ErrDuplicateIdentity = &AppError{
		Code:       "IDENTITY_ALREADY_ACTIVE",
		Message:    "Identity is already enrolled and active",
		StatusCode: 409,
	}

	// Delivery errors
	ErrTransportUnavailable = &AppError{
		Code:       "TRANSPORT_UNAVAILABLE",
		Message:    "Event transport is unavailable",
		StatusCode: 503,
	}

	ErrPermanentDeliveryFailure = &AppError{
		Code:       "PERMANENT_DELIVERY_FAILURE",
		Message:    "Event delivery attempts exhausted",
		StatusCode: 500,
	}

	ErrOutboxEntryNotFound = &AppError{
		Code:       "OUTBOX_ENTRY_NOT_FOUND",
		Message:    "Outbox entry not found or not in a requeueable state",
		StatusCode: 404,
	}
)

package services

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"civicfix-be/store"
)

// Error kinds. Every error returned by this package matches exactly one of
// them with errors.Is, except unexpected infrastructure failures.
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrIdempotentTransition = errors.New("status unchanged")
	ErrConflict             = errors.New("conflict")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrEmailTaken           = errors.New("email taken")
)

// Error carries a client-facing message alongside its kind and cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind error, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// fromStore maps storage sentinels onto error kinds. Errors already produced
// by this package pass through. A cancelled or expired context is a
// retryable conflict: whatever was in flight was not committed.
func fromStore(err error, notFound string) error {
	var se *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return err
	case errors.Is(err, store.ErrNotFound):
		return newError(ErrNotFound, notFound, err)
	case errors.Is(err, store.ErrConflict):
		return newError(ErrConflict, "The change could not be committed, please retry", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(ErrConflict, "The request timed out, please retry", err)
	}
	return err
}

// fromValidator turns validator output into a single ErrValidation.
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newError(ErrValidation, err.Error(), nil)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return newError(ErrValidation, strings.Join(msgs, "; "), nil)
}

func describeField(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "email":
		return field + " must be a valid email"
	case "oneof":
		return field + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte", "lte":
		return field + " is out of range"
	}
	return field + " is invalid"
}

package session

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation          = "VALIDATION_ERROR"
	TextCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	TextCodeDuplicateIdentity   = "DUPLICATE_IDENTITY"
	TextCodeNotAuthenticated    = "NOT_AUTHENTICATED"
	TextCodeInvalidToken        = "INVALID_OR_EXPIRED_TOKEN"
	TextCodeNotFound            = "NOT_FOUND"
	TextCodeBackend             = "BACKEND_ERROR"
	TextCodeOperationInProgress = "OPERATION_IN_PROGRESS"
	TextCodeClosed              = "COORDINATOR_CLOSED"
	TextCodeUnsupported         = "UNSUPPORTED_OPERATION"
	TextCodeMissingConfig       = "MISSING_BACKEND_CONFIG"
)

// Sentinels are shared values, call Clone before decorating them.

// ErrValidation is the base for local, field scoped input failures.
var ErrValidation = goerrors.New("invalid input", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials is returned when email and password do not match.
var ErrInvalidCredentials = goerrors.New("Invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrDuplicateIdentity is returned when registering an email already in use.
var ErrDuplicateIdentity = goerrors.New("User with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(goerrors.CodeConflict)

// ErrNotAuthenticated is returned by operations that need a signed in identity.
var ErrNotAuthenticated = goerrors.New("You must be signed in to perform this action", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidOrExpiredToken is returned when a reset context is missing, used or expired.
var ErrInvalidOrExpiredToken = goerrors.New("Password reset link is invalid or has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrBackend is the catch all for unexpected remote failures.
var ErrBackend = goerrors.New("identity backend error", goerrors.CategoryExternal).
	WithTextCode(TextCodeBackend).
	WithCode(goerrors.CodeInternal)

// ErrOperationInProgress is returned when the same operation is already pending.
var ErrOperationInProgress = goerrors.New("operation already in progress", goerrors.CategoryConflict).
	WithTextCode(TextCodeOperationInProgress).
	WithCode(goerrors.CodeConflict)

// ErrClosed is returned by a coordinator after Close.
var ErrClosed = goerrors.New("session coordinator is closed", goerrors.CategoryOperation).
	WithTextCode(TextCodeClosed).
	WithCode(goerrors.CodeBadRequest)

// ErrUnsupported is returned when the backend lacks an optional capability.
var ErrUnsupported = goerrors.New("operation not supported by identity backend", goerrors.CategoryOperation).
	WithTextCode(TextCodeUnsupported).
	WithCode(goerrors.CodeBadRequest)

// ErrMissingBackendConfig is returned when the backend cannot be reached
// with the current configuration.
var ErrMissingBackendConfig = goerrors.New("identity backend url and public key are required", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMissingConfig).
	WithCode(goerrors.CodeBadRequest)

var taxonomy = map[string]struct{}{
	TextCodeValidation:          {},
	TextCodeInvalidCredentials:  {},
	TextCodeDuplicateIdentity:   {},
	TextCodeNotAuthenticated:    {},
	TextCodeInvalidToken:        {},
	TextCodeNotFound:            {},
	TextCodeBackend:             {},
	TextCodeOperationInProgress: {},
	TextCodeClosed:              {},
	TextCodeUnsupported:         {},
	TextCodeMissingConfig:       {},
}

// Kind returns the text code of a session error, or "" for foreign errors.
func Kind(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if _, ok := taxonomy[richErr.TextCode]; ok {
			return richErr.TextCode
		}
	}
	return ""
}

func IsValidationError(err error) bool       { return Kind(err) == TextCodeValidation }
func IsInvalidCredentials(err error) bool    { return Kind(err) == TextCodeInvalidCredentials }
func IsDuplicateIdentity(err error) bool     { return Kind(err) == TextCodeDuplicateIdentity }
func IsNotAuthenticated(err error) bool      { return Kind(err) == TextCodeNotAuthenticated }
func IsInvalidOrExpiredToken(err error) bool { return Kind(err) == TextCodeInvalidToken }
func IsNotFound(err error) bool              { return Kind(err) == TextCodeNotFound }
func IsBackendError(err error) bool          { return Kind(err) == TextCodeBackend }
func IsOperationInProgress(err error) bool   { return Kind(err) == TextCodeOperationInProgress }

// FieldErrors flattens validation failures into field -> message.
func FieldErrors(err error) map[string]string {
	fields, ok := goerrors.GetValidationErrors(err)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if _, exists := out[f.Field]; !exists {
			out[f.Field] = f.Message
		}
	}
	return out
}

// Message returns the human readable part of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return err.Error()
}

// WrapBackendError keeps taxonomy errors as they are and wraps everything
// else as a BackendError.
func WrapBackendError(err error, message string) error {
	if err == nil {
		return nil
	}
	if Kind(err) != "" {
		return err
	}
	wrapped := goerrors.Wrap(err, goerrors.CategoryExternal, message)
	wrapped.Category = goerrors.CategoryExternal
	return wrapped.
		WithTextCode(TextCodeBackend).
		WithCode(goerrors.CodeInternal)
}

// NewError clones base and replaces its message. Adapters use it to keep
// the remote message while returning a taxonomy error.
func NewError(base *goerrors.Error, message string) *goerrors.Error {
	e := base.Clone()
	if message != "" {
		e.Message = message
	}
	return e
}

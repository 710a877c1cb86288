package service

import "errors"

// Stable validation codes returned to clients.
const (
	CodeMissingReason = "missing_reason"
	CodeInvalidDueAt  = "invalid_due_at"
	CodeInvalidStatus = "invalid_status"
)

// ValidationError rejects a request before any state is changed.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Code + ": " + e.Message
}

func newValidationError(code, message string) error {
	return &ValidationError{Code: code, Message: message}
}

// AsValidation unwraps a ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

package schema

import "fmt"

// Error codes for structured error reporting. Configuration errors are fatal
// to an execution and never retried; execution errors are terminal per
// execution. Control-flow non-matches (entry non-match, re-entry denial,
// opted-out recipient) are not errors and have no code here.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeConfig            = "CONFIG_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStepFailed        = "STEP_FAILED"
	ErrCodeStepLimit         = "STEP_LIMIT_EXCEEDED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
)

// AutomationError is the structured error type for all engine operations.
type AutomationError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepKey string         `json:"step_key,omitempty"`
	Cause   error          `json:"-"`
}

func (e *AutomationError) Error() string {
	if e.StepKey != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepKey, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AutomationError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AutomationError.
func NewError(code, message string) *AutomationError {
	return &AutomationError{Code: code, Message: message}
}

// NewErrorf creates a new AutomationError with a formatted message.
func NewErrorf(code, format string, args ...any) *AutomationError {
	return &AutomationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step key to the error.
func (e *AutomationError) WithStep(key string) *AutomationError {
	e.StepKey = key
	return e
}

// WithCause attaches an underlying cause.
func (e *AutomationError) WithCause(err error) *AutomationError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AutomationError) WithDetails(details map[string]any) *AutomationError {
	e.Details = details
	return e
}

// IsConfigError reports whether err is a fatal configuration error
// (missing step, missing required config field). These are never retried.
func IsConfigError(err error) bool {
	ae, ok := err.(*AutomationError)
	return ok && (ae.Code == ErrCodeConfig || ae.Code == ErrCodeValidation)
}

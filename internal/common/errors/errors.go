// Package errors provides standardized error handling for the request pipeline.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeClassificationFailed ErrorCode = "CLASSIFICATION_FAILED"
	ErrCodeClassifierTimeout    ErrorCode = "CLASSIFIER_TIMEOUT"

	ErrCodeExtractionFailed ErrorCode = "EXTRACTION_FAILED"
	ErrCodeExtractorTimeout ErrorCode = "EXTRACTOR_TIMEOUT"

	ErrCodeNoMatchingTemplate  ErrorCode = "NO_MATCHING_TEMPLATE"
	ErrCodeTemplateNotFound    ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeTemplateLoadFailed  ErrorCode = "TEMPLATE_LOAD_FAILED"
	ErrCodeTemplateVanished    ErrorCode = "TEMPLATE_VANISHED"
	ErrCodeGenerationFailed    ErrorCode = "GENERATION_FAILED"
	ErrCodeValidationBlocked   ErrorCode = "VALIDATION_BLOCKED"
	ErrCodeOverrideRequired    ErrorCode = "OVERRIDE_REQUIRED"
	ErrCodeInvalidTransition   ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeRequestBusy         ErrorCode = "REQUEST_BUSY"
	ErrCodeRequestNotFound     ErrorCode = "REQUEST_NOT_FOUND"
	ErrCodeExecutionFailed     ErrorCode = "EXECUTION_FAILED"
	ErrCodeExecutionTimeout    ErrorCode = "EXECUTION_TIMEOUT"
	ErrCodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	ErrCodeAuditWriteFailed    ErrorCode = "AUDIT_WRITE_FAILED"
	ErrCodeInvariantViolation  ErrorCode = "INVARIANT_VIOLATION"
)

// StandardError represents a structured application error. Hint carries the
// remediation shown to the user: edit, regenerate, retry, or escalate.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Hint      string                 `json:"hint,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewClassificationFailedError creates a recoverable classification error.
// The pipeline continues with intent UNKNOWN, so the hint points at rephrasing.
func NewClassificationFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeClassificationFailed,
		Message:   "Intent classification failed",
		Details:   err.Error(),
		Hint:      "rephrase the request or regenerate",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewClassifierTimeoutError creates a retryable model timeout error.
func NewClassifierTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeClassifierTimeout,
		Message:   "Model completion timed out during classification",
		Details:   "completion call exceeded timeout threshold",
		Hint:      "regenerate to retry classification",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewExtractionFailedError creates a recoverable extraction error. A partial
// EntityResult is still accepted.
func NewExtractionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExtractionFailed,
		Message:   "Entity extraction failed",
		Details:   err.Error(),
		Hint:      "edit the missing fields or regenerate",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewExtractorTimeoutError creates a retryable model timeout error.
func NewExtractorTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeExtractorTimeout,
		Message:   "Model completion timed out during extraction",
		Details:   "completion call exceeded timeout threshold",
		Hint:      "regenerate to retry extraction",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoMatchingTemplateError creates a non-retryable selection error carrying
// the fields that kept every candidate below the coverage threshold.
func NewNoMatchingTemplateError(missingFields []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoMatchingTemplate,
		Message:   "No template reached the required field coverage",
		Details:   fmt.Sprintf("missing fields: %s", strings.Join(missingFields, ", ")),
		Hint:      "edit the request to supply the missing fields",
		Retryable: false,
		Metadata:  map[string]interface{}{"missingFields": missingFields},
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateNotFoundError creates a non-retryable template lookup error.
func NewTemplateNotFoundError(templateID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Template not found in registry",
		Details:   fmt.Sprintf("templateId: %s", templateID),
		Hint:      "regenerate to reselect a template",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateLoadFailedError creates a non-retryable registry load error.
func NewTemplateLoadFailedError(path string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateLoadFailed,
		Message:   "Template document failed schema validation",
		Details:   fmt.Sprintf("path: %s, error: %s", path, err.Error()),
		Hint:      "escalate to an operator to fix the template catalog",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateVanishedError marks the invariant violation of a template version
// disappearing between selection and generation. Non-recoverable.
func NewTemplateVanishedError(templateID string, version int) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateVanished,
		Message:   "Selected template version no longer present in registry",
		Details:   fmt.Sprintf("templateId: %s, version: %d", templateID, version),
		Hint:      "escalate; the request has been forced to Failed",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewGenerationFailedError wraps a payload construction failure.
func NewGenerationFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGenerationFailed,
		Message:   "Structured payload could not be generated",
		Details:   err.Error(),
		Hint:      "regenerate, or edit the extracted fields first",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewOverrideRequiredError blocks approval on warning-severity issues until a
// justification is recorded.
func NewOverrideRequiredError(warningCount int) *StandardError {
	return &StandardError{
		Code:      ErrCodeOverrideRequired,
		Message:   "Approval requires an override justification",
		Details:   fmt.Sprintf("%d warning-severity issues present", warningCount),
		Hint:      "approve again with an override note, or edit the flagged fields",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationBlockedError creates a non-retryable approval block.
func NewValidationBlockedError(errorCount int) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationBlocked,
		Message:   "Validation errors block approval",
		Details:   fmt.Sprintf("%d error-severity issues present", errorCount),
		Hint:      "edit the flagged fields or record an override with justification",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError rejects an illegal state machine edge with the
// current state in context. Never a silent no-op.
func NewInvalidTransitionError(current, requested string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   fmt.Sprintf("Transition %q not allowed from state %q", requested, current),
		Details:   fmt.Sprintf("currentState: %s", current),
		Hint:      "refresh the request state before retrying the action",
		Retryable: false,
		Metadata:  map[string]interface{}{"currentState": current, "requested": requested},
		Timestamp: time.Now().UTC(),
	}
}

// NewRequestBusyError rejects a concurrent action on a request already in flight.
func NewRequestBusyError(requestID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRequestBusy,
		Message:   "Another action on this request is still in flight",
		Details:   fmt.Sprintf("requestId: %s", requestID),
		Hint:      "retry once the current action completes",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRequestNotFoundError creates a non-retryable lookup error.
func NewRequestNotFoundError(requestID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRequestNotFound,
		Message:   "Request not found",
		Details:   fmt.Sprintf("requestId: %s", requestID),
		Hint:      "submit the request again",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewExecutionFailedError creates a retryable execution error carrying the
// remaining retry budget.
func NewExecutionFailedError(err error, remainingRetries int) *StandardError {
	return &StandardError{
		Code:      ErrCodeExecutionFailed,
		Message:   "Execution call to the fleet API failed",
		Details:   err.Error(),
		Hint:      fmt.Sprintf("retry (%d attempts remaining) or return to review", remainingRetries),
		Retryable: remainingRetries > 0,
		Metadata:  map[string]interface{}{"remainingRetries": remainingRetries},
		Timestamp: time.Now().UTC(),
	}
}

// NewExecutionTimeoutError creates a retryable execution timeout error.
func NewExecutionTimeoutError(endpoint string) *StandardError {
	return &StandardError{
		Code:      ErrCodeExecutionTimeout,
		Message:   "Execution call timed out",
		Details:   fmt.Sprintf("endpoint: %s", endpoint),
		Hint:      "retry the execution",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCircuitOpenError short-circuits execution while the breaker is open.
func NewCircuitOpenError(endpoint string, retryAfter time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeCircuitOpen,
		Message:   "Circuit breaker open for endpoint",
		Details:   fmt.Sprintf("endpoint: %s, retryAfter: %s", endpoint, retryAfter),
		Hint:      "wait for the recovery window, then retry",
		Retryable: true,
		Metadata:  map[string]interface{}{"endpoint": endpoint},
		Timestamp: time.Now().UTC(),
	}
}

// NewAuditWriteFailedError creates a retryable persistence error.
func NewAuditWriteFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuditWriteFailed,
		Message:   "Audit record write failed",
		Details:   err.Error(),
		Hint:      "escalate; audit storage needs attention",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvariantViolationError marks a non-recoverable internal inconsistency.
// The owning request is forced to Failed.
func NewInvariantViolationError(what string, metadata map[string]interface{}) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvariantViolation,
		Message:   "Internal invariant violated",
		Details:   what,
		Hint:      "escalate with the request id",
		Retryable: false,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Retry Policy
// ==========================

// GetRetryCount returns the bounded retry budget per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeExecutionFailed,
		ErrCodeAuditWriteFailed:
		return 3

	case ErrCodeClassifierTimeout,
		ErrCodeExtractorTimeout,
		ErrCodeExecutionTimeout:
		return 2

	case ErrCodeClassificationFailed,
		ErrCodeExtractionFailed,
		ErrCodeCircuitOpen:
		return 1

	default:
		return 0 // Business errors and invariant violations: no retry
	}
}

// IsRetryableErrorCode checks if an error code carries a retry budget.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// ==========================
// 4. Utility Functions
// ==========================

// AsStandard normalizes any error into a StandardError so the UI always has a
// coherent object to render.
func AsStandard(err error) *StandardError {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Hint:      "escalate with the request id",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "CLASSIF"):
		return "CLASSIFICATION"
	case strings.Contains(codeStr, "EXTRACT"):
		return "EXTRACTION"
	case strings.Contains(codeStr, "TEMPLATE"):
		return "TEMPLATE"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "OVERRIDE"):
		return "VALIDATION"
	case strings.Contains(codeStr, "TRANSITION") || strings.Contains(codeStr, "REQUEST"):
		return "STATE"
	case strings.Contains(codeStr, "EXECUTION") || strings.Contains(codeStr, "CIRCUIT"):
		return "EXECUTION"
	case strings.Contains(codeStr, "AUDIT"):
		return "PERSISTENCE"
	default:
		return "OTHER"
	}
}

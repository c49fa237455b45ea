// Package errors provides standardized error handling for BPMN workflow integration.
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
	// Table service
	ErrCodeRemoteUnreachable ErrorCode = "REMOTE_UNREACHABLE"
	ErrCodeRemoteRejected    ErrorCode = "REMOTE_REJECTED"

	// Uploads
	ErrCodeFileTooLarge ErrorCode = "FILE_TOO_LARGE"

	// Requisition patch
	ErrCodeRowNotFound    ErrorCode = "ROW_NOT_FOUND"
	ErrCodeColumnNotFound ErrorCode = "COLUMN_NOT_FOUND"

	// Input
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeParseError       ErrorCode = "PARSE_ERROR"

	// Coordination
	ErrCodeLockNotObtained ErrorCode = "LOCK_NOT_OBTAINED"

	// Supporting stores
	ErrCodeJournalFailed          ErrorCode = "JOURNAL_FAILED"
	ErrCodeIndexingFailed         ErrorCode = "INDEXING_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"

	// Workflow engine
	ErrCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayRejected    ErrorCode = "GATEWAY_REJECTED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// WithMetadata attaches a key/value pair that is forwarded as a BPMN error variable.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewRemoteUnreachableError creates a retryable transport error against the table service.
func NewRemoteUnreachableError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRemoteUnreachable,
		Message:   "Table service unreachable",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRemoteRejectedError carries the message the table service returned with success=false.
func NewRemoteRejectedError(operation, serviceMessage string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRemoteRejected,
		Message:   "Table service rejected the request",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, serviceMessage),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewFileTooLargeError creates a non-retryable upload size error.
func NewFileTooLargeError(fileName string, size, limit int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeFileTooLarge,
		Message:   "File exceeds the upload limit",
		Details:   fmt.Sprintf("file: %s, size: %d, limit: %d", fileName, size, limit),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRowNotFoundError reports that no requisition row carries the given key.
func NewRowNotFoundError(indentNumber string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRowNotFound,
		Message:   "Requisition row not found",
		Details:   fmt.Sprintf("indentNumber: %s", indentNumber),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError creates a non-retryable input validation error.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Submission validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewParseError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeParseError,
		Message:   "Job variables could not be parsed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLockNotObtainedError creates a retryable contention error.
func NewLockNotObtainedError(key string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLockNotObtained,
		Message:   "Write lock is held by another submission",
		Details:   fmt.Sprintf("key: %s", key),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewJournalFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeJournalFailed,
		Message:   "Submission journal unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewIndexingFailedError(index string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeIndexingFailed,
		Message:   "Elasticsearch indexing failed",
		Details:   fmt.Sprintf("index: %s, error: %s", index, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("type: %s, error: %s", notificationType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayError wraps a Zeebe gateway failure.
func NewGatewayError(operation string, err error, retryable bool) *StandardError {
	code := ErrCodeGatewayRejected
	if retryable {
		code = ErrCodeGatewayUnavailable
	}
	return &StandardError{
		Code:      code,
		Message:   fmt.Sprintf("Zeebe operation '%s' failed", operation),
		Details:   err.Error(),
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to the codes caught by boundary events.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeRemoteUnreachable:      "REMOTE_UNREACHABLE",
	ErrCodeRemoteRejected:         "REMOTE_REJECTED",
	ErrCodeFileTooLarge:           "FILE_TOO_LARGE",
	ErrCodeRowNotFound:            "ROW_NOT_FOUND",
	ErrCodeColumnNotFound:         "COLUMN_NOT_FOUND",
	ErrCodeValidationFailed:       "VALIDATION_FAILED",
	ErrCodeParseError:             "VALIDATION_FAILED",
	ErrCodeLockNotObtained:        "LOCK_NOT_OBTAINED",
	ErrCodeJournalFailed:          "JOURNAL_FAILED",
	ErrCodeIndexingFailed:         "INDEXING_FAILED",
	ErrCodeNotificationSendFailed: "NOTIFICATION_SEND_FAILED",
}

// GetRetryCount returns the recommended retry count for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeRemoteUnreachable,
		ErrCodeJournalFailed,
		ErrCodeIndexingFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeGatewayUnavailable:
		return 3 // Retryable technical errors

	case ErrCodeLockNotObtained:
		return 5 // Contention clears quickly

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code) // Fallback
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "REMOTE"):
		return "TABLE_SERVICE"
	case strings.Contains(codeStr, "FILE"):
		return "UPLOAD"
	case strings.Contains(codeStr, "ROW") || strings.Contains(codeStr, "COLUMN"):
		return "RECONCILIATION"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "PARSE"):
		return "VALIDATION"
	case strings.Contains(codeStr, "LOCK"):
		return "COORDINATION"
	case strings.Contains(codeStr, "JOURNAL") || strings.Contains(codeStr, "INDEXING"):
		return "STORAGE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.HasPrefix(codeStr, "GATEWAY"):
		return "WORKFLOW_ENGINE"
	default:
		return "OTHER"
	}
}

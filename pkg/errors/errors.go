package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFetch         ErrorCategory = "fetch"
	CategoryParse         ErrorCategory = "parse"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryBatch         ErrorCategory = "batch"
	CategoryStore         ErrorCategory = "store"
	CategoryNetwork       ErrorCategory = "network"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Fetch errors
	CodeFetchFailed   ErrorCode = "fetch_failed"
	CodeCountFailed   ErrorCode = "count_failed"
	CodeEmptyResult   ErrorCode = "empty_result"
	CodeFetchRejected ErrorCode = "fetch_rejected"

	// Parse errors
	CodeInvalidXML   ErrorCode = "invalid_xml"
	CodeNoActivities ErrorCode = "no_activities"
	CodeInvalidData  ErrorCode = "invalid_data"
	CodeDecodeFailed ErrorCode = "decode_failed"

	// Validation errors
	CodeInvalidDate  ErrorCode = "invalid_date"
	CodeMissingField ErrorCode = "missing_field"
	CodeOutOfRange   ErrorCode = "out_of_range"
	CodeInvalidRule  ErrorCode = "invalid_rule"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Batch errors
	CodeSubmitFailed  ErrorCode = "submit_failed"
	CodePollFailed    ErrorCode = "poll_failed"
	CodeCountMismatch ErrorCode = "count_mismatch"
	CodeBatchRejected ErrorCode = "batch_rejected"

	// Store errors
	CodeStoreOpenFailed ErrorCode = "store_open_failed"
	CodeQueryFailed     ErrorCode = "query_failed"

	// Network errors
	CodeConnectionFailed   ErrorCode = "connection_failed"
	CodeTimeout            ErrorCode = "timeout"
	CodeServiceUnavailable ErrorCode = "service_unavailable"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ImportError is the base error type for all application errors
type ImportError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ImportError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ImportError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ImportError) GetExitCode() int {
	switch e.Category {
	case CategoryFetch, CategoryParse:
		return 2
	case CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryBatch, CategoryStore, CategoryInternal:
		return 5
	case CategoryNetwork:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ImportError) WithContext(key string, value interface{}) *ImportError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ImportError) WithSuggestion(suggestion string) *ImportError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ImportError
func New(category ErrorCategory, code ErrorCode, message string) *ImportError {
	return &ImportError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ImportError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err == nil {
		return nil
	}

	return &ImportError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Specific error constructors

// FetchError creates an error for a failed registry/datastore fetch
func FetchError(code ErrorCode, organization string, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeFetchFailed:
		message = fmt.Sprintf("failed to fetch activities for organisation %s", organization)
		suggestion = "check the organisation identifier and registry availability, then retry"
	case CodeCountFailed:
		message = fmt.Sprintf("failed to estimate activity count for organisation %s", organization)
		suggestion = "retry the preview or proceed with a full fetch"
	case CodeEmptyResult:
		message = fmt.Sprintf("no published activities found for organisation %s", organization)
		suggestion = "verify the organisation publishes IATI data and the filters are not too narrow"
	case CodeFetchRejected:
		message = fmt.Sprintf("registry rejected the fetch request for organisation %s", organization)
		suggestion = "check the request parameters against the registry contract"
	default:
		message = fmt.Sprintf("fetch error for organisation %s", organization)
		suggestion = "check the registry connection and try again"
	}

	var result *ImportError
	if err != nil {
		result = Wrap(err, CategoryFetch, code, message)
	} else {
		result = New(CategoryFetch, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("organization", organization)
}

// ParseError creates an error for a failed XML parse call
func ParseError(code ErrorCode, detail string, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidXML:
		message = fmt.Sprintf("the uploaded content is not valid IATI XML: %s", detail)
		suggestion = "check the file is an iati-activities document in UTF-8 encoding"
	case CodeNoActivities:
		message = "no activities found in the uploaded XML"
		suggestion = "verify the document contains iati-activity elements"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid activity data: %s", detail)
		suggestion = "correct the flagged fields or deselect the affected activities"
	case CodeDecodeFailed:
		message = fmt.Sprintf("failed to decode parse response: %s", detail)
		suggestion = "this usually indicates a contract mismatch with the parse endpoint"
	default:
		message = fmt.Sprintf("parse error: %s", detail)
		suggestion = "check the source document and try again"
	}

	var result *ImportError
	if err != nil {
		result = Wrap(err, CategoryParse, code, message)
	} else {
		result = New(CategoryParse, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("detail", detail)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use ISO dates in the form YYYY-MM-DD"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	case CodeInvalidRule:
		message = fmt.Sprintf("invalid import rule value in '%s': %v", field, value)
		suggestion = "use one of the documented rule values"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	var result *ImportError
	if err != nil {
		result = Wrap(err, CategoryValidation, code, message)
	} else {
		result = New(CategoryValidation, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	var result *ImportError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, message)
	} else {
		result = New(CategoryConfiguration, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// BatchError creates an error for the batch execution collaborator
func BatchError(code ErrorCode, batchID string, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeSubmitFailed:
		message = "failed to submit the import batch"
		suggestion = "check the batch endpoint availability and retry the import"
	case CodePollFailed:
		message = fmt.Sprintf("failed to poll status for batch %s", batchID)
		suggestion = "the batch may still be running; retry the status query"
	case CodeCountMismatch:
		message = fmt.Sprintf("batch %s reported inconsistent item counts", batchID)
		suggestion = "treat the report with caution and re-run the import if in doubt"
	case CodeBatchRejected:
		message = "the batch endpoint rejected the import request"
		suggestion = "check the selected activities and rules against the batch contract"
	default:
		message = fmt.Sprintf("batch error for %s", batchID)
		suggestion = "review the batch status and retry if needed"
	}

	var result *ImportError
	if err != nil {
		result = Wrap(err, CategoryBatch, code, message)
	} else {
		result = New(CategoryBatch, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("batch_id", batchID)
}

// StoreError creates an error for the local activity store
func StoreError(code ErrorCode, operation string, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeStoreOpenFailed:
		message = fmt.Sprintf("failed to open activity store during %s", operation)
		suggestion = "check the database path is writable"
	case CodeQueryFailed:
		message = fmt.Sprintf("activity store query failed during %s", operation)
		suggestion = "check the database file is not corrupted"
	default:
		message = fmt.Sprintf("activity store error during %s", operation)
		suggestion = "check the database and try again"
	}

	var result *ImportError
	if err != nil {
		result = Wrap(err, CategoryStore, code, message)
	} else {
		result = New(CategoryStore, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// NetworkError creates a network-related error
func NetworkError(code ErrorCode, endpoint string, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeConnectionFailed:
		message = fmt.Sprintf("connection failed to %s", endpoint)
		suggestion = "check network connectivity and endpoint availability"
	case CodeTimeout:
		message = fmt.Sprintf("timeout connecting to %s", endpoint)
		suggestion = "increase the timeout setting or check network speed"
	case CodeServiceUnavailable:
		message = fmt.Sprintf("service unavailable: %s", endpoint)
		suggestion = "try again later or contact the service administrator"
	default:
		message = fmt.Sprintf("network error: %s", endpoint)
		suggestion = "check the network connection and try again"
	}

	var result *ImportError
	if err != nil {
		result = Wrap(err, CategoryNetwork, code, message)
	} else {
		result = New(CategoryNetwork, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ImportError {
	message := fmt.Sprintf("unexpected error during %s", operation)
	suggestion := "this is likely a bug - please report it with the error details"

	var result *ImportError
	if err != nil {
		result = Wrap(err, CategoryInternal, code, message)
	} else {
		result = New(CategoryInternal, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ImportError        `json:"errors"`
	SampleErrors []*ImportError        `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ImportError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*ImportError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	// Include sample errors (max 5)
	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	count, exists := es.ByCategory[category]
	return exists && count > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}

	return maxCode
}

// Utility functions

// IsImportError checks if an error is an ImportError
func IsImportError(err error) bool {
	_, ok := err.(*ImportError)
	return ok
}

// AsImportError extracts an ImportError from an error chain
func AsImportError(err error) (*ImportError, bool) {
	var importErr *ImportError
	if errors.As(err, &importErr) {
		return importErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already an ImportError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err == nil {
		return nil
	}

	if importErr, ok := AsImportError(err); ok {
		return importErr
	}

	return Wrap(err, category, code, message)
}

// Package errors defines the categorized error type used across the ledger
// service. Categories drive the CLI exit code and the HTTP status; codes
// select the message template and the suggestion shown to the user.
package errors

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryStorage        ErrorCategory = "storage"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeDirectoryError ErrorCode = "directory_error"
	CodeFileRead       ErrorCode = "file_read"

	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"
	CodeEncodingError ErrorCode = "encoding_error"

	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeMissingField  ErrorCode = "missing_field"

	CodeInvalidConfig ErrorCode = "invalid_config"

	CodeMatchingFailed   ErrorCode = "matching_failed"
	CodeDataInconsistent ErrorCode = "data_inconsistent"
	CodeRunInProgress    ErrorCode = "run_in_progress"

	CodeStoreFailure  ErrorCode = "store_failure"
	CodeNotFound      ErrorCode = "not_found"
	CodeMigrationFail ErrorCode = "migration_failed"

	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// template is the message and suggestion of one code. The message is a
// format string over the constructor's subject (a path, field, setting or
// operation name).
type template struct {
	message    string
	suggestion string
}

var catalog = map[ErrorCode]template{
	CodeFileNotFound:   {"file not found: %s", "check the path; bills and payments are CSV files"},
	CodeFilePermission: {"permission denied accessing file: %s", "check that the file is readable and the output location writable"},
	CodeDirectoryError: {"directory error: %s", "create the directory first"},
	CodeFileRead:       {"failed reading file: %s", "check that the file is complete and not being written to"},

	CodeInvalidAmount: {"invalid amount in field '%s'", "amounts must be plain decimal numbers, thousands separators are allowed"},
	CodeMissingField:  {"required field '%s' is missing or empty", "provide a value for this field"},

	CodeInvalidConfig: {"invalid configuration for '%s'", "run 'reconciler --help' for the accepted values"},

	CodeMatchingFailed:   {"matching failed during %s", "check the ledger contents and the tolerance settings"},
	CodeDataInconsistent: {"data inconsistency detected during %s", "re-import the ledger and run the strict pass again"},
	CodeRunInProgress:    {"another reconciliation is running, cannot start %s", "wait for the current run to finish"},

	CodeStoreFailure:  {"storage failure during %s", "check that the database file is writable and not locked by another process"},
	CodeNotFound:      {"nothing found for %s", "check the identifier and run a reconciliation first"},
	CodeMigrationFail: {"schema migration failed during %s", "the database may have been created by an incompatible version"},

	CodeUnexpectedError: {"unexpected error during %s", "this is likely a bug, please report it with the error details"},
}

var fallbackSuggestion = map[ErrorCategory]string{
	CategoryFile:           "check the file and try again",
	CategoryParse:          "check the file format and data integrity",
	CategoryValidation:     "check the field value and format",
	CategoryConfiguration:  "check your configuration and try again",
	CategoryReconciliation: "review the ledger and the matching configuration",
	CategoryStorage:        "check the database and try again",
	CategoryInternal:       "this is likely a bug, please report it with the error details",
}

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
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
func (e *ReconcilerError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, " (suggestion: %s)", e.Suggestion)
	}
	return b.String()
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns the process exit code for the error's category.
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryStorage:
		return 6
	default:
		return 1
	}
}

// HTTPStatus maps the error to the status code served by the HTTP API.
func (e *ReconcilerError) HTTPStatus() int {
	switch {
	case e.Code == CodeNotFound:
		return http.StatusNotFound
	case e.Code == CodeRunInProgress:
		return http.StatusConflict
	case e.Category == CategoryParse, e.Category == CategoryValidation, e.Category == CategoryFile:
		return http.StatusBadRequest
	case e.Category == CategoryConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion replaces the suggestion shown to the user.
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates a ReconcilerError with a stack trace captured here.
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps err. It returns nil when err is nil.
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// fromCatalog renders the code's template over subject and attaches the
// code's suggestion, or the category's when the code has none.
func fromCatalog(category ErrorCategory, code ErrorCode, subject string, err error) *ReconcilerError {
	tmpl, ok := catalog[code]
	if !ok {
		tmpl = template{message: string(category) + " error: %s", suggestion: fallbackSuggestion[category]}
	}

	message := fmt.Sprintf(tmpl.message, subject)
	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, category, code, message)
	} else {
		result = New(category, code, message)
	}
	return result.WithSuggestion(tmpl.suggestion)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	return fromCatalog(CategoryFile, code, path, err).
		WithContext("file_path", path)
}

// ParseError creates an error for one cell or header of an input file.
// Line is 1-based and counts the header.
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconcilerError {
	var message, suggestion string
	switch code {
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in file %s", column, file)
		suggestion = "check the header row or set the column name in the config file"
	case CodeEncodingError:
		message = fmt.Sprintf("encoding error in file %s at line %d", file, line)
		suggestion = "save the file as UTF-8 or pass --encoding shift_jis"
	case CodeInvalidFormat, CodeInvalidData:
		message = fmt.Sprintf("%s in file %s at line %d, column '%s': '%s'",
			strings.ReplaceAll(string(code), "_", " "), file, line, column, value)
		suggestion = "correct the row or remove it from the file"
	default:
		message = fmt.Sprintf("parse error in file %s at line %d", file, line)
		suggestion = fallbackSuggestion[CategoryParse]
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryParse, code, message)
	} else {
		result = New(CategoryParse, code, message)
	}
	return result.WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	result := fromCatalog(CategoryValidation, code, field, err).
		WithContext("field", field).
		WithContext("value", value)
	if value != nil {
		result.Message = fmt.Sprintf("%s: %v", result.Message, value)
	}
	return result
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	result := fromCatalog(CategoryConfiguration, code, setting, err).
		WithContext("setting", setting).
		WithContext("value", value)
	if value != nil {
		result.Message = fmt.Sprintf("%s: %v", result.Message, value)
	}
	return result
}

// ReconciliationError creates an error raised by a reconciliation pass.
func ReconciliationError(code ErrorCode, operation string, err error) *ReconcilerError {
	return fromCatalog(CategoryReconciliation, code, operation, err).
		WithContext("operation", operation)
}

// StorageError creates a persistence-related error
func StorageError(code ErrorCode, operation string, err error) *ReconcilerError {
	return fromCatalog(CategoryStorage, code, operation, err).
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	return fromCatalog(CategoryInternal, code, operation, err).
		WithContext("operation", operation)
}

// ErrorSummary aggregates the errors of one import.
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ReconcilerError    `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if summary.Errors == nil {
		summary.Errors = []*ReconcilerError{}
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	switch es.Total {
	case 0:
		return "no errors"
	case 1:
		return es.Errors[0].Error()
	}

	categories := make([]string, 0, len(es.ByCategory))
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// GetExitCode returns the highest exit code among the errors, or 0.
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		maxCode = max(maxCode, err.GetExitCode())
	}
	return maxCode
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// WrapIfNeeded returns the ReconcilerError already in err's chain, or wraps
// err with the given category and code.
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return Wrap(err, category, code, message)
}

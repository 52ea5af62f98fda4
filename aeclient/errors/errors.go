// Package errors provides structured error handling for the demo backends.
// Server and emulator failures are classified into error codes so the driver can
// tell an operation rejected by Always Encrypted apart from any other failure.
package errors

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"gorm.io/gorm"
)

// ErrorCode represents a specific error code
type ErrorCode string

const (
	// Connection errors
	ErrCodeConnectionFailed  ErrorCode = "AE_CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "AE_CONNECTION_TIMEOUT"
	ErrCodeLoginFailed       ErrorCode = "AE_LOGIN_FAILED"

	// Encryption errors
	ErrCodeUnsupportedOperation ErrorCode = "AE_UNSUPPORTED_OPERATION"
	ErrCodeKeyStoreUnavailable  ErrorCode = "AE_KEY_STORE_UNAVAILABLE"
	ErrCodeDecryptionFailed     ErrorCode = "AE_DECRYPTION_FAILED"

	// Query errors
	ErrCodeQueryTimeout     ErrorCode = "AE_QUERY_TIMEOUT"
	ErrCodeQuerySyntax      ErrorCode = "AE_QUERY_SYNTAX"
	ErrCodeQueryExecution   ErrorCode = "AE_QUERY_EXECUTION"
	ErrCodeInvalidParameter ErrorCode = "AE_INVALID_PARAMETER"

	// Data errors
	ErrCodeRecordNotFound      ErrorCode = "AE_RECORD_NOT_FOUND"
	ErrCodeDuplicateKey        ErrorCode = "AE_DUPLICATE_KEY"
	ErrCodeConstraintViolation ErrorCode = "AE_CONSTRAINT_VIOLATION"
	ErrCodeDataTooLong         ErrorCode = "AE_DATA_TOO_LONG"

	// Migration errors
	ErrCodeMigrationFailed ErrorCode = "AE_MIGRATION_FAILED"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "AE_INVALID_CONFIG"

	// General errors
	ErrCodeUnknown         ErrorCode = "AE_UNKNOWN_ERROR"
	ErrCodeInternal        ErrorCode = "AE_INTERNAL_ERROR"
	ErrCodeOperationFailed ErrorCode = "AE_OPERATION_FAILED"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryConnection    ErrorCategory = "CONNECTION"
	CategoryEncryption    ErrorCategory = "ENCRYPTION"
	CategoryQuery         ErrorCategory = "QUERY"
	CategoryData          ErrorCategory = "DATA"
	CategoryMigration     ErrorCategory = "MIGRATION"
	CategoryConfiguration ErrorCategory = "CONFIGURATION"
	CategoryGeneral       ErrorCategory = "GENERAL"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// SQL Server error numbers raised when a statement is incompatible with an encrypted column
var unsupportedNumbers = map[int32]bool{
	206:   true, // operand type clash
	402:   true, // data types incompatible in operator
	33277: true, // encryption scheme mismatch
	33299: true, // encryption scheme mismatch for parameter
	33514: true, // operation not supported on encrypted column
}

// ErrUnsupportedOperation matches any error rejected by the encrypted-column rules
var ErrUnsupportedOperation = &DBError{Code: ErrCodeUnsupportedOperation}

// DBError represents a structured error raised by a backend
type DBError struct {
	Code        ErrorCode     `json:"code"`
	Category    ErrorCategory `json:"category"`
	Severity    ErrorSeverity `json:"severity"`
	Message     string        `json:"message"`
	Details     string        `json:"details,omitempty"`
	Cause       error         `json:"-"`
	Operation   string        `json:"operation,omitempty"`
	Table       string        `json:"table,omitempty"`
	Field       string        `json:"field,omitempty"`
	Number      int32         `json:"number,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	StackTrace  string        `json:"stack_trace,omitempty"`
	Retryable   bool          `json:"retryable"`
	UserMessage string        `json:"user_message,omitempty"`
}

// Error implements the error interface
func (e *DBError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DBError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error
func (e *DBError) Is(target error) bool {
	if target == nil {
		return false
	}

	if dbErr, ok := target.(*DBError); ok {
		return e.Code == dbErr.Code
	}

	if e.Cause != nil {
		return errors.Is(e.Cause, target)
	}

	return false
}

// As checks if the error can be assigned to the target
func (e *DBError) As(target interface{}) bool {
	if target == nil {
		return false
	}

	if dbErr, ok := target.(**DBError); ok {
		*dbErr = e
		return true
	}

	if e.Cause != nil {
		return errors.As(e.Cause, target)
	}

	return false
}

// WithOperation adds operation context to the error
func (e *DBError) WithOperation(operation string) *DBError {
	newErr := *e
	newErr.Operation = operation
	return &newErr
}

// WithTable adds table context to the error
func (e *DBError) WithTable(table string) *DBError {
	newErr := *e
	newErr.Table = table
	return &newErr
}

// WithField adds column context to the error
func (e *DBError) WithField(field string) *DBError {
	newErr := *e
	newErr.Field = field
	return &newErr
}

// WithDetails adds additional details to the error
func (e *DBError) WithDetails(details string) *DBError {
	newErr := *e
	newErr.Details = details
	return &newErr
}

// WithNumber records the server error number
func (e *DBError) WithNumber(number int32) *DBError {
	newErr := *e
	newErr.Number = number
	return &newErr
}

// WithUserMessage adds a user-friendly message
func (e *DBError) WithUserMessage(message string) *DBError {
	newErr := *e
	newErr.UserMessage = message
	return &newErr
}

// NewDBError creates a new structured error
func NewDBError(code ErrorCode, message string, cause error) *DBError {
	category, severity := getErrorMetadata(code)

	var stackTrace string
	if includeStackTrace(severity) {
		stackTrace = getStackTrace(2)
	}

	return &DBError{
		Code:       code,
		Category:   category,
		Severity:   severity,
		Message:    message,
		Cause:      cause,
		Timestamp:  time.Now(),
		StackTrace: stackTrace,
		Retryable:  isRetryable(code),
	}
}

// NewUnsupportedOperation creates the error returned when a statement cannot be
// executed against an encrypted column
func NewUnsupportedOperation(column, message string) *DBError {
	return NewDBError(ErrCodeUnsupportedOperation, message, nil).
		WithField(column).
		WithUserMessage("The operation is not supported on an encrypted column")
}

func getErrorMetadata(code ErrorCode) (ErrorCategory, ErrorSeverity) {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeLoginFailed:
		return CategoryConnection, SeverityHigh

	// Rejections by the encryption rules are the expected outcome of several demo steps
	case ErrCodeUnsupportedOperation:
		return CategoryEncryption, SeverityLow
	case ErrCodeKeyStoreUnavailable, ErrCodeDecryptionFailed:
		return CategoryEncryption, SeverityHigh

	case ErrCodeQueryTimeout, ErrCodeQuerySyntax, ErrCodeQueryExecution, ErrCodeInvalidParameter:
		return CategoryQuery, SeverityMedium

	case ErrCodeRecordNotFound:
		return CategoryData, SeverityLow
	case ErrCodeDuplicateKey, ErrCodeConstraintViolation, ErrCodeDataTooLong:
		return CategoryData, SeverityMedium

	case ErrCodeMigrationFailed:
		return CategoryMigration, SeverityCritical

	case ErrCodeInvalidConfig:
		return CategoryConfiguration, SeverityHigh

	default:
		return CategoryGeneral, SeverityMedium
	}
}

func isRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeQueryTimeout:
		return true
	default:
		return false
	}
}

func includeStackTrace(severity ErrorSeverity) bool {
	return severity == SeverityHigh || severity == SeverityCritical
}

func getStackTrace(skip int) string {
	const maxStackDepth = 10
	pc := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+1, pc)

	if n == 0 {
		return "no stack trace available"
	}

	frames := runtime.CallersFrames(pc[:n])
	var stackLines []string

	for {
		frame, more := frames.Next()
		stackLines = append(stackLines, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}

	return strings.Join(stackLines, "\n")
}

// WrapSQLServerError classifies an error returned by go-mssqldb
func WrapSQLServerError(err error, operation string) *DBError {
	if err == nil {
		return nil
	}

	var dbErr *DBError
	if errors.As(err, &dbErr) {
		return dbErr.WithOperation(operation)
	}

	var sqlErr mssql.Error
	if !errors.As(err, &sqlErr) {
		return classifyMessage(err, operation)
	}

	var wrapped *DBError
	switch number := sqlErr.SQLErrorNumber(); {
	case unsupportedNumbers[number]:
		wrapped = NewDBError(ErrCodeUnsupportedOperation, "Operation not supported on encrypted column", err).
			WithUserMessage("The operation is not supported on an encrypted column")
	case number == 8152 || number == 2628:
		wrapped = NewDBError(ErrCodeDataTooLong, "Data too long for column", err).
			WithUserMessage("One or more values exceed the column length")
	case number == 2601 || number == 2627:
		wrapped = NewDBError(ErrCodeDuplicateKey, "Duplicate key violation", err)
	case number == 547:
		wrapped = NewDBError(ErrCodeConstraintViolation, "Constraint violation", err)
	case number == 18456:
		wrapped = NewDBError(ErrCodeLoginFailed, "Login failed", err)
	case number == 102 || number == 156:
		wrapped = NewDBError(ErrCodeQuerySyntax, "SQL syntax error", err)
	default:
		wrapped = NewDBError(ErrCodeQueryExecution, "SQL Server error", err)
	}

	return wrapped.
		WithNumber(sqlErr.SQLErrorNumber()).
		WithDetails(sqlErr.SQLErrorMessage()).
		WithOperation(operation)
}

// WrapGormError wraps a GORM error into a structured DBError
func WrapGormError(err error, operation string) *DBError {
	if err == nil {
		return nil
	}

	var dbErr *DBError
	if errors.As(err, &dbErr) {
		return dbErr.WithOperation(operation)
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NewDBError(ErrCodeRecordNotFound, "Record not found", err).
			WithOperation(operation)

	case errors.Is(err, gorm.ErrMissingWhereClause):
		return NewDBError(ErrCodeQueryExecution, "Missing WHERE clause", err).
			WithOperation(operation)

	case errors.Is(err, gorm.ErrInvalidData), errors.Is(err, gorm.ErrModelValueRequired):
		return NewDBError(ErrCodeInvalidParameter, "Invalid data", err).
			WithOperation(operation)

	default:
		return classifyMessage(err, operation)
	}
}

// classifyMessage categorizes an error by its text when no typed error is available
func classifyMessage(err error, operation string) *DBError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewDBError(ErrCodeQueryTimeout, "Query timeout", err).WithOperation(operation)
	}

	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "connection"):
		if strings.Contains(errMsg, "timeout") {
			return NewDBError(ErrCodeConnectionTimeout, "Database connection timeout", err).
				WithOperation(operation)
		}
		return NewDBError(ErrCodeConnectionFailed, "Database connection failed", err).
			WithOperation(operation)

	case strings.Contains(errMsg, "timeout"):
		return NewDBError(ErrCodeQueryTimeout, "Query timeout", err).
			WithOperation(operation)

	case strings.Contains(errMsg, "key store") || strings.Contains(errMsg, "column master key"):
		return NewDBError(ErrCodeKeyStoreUnavailable, "Column master key unavailable", err).
			WithOperation(operation)

	case strings.Contains(errMsg, "decrypt"):
		return NewDBError(ErrCodeDecryptionFailed, "Decryption failed", err).
			WithOperation(operation)

	case strings.Contains(errMsg, "unique") || strings.Contains(errMsg, "duplicate"):
		return NewDBError(ErrCodeDuplicateKey, "Duplicate key violation", err).
			WithOperation(operation)

	case strings.Contains(errMsg, "constraint"):
		return NewDBError(ErrCodeConstraintViolation, "Constraint violation", err).
			WithOperation(operation)

	case strings.Contains(errMsg, "syntax"):
		return NewDBError(ErrCodeQuerySyntax, "SQL syntax error", err).
			WithOperation(operation)

	default:
		return NewDBError(ErrCodeUnknown, "Unknown database error", err).
			WithOperation(operation)
	}
}

// WrapError wraps a generic error into a DBError
func WrapError(err error, code ErrorCode, message string) *DBError {
	if err == nil {
		return nil
	}
	return NewDBError(code, message, err)
}

// IsUnsupportedOperation reports whether err was raised by the encrypted-column rules
func IsUnsupportedOperation(err error) bool {
	return err != nil && errors.Is(err, ErrUnsupportedOperation)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var dbErr *DBError
	if errors.As(err, &dbErr) {
		return dbErr.Retryable
	}
	return false
}

// IsConnectionError checks if an error is related to the database connection
func IsConnectionError(err error) bool {
	var dbErr *DBError
	if errors.As(err, &dbErr) {
		return dbErr.Category == CategoryConnection
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var dbErr *DBError
	if errors.As(err, &dbErr) {
		return dbErr.Code
	}
	return ErrCodeUnknown
}

// GetUserMessage extracts a user-friendly message from an error
func GetUserMessage(err error) string {
	var dbErr *DBError
	if errors.As(err, &dbErr) && dbErr.UserMessage != "" {
		return dbErr.UserMessage
	}
	return "An error occurred while processing your request"
}

// ServerMessage returns the text the database reported for err
func ServerMessage(err error) string {
	if err == nil {
		return ""
	}

	var dbErr *DBError
	if !errors.As(err, &dbErr) {
		return err.Error()
	}

	switch {
	case dbErr.Details != "":
		return dbErr.Details
	case dbErr.Cause != nil:
		return dbErr.Message + ": " + dbErr.Cause.Error()
	default:
		return dbErr.Message
	}
}

// ErrorCollector collects multiple errors and provides aggregated error handling
type ErrorCollector struct {
	errors   []error
	maxCount int
}

// NewErrorCollector creates a new error collector
func NewErrorCollector(maxCount int) *ErrorCollector {
	return &ErrorCollector{
		errors:   make([]error, 0),
		maxCount: maxCount,
	}
}

// Add adds an error to the collector
func (ec *ErrorCollector) Add(err error) {
	if err != nil && len(ec.errors) < ec.maxCount {
		ec.errors = append(ec.errors, err)
	}
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	return len(ec.errors) > 0
}

// Count returns the number of errors
func (ec *ErrorCollector) Count() int {
	return len(ec.errors)
}

// Errors returns all collected errors
func (ec *ErrorCollector) Errors() []error {
	return ec.errors
}

// First returns the first error
func (ec *ErrorCollector) First() error {
	if len(ec.errors) > 0 {
		return ec.errors[0]
	}
	return nil
}

// Error returns a combined error message
func (ec *ErrorCollector) Error() string {
	if len(ec.errors) == 0 {
		return ""
	}

	if len(ec.errors) == 1 {
		return ec.errors[0].Error()
	}

	var messages []string
	for i, err := range ec.errors {
		messages = append(messages, fmt.Sprintf("%d: %s", i+1, err.Error()))
	}

	return fmt.Sprintf("Multiple errors occurred:\n%s", strings.Join(messages, "\n"))
}

// ToDBError converts the collector's errors to a single DBError
func (ec *ErrorCollector) ToDBError(operation string) *DBError {
	if len(ec.errors) == 0 {
		return nil
	}

	if len(ec.errors) == 1 {
		var dbErr *DBError
		if errors.As(ec.errors[0], &dbErr) {
			return dbErr.WithOperation(operation)
		}
		return WrapError(ec.errors[0], ErrCodeOperationFailed, "Operation failed").
			WithDetails(ec.errors[0].Error()).
			WithOperation(operation)
	}

	return NewDBError(ErrCodeOperationFailed, "Multiple errors occurred", errors.New(ec.Error())).
		WithDetails(ec.Error()).
		WithOperation(operation)
}

package errors_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"go-aeclient/aeclient/errors"
)

func TestNewDBError_Metadata(t *testing.T) {
	tests := []struct {
		name      string
		code      errors.ErrorCode
		category  errors.ErrorCategory
		severity  errors.ErrorSeverity
		retryable bool
	}{
		{"unsupported_operation", errors.ErrCodeUnsupportedOperation, errors.CategoryEncryption, errors.SeverityLow, false},
		{"decryption_failed", errors.ErrCodeDecryptionFailed, errors.CategoryEncryption, errors.SeverityHigh, false},
		{"connection_failed", errors.ErrCodeConnectionFailed, errors.CategoryConnection, errors.SeverityHigh, true},
		{"query_timeout", errors.ErrCodeQueryTimeout, errors.CategoryQuery, errors.SeverityMedium, true},
		{"data_too_long", errors.ErrCodeDataTooLong, errors.CategoryData, errors.SeverityMedium, false},
		{"migration_failed", errors.ErrCodeMigrationFailed, errors.CategoryMigration, errors.SeverityCritical, false},
		{"invalid_config", errors.ErrCodeInvalidConfig, errors.CategoryConfiguration, errors.SeverityHigh, false},
		{"unknown", errors.ErrCodeUnknown, errors.CategoryGeneral, errors.SeverityMedium, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errors.NewDBError(tt.code, "message", nil)

			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
			assert.Contains(t, err.Error(), string(tt.code))
		})
	}
}

func TestDBError_WithHelpersCopy(t *testing.T) {
	base := errors.NewDBError(errors.ErrCodeQueryExecution, "failed", nil)

	withCtx := base.
		WithOperation("count").
		WithTable("Customer").
		WithField("SSN").
		WithNumber(207).
		WithDetails("Invalid column name").
		WithUserMessage("try again")

	assert.Empty(t, base.Operation)
	assert.Zero(t, base.Number)

	assert.Equal(t, "count", withCtx.Operation)
	assert.Equal(t, "Customer", withCtx.Table)
	assert.Equal(t, "SSN", withCtx.Field)
	assert.Equal(t, int32(207), withCtx.Number)
	assert.Equal(t, "[AE_QUERY_EXECUTION] failed: Invalid column name", withCtx.Error())
	assert.Equal(t, "try again", errors.GetUserMessage(withCtx))
}

func TestDBError_IsAndAs(t *testing.T) {
	cause := stderrors.New("boom")
	err := errors.NewDBError(errors.ErrCodeInternal, "wrapped", cause)
	wrapped := fmt.Errorf("outer: %w", err)

	assert.True(t, stderrors.Is(wrapped, cause))
	assert.True(t, stderrors.Is(wrapped, &errors.DBError{Code: errors.ErrCodeInternal}))
	assert.False(t, stderrors.Is(wrapped, errors.ErrUnsupportedOperation))

	var dbErr *errors.DBError
	require.True(t, stderrors.As(wrapped, &dbErr))
	assert.Equal(t, errors.ErrCodeInternal, dbErr.Code)
	assert.Equal(t, errors.ErrCodeInternal, errors.GetErrorCode(wrapped))
}

func TestIsUnsupportedOperation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain_error", stderrors.New("operand type clash"), false},
		{"unsupported", errors.NewUnsupportedOperation("Name", "rejected"), true},
		{"wrapped_unsupported", fmt.Errorf("step: %w", errors.NewUnsupportedOperation("SSN", "rejected")), true},
		{"other_code", errors.NewDBError(errors.ErrCodeDataTooLong, "too long", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.IsUnsupportedOperation(tt.err))
		})
	}
}

func TestWrapSQLServerError(t *testing.T) {
	tests := []struct {
		name   string
		number int32
		want   errors.ErrorCode
	}{
		{"operand_type_clash", 206, errors.ErrCodeUnsupportedOperation},
		{"incompatible_operator", 402, errors.ErrCodeUnsupportedOperation},
		{"encryption_scheme_mismatch", 33299, errors.ErrCodeUnsupportedOperation},
		{"truncation", 2628, errors.ErrCodeDataTooLong},
		{"legacy_truncation", 8152, errors.ErrCodeDataTooLong},
		{"duplicate_key", 2627, errors.ErrCodeDuplicateKey},
		{"foreign_key", 547, errors.ErrCodeConstraintViolation},
		{"login_failed", 18456, errors.ErrCodeLoginFailed},
		{"syntax", 102, errors.ErrCodeQuerySyntax},
		{"missing_procedure", 2812, errors.ErrCodeQueryExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sqlErr := mssql.Error{Number: tt.number, Message: fmt.Sprintf("server error %d", tt.number)}

			wrapped := errors.WrapSQLServerError(fmt.Errorf("exec: %w", sqlErr), "count")

			require.NotNil(t, wrapped)
			assert.Equal(t, tt.want, wrapped.Code)
			assert.Equal(t, tt.number, wrapped.Number)
			assert.Equal(t, "count", wrapped.Operation)
			assert.Equal(t, fmt.Sprintf("server error %d", tt.number), errors.ServerMessage(wrapped))
		})
	}
}

func TestWrapSQLServerError_PassThrough(t *testing.T) {
	assert.Nil(t, errors.WrapSQLServerError(nil, "op"))

	original := errors.NewUnsupportedOperation("SSN", "rejected")
	wrapped := errors.WrapSQLServerError(original, "call")
	assert.Equal(t, errors.ErrCodeUnsupportedOperation, wrapped.Code)
	assert.Equal(t, "call", wrapped.Operation)

	timeout := errors.WrapSQLServerError(context.DeadlineExceeded, "select")
	assert.Equal(t, errors.ErrCodeQueryTimeout, timeout.Code)
}

func TestWrapGormError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.ErrorCode
	}{
		{"record_not_found", gorm.ErrRecordNotFound, errors.ErrCodeRecordNotFound},
		{"invalid_data", gorm.ErrInvalidData, errors.ErrCodeInvalidParameter},
		{"unique_constraint", stderrors.New("UNIQUE constraint failed: Customer.CustomerId"), errors.ErrCodeDuplicateKey},
		{"connection_refused", stderrors.New("connection refused"), errors.ErrCodeConnectionFailed},
		{"decrypt", stderrors.New("cipher: message authentication failed to decrypt"), errors.ErrCodeDecryptionFailed},
		{"unknown", stderrors.New("something odd"), errors.ErrCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := errors.WrapGormError(tt.err, "query")
			require.NotNil(t, wrapped)
			assert.Equal(t, tt.want, wrapped.Code)
			assert.True(t, stderrors.Is(wrapped, tt.err))
		})
	}

	assert.Nil(t, errors.WrapGormError(nil, "query"))
}

func TestServerMessage(t *testing.T) {
	assert.Empty(t, errors.ServerMessage(nil))
	assert.Equal(t, "plain", errors.ServerMessage(stderrors.New("plain")))
	assert.Equal(t, "rejected", errors.ServerMessage(errors.NewUnsupportedOperation("Name", "rejected")))
	assert.Equal(t, "failed to open: refused",
		errors.ServerMessage(errors.WrapError(stderrors.New("refused"), errors.ErrCodeConnectionFailed, "failed to open")))
}

func TestErrorCollector(t *testing.T) {
	ec := errors.NewErrorCollector(2)
	assert.False(t, ec.HasErrors())
	assert.Nil(t, ec.ToDBError("demo"))

	ec.Add(nil)
	ec.Add(stderrors.New("first"))
	ec.Add(stderrors.New("second"))
	ec.Add(stderrors.New("dropped"))

	assert.Equal(t, 2, ec.Count())
	assert.EqualError(t, ec.First(), "first")
	assert.Contains(t, ec.Error(), "1: first")
	assert.Contains(t, ec.Error(), "2: second")
	assert.NotContains(t, ec.Error(), "dropped")

	dbErr := ec.ToDBError("demo")
	require.NotNil(t, dbErr)
	assert.Equal(t, errors.ErrCodeOperationFailed, dbErr.Code)
	assert.Equal(t, "demo", dbErr.Operation)
	assert.Contains(t, dbErr.Error(), "1: first")
	assert.Contains(t, dbErr.Error(), "2: second")
}

func TestErrorCollector_SingleErrorKeepsText(t *testing.T) {
	ec := errors.NewErrorCollector(5)
	ec.Add(stderrors.New("scenario B step 5 (count_ssn_range): expected failure, got success"))

	dbErr := ec.ToDBError("demo")
	require.NotNil(t, dbErr)
	assert.Equal(t, errors.ErrCodeOperationFailed, dbErr.Code)
	assert.Equal(t,
		"[AE_OPERATION_FAILED] Operation failed: scenario B step 5 (count_ssn_range): expected failure, got success",
		dbErr.Error())
}

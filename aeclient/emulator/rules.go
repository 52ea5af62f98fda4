package emulator

import (
	"fmt"
	"unicode/utf8"

	"go-aeclient/aeclient/binding"
	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/schema"
	"go-aeclient/aeclient/store"
)

// describe renders a type the way SQL Server describes an encrypted operand
func describe(typeName string, col schema.Column, databaseName string) string {
	return fmt.Sprintf("%s encrypted with (encryption_type = '%s', encryption_algorithm_name = '%s', "+
		"column_encryption_key_name = '%s', column_encryption_key_database_name = '%s') collation_name = '%s'",
		typeName, col.Encryption, schema.Algorithm, schema.ColumnKeyName, databaseName, schema.EncryptedCollation)
}

// operandClash is raised when a plaintext or mistyped value meets an encrypted column
func operandClash(col schema.Column, p binding.Parameter, columnEncryption bool, databaseName string) *errors.DBError {
	left := baseTypeName(p)
	if columnEncryption {
		left = describe(p.TypeName(), col, databaseName)
	}
	msg := fmt.Sprintf("Operand type clash: %s is incompatible with %s", left, describe(col.TypeName(), col, databaseName))
	return errors.NewUnsupportedOperation(col.Name, msg).WithNumber(206)
}

// incompatibleOperator is raised when the encryption type cannot evaluate the operator
func incompatibleOperator(col schema.Column, op store.Operator, databaseName string) *errors.DBError {
	operand := describe(col.TypeName(), col, databaseName)
	msg := fmt.Sprintf("The data types %s and %s are incompatible in the %s operator", operand, operand, op.Description())
	return errors.NewUnsupportedOperation(col.Name, msg).WithNumber(402)
}

func baseTypeName(p binding.Parameter) string {
	t, _ := p.EffectiveType()
	return t.String()
}

// checkParam applies the encrypted-column rules to a parameter that targets col
// and returns the value to store or compare: ciphertext for encrypted columns,
// text for plaintext ones
func (s *session) checkParam(col schema.Column, p binding.Parameter) (any, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.NewDBError(errors.ErrCodeInvalidParameter, "Invalid parameter", err).
			WithField(col.Name)
	}

	text, ok := p.Text()
	if !ok {
		return nil, errors.NewDBError(errors.ErrCodeInvalidParameter,
			fmt.Sprintf("Parameter @%s must be a string for column %s", p.Name, col.Name), nil).
			WithField(col.Name)
	}

	if !col.Encrypted() {
		if utf8.RuneCountInString(text) > col.Size {
			return nil, errors.NewDBError(errors.ErrCodeDataTooLong,
				"String or binary data would be truncated", nil).
				WithNumber(2628).
				WithTable(schema.CustomerTable.Name).
				WithField(col.Name)
		}
		return text, nil
	}

	if !s.columnEncryption {
		return nil, operandClash(col, p, false, s.server.database)
	}

	t, size := p.EffectiveType()
	if t != col.Type || size != col.Size {
		return nil, operandClash(col, p, true, s.server.database)
	}

	ciphertext, err := s.server.keyring.Encrypt(col, text)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "Encryption failed").WithField(col.Name)
	}
	return ciphertext, nil
}

// checkPredicate applies the operator rules of the column's encryption type
func (s *session) checkPredicate(col schema.Column, pred store.Predicate) (any, error) {
	if col.Encrypted() && s.columnEncryption {
		switch {
		case pred.Operator == store.Equal && !col.SupportsEquality():
			return nil, incompatibleOperator(col, pred.Operator, s.server.database)
		case pred.Operator != store.Equal && !col.SupportsRange():
			return nil, incompatibleOperator(col, pred.Operator, s.server.database)
		}
	}
	return s.checkParam(col, pred.Param)
}

// Package store defines the capability interfaces the demo driver uses to talk
// to a database, independent of the client library behind them.
package store

import (
	"context"
	"fmt"

	"go-aeclient/aeclient/binding"
	"go-aeclient/aeclient/schema"
)

// Operator is a comparison operator in a COUNT predicate
type Operator int

const (
	Equal Operator = iota
	GreaterOrEqual
)

// String returns the T-SQL spelling of the operator
func (o Operator) String() string {
	switch o {
	case GreaterOrEqual:
		return ">="
	default:
		return "="
	}
}

// Description names the operator the way SQL Server error messages do
func (o Operator) Description() string {
	switch o {
	case GreaterOrEqual:
		return "greater than or equal to"
	default:
		return "equal to"
	}
}

// Predicate is a single-column comparison with a parameter
type Predicate struct {
	Column   string
	Operator Operator
	Param    binding.Parameter
}

// Eq builds an equality predicate
func Eq(column string, param binding.Parameter) Predicate {
	return Predicate{Column: column, Operator: Equal, Param: param}
}

// Gte builds a greater-or-equal predicate
func Gte(column string, param binding.Parameter) Predicate {
	return Predicate{Column: column, Operator: GreaterOrEqual, Param: param}
}

// String renders the predicate as a WHERE clause body
func (p Predicate) String() string {
	return fmt.Sprintf("[%s] %s @%s", p.Column, p.Operator, p.Param.Name)
}

// Opener opens connection-scoped sessions
type Opener interface {
	// Open connects with column encryption processing enabled or disabled
	Open(ctx context.Context, columnEncryption bool) (Session, error)
}

// Session is one open connection. It is not safe for concurrent use.
type Session interface {
	SelectAll(ctx context.Context) ([]schema.Customer, error)
	Count(ctx context.Context, pred Predicate) (int, error)
	Insert(ctx context.Context, name, ssn, city binding.Parameter) (int64, error)
	Call(ctx context.Context, routine schema.Routine, params ...binding.Parameter) ([]schema.Customer, error)
	Close() error
}

// Backend is an Opener that owns resources released by Close
type Backend interface {
	Opener
	Close() error
}

// Seed inserts the sample rows through sess, which must have column encryption enabled
func Seed(ctx context.Context, sess Session) error {
	for _, row := range schema.SampleData {
		_, err := sess.Insert(ctx,
			binding.VarChar(schema.ColName, 20, row.Name),
			binding.VarChar(schema.ColSSN, 20, row.SSN),
			binding.VarChar(schema.ColCity, 20, row.City),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

package emulator

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"go-aeclient/aeclient/binding"
	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/schema"
	"go-aeclient/aeclient/store"
)

// session is one emulated connection. The column encryption setting decides
// whether values are encrypted on the way in and decrypted on the way out.
type session struct {
	server           *Server
	columnEncryption bool
	closed           bool
}

var _ store.Session = (*session)(nil)

func (s *session) conn(ctx context.Context) (*gorm.DB, error) {
	if s.closed {
		return nil, errors.NewDBError(errors.ErrCodeConnectionFailed, "session is closed", nil)
	}
	return s.server.db.WithContext(ctx), nil
}

// SelectAll implements store.Session
func (s *session) SelectAll(ctx context.Context) ([]schema.Customer, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []customerRow
	if err := tx.Order("CustomerId").Find(&rows).Error; err != nil {
		return nil, errors.WrapGormError(err, "select")
	}
	return s.customers(rows)
}

// Count implements store.Session
func (s *session) Count(ctx context.Context, pred store.Predicate) (int, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	col, ok := schema.CustomerTable.Column(pred.Column)
	if !ok {
		return 0, invalidColumn(pred.Column)
	}

	value, err := s.checkPredicate(col, pred)
	if err != nil {
		return 0, err
	}

	var count int64
	err = tx.Model(&customerRow{}).Where(condition(col, pred.Operator, value)).Count(&count).Error
	if err != nil {
		return 0, errors.WrapGormError(err, "count")
	}
	return int(count), nil
}

// Insert implements store.Session
func (s *session) Insert(ctx context.Context, name, ssn, city binding.Parameter) (int64, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	row := customerRow{}
	targets := []struct {
		column string
		param  binding.Parameter
	}{
		{schema.ColName, name},
		{schema.ColSSN, ssn},
		{schema.ColCity, city},
	}

	for _, t := range targets {
		col, _ := schema.CustomerTable.Column(t.column)
		value, err := s.checkParam(col, t.param)
		if err != nil {
			return 0, err
		}
		switch v := value.(type) {
		case []byte:
			if t.column == schema.ColName {
				row.Name = v
			} else {
				row.SSN = v
			}
		case string:
			row.City = v
		}
	}

	if err := tx.Create(&row).Error; err != nil {
		return 0, errors.WrapGormError(err, "insert")
	}
	return row.CustomerID, nil
}

// Call implements store.Session
func (s *session) Call(ctx context.Context, routine schema.Routine, params ...binding.Parameter) ([]schema.Customer, error) {
	if _, err := s.conn(ctx); err != nil {
		return nil, err
	}

	args, err := bindRoutine(routine, params)
	if err != nil {
		return nil, err
	}

	switch routine.Name {
	case schema.SelectCustomers.Name:
		return s.SelectAll(ctx)

	case schema.SelectCustomersBySsn.Name:
		return s.selectBy(ctx, schema.ColSSN, args["SSN"])

	case schema.InsertCustomer.Name:
		id, err := s.Insert(ctx, args["Name"], args["SSN"], args["City"])
		if err != nil {
			return nil, err
		}
		*args["CustomerId"].Dest = id
		return nil, nil

	default:
		return nil, errors.NewDBError(errors.ErrCodeQueryExecution,
			fmt.Sprintf("Could not find stored procedure '%s'", routine.Name), nil).
			WithNumber(2812)
	}
}

// selectBy returns the rows whose column equals the parameter
func (s *session) selectBy(ctx context.Context, column string, p binding.Parameter) ([]schema.Customer, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	col, _ := schema.CustomerTable.Column(column)
	value, err := s.checkPredicate(col, store.Eq(column, p))
	if err != nil {
		return nil, err
	}

	var rows []customerRow
	if err := tx.Where(condition(col, store.Equal, value)).Order("CustomerId").Find(&rows).Error; err != nil {
		return nil, errors.WrapGormError(err, "select")
	}
	return s.customers(rows)
}

// bindRoutine matches supplied parameters to the routine signature. The
// parameter keeps the type the caller declared; the rules compare it with the
// column when the value is used.
func bindRoutine(routine schema.Routine, params []binding.Parameter) (map[string]binding.Parameter, error) {
	args := make(map[string]binding.Parameter, len(params))
	for _, p := range params {
		spec, ok := routine.Param(p.Name)
		if !ok {
			return nil, errors.NewDBError(errors.ErrCodeInvalidParameter,
				fmt.Sprintf("@%s is not a parameter for procedure %s", strings.TrimPrefix(p.Name, "@"), routine.Name), nil).
				WithNumber(8145)
		}
		if spec.Direction == binding.Output && (p.Direction != binding.Output || p.Dest == nil) {
			return nil, errors.NewDBError(errors.ErrCodeInvalidParameter,
				fmt.Sprintf("Parameter @%s of procedure %s must be an output parameter", spec.Name, routine.Name), nil)
		}
		args[spec.Name] = p
	}

	for _, spec := range routine.Params {
		if _, ok := args[spec.Name]; !ok {
			return nil, errors.NewDBError(errors.ErrCodeInvalidParameter,
				fmt.Sprintf("Procedure or function '%s' expects parameter '@%s', which was not supplied", routine.Name, spec.Name), nil).
				WithNumber(201)
		}
	}

	return args, nil
}

// customers converts stored rows into result rows, decrypting when the session allows it
func (s *session) customers(rows []customerRow) ([]schema.Customer, error) {
	nameCol, _ := schema.CustomerTable.Column(schema.ColName)
	ssnCol, _ := schema.CustomerTable.Column(schema.ColSSN)

	out := make([]schema.Customer, 0, len(rows))
	for _, r := range rows {
		name, err := s.field(nameCol, r.Name)
		if err != nil {
			return nil, err
		}
		ssn, err := s.field(ssnCol, r.SSN)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.Customer{
			ID:   r.CustomerID,
			Name: name,
			SSN:  ssn,
			City: schema.TextField(r.City),
		})
	}
	return out, nil
}

func (s *session) field(col schema.Column, ciphertext []byte) (schema.Field, error) {
	if !s.columnEncryption {
		return schema.CipherField(ciphertext), nil
	}
	text, err := s.server.keyring.Decrypt(col, ciphertext)
	if err != nil {
		return schema.Field{}, errors.WrapError(err, errors.ErrCodeDecryptionFailed, "Failed to decrypt column").
			WithField(col.Name)
	}
	return schema.TextField(text), nil
}

// condition builds the WHERE expression for a checked value
func condition(col schema.Column, op store.Operator, value any) clause.Expression {
	column := clause.Column{Name: col.Name}
	if op == store.GreaterOrEqual {
		return clause.Gte{Column: column, Value: value}
	}
	return clause.Eq{Column: column, Value: value}
}

func invalidColumn(name string) error {
	return errors.NewDBError(errors.ErrCodeQueryExecution,
		fmt.Sprintf("Invalid column name '%s'", name), nil).WithNumber(207)
}

// Close implements store.Session
func (s *session) Close() error {
	s.closed = true
	return nil
}

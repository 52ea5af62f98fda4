package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go-aeclient/aeclient/binding"
	"go-aeclient/aeclient/db"
	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/schema"
	"go-aeclient/aeclient/store"
)

const selectCustomers = "SELECT CustomerId, Name, SSN, City FROM Customer ORDER BY CustomerId"

type session struct {
	db           *db.Database
	binder       binding.Binder
	queryTimeout time.Duration
}

var _ store.Session = (*session)(nil)

func (s *session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

// SelectAll implements store.Session
func (s *session) SelectAll(ctx context.Context) ([]schema.Customer, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.SqlDB().QueryContext(ctx, selectCustomers)
	if err != nil {
		return nil, errors.WrapSQLServerError(err, "select")
	}
	return scanCustomers(rows)
}

// CountQuery builds the COUNT statement for a predicate on the Customer table
func CountQuery(pred store.Predicate) (string, error) {
	col, ok := schema.CustomerTable.Column(pred.Column)
	if !ok {
		return "", errors.NewDBError(errors.ErrCodeQueryExecution,
			fmt.Sprintf("Invalid column name '%s'", pred.Column), nil).WithNumber(207)
	}
	pred.Column = col.Name
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", schema.CustomerTable.Name, pred), nil
}

// Count implements store.Session
func (s *session) Count(ctx context.Context, pred store.Predicate) (int, error) {
	query, err := CountQuery(pred)
	if err != nil {
		return 0, err
	}

	arg, err := s.binder.Bind(pred.Param)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int
	if err := s.db.SqlDB().QueryRowContext(ctx, query, arg).Scan(&count); err != nil {
		return 0, errors.WrapSQLServerError(err, "count")
	}
	return count, nil
}

// InsertQuery builds the INSERT statement for the given parameter names
func InsertQuery(name, ssn, city binding.Parameter) string {
	return fmt.Sprintf("INSERT INTO %s (%s, %s, %s) OUTPUT INSERTED.%s VALUES (@%s, @%s, @%s)",
		schema.CustomerTable.Name,
		schema.ColName, schema.ColSSN, schema.ColCity,
		schema.ColCustomerID,
		name.Name, ssn.Name, city.Name)
}

// Insert implements store.Session
func (s *session) Insert(ctx context.Context, name, ssn, city binding.Parameter) (int64, error) {
	args, err := binding.BindAll(s.binder, name, ssn, city)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var id int64
	if err := s.db.SqlDB().QueryRowContext(ctx, InsertQuery(name, ssn, city), args...).Scan(&id); err != nil {
		return 0, errors.WrapSQLServerError(err, "insert")
	}
	return id, nil
}

// Call implements store.Session. A query string without spaces is sent by the
// driver as an RPC call to the named procedure.
func (s *session) Call(ctx context.Context, routine schema.Routine, params ...binding.Parameter) ([]schema.Customer, error) {
	args, err := binding.BindAll(s.binder, params...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if !routine.ReturnsRows {
		if _, err := s.db.SqlDB().ExecContext(ctx, routine.Name, args...); err != nil {
			return nil, errors.WrapSQLServerError(err, routine.Name)
		}
		return nil, nil
	}

	rows, err := s.db.SqlDB().QueryContext(ctx, routine.Name, args...)
	if err != nil {
		return nil, errors.WrapSQLServerError(err, routine.Name)
	}
	return scanCustomers(rows)
}

// Close implements store.Session
func (s *session) Close() error {
	return s.db.Close()
}

func scanCustomers(rows *sql.Rows) ([]schema.Customer, error) {
	defer rows.Close()

	var customers []schema.Customer
	for rows.Next() {
		var (
			c         schema.Customer
			name, ssn any
			city      string
		)
		if err := rows.Scan(&c.ID, &name, &ssn, &city); err != nil {
			return nil, errors.WrapSQLServerError(err, "scan")
		}
		c.Name = toField(name)
		c.SSN = toField(ssn)
		c.City = schema.TextField(city)
		customers = append(customers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WrapSQLServerError(err, "scan")
	}
	return customers, nil
}

// toField maps a scanned value to a field: encrypted columns read without the
// column encryption setting arrive as varbinary
func toField(v any) schema.Field {
	switch val := v.(type) {
	case []byte:
		return schema.CipherField(val)
	case string:
		return schema.TextField(val)
	case nil:
		return schema.Field{}
	default:
		return schema.TextField(fmt.Sprint(val))
	}
}

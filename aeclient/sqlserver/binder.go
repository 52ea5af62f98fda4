package sqlserver

import (
	"database/sql"
	"fmt"

	mssql "github.com/microsoft/go-mssqldb"

	"go-aeclient/aeclient/binding"
	"go-aeclient/aeclient/errors"
)

// Binder converts parameters into go-mssqldb arguments
type Binder struct{}

var _ binding.Binder = Binder{}

// Bind implements binding.Binder. Declared varchar parameters are sent as
// mssql.VarChar so the driver does not widen them to nvarchar; inferred
// parameters are passed through untouched and reach the server as nvarchar.
func (Binder) Bind(p binding.Parameter) (any, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.NewDBError(errors.ErrCodeInvalidParameter, "Invalid parameter", err).
			WithField(p.Name)
	}

	if p.Direction == binding.Output {
		return sql.Named(p.Name, sql.Out{Dest: p.Dest}), nil
	}

	switch p.Type {
	case binding.TypeVarChar:
		s, _ := p.Text()
		return sql.Named(p.Name, mssql.VarChar(s)), nil
	case binding.TypeNVarChar:
		s, _ := p.Text()
		return sql.Named(p.Name, s), nil
	case binding.TypeInt:
		switch v := p.Value.(type) {
		case int:
			return sql.Named(p.Name, int64(v)), nil
		case int32:
			return sql.Named(p.Name, int64(v)), nil
		case int64:
			return sql.Named(p.Name, v), nil
		default:
			return nil, errors.NewDBError(errors.ErrCodeInvalidParameter,
				fmt.Sprintf("parameter @%s declared int but value is %T", p.Name, p.Value), nil).
				WithField(p.Name)
		}
	default:
		return sql.Named(p.Name, p.Value), nil
	}
}

// Package binding describes query parameters independently of the backend
// that executes them.
//
// Whether a parameter declares its SQL type and size is the difference between
// a statement the Always Encrypted driver can encrypt and one the server rejects,
// so the declaration is part of the parameter value rather than a driver detail.
package binding

import (
	"fmt"
	"unicode/utf8"
)

// SQLType is the declared SQL type of a parameter
type SQLType int

const (
	// TypeInferred leaves the type to the driver, which sends strings as nvarchar
	TypeInferred SQLType = iota
	TypeVarChar
	TypeNVarChar
	TypeInt
)

// String returns the T-SQL name of the type
func (t SQLType) String() string {
	switch t {
	case TypeVarChar:
		return "varchar"
	case TypeNVarChar:
		return "nvarchar"
	case TypeInt:
		return "int"
	default:
		return "inferred"
	}
}

// Direction is the parameter direction
type Direction int

const (
	Input Direction = iota
	Output
)

// Parameter is a named query or procedure parameter
type Parameter struct {
	Name      string
	Type      SQLType
	Size      int
	Direction Direction
	Value     any
	// Dest receives the value of an output parameter
	Dest *int64
}

// VarChar declares a varchar(size) input parameter
func VarChar(name string, size int, value string) Parameter {
	return Parameter{Name: name, Type: TypeVarChar, Size: size, Direction: Input, Value: value}
}

// VarCharOf declares a varchar input parameter sized to its value, which is
// what a driver sends for a varchar declared without a length
func VarCharOf(name string, value string) Parameter {
	return VarChar(name, max(utf8.RuneCountInString(value), 1), value)
}

// Inferred declares an input parameter whose type is left to the driver
func Inferred(name string, value any) Parameter {
	return Parameter{Name: name, Type: TypeInferred, Direction: Input, Value: value}
}

// IntOutput declares an int output parameter written to dest
func IntOutput(name string, dest *int64) Parameter {
	return Parameter{Name: name, Type: TypeInt, Direction: Output, Dest: dest}
}

// Declared reports whether the parameter carries an explicit type
func (p Parameter) Declared() bool {
	return p.Type != TypeInferred
}

// Text returns the string value of the parameter
func (p Parameter) Text() (string, bool) {
	s, ok := p.Value.(string)
	return s, ok
}

// EffectiveType returns the type the server sees: inferred strings arrive as nvarchar
func (p Parameter) EffectiveType() (SQLType, int) {
	if p.Declared() {
		return p.Type, p.Size
	}
	if s, ok := p.Text(); ok {
		return TypeNVarChar, utf8.RuneCountInString(s)
	}
	return TypeInt, 0
}

// TypeName renders the server-side type, for example varchar(20)
func (p Parameter) TypeName() string {
	t, size := p.EffectiveType()
	if t == TypeVarChar || t == TypeNVarChar {
		return fmt.Sprintf("%s(%d)", t, size)
	}
	return t.String()
}

// Validate checks the parameter against its own declaration
func (p Parameter) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter name is required")
	}

	if p.Direction == Output {
		if p.Dest == nil {
			return fmt.Errorf("output parameter @%s has no destination", p.Name)
		}
		return nil
	}

	if p.Type == TypeVarChar || p.Type == TypeNVarChar {
		s, ok := p.Text()
		if !ok {
			return fmt.Errorf("parameter @%s declared %s but value is %T", p.Name, p.Type, p.Value)
		}
		if p.Size <= 0 {
			return fmt.Errorf("parameter @%s declared %s without a size", p.Name, p.Type)
		}
		if n := utf8.RuneCountInString(s); n > p.Size {
			return fmt.Errorf("parameter @%s value length %d exceeds declared size %d", p.Name, n, p.Size)
		}
	}

	return nil
}

// Binder converts a parameter into the argument form a backend's driver accepts
type Binder interface {
	Bind(p Parameter) (any, error)
}

// BindAll binds every parameter with b
func BindAll(b Binder, params ...Parameter) ([]any, error) {
	args := make([]any, 0, len(params))
	for _, p := range params {
		arg, err := b.Bind(p)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

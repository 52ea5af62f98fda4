package binding_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-aeclient/aeclient/binding"
)

func TestParameter_EffectiveType(t *testing.T) {
	tests := []struct {
		name     string
		param    binding.Parameter
		wantType binding.SQLType
		wantSize int
		wantName string
	}{
		{"declared_varchar", binding.VarChar("SSN", 20, "n/a"), binding.TypeVarChar, 20, "varchar(20)"},
		{"inferred_string", binding.Inferred("SSN", "n/a"), binding.TypeNVarChar, 3, "nvarchar(3)"},
		{"inferred_multibyte", binding.Inferred("Name", "Zoë"), binding.TypeNVarChar, 3, "nvarchar(3)"},
		{"inferred_int", binding.Inferred("Id", 7), binding.TypeInt, 0, "int"},
		{"sized_to_value", binding.VarCharOf("City", "Atlanta"), binding.TypeVarChar, 7, "varchar(7)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, size := tt.param.EffectiveType()
			assert.Equal(t, tt.wantType, typ)
			assert.Equal(t, tt.wantSize, size)
			assert.Equal(t, tt.wantName, tt.param.TypeName())
		})
	}
}

func TestParameter_Validate(t *testing.T) {
	var dest int64

	tests := []struct {
		name    string
		param   binding.Parameter
		wantErr string
	}{
		{"valid_varchar", binding.VarChar("SSN", 20, "123-45-6789"), ""},
		{"valid_output", binding.IntOutput("CustomerId", &dest), ""},
		{"valid_inferred", binding.Inferred("SSN", "n/a"), ""},
		{"missing_name", binding.VarChar("", 20, "x"), "name is required"},
		{"output_without_destination", binding.IntOutput("CustomerId", nil), "no destination"},
		{"varchar_with_int", binding.Parameter{Name: "SSN", Type: binding.TypeVarChar, Size: 20, Value: 5}, "value is int"},
		{"varchar_without_size", binding.Parameter{Name: "SSN", Type: binding.TypeVarChar, Value: "n/a"}, "without a size"},
		{"value_too_long", binding.VarChar("Name", 5, "Steven Jacobs"), "exceeds declared size 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.param.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParameter_Declared(t *testing.T) {
	assert.True(t, binding.VarChar("SSN", 20, "n/a").Declared())
	assert.False(t, binding.Inferred("SSN", "n/a").Declared())
	assert.Equal(t, "inferred", binding.TypeInferred.String())
}

type recordingBinder struct {
	failOn string
	seen   []string
}

func (b *recordingBinder) Bind(p binding.Parameter) (any, error) {
	if p.Name == b.failOn {
		return nil, fmt.Errorf("cannot bind @%s", p.Name)
	}
	b.seen = append(b.seen, p.Name)
	return p.Value, nil
}

func TestBindAll(t *testing.T) {
	b := &recordingBinder{}
	args, err := binding.BindAll(b,
		binding.VarChar("Name", 20, "Marcy Jones"),
		binding.VarChar("SSN", 20, "888-88-8888"),
	)
	require.NoError(t, err)
	assert.Equal(t, []any{"Marcy Jones", "888-88-8888"}, args)
	assert.Equal(t, []string{"Name", "SSN"}, b.seen)

	_, err = binding.BindAll(&recordingBinder{failOn: "SSN"},
		binding.VarChar("Name", 20, "Marcy Jones"),
		binding.VarChar("SSN", 20, "888-88-8888"),
	)
	assert.EqualError(t, err, "cannot bind @SSN")
}

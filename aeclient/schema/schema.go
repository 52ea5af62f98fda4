// Package schema holds the metadata of the encrypted Customer table and the
// stored routines that operate on it.
package schema

import (
	"encoding/hex"
	"fmt"
	"strings"

	"go-aeclient/aeclient/binding"
)

// EncryptionType is the Always Encrypted scheme of a column
type EncryptionType int

const (
	Plaintext EncryptionType = iota
	// Deterministic encryption yields the same ciphertext for the same value, so equality works
	Deterministic
	// Randomized encryption yields a fresh ciphertext each time and supports no predicates
	Randomized
)

// String returns the SQL Server spelling of the encryption type
func (e EncryptionType) String() string {
	switch e {
	case Deterministic:
		return "DETERMINISTIC"
	case Randomized:
		return "RANDOMIZED"
	default:
		return "PLAINTEXT"
	}
}

// Encryption metadata shared by the encrypted columns
const (
	Algorithm          = "AEAD_AES_256_CBC_HMAC_SHA_256"
	ColumnKeyName      = "CEK_Auto1"
	EncryptedCollation = "Latin1_General_BIN2"
)

// Column describes one table column
type Column struct {
	Name       string
	Type       binding.SQLType
	Size       int
	Encryption EncryptionType
	Generated  bool
}

// Encrypted reports whether values of the column are stored as ciphertext
func (c Column) Encrypted() bool {
	return c.Encryption != Plaintext
}

// TypeName renders the declared column type, for example varchar(20)
func (c Column) TypeName() string {
	if c.Size > 0 {
		return fmt.Sprintf("%s(%d)", c.Type, c.Size)
	}
	return c.Type.String()
}

// SupportsEquality reports whether an equality predicate can target the column
func (c Column) SupportsEquality() bool {
	return c.Encryption != Randomized
}

// SupportsRange reports whether a range or ordering predicate can target the column
func (c Column) SupportsRange() bool {
	return c.Encryption == Plaintext
}

// Table describes a table and its columns in declaration order
type Table struct {
	Name    string
	Columns []Column
}

// Column looks up a column by name, ignoring case as SQL Server identifiers do
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Column names of the Customer table
const (
	ColCustomerID = "CustomerId"
	ColName       = "Name"
	ColSSN        = "SSN"
	ColCity       = "City"
)

// CustomerTable is the encrypted table every scenario runs against
var CustomerTable = Table{
	Name: "Customer",
	Columns: []Column{
		{Name: ColCustomerID, Type: binding.TypeInt, Generated: true},
		{Name: ColName, Type: binding.TypeVarChar, Size: 20, Encryption: Randomized},
		{Name: ColSSN, Type: binding.TypeVarChar, Size: 20, Encryption: Deterministic},
		{Name: ColCity, Type: binding.TypeVarChar, Size: 20},
	},
}

// ParamSpec is the declared signature of a routine parameter
type ParamSpec struct {
	Name      string
	Type      binding.SQLType
	Size      int
	Direction binding.Direction
	// Column is the table column the parameter is compared with or stored into
	Column string
}

// Routine describes a stored procedure
type Routine struct {
	Name        string
	Params      []ParamSpec
	ReturnsRows bool
}

// Param looks up a parameter by name, with or without the leading @
func (r Routine) Param(name string) (ParamSpec, bool) {
	name = strings.TrimPrefix(name, "@")
	for _, p := range r.Params {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Stored routines of the demo database
var (
	SelectCustomers = Routine{
		Name:        "SelectCustomers",
		ReturnsRows: true,
	}

	SelectCustomersBySsn = Routine{
		Name: "SelectCustomersBySsn",
		Params: []ParamSpec{
			{Name: "SSN", Type: binding.TypeVarChar, Size: 20, Column: ColSSN},
		},
		ReturnsRows: true,
	}

	InsertCustomer = Routine{
		Name: "InsertCustomer",
		Params: []ParamSpec{
			{Name: "Name", Type: binding.TypeVarChar, Size: 20, Column: ColName},
			{Name: "SSN", Type: binding.TypeVarChar, Size: 20, Column: ColSSN},
			{Name: "City", Type: binding.TypeVarChar, Size: 20, Column: ColCity},
			{Name: "CustomerId", Type: binding.TypeInt, Direction: binding.Output, Column: ColCustomerID},
		},
	}
)

// Routines lists the stored routines in creation order
var Routines = []Routine{SelectCustomers, SelectCustomersBySsn, InsertCustomer}

// Field is a column value as returned to the client: decrypted text, or the raw
// ciphertext when the session cannot decrypt it
type Field struct {
	Text       string
	Ciphertext []byte
}

// TextField returns a decrypted or plaintext field
func TextField(s string) Field {
	return Field{Text: s}
}

// CipherField returns a field holding opaque ciphertext
func CipherField(b []byte) Field {
	return Field{Ciphertext: b}
}

// Encrypted reports whether the field holds ciphertext
func (f Field) Encrypted() bool {
	return f.Ciphertext != nil
}

// String renders ciphertext as 0x-prefixed upper-case hex
func (f Field) String() string {
	if f.Encrypted() {
		return "0x" + strings.ToUpper(hex.EncodeToString(f.Ciphertext))
	}
	return f.Text
}

// Customer is one row of the Customer table
type Customer struct {
	ID   int64
	Name Field
	SSN  Field
	City Field
}

// String formats the row the way the demo transcript prints it
func (c Customer) String() string {
	return fmt.Sprintf("CustomerId: %d; Name: %s; SSN: %s; City: %s", c.ID, c.Name, c.SSN, c.City)
}

// SampleRow is one row of seed data in plaintext
type SampleRow struct {
	Name string
	SSN  string
	City string
}

// SampleData is loaded into an empty Customer table. Two rows share the SSN
// 'n/a' and one uses 'N/A', which shows that equality on encrypted columns is
// case-sensitive.
var SampleData = []SampleRow{
	{Name: "John Smith", SSN: "n/a", City: "New York"},
	{Name: "Jane Doe", SSN: "123-45-6789", City: "Chicago"},
	{Name: "Bob Brown", SSN: "n/a", City: "Seattle"},
	{Name: "Sue Green", SSN: "N/A", City: "Denver"},
}

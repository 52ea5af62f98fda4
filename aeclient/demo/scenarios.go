package demo

import (
	"context"
	"fmt"

	"go-aeclient/aeclient/binding"
	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/schema"
	"go-aeclient/aeclient/store"
)

// Scenario names
const (
	ScenarioWithoutEncryption = "A"
	ScenarioTSQL              = "B"
	ScenarioStoredProcedures  = "C"
)

// Step is one statement of a scenario
type Step struct {
	Name   string
	Expect Expectation
	// FailureMessage precedes the error text when the step fails
	FailureMessage string
	Exec           func(ctx context.Context, sess store.Session) (Value, error)
	// Print writes the value of a successful step
	Print func(t *Transcript, v Value)
}

// Scenario is a sequence of steps run on one session
type Scenario struct {
	Name             string
	Title            string
	ColumnEncryption bool
	Steps            []Step
	// TrailingBlank ends the scenario's output with an extra blank line
	TrailingBlank bool
}

// Values used by the statements
const (
	lookupName   = "John Smith"
	lookupSSN    = "n/a"
	lookupSSNAlt = "N/A"
	rangeSSN     = "500-000-0000"

	insertName = "Steven Jacobs"
	insertSSN  = "333-22-4444"
	insertCity = "Los Angeles"

	createName = "Marcy Jones"
	createSSN  = "888-88-8888"
	createCity = "Atlanta"
)

const (
	msgQueryName   = "Failed to run query on Name column"
	msgQuerySSN    = "Failed to run query on SSN column"
	msgInsert      = "Failed to insert new row with encrypted data"
	msgRangeSSN    = "Failed to run range query on SSN column"
	msgSelectAll   = "Failed to read customers"
	msgInferredSSN = "Failed to run query on SSN column with an inferred parameter"
	msgCreate      = "Failed to create new customer"
	msgLookup      = "Failed to find new customer"
)

// Scenarios returns the three demo scenarios in run order. Each call returns
// fresh steps, so state carried between the steps of a scenario is per run.
func Scenarios() []Scenario {
	return []Scenario{
		withoutEncryption(),
		tsql(),
		storedProcedures(),
	}
}

func withoutEncryption() Scenario {
	return Scenario{
		Name:             ScenarioWithoutEncryption,
		Title:            "Without Encryption Setting",
		ColumnEncryption: false,
		TrailingBlank:    true,
		Steps: []Step{
			selectAll(),
			{
				Name:           "count_name",
				Expect:         ExpectUnsupported(),
				FailureMessage: msgQueryName,
				Exec:           count(store.Eq(schema.ColName, binding.VarChar(schema.ColName, 20, lookupName))),
			},
			{
				Name:           "count_ssn",
				Expect:         ExpectUnsupported(),
				FailureMessage: msgQuerySSN,
				Exec:           count(store.Eq(schema.ColSSN, binding.VarChar(schema.ColSSN, 20, lookupSSN))),
			},
			insert(ExpectUnsupported()),
		},
	}
}

func tsql() Scenario {
	return Scenario{
		Name:             ScenarioTSQL,
		Title:            "With Encryption Setting (T-SQL)",
		ColumnEncryption: true,
		Steps: []Step{
			selectAll(),
			{
				Name:           "count_name",
				Expect:         ExpectUnsupported(),
				FailureMessage: msgQueryName,
				Exec:           count(store.Eq(schema.ColName, binding.VarChar(schema.ColName, 20, lookupName))),
			},
			{
				Name:           "count_ssn",
				Expect:         ExpectSuccess(),
				FailureMessage: msgQuerySSN,
				Exec:           count(store.Eq(schema.ColSSN, binding.VarChar(schema.ColSSN, 20, lookupSSN))),
				Print: func(t *Transcript, v Value) {
					t.Line("SSN '%s' count = %d", lookupSSN, v.Count)
				},
			},
			{
				Name:           "count_ssn_case",
				Expect:         ExpectSuccess(),
				FailureMessage: msgQuerySSN,
				Exec:           count(store.Eq(schema.ColSSN, binding.VarChar(schema.ColSSN, 20, lookupSSNAlt))),
				Print: func(t *Transcript, v Value) {
					t.Line("SSN '%s' count = %d", lookupSSNAlt, v.Count)
					t.Blank()
				},
			},
			{
				Name:           "count_ssn_range",
				Expect:         ExpectUnsupported(),
				FailureMessage: msgRangeSSN,
				Exec:           count(store.Gte(schema.ColSSN, binding.VarChar(schema.ColSSN, 20, rangeSSN))),
			},
			insert(ExpectSuccess()),
		},
	}
}

func storedProcedures() Scenario {
	// id of the customer created by insert_customer, read back by select_created
	var created int64

	return Scenario{
		Name:             ScenarioStoredProcedures,
		Title:            "With Encryption Setting (stored procedures)",
		ColumnEncryption: true,
		Steps: []Step{
			{
				Name:           "select_customers",
				Expect:         ExpectSuccess(),
				FailureMessage: msgSelectAll,
				Exec:           call(schema.SelectCustomers),
				Print:          printRows,
			},
			{
				Name:           "select_by_ssn",
				Expect:         ExpectSuccess(),
				FailureMessage: msgQuerySSN,
				Exec:           call(schema.SelectCustomersBySsn, binding.VarChar(schema.ColSSN, 20, lookupSSN)),
				Print:          printRows,
			},
			{
				Name:           "select_by_ssn_inferred",
				Expect:         ExpectUnsupported(),
				FailureMessage: msgInferredSSN,
				Exec:           call(schema.SelectCustomersBySsn, binding.Inferred(schema.ColSSN, lookupSSN)),
				Print:          printRows,
			},
			{
				Name:           "insert_customer",
				Expect:         ExpectSuccess(),
				FailureMessage: msgCreate,
				Exec: func(ctx context.Context, sess store.Session) (Value, error) {
					var id int64
					_, err := sess.Call(ctx, schema.InsertCustomer,
						// Name and SSN must match the column definitions exactly
						binding.VarChar(schema.ColName, 20, createName),
						binding.VarChar(schema.ColSSN, 20, createSSN),
						binding.VarCharOf(schema.ColCity, createCity),
						binding.IntOutput(schema.ColCustomerID, &id),
					)
					if err != nil {
						return Value{}, err
					}
					created = id
					return Value{ID: id}, nil
				},
				Print: func(t *Transcript, v Value) {
					t.Line("Created new customer: %d", v.ID)
					t.Blank()
				},
			},
			{
				Name:           "select_created",
				Expect:         ExpectSuccess(),
				FailureMessage: msgLookup,
				Exec: func(ctx context.Context, sess store.Session) (Value, error) {
					rows, err := sess.Call(ctx, schema.SelectCustomersBySsn, binding.VarChar(schema.ColSSN, 20, createSSN))
					if err != nil {
						return Value{}, err
					}
					v := Value{Rows: rows, Count: len(rows)}
					if err := checkCreated(rows, created); err != nil {
						return v, err
					}
					return v, nil
				},
				Print: printRows,
			},
		},
	}
}

// checkCreated verifies that the customer written by InsertCustomer reads back
// with the values it was created with
func checkCreated(rows []schema.Customer, id int64) error {
	for _, r := range rows {
		if r.ID != id {
			continue
		}
		if r.Name.String() != createName || r.SSN.String() != createSSN || r.City.String() != createCity {
			return errors.NewDBError(errors.ErrCodeOperationFailed,
				fmt.Sprintf("customer %d read back as %s", id, r), nil)
		}
		return nil
	}
	return errors.NewDBError(errors.ErrCodeRecordNotFound,
		fmt.Sprintf("customer %d not returned by %s", id, schema.SelectCustomersBySsn.Name), nil)
}

func selectAll() Step {
	return Step{
		Name:           "select_all",
		Expect:         ExpectSuccess(),
		FailureMessage: msgSelectAll,
		Exec: func(ctx context.Context, sess store.Session) (Value, error) {
			rows, err := sess.SelectAll(ctx)
			return Value{Rows: rows, Count: len(rows)}, err
		},
		Print: printRows,
	}
}

func insert(expect Expectation) Step {
	return Step{
		Name:           "insert",
		Expect:         expect,
		FailureMessage: msgInsert,
		Exec: func(ctx context.Context, sess store.Session) (Value, error) {
			id, err := sess.Insert(ctx,
				binding.VarChar(schema.ColName, 20, insertName),
				binding.VarChar(schema.ColSSN, 20, insertSSN),
				binding.VarChar(schema.ColCity, 20, insertCity),
			)
			return Value{ID: id}, err
		},
		Print: func(t *Transcript, _ Value) {
			t.Line("Successfully inserted new row with encrypted data")
			t.Blank()
		},
	}
}

func count(pred store.Predicate) func(context.Context, store.Session) (Value, error) {
	return func(ctx context.Context, sess store.Session) (Value, error) {
		n, err := sess.Count(ctx, pred)
		return Value{Count: n}, err
	}
}

func call(routine schema.Routine, params ...binding.Parameter) func(context.Context, store.Session) (Value, error) {
	return func(ctx context.Context, sess store.Session) (Value, error) {
		rows, err := sess.Call(ctx, routine, params...)
		return Value{Rows: rows, Count: len(rows)}, err
	}
}

func printRows(t *Transcript, v Value) {
	t.Rows(v.Rows)
}

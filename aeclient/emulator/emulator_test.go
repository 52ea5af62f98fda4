package emulator_test

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-aeclient/aeclient/binding"
	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/emulator"
	"go-aeclient/aeclient/schema"
	"go-aeclient/aeclient/store"
)

func newServer(t *testing.T) *emulator.Server {
	t.Helper()

	srv, err := emulator.New(context.Background(), emulator.Options{Seed: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func open(t *testing.T, srv *emulator.Server, columnEncryption bool) store.Session {
	t.Helper()

	sess, err := srv.Open(context.Background(), columnEncryption)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func requireNumber(t *testing.T, err error, number int32) *errors.DBError {
	t.Helper()
	require.Error(t, err)

	var dbErr *errors.DBError
	require.True(t, stderrors.As(err, &dbErr), "expected DBError, got %T", err)
	assert.Equal(t, number, dbErr.Number)
	return dbErr
}

func ssnParam(value string) binding.Parameter {
	return binding.VarChar(schema.ColSSN, 20, value)
}

func TestSelectAll_Enabled(t *testing.T) {
	sess := open(t, newServer(t), true)

	rows, err := sess.SelectAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, len(schema.SampleData))

	for i, row := range rows {
		assert.Equal(t, int64(i+1), row.ID)
		assert.False(t, row.Name.Encrypted())
		assert.Equal(t, schema.SampleData[i].Name, row.Name.String())
		assert.Equal(t, schema.SampleData[i].SSN, row.SSN.String())
		assert.Equal(t, schema.SampleData[i].City, row.City.String())
	}
}

func TestSelectAll_DisabledReturnsCiphertext(t *testing.T) {
	sess := open(t, newServer(t), false)

	rows, err := sess.SelectAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, len(schema.SampleData))

	for i, row := range rows {
		assert.True(t, row.Name.Encrypted())
		assert.True(t, row.SSN.Encrypted())
		assert.Regexp(t, `^0x[0-9A-F]+$`, row.SSN.String())
		assert.Equal(t, schema.SampleData[i].City, row.City.String())
	}

	// deterministic ciphertext repeats for equal values
	assert.Equal(t, rows[0].SSN.String(), rows[2].SSN.String())
	assert.NotEqual(t, rows[0].SSN.String(), rows[3].SSN.String())
}

func TestCount_DeterministicEquality(t *testing.T) {
	sess := open(t, newServer(t), true)
	ctx := context.Background()

	count, err := sess.Count(ctx, store.Eq(schema.ColSSN, ssnParam("n/a")))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = sess.Count(ctx, store.Eq(schema.ColSSN, ssnParam("N/A")))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = sess.Count(ctx, store.Eq(schema.ColSSN, ssnParam("999-99-9999")))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCount_UnsupportedPredicates(t *testing.T) {
	tests := []struct {
		name             string
		columnEncryption bool
		pred             store.Predicate
		number           int32
		message          string
	}{
		{
			name:             "randomized_equality",
			columnEncryption: true,
			pred:             store.Eq(schema.ColName, binding.VarChar(schema.ColName, 20, "John Smith")),
			number:           402,
			message:          "incompatible in the equal to operator",
		},
		{
			name:             "deterministic_range",
			columnEncryption: true,
			pred:             store.Gte(schema.ColSSN, ssnParam("500-000-0000")),
			number:           402,
			message:          "incompatible in the greater than or equal to operator",
		},
		{
			name:             "inferred_parameter",
			columnEncryption: true,
			pred:             store.Eq(schema.ColSSN, binding.Inferred(schema.ColSSN, "n/a")),
			number:           206,
			message:          "Operand type clash: nvarchar(3) encrypted with",
		},
		{
			name:             "wrong_size",
			columnEncryption: true,
			pred:             store.Eq(schema.ColSSN, binding.VarChar(schema.ColSSN, 11, "n/a")),
			number:           206,
			message:          "varchar(11) encrypted with",
		},
		{
			name:             "setting_disabled",
			columnEncryption: false,
			pred:             store.Eq(schema.ColSSN, ssnParam("n/a")),
			number:           206,
			message:          "Operand type clash: varchar is incompatible with varchar(20) encrypted with",
		},
		{
			name:             "randomized_setting_disabled",
			columnEncryption: false,
			pred:             store.Eq(schema.ColName, binding.VarChar(schema.ColName, 20, "John Smith")),
			number:           206,
			message:          "encryption_type = 'RANDOMIZED'",
		},
	}

	srv := newServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := open(t, srv, tt.columnEncryption)

			_, err := sess.Count(context.Background(), tt.pred)
			dbErr := requireNumber(t, err, tt.number)
			assert.True(t, errors.IsUnsupportedOperation(err))
			assert.Contains(t, dbErr.Message, tt.message)
			assert.Contains(t, dbErr.Message, "column_encryption_key_database_name = 'MyEncryptedDB'")
		})
	}
}

func TestCount_PlaintextColumn(t *testing.T) {
	srv := newServer(t)

	for _, enabled := range []bool{true, false} {
		sess := open(t, srv, enabled)

		count, err := sess.Count(context.Background(), store.Gte(schema.ColCity, binding.VarCharOf(schema.ColCity, "M")))
		require.NoError(t, err)
		assert.Equal(t, 2, count, "column encryption %v", enabled)
	}
}

func TestCount_InvalidColumn(t *testing.T) {
	sess := open(t, newServer(t), true)

	_, err := sess.Count(context.Background(), store.Eq("Email", binding.VarChar("Email", 20, "x")))
	requireNumber(t, err, 207)
	assert.False(t, errors.IsUnsupportedOperation(err))
}

func TestInsert(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	name := binding.VarChar(schema.ColName, 20, "Steven Jacobs")
	ssn := ssnParam("333-22-4444")
	city := binding.VarChar(schema.ColCity, 20, "Los Angeles")

	disabled := open(t, srv, false)
	_, err := disabled.Insert(ctx, name, ssn, city)
	requireNumber(t, err, 206)

	enabled := open(t, srv, true)
	id, err := enabled.Insert(ctx, name, ssn, city)
	require.NoError(t, err)
	assert.Equal(t, int64(len(schema.SampleData)+1), id)

	count, err := enabled.Count(ctx, store.Eq(schema.ColSSN, ssn))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInsert_PlaintextTooLong(t *testing.T) {
	sess := open(t, newServer(t), true)

	_, err := sess.Insert(context.Background(),
		binding.VarChar(schema.ColName, 20, "Steven Jacobs"),
		ssnParam("333-22-4444"),
		binding.VarCharOf(schema.ColCity, "Llanfairpwllgwyngyll-gogerychwyrndrobwll"),
	)
	dbErr := requireNumber(t, err, 2628)
	assert.Equal(t, errors.ErrCodeDataTooLong, dbErr.Code)
}

func TestCall_StoredProcedures(t *testing.T) {
	sess := open(t, newServer(t), true)
	ctx := context.Background()

	all, err := sess.Call(ctx, schema.SelectCustomers)
	require.NoError(t, err)
	assert.Len(t, all, len(schema.SampleData))

	bySSN, err := sess.Call(ctx, schema.SelectCustomersBySsn, ssnParam("n/a"))
	require.NoError(t, err)
	require.Len(t, bySSN, 2)
	for _, row := range bySSN {
		assert.Equal(t, "n/a", row.SSN.String())
	}

	_, err = sess.Call(ctx, schema.SelectCustomersBySsn, binding.Inferred(schema.ColSSN, "n/a"))
	requireNumber(t, err, 206)

	var id int64
	rows, err := sess.Call(ctx, schema.InsertCustomer,
		binding.VarChar(schema.ColName, 20, "Marcy Jones"),
		ssnParam("888-88-8888"),
		binding.VarCharOf(schema.ColCity, "Atlanta"),
		binding.IntOutput(schema.ColCustomerID, &id),
	)
	require.NoError(t, err)
	assert.Nil(t, rows)
	assert.Equal(t, int64(len(schema.SampleData)+1), id)

	created, err := sess.Call(ctx, schema.SelectCustomersBySsn, ssnParam("888-88-8888"))
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, id, created[0].ID)
	assert.Equal(t, "Marcy Jones", created[0].Name.String())
	assert.Equal(t, "Atlanta", created[0].City.String())
}

func TestCall_ParameterErrors(t *testing.T) {
	sess := open(t, newServer(t), true)
	ctx := context.Background()

	tests := []struct {
		name    string
		routine schema.Routine
		params  []binding.Parameter
		number  int32
	}{
		{"unknown_procedure", schema.Routine{Name: "DeleteCustomers"}, nil, 2812},
		{"unknown_parameter", schema.SelectCustomersBySsn, []binding.Parameter{binding.VarChar("Email", 20, "x")}, 8145},
		{"missing_parameter", schema.SelectCustomersBySsn, nil, 201},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sess.Call(ctx, tt.routine, tt.params...)
			requireNumber(t, err, tt.number)
		})
	}

	_, err := sess.Call(ctx, schema.InsertCustomer,
		binding.VarChar(schema.ColName, 20, "Marcy Jones"),
		ssnParam("888-88-8888"),
		binding.VarCharOf(schema.ColCity, "Atlanta"),
		binding.VarChar(schema.ColCustomerID, 20, "1"),
	)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidParameter, errors.GetErrorCode(err))
}

func TestSession_Closed(t *testing.T) {
	srv := newServer(t)

	sess, err := srv.Open(context.Background(), true)
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	_, err = sess.SelectAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConnectionError(err))

	_, err = sess.Call(context.Background(), schema.SelectCustomers)
	assert.True(t, errors.IsConnectionError(err))
}

func TestServer_Closed(t *testing.T) {
	srv, err := emulator.New(context.Background(), emulator.Options{}, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Close())

	_, err = srv.Open(context.Background(), true)
	require.Error(t, err)
	assert.True(t, errors.IsConnectionError(err))
}

func TestServer_ProvisionIsIdempotent(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	require.NoError(t, srv.Provision(ctx))
	require.NoError(t, srv.Provision(ctx))

	rows, err := open(t, srv, true).SelectAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, len(schema.SampleData))

	status, err := srv.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), status.Version)
	assert.False(t, status.Dirty)
	assert.Equal(t, 2, status.AppliedCount)
	assert.Equal(t, 0, status.PendingCount)
}

func TestServer_WithoutSeed(t *testing.T) {
	srv, err := emulator.New(context.Background(), emulator.Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	rows, err := open(t, srv, true).SelectAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestServer_SharedMasterKey(t *testing.T) {
	key := make([]byte, emulator.MasterKeySize)
	ctx := context.Background()

	a, err := emulator.New(ctx, emulator.Options{Seed: true, MasterKey: key}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	b, err := emulator.New(ctx, emulator.Options{Seed: true, MasterKey: key}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	rowsA, err := open(t, a, false).SelectAll(ctx)
	require.NoError(t, err)
	rowsB, err := open(t, b, false).SelectAll(ctx)
	require.NoError(t, err)

	// separate databases, same deterministic column key
	assert.Equal(t, rowsA[0].SSN.String(), rowsB[0].SSN.String())
	assert.NotEqual(t, rowsA[0].Name.String(), rowsB[0].Name.String())
}

func TestNew_BadMasterKey(t *testing.T) {
	_, err := emulator.New(context.Background(), emulator.Options{MasterKey: []byte("short")}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeKeyStoreUnavailable, errors.GetErrorCode(err))
}

func TestServer_FileStoreReopened(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "ae.db")
	key := make([]byte, emulator.MasterKeySize)
	key[0] = 1
	ctx := context.Background()

	first, err := emulator.New(ctx, emulator.Options{DSN: dsn, Seed: true, MasterKey: key}, nil)
	require.NoError(t, err)
	sess, err := first.Open(ctx, true)
	require.NoError(t, err)
	id, err := sess.Insert(ctx,
		binding.VarChar(schema.ColName, 20, "Steven Jacobs"),
		binding.VarChar(schema.ColSSN, 20, "333-22-4444"),
		binding.VarChar(schema.ColCity, 20, "Los Angeles"))
	require.NoError(t, err)
	require.NoError(t, sess.Close())
	require.NoError(t, first.Close())

	// same master key: the stored rows decrypt and are not seeded twice
	second, err := emulator.New(ctx, emulator.Options{DSN: dsn, Seed: true, MasterKey: key}, nil)
	require.NoError(t, err)
	rows, err := open(t, second, true).SelectAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, id, rows[4].ID)
	assert.Equal(t, "Steven Jacobs", rows[4].Name.String())
	require.NoError(t, second.Close())

	// another master key is rejected before any row is read
	_, err = emulator.New(ctx, emulator.Options{DSN: dsn, Seed: true}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeKeyStoreUnavailable, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "column master key does not match")
}

package emulator_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-aeclient/aeclient/emulator"
	"go-aeclient/aeclient/schema"
)

func column(t *testing.T, name string) schema.Column {
	t.Helper()
	col, ok := schema.CustomerTable.Column(name)
	require.True(t, ok)
	return col
}

func TestKeyring_RoundTrip(t *testing.T) {
	ring, err := emulator.NewKeyring(nil)
	require.NoError(t, err)

	for _, name := range []string{schema.ColName, schema.ColSSN} {
		t.Run(name, func(t *testing.T) {
			col := column(t, name)

			ct, err := ring.Encrypt(col, "123-45-6789")
			require.NoError(t, err)
			assert.NotContains(t, string(ct), "123-45-6789")

			pt, err := ring.Decrypt(col, ct)
			require.NoError(t, err)
			assert.Equal(t, "123-45-6789", pt)
		})
	}
}

func TestKeyring_Deterministic(t *testing.T) {
	ring, err := emulator.NewKeyring(bytes.Repeat([]byte{7}, emulator.MasterKeySize))
	require.NoError(t, err)
	ssn := column(t, schema.ColSSN)

	a, err := ring.Encrypt(ssn, "n/a")
	require.NoError(t, err)
	b, err := ring.Encrypt(ssn, "n/a")
	require.NoError(t, err)
	upper, err := ring.Encrypt(ssn, "N/A")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, upper)

	// the same master key derives the same column key
	again, err := emulator.NewKeyring(bytes.Repeat([]byte{7}, emulator.MasterKeySize))
	require.NoError(t, err)
	c, err := again.Encrypt(ssn, "n/a")
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestKeyring_Randomized(t *testing.T) {
	ring, err := emulator.NewKeyring(nil)
	require.NoError(t, err)
	name := column(t, schema.ColName)

	a, err := ring.Encrypt(name, "John Smith")
	require.NoError(t, err)
	b, err := ring.Encrypt(name, "John Smith")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestKeyring_ColumnBinding(t *testing.T) {
	ring, err := emulator.NewKeyring(nil)
	require.NoError(t, err)

	ct, err := ring.Encrypt(column(t, schema.ColSSN), "n/a")
	require.NoError(t, err)

	moved := column(t, schema.ColSSN)
	moved.Name = "TaxId"
	_, err = ring.Decrypt(moved, ct)
	assert.Error(t, err)

	_, err = ring.Encrypt(column(t, schema.ColCity), "Atlanta")
	assert.Error(t, err)
}

func TestKeyring_MasterKeySize(t *testing.T) {
	_, err := emulator.NewKeyring(make([]byte, 16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be 32 bytes")
}

func TestKeyring_Keys(t *testing.T) {
	ring, err := emulator.NewKeyring(nil)
	require.NoError(t, err)

	keys := ring.Keys()
	require.Len(t, keys, 2)

	det, ok := ring.Key(schema.Deterministic)
	require.True(t, ok)
	assert.Equal(t, schema.ColumnKeyName, det.Name)
	assert.Equal(t, schema.Algorithm, det.Algorithm)

	rnd, ok := ring.Key(schema.Randomized)
	require.True(t, ok)
	assert.NotEqual(t, det.ID, rnd.ID)

	_, ok = ring.Key(schema.Plaintext)
	assert.False(t, ok)
}

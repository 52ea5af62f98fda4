package emulator

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/daead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	aes_gcmpb "github.com/tink-crypto/tink-go/v2/proto/aes_gcm_go_proto"
	aes_sivpb "github.com/tink-crypto/tink-go/v2/proto/aes_siv_go_proto"
	tinkpb "github.com/tink-crypto/tink-go/v2/proto/tink_go_proto"
	"github.com/tink-crypto/tink-go/v2/tink"
	"golang.org/x/crypto/hkdf"
	"google.golang.org/protobuf/proto"

	"go-aeclient/aeclient/schema"
)

// MasterKeySize is the size of the emulator column master key
const MasterKeySize = 32

const (
	aesSivTypeURL = "type.googleapis.com/google.crypto.tink.AesSivKey"
	aesGcmTypeURL = "type.googleapis.com/google.crypto.tink.AesGcmKey"

	infoDeterministic = "aeclient-cek-deterministic"
	infoRandomized    = "aeclient-cek-randomized"
)

// KeyInfo describes a column encryption key held by the keyring
type KeyInfo struct {
	ID             uuid.UUID
	Name           string
	EncryptionType schema.EncryptionType
	Algorithm      string
}

// Keyring holds the column encryption keys derived from one master key.
// Deterministic columns use AES-SIV, randomized columns use AES-GCM, and the
// column name is bound as associated data so ciphertext cannot move between columns.
type Keyring struct {
	deterministic tink.DeterministicAEAD
	randomized    tink.AEAD
	keys          []KeyInfo
}

// NewKeyring derives the column encryption keys from masterKey. A nil master
// key is replaced with a random one, so ciphertext only lives as long as the keyring.
func NewKeyring(masterKey []byte) (*Keyring, error) {
	if masterKey == nil {
		masterKey = make([]byte, MasterKeySize)
		if _, err := rand.Read(masterKey); err != nil {
			return nil, fmt.Errorf("generating master key: %w", err)
		}
	}
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}

	// AES-SIV takes a 64-byte key: two AES-256 keys
	sivKey, err := derive(masterKey, infoDeterministic, 64)
	if err != nil {
		return nil, err
	}
	gcmKey, err := derive(masterKey, infoRandomized, 32)
	if err != nil {
		return nil, err
	}

	sivHandle, err := newKeysetHandle(aesSivTypeURL, &aes_sivpb.AesSivKey{Version: 0, KeyValue: sivKey})
	if err != nil {
		return nil, err
	}
	gcmHandle, err := newKeysetHandle(aesGcmTypeURL, &aes_gcmpb.AesGcmKey{Version: 0, KeyValue: gcmKey})
	if err != nil {
		return nil, err
	}

	deterministic, err := daead.New(sivHandle)
	if err != nil {
		return nil, fmt.Errorf("creating deterministic AEAD: %w", err)
	}
	randomized, err := aead.New(gcmHandle)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD: %w", err)
	}

	return &Keyring{
		deterministic: deterministic,
		randomized:    randomized,
		keys: []KeyInfo{
			{ID: uuid.New(), Name: schema.ColumnKeyName, EncryptionType: schema.Deterministic, Algorithm: schema.Algorithm},
			{ID: uuid.New(), Name: schema.ColumnKeyName, EncryptionType: schema.Randomized, Algorithm: schema.Algorithm},
		},
	}, nil
}

// derive expands the master key with HKDF-SHA256 into n bytes for one purpose
func derive(masterKey []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", info, err)
	}
	return out, nil
}

// newKeysetHandle wraps raw key material into a single-key Tink keyset
func newKeysetHandle(typeURL string, key proto.Message) (*keyset.Handle, error) {
	serializedKey, err := proto.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("serializing key: %w", err)
	}

	ks := &tinkpb.Keyset{
		PrimaryKeyId: 1,
		Key: []*tinkpb.Keyset_Key{
			{
				KeyData: &tinkpb.KeyData{
					TypeUrl:         typeURL,
					Value:           serializedKey,
					KeyMaterialType: tinkpb.KeyData_SYMMETRIC,
				},
				Status:           tinkpb.KeyStatusType_ENABLED,
				KeyId:            1,
				OutputPrefixType: tinkpb.OutputPrefixType_RAW,
			},
		},
	}

	serializedKeyset, err := proto.Marshal(ks)
	if err != nil {
		return nil, fmt.Errorf("serializing keyset: %w", err)
	}

	handle, err := insecurecleartextkeyset.Read(keyset.NewBinaryReader(bytes.NewReader(serializedKeyset)))
	if err != nil {
		return nil, fmt.Errorf("creating keyset handle: %w", err)
	}
	return handle, nil
}

// Keys returns the column encryption keys held by the keyring
func (k *Keyring) Keys() []KeyInfo {
	return append([]KeyInfo(nil), k.keys...)
}

// Key returns the key used for an encryption type
func (k *Keyring) Key(t schema.EncryptionType) (KeyInfo, bool) {
	for _, info := range k.keys {
		if info.EncryptionType == t {
			return info, true
		}
	}
	return KeyInfo{}, false
}

// Encrypt encrypts a value for an encrypted column
func (k *Keyring) Encrypt(col schema.Column, plaintext string) ([]byte, error) {
	ad := []byte(col.Name)

	switch col.Encryption {
	case schema.Deterministic:
		return k.deterministic.EncryptDeterministically([]byte(plaintext), ad)
	case schema.Randomized:
		return k.randomized.Encrypt([]byte(plaintext), ad)
	default:
		return nil, fmt.Errorf("column %s is not encrypted", col.Name)
	}
}

// Decrypt decrypts a value read from an encrypted column
func (k *Keyring) Decrypt(col schema.Column, ciphertext []byte) (string, error) {
	ad := []byte(col.Name)

	var (
		plaintext []byte
		err       error
	)

	switch col.Encryption {
	case schema.Deterministic:
		plaintext, err = k.deterministic.DecryptDeterministically(ciphertext, ad)
	case schema.Randomized:
		plaintext, err = k.randomized.Decrypt(ciphertext, ad)
	default:
		return "", fmt.Errorf("column %s is not encrypted", col.Name)
	}
	if err != nil {
		return "", fmt.Errorf("decrypting column %s: %w", col.Name, err)
	}
	return string(plaintext), nil
}

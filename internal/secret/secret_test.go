package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	verrors "github.com/valorwatch/valorwatch/internal/errors"
)

func makeKey(b byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = b
	}
	return key
}

func TestStore_RoundTrip(t *testing.T) {
	store, err := NewStore([][]byte{makeKey(1)})
	require.NoError(t, err)

	plaintext := "eyJhbGciOiJSUzI1NiJ9.access-token"
	ciphertext, err := store.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := store.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestStore_EncryptIsNonDeterministic(t *testing.T) {
	store, err := NewStore([][]byte{makeKey(1)})
	require.NoError(t, err)

	a, err := store.Encrypt("token")
	require.NoError(t, err)
	b, err := store.Encrypt("token")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStore_OldCiphertextsReadableAfterRotation(t *testing.T) {
	oldStore, err := NewStore([][]byte{makeKey(1)})
	require.NoError(t, err)
	oldCiphertext, err := oldStore.Encrypt("session-cookie")
	require.NoError(t, err)

	// New key added; old key retained.
	newStore, err := NewStore([][]byte{makeKey(1), makeKey(2)})
	require.NoError(t, err)

	got, err := newStore.Decrypt(oldCiphertext)
	require.NoError(t, err)
	assert.Equal(t, "session-cookie", got)
}

func TestStore_EncryptUsesNewestKey(t *testing.T) {
	store, err := NewStore([][]byte{makeKey(1), makeKey(2)})
	require.NoError(t, err)

	ciphertext, err := store.Encrypt("token")
	require.NoError(t, err)

	// Only the newest key can open it.
	newest, err := NewStore([][]byte{makeKey(2)})
	require.NoError(t, err)
	_, err = newest.Decrypt(ciphertext)
	assert.NoError(t, err)

	oldest, err := NewStore([][]byte{makeKey(1)})
	require.NoError(t, err)
	_, err = oldest.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestStore_Rotate(t *testing.T) {
	oldStore, err := NewStore([][]byte{makeKey(1)})
	require.NoError(t, err)
	oldCiphertext, err := oldStore.Encrypt("entitlement")
	require.NoError(t, err)

	store, err := NewStore([][]byte{makeKey(1), makeKey(2)})
	require.NoError(t, err)

	rotated, err := store.Rotate(oldCiphertext)
	require.NoError(t, err)
	assert.NotEqual(t, oldCiphertext, rotated)

	// Rotated ciphertext opens under the newest key alone.
	newest, err := NewStore([][]byte{makeKey(2)})
	require.NoError(t, err)
	got, err := newest.Decrypt(rotated)
	require.NoError(t, err)
	assert.Equal(t, "entitlement", got)
}

func TestStore_DecryptFailsClosed(t *testing.T) {
	store, err := NewStore([][]byte{makeKey(1), makeKey(2)})
	require.NoError(t, err)

	for _, ciphertext := range []string{"", "not-base64!!", "aGVsbG8="} {
		_, err := store.Decrypt(ciphertext)
		require.Error(t, err)
		var decErr *verrors.ErrDecryption
		require.ErrorAs(t, err, &decErr)
		assert.Equal(t, 2, decErr.KeysTried)
	}
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(nil)
	assert.Error(t, err)

	_, err = NewStore([][]byte{{1, 2, 3}})
	assert.Error(t, err)
}

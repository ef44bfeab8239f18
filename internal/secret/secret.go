package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/valorwatch/valorwatch/internal/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Store encrypts and decrypts token material before it reaches persistence.
// It holds every configured key so that ciphertexts produced under retired
// keys stay readable; new ciphertexts always use the newest key. The key
// set is immutable after construction and safe for concurrent use.
type Store struct {
	// aeads is ordered oldest to newest; the last entry is the active key.
	aeads []cipher.AEAD
}

// NewStore builds a Store from raw 32-byte keys, oldest first. At least one
// key is required.
func NewStore(keys [][]byte) (*Store, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one encryption key is required")
	}

	aeads := make([]cipher.AEAD, 0, len(keys))
	for i, key := range keys {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("key[%d]: %w", i, err)
		}
		aeads = append(aeads, aead)
	}
	return &Store{aeads: aeads}, nil
}

// Encrypt encrypts plaintext under the newest configured key and returns a
// base64 ciphertext with the nonce prepended.
func (s *Store) Encrypt(plaintext string) (string, error) {
	aead := s.aeads[len(s.aeads)-1]

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce generation: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt tries every configured key, newest first, and fails closed with
// ErrDecryption if none opens the ciphertext.
func (s *Store) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &errors.ErrDecryption{KeysTried: len(s.aeads)}
	}

	for i := len(s.aeads) - 1; i >= 0; i-- {
		aead := s.aeads[i]
		if len(raw) < aead.NonceSize() {
			continue
		}
		nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
		plaintext, err := aead.Open(nil, nonce, sealed, nil)
		if err == nil {
			return string(plaintext), nil
		}
	}
	return "", &errors.ErrDecryption{KeysTried: len(s.aeads)}
}

// Rotate re-encrypts a ciphertext under the newest key. The plaintext never
// leaves the store.
func (s *Store) Rotate(ciphertext string) (string, error) {
	plaintext, err := s.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return s.Encrypt(plaintext)
}

// KeyCount reports how many keys are configured.
func (s *Store) KeyCount() int {
	return len(s.aeads)
}

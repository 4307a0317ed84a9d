package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
)

const vaultIVSize = 12 // 96-bit GCM nonce

var (
	// ErrIntegrity is returned when an authentication tag fails to verify:
	// wrong key, tampered ciphertext, or mismatched IV. Decryption must never
	// fall through to returning corrupted plaintext.
	ErrIntegrity = errors.New("crypto: integrity check failed")
)

// EncryptVault encrypts a serialized vault payload under the vault key with
// AES-256-GCM. A fresh random IV is generated per call; the GCM tag is
// appended to the ciphertext.
func EncryptVault(plaintext, key []byte) (iv, ciphertext []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, vaultIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	ciphertext = aead.Seal(nil, iv, plaintext, nil)
	return iv, ciphertext, nil
}

// DecryptVault reverses EncryptVault. Returns ErrIntegrity on any
// authentication failure.
func DecryptVault(iv, ciphertext, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != vaultIVSize {
		return nil, ErrIntegrity
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

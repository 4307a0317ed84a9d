package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// Key escrow: the server holds a reversible encryption of the user's
// serialized vault key under a server-side secret, so a passkey login can
// recover a usable key without the password. Wire format is three
// colon-joined base64 segments: IV : auth tag : ciphertext.

const gcmTagSize = 16

// ErrFormat is returned when a wrapped key does not have exactly three
// base64 segments.
var ErrFormat = errors.New("crypto: invalid wrapped key format")

// WrapKey encrypts a serialized vault key under SHA-256(secret) with
// AES-256-GCM and returns the wire representation.
func WrapKey(serialized string, secret []byte) (string, error) {
	key := sha256.Sum256(secret)
	aead, err := newGCM(key[:])
	if err != nil {
		return "", err
	}
	iv := make([]byte, vaultIVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, iv, []byte(serialized), nil)
	// Seal appends the tag; split it back out for the wire format.
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	b64 := base64.StdEncoding
	return b64.EncodeToString(iv) + ":" + b64.EncodeToString(tag) + ":" + b64.EncodeToString(ct), nil
}

// UnwrapKey reverses WrapKey. Returns ErrFormat for a malformed
// representation and ErrIntegrity when the tag does not verify.
func UnwrapKey(wrapped string, secret []byte) (string, error) {
	parts := strings.Split(wrapped, ":")
	if len(parts) != 3 {
		return "", ErrFormat
	}
	b64 := base64.StdEncoding
	iv, err := b64.DecodeString(parts[0])
	if err != nil {
		return "", ErrFormat
	}
	tag, err := b64.DecodeString(parts[1])
	if err != nil {
		return "", ErrFormat
	}
	ct, err := b64.DecodeString(parts[2])
	if err != nil {
		return "", ErrFormat
	}
	if len(iv) != vaultIVSize || len(tag) != gcmTagSize {
		return "", ErrIntegrity
	}

	key := sha256.Sum256(secret)
	aead, err := newGCM(key[:])
	if err != nil {
		return "", err
	}
	plaintext, err := aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

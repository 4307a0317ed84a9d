package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2 parameters for the vault key (client-held encryption key).
	VaultKeyIterations = 600_000
	VaultKeyLen        = 32

	SaltLen = 16
)

// Argon2id parameters for the auth token. A different algorithm family than
// the vault key derivation, so the token stored server-side gives no shortcut
// to the encryption key.
type ArgonParams struct {
	Memory      uint32 // in KiB
	Time        uint32 // iterations
	Parallelism uint8
	KeyLen      uint32
}

var DefaultArgon = ArgonParams{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 1,
	KeyLen:      32,
}

// GenerateSalt returns a fresh 128-bit salt. The salt is public and generated
// exactly once, at setup.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveVaultKey derives the symmetric vault encryption key from the master
// password and salt. Deterministic for fixed inputs.
func DeriveVaultKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, VaultKeyIterations, VaultKeyLen, sha256.New)
}

// DeriveAuthToken derives the token sent to the server for login
// verification. It must never equal, contain, or leak the vault key.
func DeriveAuthToken(password string, salt []byte) []byte {
	return DeriveAuthTokenParams(password, salt, DefaultArgon)
}

func DeriveAuthTokenParams(password string, salt []byte, p ArgonParams) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
}

var ErrKeyFormat = errors.New("crypto: malformed serialized key")

// ExportKey serializes a vault key to its portable form, used when the key is
// sent to the server for escrow.
func ExportKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// ImportKey restores a vault key from its portable form.
func ImportKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrKeyFormat
	}
	if len(key) != VaultKeyLen {
		return nil, ErrKeyFormat
	}
	return key, nil
}

package vault

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	cr "vaultlite/internal/crypto"
	"vaultlite/internal/storage"
)

// Seal serializes the vault data and encrypts it with the vault key,
// producing the wire/storage form. A fresh IV is used per call.
func Seal(d *Data, key []byte) (*storage.EncryptedVault, error) {
	plaintext, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("vault: marshal: %w", err)
	}
	iv, ct, err := cr.EncryptVault(plaintext, key)
	if err != nil {
		return nil, err
	}
	return &storage.EncryptedVault{
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// Open decrypts and deserializes a stored vault. Any tag failure surfaces as
// crypto.ErrIntegrity; a base64-mangled blob surfaces the same way since it
// cannot have come from Seal.
func Open(enc *storage.EncryptedVault, key []byte) (*Data, error) {
	iv, err := base64.StdEncoding.DecodeString(enc.IV)
	if err != nil {
		return nil, cr.ErrIntegrity
	}
	ct, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	if err != nil {
		return nil, cr.ErrIntegrity
	}
	plaintext, err := cr.DecryptVault(iv, ct, key)
	if err != nil {
		return nil, err
	}
	var d Data
	if err := json.Unmarshal(plaintext, &d); err != nil {
		return nil, fmt.Errorf("vault: unmarshal: %w", err)
	}
	return &d, nil
}

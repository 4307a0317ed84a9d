package storage

// Persisted schema for the single-user vault record. The server owns this
// exclusively; the client only ever sees the profile's public salt, the
// encrypted vault blob, and ceremony results derived from it.

// Passkey is one registered platform authenticator credential.
type Passkey struct {
	ID               string   `json:"id" bson:"id"`                // base64url credential id
	PublicKey        string   `json:"publicKey" bson:"publicKey"`  // base64 COSE public key
	SignatureCounter uint32   `json:"signatureCounter" bson:"signatureCounter"`
	Transports       []string `json:"transports,omitempty" bson:"transports,omitempty"`
	CreatedAt        int64    `json:"createdAt" bson:"createdAt"` // unix millis
}

// Profile holds the per-user authentication state. Exactly one profile may
// exist; it is created at setup and never deleted in normal operation.
type Profile struct {
	AuthToken string    `json:"authToken" bson:"authToken"` // base64, never the vault key
	Salt      string    `json:"salt" bson:"salt"`           // base64, public
	Passkeys  []Passkey `json:"passkeys" bson:"passkeys"`
	// WrappedVaultKey is the only form in which vault key material may
	// reside server-side: the serialized key wrapped under the server secret.
	WrappedVaultKey string `json:"wrappedVaultKey,omitempty" bson:"wrappedVaultKey,omitempty"`
}

// EncryptedVault is the opaque vault blob. Replaced wholesale on every write.
type EncryptedVault struct {
	IV         string `json:"iv" bson:"iv"`                 // base64
	Ciphertext string `json:"ciphertext" bson:"ciphertext"` // base64, tag appended
}

// Record is the full value stored under the vault's single storage key.
// Version is the optimistic-concurrency token compared on every replace.
type Record struct {
	Version int             `json:"version" bson:"version"`
	Profile *Profile        `json:"profile" bson:"profile"`
	Vault   *EncryptedVault `json:"vault" bson:"vault"`
}

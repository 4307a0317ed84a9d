package passkey

import (
	"encoding/base64"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"vaultlite/internal/storage"
)

// The vault has exactly one user; the relying-party identity is fixed.
const ownerHandle = "owner"

// ceremonyUser adapts the stored profile to the webauthn.User interface.
// Credential IDs are stored base64url encoded and public keys base64
// encoded; entries that fail to decode are skipped rather than aborting
// the ceremony.
type ceremonyUser struct {
	profile *storage.Profile
}

func (u ceremonyUser) WebAuthnID() []byte          { return []byte(ownerHandle) }
func (u ceremonyUser) WebAuthnName() string        { return ownerHandle }
func (u ceremonyUser) WebAuthnDisplayName() string { return ownerHandle }

// WebAuthnIcon satisfies the deprecated icon accessor still present in the
// webauthn.User interface of go-webauthn/webauthn v0.10.x.
func (u ceremonyUser) WebAuthnIcon() string { return "" }

func (u ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.profile.Passkeys))
	for _, pk := range u.profile.Passkeys {
		id, err := base64.RawURLEncoding.DecodeString(pk.ID)
		if err != nil {
			continue
		}
		pub, err := base64.StdEncoding.DecodeString(pk.PublicKey)
		if err != nil {
			continue
		}
		var transports []protocol.AuthenticatorTransport
		for _, t := range pk.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		creds = append(creds, webauthn.Credential{
			ID:        id,
			PublicKey: pub,
			Transport: transports,
			Authenticator: webauthn.Authenticator{
				SignCount: pk.SignatureCounter,
			},
		})
	}
	return creds
}

package passkey

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Verifier abstracts the WebAuthn ceremony cryptography so handlers and tests
// can run without a real authenticator. Option payloads are raw JSON ready to
// be written to the client.
type Verifier interface {
	BeginRegistration(user webauthn.User) (options json.RawMessage, session *webauthn.SessionData, err error)
	FinishRegistration(user webauthn.User, session webauthn.SessionData, body io.Reader) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User) (options json.RawMessage, session *webauthn.SessionData, err error)
	FinishLogin(user webauthn.User, session webauthn.SessionData, body io.Reader) (*webauthn.Credential, error)
}

// WebAuthnVerifier is the production Verifier backed by go-webauthn.
type WebAuthnVerifier struct {
	wa *webauthn.WebAuthn
}

// NewWebAuthnVerifier builds a verifier for the given relying party.
func NewWebAuthnVerifier(rpID, rpOrigin, rpName string) (*WebAuthnVerifier, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: rpName,
		RPID:          rpID,
		RPOrigins:     []string{rpOrigin},
	})
	if err != nil {
		return nil, fmt.Errorf("passkey: webauthn config: %w", err)
	}
	return &WebAuthnVerifier{wa: wa}, nil
}

func (v *WebAuthnVerifier) BeginRegistration(user webauthn.User) (json.RawMessage, *webauthn.SessionData, error) {
	// Exclude already registered credentials so an authenticator is not
	// enrolled twice.
	var exclusions []protocol.CredentialDescriptor
	for _, c := range user.WebAuthnCredentials() {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
		})
	}
	opts, session, err := v.wa.BeginRegistration(user, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, nil, err
	}
	return raw, session, nil
}

func (v *WebAuthnVerifier) FinishRegistration(user webauthn.User, session webauthn.SessionData, body io.Reader) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(body)
	if err != nil {
		return nil, err
	}
	return v.wa.CreateCredential(user, session, parsed)
}

func (v *WebAuthnVerifier) BeginLogin(user webauthn.User) (json.RawMessage, *webauthn.SessionData, error) {
	opts, session, err := v.wa.BeginLogin(user)
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, nil, err
	}
	return raw, session, nil
}

func (v *WebAuthnVerifier) FinishLogin(user webauthn.User, session webauthn.SessionData, body io.Reader) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(body)
	if err != nil {
		return nil, err
	}
	return v.wa.ValidateLogin(user, session, parsed)
}

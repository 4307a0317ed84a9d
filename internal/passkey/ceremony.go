package passkey

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vaultlite/internal/storage"
)

var (
	// ErrChallengeExpired covers a missing, already consumed, or timed out
	// ceremony challenge.
	ErrChallengeExpired = errors.New("passkey: challenge expired or already used")
	// ErrCredentialNotFound means the asserted credential ID is not
	// registered on the profile.
	ErrCredentialNotFound = errors.New("passkey: credential not registered")
	// ErrVerificationFailed means the attestation or assertion did not
	// verify against the pending challenge.
	ErrVerificationFailed = errors.New("passkey: verification failed")
	// ErrCounterRegression means the authenticator reported a signature
	// counter at or below the stored one, which indicates a cloned key.
	ErrCounterRegression = errors.New("passkey: signature counter regression")
)

// Ceremonies drives the registration and login flows end to end: it issues
// single-use challenges, runs the verifier over submitted responses, and
// enforces the signature counter policy.
type Ceremonies struct {
	verifier   Verifier
	challenges *ChallengeStore
}

func NewCeremonies(v Verifier, ttl time.Duration) *Ceremonies {
	return &Ceremonies{verifier: v, challenges: NewChallengeStore(ttl)}
}

// StartRegistration issues creation options for a new passkey. The returned
// token must accompany the authenticator's response to FinishRegistration.
func (c *Ceremonies) StartRegistration(profile *storage.Profile) (json.RawMessage, string, error) {
	opts, session, err := c.verifier.BeginRegistration(ceremonyUser{profile: profile})
	if err != nil {
		return nil, "", fmt.Errorf("passkey: begin registration: %w", err)
	}
	return opts, c.challenges.Issue(*session), nil
}

// FinishRegistration validates an attestation response against the pending
// challenge and returns the passkey to persist.
func (c *Ceremonies) FinishRegistration(profile *storage.Profile, token string, body []byte) (*storage.Passkey, error) {
	session, ok := c.challenges.Consume(token)
	if !ok {
		return nil, ErrChallengeExpired
	}
	cred, err := c.verifier.FinishRegistration(ceremonyUser{profile: profile}, session, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return &storage.Passkey{
		ID:               base64.RawURLEncoding.EncodeToString(cred.ID),
		PublicKey:        base64.StdEncoding.EncodeToString(cred.PublicKey),
		SignatureCounter: cred.Authenticator.SignCount,
		Transports:       transports,
		CreatedAt:        time.Now().UnixMilli(),
	}, nil
}

// StartLogin issues assertion options over the profile's registered passkeys.
func (c *Ceremonies) StartLogin(profile *storage.Profile) (json.RawMessage, string, error) {
	opts, session, err := c.verifier.BeginLogin(ceremonyUser{profile: profile})
	if err != nil {
		return nil, "", fmt.Errorf("passkey: begin login: %w", err)
	}
	return opts, c.challenges.Issue(*session), nil
}

// FinishLogin validates an assertion response. It returns the credential ID
// that signed and the authenticator's new signature counter; the caller is
// responsible for persisting the counter. The challenge is consumed before
// any verification, so an expired ceremony never touches stored state.
func (c *Ceremonies) FinishLogin(profile *storage.Profile, token string, body []byte) (string, uint32, error) {
	session, ok := c.challenges.Consume(token)
	if !ok {
		return "", 0, ErrChallengeExpired
	}

	credID, err := assertedCredentialID(body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	stored, ok := findPasskey(profile, credID)
	if !ok {
		return "", 0, ErrCredentialNotFound
	}

	cred, err := c.verifier.FinishLogin(ceremonyUser{profile: profile}, session, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	newCounter := cred.Authenticator.SignCount
	// Counters must strictly increase. The one exception is authenticators
	// that never implement a counter and report zero on every assertion.
	if !(newCounter > stored.SignatureCounter || (newCounter == 0 && stored.SignatureCounter == 0)) {
		return "", 0, ErrCounterRegression
	}
	return credID, newCounter, nil
}

// assertedCredentialID pulls the credential ID out of an assertion response
// without running full verification, so an unknown credential can be
// reported distinctly from a bad signature.
func assertedCredentialID(body []byte) (string, error) {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", err
	}
	if envelope.ID == "" {
		return "", errors.New("assertion response missing credential id")
	}
	return envelope.ID, nil
}

func findPasskey(profile *storage.Profile, credID string) (*storage.Passkey, bool) {
	for i := range profile.Passkeys {
		if profile.Passkeys[i].ID == credID {
			return &profile.Passkeys[i], true
		}
	}
	return nil, false
}

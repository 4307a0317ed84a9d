package passkey

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"vaultlite/internal/storage"
)

// fakeVerifier stands in for the WebAuthn stack. Responses are plain JSON
// {"id", "publicKey", "counter"} objects; verification succeeds unless
// failVerify is set.
type fakeVerifier struct {
	failVerify  bool
	finishCalls int
}

type fakeResponse struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Counter   uint32 `json:"counter"`
}

func (f *fakeVerifier) BeginRegistration(user webauthn.User) (json.RawMessage, *webauthn.SessionData, error) {
	return json.RawMessage(`{"publicKey":{"challenge":"reg"}}`), &webauthn.SessionData{Challenge: "reg"}, nil
}

func (f *fakeVerifier) BeginLogin(user webauthn.User) (json.RawMessage, *webauthn.SessionData, error) {
	return json.RawMessage(`{"publicKey":{"challenge":"auth"}}`), &webauthn.SessionData{Challenge: "auth"}, nil
}

func (f *fakeVerifier) finish(body io.Reader) (*webauthn.Credential, error) {
	f.finishCalls++
	if f.failVerify {
		return nil, errors.New("signature mismatch")
	}
	var resp fakeResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, err
	}
	id, err := base64.RawURLEncoding.DecodeString(resp.ID)
	if err != nil {
		return nil, err
	}
	return &webauthn.Credential{
		ID:            id,
		PublicKey:     []byte(resp.PublicKey),
		Authenticator: webauthn.Authenticator{SignCount: resp.Counter},
	}, nil
}

func (f *fakeVerifier) FinishRegistration(user webauthn.User, session webauthn.SessionData, body io.Reader) (*webauthn.Credential, error) {
	return f.finish(body)
}

func (f *fakeVerifier) FinishLogin(user webauthn.User, session webauthn.SessionData, body io.Reader) (*webauthn.Credential, error) {
	return f.finish(body)
}

func credBody(t *testing.T, id string, counter uint32) []byte {
	t.Helper()
	b, err := json.Marshal(fakeResponse{ID: id, PublicKey: "pub", Counter: counter})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func registeredProfile(id string, counter uint32) *storage.Profile {
	return &storage.Profile{
		Passkeys: []storage.Passkey{{
			ID:               id,
			PublicKey:        base64.StdEncoding.EncodeToString([]byte("pub")),
			SignatureCounter: counter,
		}},
	}
}

func testCredID(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestRegistrationFlow(t *testing.T) {
	c := NewCeremonies(&fakeVerifier{}, time.Minute)
	profile := &storage.Profile{}

	opts, token, err := c.StartRegistration(profile)
	if err != nil {
		t.Fatalf("start registration: %v", err)
	}
	if len(opts) == 0 || token == "" {
		t.Fatal("missing options or token")
	}

	id := testCredID("cred-1")
	pk, err := c.FinishRegistration(profile, token, credBody(t, id, 0))
	if err != nil {
		t.Fatalf("finish registration: %v", err)
	}
	if pk.ID != id {
		t.Fatalf("credential id: got %q want %q", pk.ID, id)
	}
	if pk.SignatureCounter != 0 {
		t.Fatalf("initial counter: %d", pk.SignatureCounter)
	}
	if pk.CreatedAt == 0 {
		t.Fatal("createdAt not set")
	}
}

func TestChallengeSingleUse(t *testing.T) {
	c := NewCeremonies(&fakeVerifier{}, time.Minute)
	profile := &storage.Profile{}

	_, token, err := c.StartRegistration(profile)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	body := credBody(t, testCredID("cred-1"), 0)
	if _, err := c.FinishRegistration(profile, token, body); err != nil {
		t.Fatalf("first finish: %v", err)
	}
	if _, err := c.FinishRegistration(profile, token, body); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("second finish: got %v, want ErrChallengeExpired", err)
	}
}

func TestChallengeTTL(t *testing.T) {
	c := NewCeremonies(&fakeVerifier{}, time.Minute)
	base := time.Now()
	c.challenges.now = func() time.Time { return base }

	_, token, err := c.StartLogin(registeredProfile(testCredID("cred-1"), 3))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	base = base.Add(2 * time.Minute)
	if _, ok := c.challenges.Consume(token); ok {
		t.Fatal("consumed a challenge past its TTL")
	}
}

func TestLoginFlow(t *testing.T) {
	c := NewCeremonies(&fakeVerifier{}, time.Minute)
	id := testCredID("cred-1")
	profile := registeredProfile(id, 3)

	_, token, err := c.StartLogin(profile)
	if err != nil {
		t.Fatalf("start login: %v", err)
	}
	gotID, counter, err := c.FinishLogin(profile, token, credBody(t, id, 4))
	if err != nil {
		t.Fatalf("finish login: %v", err)
	}
	if gotID != id || counter != 4 {
		t.Fatalf("got id=%q counter=%d", gotID, counter)
	}
}

func TestLoginUnknownCredential(t *testing.T) {
	v := &fakeVerifier{}
	c := NewCeremonies(v, time.Minute)
	profile := registeredProfile(testCredID("cred-1"), 3)

	_, token, err := c.StartLogin(profile)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _, err = c.FinishLogin(profile, token, credBody(t, testCredID("stranger"), 4))
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("got %v, want ErrCredentialNotFound", err)
	}
	if v.finishCalls != 0 {
		t.Fatal("verifier ran for an unregistered credential")
	}
}

func TestLoginVerificationFailure(t *testing.T) {
	v := &fakeVerifier{failVerify: true}
	c := NewCeremonies(v, time.Minute)
	id := testCredID("cred-1")
	profile := registeredProfile(id, 3)

	_, token, err := c.StartLogin(profile)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := c.FinishLogin(profile, token, credBody(t, id, 4)); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("got %v, want ErrVerificationFailed", err)
	}
}

func TestLoginExpiredChallengeLeavesStateAlone(t *testing.T) {
	v := &fakeVerifier{}
	c := NewCeremonies(v, time.Minute)
	id := testCredID("cred-1")
	profile := registeredProfile(id, 3)

	_, _, err := c.FinishLogin(profile, "no-such-token", credBody(t, id, 4))
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("got %v, want ErrChallengeExpired", err)
	}
	if v.finishCalls != 0 {
		t.Fatal("verifier ran without a live challenge")
	}
	if profile.Passkeys[0].SignatureCounter != 3 {
		t.Fatalf("stored counter changed: %d", profile.Passkeys[0].SignatureCounter)
	}
}

func TestLoginCounterPolicy(t *testing.T) {
	cases := []struct {
		name    string
		stored  uint32
		asserts uint32
		wantErr error
	}{
		{"strictly increasing", 3, 4, nil},
		{"equal rejected", 3, 3, ErrCounterRegression},
		{"regression rejected", 3, 1, ErrCounterRegression},
		{"zero after nonzero rejected", 3, 0, ErrCounterRegression},
		{"counterless authenticator", 0, 0, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCeremonies(&fakeVerifier{}, time.Minute)
			id := testCredID("cred-1")
			profile := registeredProfile(id, tc.stored)

			_, token, err := c.StartLogin(profile)
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			_, _, err = c.FinishLogin(profile, token, credBody(t, id, tc.asserts))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

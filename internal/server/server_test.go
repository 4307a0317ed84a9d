package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"vaultlite/internal/crypto"
	"vaultlite/internal/passkey"
	"vaultlite/internal/storage"
)

// fakeVerifier accepts {"id","publicKey","counter"} JSON in place of real
// attestation and assertion responses.
type fakeVerifier struct {
	failVerify bool
}

type fakeCredential struct {
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
	if f.failVerify {
		return nil, errors.New("signature mismatch")
	}
	var c fakeCredential
	if err := json.NewDecoder(body).Decode(&c); err != nil {
		return nil, err
	}
	id, err := base64.RawURLEncoding.DecodeString(c.ID)
	if err != nil {
		return nil, err
	}
	return &webauthn.Credential{
		ID:            id,
		PublicKey:     []byte(c.PublicKey),
		Authenticator: webauthn.Authenticator{SignCount: c.Counter},
	}, nil
}

func (f *fakeVerifier) FinishRegistration(user webauthn.User, session webauthn.SessionData, body io.Reader) (*webauthn.Credential, error) {
	return f.finish(body)
}

func (f *fakeVerifier) FinishLogin(user webauthn.User, session webauthn.SessionData, body io.Reader) (*webauthn.Credential, error) {
	return f.finish(body)
}

func newTestServer(t *testing.T) (*Server, *storage.MemoryKVStore) {
	t.Helper()
	store := storage.NewMemoryKVStore()
	ceremonies := passkey.NewCeremonies(&fakeVerifier{}, time.Minute)
	s := NewWithStore(Config{ServerSecret: "test-secret"}, store, ceremonies)
	return s, store
}

func do(t *testing.T, s *Server, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func mustSetup(t *testing.T, s *Server, authToken, salt string) {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/auth/setup", setupReq{AuthToken: authToken, Salt: salt})
	if rec.Code != http.StatusOK {
		t.Fatalf("setup: %d %s", rec.Code, rec.Body.String())
	}
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func randSalt(t *testing.T) string {
	t.Helper()
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b64(b)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatusReflectsSetup(t *testing.T) {
	s, _ := newTestServer(t)

	status := decode[map[string]bool](t, do(t, s, http.MethodGet, "/api/auth/status", nil))
	if status["initialized"] {
		t.Fatal("initialized before setup")
	}

	mustSetup(t, s, "token", randSalt(t))

	status = decode[map[string]bool](t, do(t, s, http.MethodGet, "/api/auth/status", nil))
	if !status["initialized"] {
		t.Fatal("not initialized after setup")
	}
}

func TestSetupValidation(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := do(t, s, http.MethodPost, "/api/auth/setup", setupReq{Salt: randSalt(t)}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing authToken: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/auth/setup", setupReq{AuthToken: "t"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing salt: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/auth/setup", setupReq{AuthToken: "t", Salt: "not base64!!"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad salt: %d", rec.Code)
	}
}

func TestSetupTwice(t *testing.T) {
	s, store := newTestServer(t)
	salt := randSalt(t)
	mustSetup(t, s, "first", salt)

	rec := do(t, s, http.MethodPost, "/api/auth/setup", setupReq{AuthToken: "second", Salt: randSalt(t)})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "already initialized") {
		t.Fatalf("second setup: %d %q", rec.Code, rec.Body.String())
	}

	stored, err := store.Get(context.Background(), "owner")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Profile.AuthToken != "first" || stored.Profile.Salt != salt {
		t.Fatal("second setup mutated the profile")
	}
}

func TestAuthParams(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := do(t, s, http.MethodGet, "/api/auth/params", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("params before setup: %d", rec.Code)
	}

	salt := randSalt(t)
	mustSetup(t, s, "token", salt)

	params := decode[map[string]string](t, do(t, s, http.MethodGet, "/api/auth/params", nil))
	if params["salt"] != salt {
		t.Fatalf("salt: got %q want %q", params["salt"], salt)
	}
}

func TestPasswordLogin(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := do(t, s, http.MethodPost, "/api/auth/login", loginReq{AuthToken: "x"}); rec.Code != http.StatusNotFound {
		t.Fatalf("login before setup: %d", rec.Code)
	}

	salt := randSalt(t)
	mustSetup(t, s, "the-token", salt)

	if rec := do(t, s, http.MethodPost, "/api/auth/login", loginReq{AuthToken: "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}

	rec := do(t, s, http.MethodPost, "/api/auth/login", loginReq{AuthToken: "the-token"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	resp := decode[loginResp](t, rec)
	if !resp.Success || resp.Salt != salt {
		t.Fatalf("login response: %+v", resp)
	}
}

func TestVaultReadWrite(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := do(t, s, http.MethodGet, "/api/vault", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("read before setup: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPut, "/api/vault", vaultWriteReq{IV: b64([]byte("x")), Ciphertext: b64([]byte("y"))}); rec.Code != http.StatusNotFound {
		t.Fatalf("write before setup: %d", rec.Code)
	}

	mustSetup(t, s, "token", randSalt(t))

	if rec := do(t, s, http.MethodPut, "/api/vault", vaultWriteReq{IV: "", Ciphertext: b64([]byte("y"))}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing iv: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPut, "/api/vault", vaultWriteReq{IV: "!!", Ciphertext: b64([]byte("y"))}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad iv: %d", rec.Code)
	}

	iv, ct := b64([]byte("iv-bytes")), b64([]byte("ct-bytes"))
	if rec := do(t, s, http.MethodPut, "/api/vault", vaultWriteReq{IV: iv, Ciphertext: ct}); rec.Code != http.StatusOK {
		t.Fatalf("write: %d", rec.Code)
	}

	got := decode[map[string]*storage.EncryptedVault](t, do(t, s, http.MethodGet, "/api/vault", nil))
	if v := got["encryptedVault"]; v == nil || v.IV != iv || v.Ciphertext != ct {
		t.Fatalf("read back: %+v", got)
	}
}

func challengeCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.Value != "" {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", name)
	return nil
}

func registerPasskey(t *testing.T, s *Server, credID, exportedKey string) {
	t.Helper()
	start := do(t, s, http.MethodPost, "/api/passkey/register/start", nil)
	if start.Code != http.StatusOK {
		t.Fatalf("register start: %d %s", start.Code, start.Body.String())
	}
	cookie := challengeCookie(t, start, "reg_challenge")

	attestation, _ := json.Marshal(fakeCredential{ID: credID, PublicKey: "pub", Counter: 0})
	finish := do(t, s, http.MethodPost, "/api/passkey/register/finish", map[string]any{
		"attestationResponse": json.RawMessage(attestation),
		"exportedVaultKey":    exportedKey,
	}, cookie)
	if finish.Code != http.StatusOK {
		t.Fatalf("register finish: %d %s", finish.Code, finish.Body.String())
	}
}

func TestPasskeyRegisterAndLogin(t *testing.T) {
	s, store := newTestServer(t)
	mustSetup(t, s, "token", randSalt(t))

	vaultKey := make([]byte, 32)
	if _, err := rand.Read(vaultKey); err != nil {
		t.Fatalf("rand: %v", err)
	}
	exported := crypto.ExportKey(vaultKey)
	credID := base64.RawURLEncoding.EncodeToString([]byte("cred-1"))

	registerPasskey(t, s, credID, exported)

	rec, err := store.Get(context.Background(), "owner")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(rec.Profile.Passkeys) != 1 || rec.Profile.Passkeys[0].ID != credID {
		t.Fatalf("passkeys after register: %+v", rec.Profile.Passkeys)
	}
	if rec.Profile.WrappedVaultKey == "" {
		t.Fatal("vault key not escrowed")
	}

	start := do(t, s, http.MethodPost, "/api/passkey/login/start", nil)
	if start.Code != http.StatusOK {
		t.Fatalf("login start: %d", start.Code)
	}
	cookie := challengeCookie(t, start, "auth_challenge")

	finish := do(t, s, http.MethodPost, "/api/passkey/login/finish", fakeCredential{ID: credID, PublicKey: "pub", Counter: 1}, cookie)
	if finish.Code != http.StatusOK {
		t.Fatalf("login finish: %d %s", finish.Code, finish.Body.String())
	}
	resp := decode[passkeyAuthResp](t, finish)
	if !resp.Verified {
		t.Fatal("not verified")
	}
	if resp.UnwrappedVaultKey != exported {
		t.Fatalf("unwrapped key: got %q want %q", resp.UnwrappedVaultKey, exported)
	}

	rec, _ = store.Get(context.Background(), "owner")
	if rec.Profile.Passkeys[0].SignatureCounter != 1 {
		t.Fatalf("counter after login: %d", rec.Profile.Passkeys[0].SignatureCounter)
	}
}

func TestPasskeyLoginMissingChallenge(t *testing.T) {
	s, store := newTestServer(t)
	mustSetup(t, s, "token", randSalt(t))

	credID := base64.RawURLEncoding.EncodeToString([]byte("cred-1"))
	registerPasskey(t, s, credID, "")

	finish := do(t, s, http.MethodPost, "/api/passkey/login/finish", fakeCredential{ID: credID, PublicKey: "pub", Counter: 9})
	if finish.Code != http.StatusBadRequest || !strings.Contains(finish.Body.String(), "challenge expired") {
		t.Fatalf("missing cookie: %d %q", finish.Code, finish.Body.String())
	}

	rec, _ := store.Get(context.Background(), "owner")
	if rec.Profile.Passkeys[0].SignatureCounter != 0 {
		t.Fatalf("counter mutated without a live challenge: %d", rec.Profile.Passkeys[0].SignatureCounter)
	}
}

func TestPasskeyLoginUnknownCredential(t *testing.T) {
	s, _ := newTestServer(t)
	mustSetup(t, s, "token", randSalt(t))
	registerPasskey(t, s, base64.RawURLEncoding.EncodeToString([]byte("cred-1")), "")

	start := do(t, s, http.MethodPost, "/api/passkey/login/start", nil)
	cookie := challengeCookie(t, start, "auth_challenge")

	stranger := base64.RawURLEncoding.EncodeToString([]byte("stranger"))
	finish := do(t, s, http.MethodPost, "/api/passkey/login/finish", fakeCredential{ID: stranger, PublicKey: "pub", Counter: 1}, cookie)
	if finish.Code != http.StatusNotFound {
		t.Fatalf("unknown credential: %d %q", finish.Code, finish.Body.String())
	}
}

func TestPasskeyCounterRegressionRejected(t *testing.T) {
	s, store := newTestServer(t)
	mustSetup(t, s, "token", randSalt(t))
	credID := base64.RawURLEncoding.EncodeToString([]byte("cred-1"))
	registerPasskey(t, s, credID, "")

	login := func(counter uint32) *httptest.ResponseRecorder {
		start := do(t, s, http.MethodPost, "/api/passkey/login/start", nil)
		cookie := challengeCookie(t, start, "auth_challenge")
		return do(t, s, http.MethodPost, "/api/passkey/login/finish", fakeCredential{ID: credID, PublicKey: "pub", Counter: counter}, cookie)
	}

	if rec := login(5); rec.Code != http.StatusOK {
		t.Fatalf("first login: %d", rec.Code)
	}
	if rec := login(5); rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed counter: %d", rec.Code)
	}

	stored, _ := store.Get(context.Background(), "owner")
	if stored.Profile.Passkeys[0].SignatureCounter != 5 {
		t.Fatalf("counter after rejected login: %d", stored.Profile.Passkeys[0].SignatureCounter)
	}
}

func TestAuditTrail(t *testing.T) {
	s, _ := newTestServer(t)
	mustSetup(t, s, "token", randSalt(t))
	do(t, s, http.MethodPost, "/api/auth/login", loginReq{AuthToken: "wrong"})

	rec := do(t, s, http.MethodGet, "/api/audit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: %d", rec.Code)
	}
	var out struct {
		Entries []struct {
			Event string `json:"event"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	events := make([]string, 0, len(out.Entries))
	for _, e := range out.Entries {
		events = append(events, e.Event)
	}
	if len(events) != 2 || events[0] != "profile.setup" || events[1] != "login.password.failed" {
		t.Fatalf("audit events: %v", events)
	}
}

func TestPasskeyStartRequiresSetup(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := do(t, s, http.MethodPost, "/api/passkey/register/start", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("register start: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/passkey/login/start", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("login start: %d", rec.Code)
	}
}

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"vaultlite/internal/storage"
)

var (
	ErrAlreadyInitialized = errors.New("session: vault already initialized")
	ErrNotInitialized     = errors.New("session: vault not initialized")
	ErrInvalidCredential  = errors.New("session: invalid credentials")
	ErrChallengeExpired   = errors.New("session: passkey challenge expired")
	ErrVerificationFailed = errors.New("session: passkey verification failed")
	ErrCredentialNotFound = errors.New("session: passkey credential not found")
	ErrNoVault            = errors.New("session: no vault stored")
	ErrConflict           = errors.New("session: concurrent modification")
)

// Client is the HTTP binding to the vault daemon. It carries a cookie jar so
// ceremony challenge cookies flow between start and finish automatically.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Jar: jar},
	}, nil
}

// PasskeyLoginResult is what a finished authentication ceremony yields.
// UnwrappedVaultKey is empty when no key was escrowed or the unwrap failed.
type PasskeyLoginResult struct {
	Verified          bool                    `json:"verified"`
	EncryptedVault    *storage.EncryptedVault `json:"encryptedVault,omitempty"`
	UnwrappedVaultKey string                  `json:"unwrappedVaultKey,omitempty"`
}

type LoginResult struct {
	Success        bool                    `json:"success"`
	Salt           string                  `json:"salt"`
	EncryptedVault *storage.EncryptedVault `json:"encryptedVault,omitempty"`
}

func (c *Client) Initialized(ctx context.Context) (bool, error) {
	var out struct {
		Initialized bool `json:"initialized"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/status", nil, &out); err != nil {
		return false, err
	}
	return out.Initialized, nil
}

func (c *Client) Setup(ctx context.Context, authToken, salt string) error {
	body := map[string]string{"authToken": authToken, "salt": salt}
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/setup", body, nil)
	if isStatus(err, http.StatusBadRequest) && strings.Contains(err.Error(), "already initialized") {
		return ErrAlreadyInitialized
	}
	return err
}

func (c *Client) AuthParams(ctx context.Context) (string, error) {
	var out struct {
		Salt string `json:"salt"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/auth/params", nil, &out)
	if isStatus(err, http.StatusBadRequest) {
		return "", ErrNotInitialized
	}
	return out.Salt, err
}

func (c *Client) Login(ctx context.Context, authToken string) (*LoginResult, error) {
	var out LoginResult
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", map[string]string{"authToken": authToken}, &out)
	switch {
	case isStatus(err, http.StatusUnauthorized):
		return nil, ErrInvalidCredential
	case isStatus(err, http.StatusNotFound):
		return nil, ErrNotInitialized
	case err != nil:
		return nil, err
	}
	return &out, nil
}

func (c *Client) PasskeyRegisterStart(ctx context.Context) ([]byte, error) {
	return c.doRaw(ctx, http.MethodPost, "/api/passkey/register/start", nil)
}

func (c *Client) PasskeyRegisterFinish(ctx context.Context, attestation []byte, exportedVaultKey string) error {
	body := map[string]any{"attestationResponse": json.RawMessage(attestation)}
	if exportedVaultKey != "" {
		body["exportedVaultKey"] = exportedVaultKey
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/passkey/register/finish", body, nil)
	return mapCeremonyErr(err)
}

func (c *Client) PasskeyLoginStart(ctx context.Context) ([]byte, error) {
	return c.doRaw(ctx, http.MethodPost, "/api/passkey/login/start", nil)
}

func (c *Client) PasskeyLoginFinish(ctx context.Context, assertion []byte) (*PasskeyLoginResult, error) {
	var out PasskeyLoginResult
	err := c.doJSONRawBody(ctx, http.MethodPost, "/api/passkey/login/finish", assertion, &out)
	if err != nil {
		return nil, mapCeremonyErr(err)
	}
	return &out, nil
}

func (c *Client) VaultRead(ctx context.Context) (*storage.EncryptedVault, error) {
	var out struct {
		EncryptedVault *storage.EncryptedVault `json:"encryptedVault"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/vault", nil, &out)
	if isStatus(err, http.StatusNotFound) {
		return nil, ErrNoVault
	}
	return out.EncryptedVault, err
}

func (c *Client) VaultWrite(ctx context.Context, enc *storage.EncryptedVault) error {
	return c.doJSON(ctx, http.MethodPut, "/api/vault", enc, nil)
}

// statusError carries a non-2xx response for callers to map onto the
// sentinel errors above.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("session: server returned %d: %s", e.code, strings.TrimSpace(e.body))
}

func isStatus(err error, code int) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == code
}

func mapCeremonyErr(err error) error {
	if err == nil {
		return nil
	}
	var se *statusError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.code == http.StatusBadRequest && strings.Contains(se.body, "challenge expired"):
		return ErrChallengeExpired
	case se.code == http.StatusNotFound && strings.Contains(se.body, "credential"):
		return ErrCredentialNotFound
	case se.code == http.StatusNotFound:
		return ErrNotInitialized
	case se.code == http.StatusUnauthorized || se.code == http.StatusBadRequest:
		return ErrVerificationFailed
	}
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = b
	}
	return c.doJSONRawBody(ctx, method, path, raw, out)
}

func (c *Client) doJSONRawBody(ctx context.Context, method, path string, raw []byte, out any) error {
	respBody, err := c.do(ctx, method, path, raw)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) doRaw(ctx context.Context, method, path string, raw []byte) ([]byte, error) {
	return c.do(ctx, method, path, raw)
}

func (c *Client) do(ctx context.Context, method, path string, raw []byte) ([]byte, error) {
	var rd io.Reader
	if raw != nil {
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusConflict {
			return nil, ErrConflict
		}
		return nil, &statusError{code: resp.StatusCode, body: string(respBody)}
	}
	return respBody, nil
}

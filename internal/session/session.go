package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"vaultlite/internal/crypto"
	"vaultlite/internal/storage"
	"vaultlite/internal/totp"
	"vaultlite/internal/vault"
)

// State is the client session's position in its lifecycle. Transitions are
// enforced by the Session methods; an operation invoked in the wrong state
// fails with ErrInvalidState instead of acting on stale assumptions.
type State int

const (
	// StateUninitialized means no profile exists yet; only Setup is valid.
	StateUninitialized State = iota
	// StateAwaitingAuth means a profile exists but nobody has logged in.
	StateAwaitingAuth
	// StateUnlocked holds the vault key and plaintext data in memory.
	StateUnlocked
	// StateLockedAuthenticated means identity is proven (passkey login)
	// but no vault key is available; the vault stays sealed until a
	// password unlock supplies one.
	StateLockedAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingAuth:
		return "awaiting-auth"
	case StateUnlocked:
		return "unlocked"
	case StateLockedAuthenticated:
		return "locked-authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrInvalidState = errors.New("session: operation not valid in current state")

// Authenticator is the client-side half of a passkey ceremony: it receives
// the server's options payload and produces the authenticator's response.
// Real deployments bridge this to a platform authenticator; tests supply a
// software fake.
type Authenticator interface {
	CreateCredential(creationOptions []byte) (attestation []byte, err error)
	GetAssertion(assertionOptions []byte) (assertion []byte, err error)
}

// Session is the client-side controller. It is the only place plaintext
// vault data and the live vault key exist, and only while unlocked.
type Session struct {
	client *Client
	state  State

	vaultKey []byte
	data     *vault.Data
}

// New probes the server and starts in Uninitialized or AwaitingAuth.
func New(ctx context.Context, client *Client) (*Session, error) {
	initialized, err := client.Initialized(ctx)
	if err != nil {
		return nil, err
	}
	state := StateUninitialized
	if initialized {
		state = StateAwaitingAuth
	}
	return &Session{client: client, state: state}, nil
}

func (s *Session) State() State { return s.state }

// Items returns the decrypted vault contents while unlocked.
func (s *Session) Items() ([]vault.Item, error) {
	if s.state != StateUnlocked {
		return nil, ErrInvalidState
	}
	return s.data.Items, nil
}

// Search filters the unlocked vault by a free-text query.
func (s *Session) Search(q string) ([]vault.Item, error) {
	if s.state != StateUnlocked {
		return nil, ErrInvalidState
	}
	return s.data.Search(q), nil
}

// TOTPCode computes the current one-time code for an item that carries a
// TOTP secret, plus how long it remains valid.
func (s *Session) TOTPCode(id string) (string, time.Duration, error) {
	if s.state != StateUnlocked {
		return "", 0, ErrInvalidState
	}
	item, ok := s.data.Find(id)
	if !ok {
		return "", 0, fmt.Errorf("session: no item %q", id)
	}
	if item.TOTPSecret == "" {
		return "", 0, fmt.Errorf("session: item %q has no totp secret", id)
	}
	now := time.Now()
	code, err := totp.Code(item.TOTPSecret, now)
	if err != nil {
		return "", 0, err
	}
	return code, totp.Remaining(now), nil
}

// Setup creates the profile and an empty vault, then enters Unlocked.
// Not idempotent: a second call fails with ErrAlreadyInitialized.
func (s *Session) Setup(ctx context.Context, password string) error {
	if s.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	authToken := crypto.DeriveAuthToken(password, salt)
	vaultKey := crypto.DeriveVaultKey(password, salt)

	err = s.client.Setup(ctx,
		base64.StdEncoding.EncodeToString(authToken),
		base64.StdEncoding.EncodeToString(salt))
	if err != nil {
		if errors.Is(err, ErrAlreadyInitialized) {
			s.state = StateAwaitingAuth
		}
		return err
	}

	data := vault.NewData()
	s.vaultKey = vaultKey
	s.data = data
	s.state = StateUnlocked
	return s.push(ctx)
}

// Login authenticates with the master password and enters Unlocked.
func (s *Session) Login(ctx context.Context, password string) error {
	if s.state == StateUninitialized {
		return ErrNotInitialized
	}
	if s.state == StateUnlocked {
		return ErrInvalidState
	}
	salt64, err := s.client.AuthParams(ctx)
	if err != nil {
		return err
	}
	salt, err := base64.StdEncoding.DecodeString(salt64)
	if err != nil {
		return fmt.Errorf("session: bad salt from server: %w", err)
	}

	authToken := crypto.DeriveAuthToken(password, salt)
	res, err := s.client.Login(ctx, base64.StdEncoding.EncodeToString(authToken))
	if err != nil {
		return err
	}

	vaultKey := crypto.DeriveVaultKey(password, salt)
	data, err := openOrEmpty(res.EncryptedVault, vaultKey)
	if err != nil {
		crypto.Zero(vaultKey)
		return err
	}
	s.vaultKey = vaultKey
	s.data = data
	s.state = StateUnlocked
	return nil
}

// Unlock is Login from LockedAuthenticated: identity is already proven, the
// password only supplies the missing vault key.
func (s *Session) Unlock(ctx context.Context, password string) error {
	if s.state != StateLockedAuthenticated {
		return ErrInvalidState
	}
	s.state = StateAwaitingAuth
	if err := s.Login(ctx, password); err != nil {
		s.state = StateLockedAuthenticated
		return err
	}
	return nil
}

// LoginPasskey runs the authentication ceremony. With an escrowed vault key
// it enters Unlocked; without one, LockedAuthenticated.
func (s *Session) LoginPasskey(ctx context.Context, auth Authenticator) error {
	if s.state == StateUninitialized {
		return ErrNotInitialized
	}
	if s.state == StateUnlocked {
		return ErrInvalidState
	}
	options, err := s.client.PasskeyLoginStart(ctx)
	if err != nil {
		return err
	}
	assertion, err := auth.GetAssertion(options)
	if err != nil {
		return fmt.Errorf("session: authenticator: %w", err)
	}
	res, err := s.client.PasskeyLoginFinish(ctx, assertion)
	if err != nil {
		return err
	}

	if res.UnwrappedVaultKey == "" {
		s.state = StateLockedAuthenticated
		return nil
	}
	vaultKey, err := crypto.ImportKey(res.UnwrappedVaultKey)
	if err != nil {
		// The escrowed key is unusable; the login itself still stands.
		s.state = StateLockedAuthenticated
		return nil
	}
	data, err := openOrEmpty(res.EncryptedVault, vaultKey)
	if err != nil {
		crypto.Zero(vaultKey)
		s.state = StateLockedAuthenticated
		return nil
	}
	s.vaultKey = vaultKey
	s.data = data
	s.state = StateUnlocked
	return nil
}

// RegisterPasskey enrolls a new authenticator while unlocked, escrowing the
// live vault key so later passkey logins can recover it.
func (s *Session) RegisterPasskey(ctx context.Context, auth Authenticator) error {
	if s.state != StateUnlocked {
		return ErrInvalidState
	}
	options, err := s.client.PasskeyRegisterStart(ctx)
	if err != nil {
		return err
	}
	attestation, err := auth.CreateCredential(options)
	if err != nil {
		return fmt.Errorf("session: authenticator: %w", err)
	}
	return s.client.PasskeyRegisterFinish(ctx, attestation, crypto.ExportKey(s.vaultKey))
}

// AddItem stores a new item and resyncs the whole vault.
func (s *Session) AddItem(ctx context.Context, item vault.Item) (vault.Item, error) {
	if s.state != StateUnlocked {
		return vault.Item{}, ErrInvalidState
	}
	if item.ID == "" {
		item.ID = vault.NewItemID()
	}
	s.data.Add(item)
	if err := s.push(ctx); err != nil {
		s.data.Delete(item.ID)
		return vault.Item{}, err
	}
	return item, nil
}

func (s *Session) UpdateItem(ctx context.Context, item vault.Item) error {
	if s.state != StateUnlocked {
		return ErrInvalidState
	}
	prev, ok := s.data.Find(item.ID)
	if !ok {
		return fmt.Errorf("session: no item %q", item.ID)
	}
	s.data.Update(item)
	if err := s.push(ctx); err != nil {
		s.data.Update(prev)
		return err
	}
	return nil
}

func (s *Session) DeleteItem(ctx context.Context, id string) error {
	if s.state != StateUnlocked {
		return ErrInvalidState
	}
	prev, ok := s.data.Find(id)
	if !ok {
		return fmt.Errorf("session: no item %q", id)
	}
	s.data.Delete(id)
	if err := s.push(ctx); err != nil {
		s.data.Add(prev)
		return err
	}
	return nil
}

// Logout discards all secret material and returns to AwaitingAuth. Valid
// from any authenticated state.
func (s *Session) Logout() error {
	if s.state != StateUnlocked && s.state != StateLockedAuthenticated {
		return ErrInvalidState
	}
	crypto.Zero(s.vaultKey)
	s.vaultKey = nil
	s.data = nil
	s.state = StateAwaitingAuth
	return nil
}

// push re-encrypts the in-memory vault and overwrites the server copy.
func (s *Session) push(ctx context.Context) error {
	enc, err := vault.Seal(s.data, s.vaultKey)
	if err != nil {
		return err
	}
	return s.client.VaultWrite(ctx, enc)
}

func openOrEmpty(enc *storage.EncryptedVault, key []byte) (*vault.Data, error) {
	if enc == nil {
		return vault.NewData(), nil
	}
	return vault.Open(enc, key)
}

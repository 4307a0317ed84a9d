package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"vaultlite/internal/crypto"
	"vaultlite/internal/passkey"
	"vaultlite/internal/storage"
)

const (
	regChallengeCookie  = "reg_challenge"
	authChallengeCookie = "auth_challenge"
)

type registerFinishReq struct {
	AttestationResponse json.RawMessage `json:"attestationResponse"`
	// ExportedVaultKey is the serialized vault key, sent only while the
	// client session is unlocked, to be escrowed for passkey logins.
	ExportedVaultKey string `json:"exportedVaultKey,omitempty"`
}

type passkeyAuthResp struct {
	Verified          bool                    `json:"verified"`
	EncryptedVault    *storage.EncryptedVault `json:"encryptedVault,omitempty"`
	UnwrappedVaultKey string                  `json:"unwrappedVaultKey,omitempty"`
}

func (s *Server) handleRegisterStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.loadRecord(r)
	if err != nil {
		s.storageError(w, err)
		return
	}
	if rec == nil || rec.Profile == nil {
		http.Error(w, "not initialized", http.StatusBadRequest)
		return
	}
	opts, token, err := s.ceremonies.StartRegistration(rec.Profile)
	if err != nil {
		s.logger.Printf("registration start: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.setChallengeCookie(w, regChallengeCookie, token)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(opts)
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cookie, err := r.Cookie(regChallengeCookie)
	if err != nil {
		http.Error(w, "challenge expired", http.StatusBadRequest)
		return
	}
	var req registerFinishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if len(req.AttestationResponse) == 0 {
		http.Error(w, "attestationResponse required", http.StatusBadRequest)
		return
	}

	rec, err := s.loadRecord(r)
	if err != nil {
		s.storageError(w, err)
		return
	}
	if rec == nil || rec.Profile == nil {
		http.Error(w, "not initialized", http.StatusBadRequest)
		return
	}

	pk, err := s.ceremonies.FinishRegistration(rec.Profile, cookie.Value, req.AttestationResponse)
	if err != nil {
		clearCookie(w, regChallengeCookie)
		// Attestation failures are a client-side problem at enrollment
		// time, not an authentication rejection.
		if errors.Is(err, passkey.ErrVerificationFailed) {
			http.Error(w, "verification failed", http.StatusBadRequest)
			return
		}
		s.ceremonyError(w, err)
		return
	}

	rec.Profile.Passkeys = append(rec.Profile.Passkeys, *pk)
	if req.ExportedVaultKey != "" {
		wrapped, err := crypto.WrapKey(req.ExportedVaultKey, s.secret)
		if err != nil {
			s.logger.Printf("key escrow: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		rec.Profile.WrappedVaultKey = wrapped
	}
	if err := s.store.Replace(r.Context(), s.cfg.RecordKey, rec, rec.Version); err != nil {
		s.storageError(w, err)
		return
	}
	clearCookie(w, regChallengeCookie)
	s.audit.Record("passkey.registered id=%s", pk.ID)
	writeJSON(w, map[string]bool{"verified": true})
}

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.loadRecord(r)
	if err != nil {
		s.storageError(w, err)
		return
	}
	if rec == nil || rec.Profile == nil {
		http.Error(w, "not initialized", http.StatusBadRequest)
		return
	}
	opts, token, err := s.ceremonies.StartLogin(rec.Profile)
	if err != nil {
		s.logger.Printf("login start: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.setChallengeCookie(w, authChallengeCookie, token)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(opts)
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cookie, err := r.Cookie(authChallengeCookie)
	if err != nil {
		http.Error(w, "challenge expired", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	rec, err := s.loadRecord(r)
	if err != nil {
		s.storageError(w, err)
		return
	}
	if rec == nil || rec.Profile == nil {
		http.Error(w, "not initialized", http.StatusNotFound)
		return
	}

	credID, newCounter, err := s.ceremonies.FinishLogin(rec.Profile, cookie.Value, body)
	if err != nil {
		clearCookie(w, authChallengeCookie)
		s.ceremonyError(w, err)
		return
	}

	for i := range rec.Profile.Passkeys {
		if rec.Profile.Passkeys[i].ID == credID {
			rec.Profile.Passkeys[i].SignatureCounter = newCounter
		}
	}
	if err := s.store.Replace(r.Context(), s.cfg.RecordKey, rec, rec.Version); err != nil {
		s.storageError(w, err)
		return
	}
	clearCookie(w, authChallengeCookie)
	s.audit.Record("login.passkey.ok id=%s", credID)

	resp := passkeyAuthResp{Verified: true, EncryptedVault: rec.Vault}
	if rec.Profile.WrappedVaultKey != "" {
		// Identity is already proven; a failed unwrap only leaves the vault
		// locked until a password unlock, it does not fail the login.
		serialized, err := crypto.UnwrapKey(rec.Profile.WrappedVaultKey, s.secret)
		if err != nil {
			s.logger.Printf("key unwrap: %v", err)
		} else {
			resp.UnwrappedVaultKey = serialized
		}
	}
	writeJSON(w, resp)
}

func (s *Server) ceremonyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, passkey.ErrChallengeExpired):
		http.Error(w, "challenge expired", http.StatusBadRequest)
	case errors.Is(err, passkey.ErrCredentialNotFound):
		http.Error(w, "credential not found", http.StatusNotFound)
	case errors.Is(err, passkey.ErrCounterRegression):
		s.logger.Printf("security: %v", err)
		s.audit.Record("passkey.counter_regression")
		http.Error(w, "verification failed", http.StatusUnauthorized)
	case errors.Is(err, passkey.ErrVerificationFailed):
		http.Error(w, "verification failed", http.StatusUnauthorized)
	default:
		s.logger.Printf("ceremony: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

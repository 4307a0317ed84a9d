package server

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"vaultlite/internal/storage"
)

type setupReq struct {
	AuthToken string `json:"authToken"`
	Salt      string `json:"salt"`
}

type loginReq struct {
	AuthToken string `json:"authToken"`
}

type loginResp struct {
	Success        bool                    `json:"success"`
	Salt           string                  `json:"salt"`
	EncryptedVault *storage.EncryptedVault `json:"encryptedVault,omitempty"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.loadRecord(r)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"initialized": rec != nil && rec.Profile != nil})
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req setupReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.AuthToken == "" || req.Salt == "" {
		http.Error(w, "authToken and salt required", http.StatusBadRequest)
		return
	}
	if _, err := base64.StdEncoding.DecodeString(req.Salt); err != nil {
		http.Error(w, "salt must be base64", http.StatusBadRequest)
		return
	}

	rec, err := s.loadRecord(r)
	if err != nil {
		s.storageError(w, err)
		return
	}
	if rec != nil && rec.Profile != nil {
		http.Error(w, "already initialized", http.StatusBadRequest)
		return
	}

	profile := &storage.Profile{
		AuthToken: req.AuthToken,
		Salt:      req.Salt,
		Passkeys:  []storage.Passkey{},
	}
	if rec == nil {
		rec = &storage.Record{Version: 1, Profile: profile}
		err = s.store.Create(r.Context(), s.cfg.RecordKey, rec)
	} else {
		rec.Profile = profile
		err = s.store.Replace(r.Context(), s.cfg.RecordKey, rec, rec.Version)
	}
	if err != nil {
		s.storageError(w, err)
		return
	}
	s.audit.Record("profile.setup")
	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleAuthParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
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
	writeJSON(w, map[string]string{"salt": rec.Profile.Salt})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.AuthToken == "" {
		http.Error(w, "authToken required", http.StatusBadRequest)
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
	// No detail on mismatch: the caller learns nothing beyond pass/fail.
	if subtle.ConstantTimeCompare([]byte(req.AuthToken), []byte(rec.Profile.AuthToken)) != 1 {
		s.audit.Record("login.password.failed")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	s.audit.Record("login.password.ok")
	writeJSON(w, loginResp{Success: true, Salt: rec.Profile.Salt, EncryptedVault: rec.Vault})
}

func (s *Server) storageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrConflict):
		http.Error(w, "concurrent modification", http.StatusConflict)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		s.logger.Printf("storage: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

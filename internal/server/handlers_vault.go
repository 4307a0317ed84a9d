package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"vaultlite/internal/storage"
)

type vaultWriteReq struct {
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleVaultRead(w, r)
	case http.MethodPut, http.MethodPost:
		s.handleVaultWrite(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleVaultRead(w http.ResponseWriter, r *http.Request) {
	rec, err := s.loadRecord(r)
	if err != nil {
		s.storageError(w, err)
		return
	}
	if rec == nil || rec.Vault == nil {
		http.Error(w, "no vault", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]*storage.EncryptedVault{"encryptedVault": rec.Vault})
}

func (s *Server) handleVaultWrite(w http.ResponseWriter, r *http.Request) {
	var req vaultWriteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.IV == "" || req.Ciphertext == "" {
		http.Error(w, "iv and ciphertext required", http.StatusBadRequest)
		return
	}
	if _, err := base64.StdEncoding.DecodeString(req.IV); err != nil {
		http.Error(w, "iv must be base64", http.StatusBadRequest)
		return
	}
	if _, err := base64.StdEncoding.DecodeString(req.Ciphertext); err != nil {
		http.Error(w, "ciphertext must be base64", http.StatusBadRequest)
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
	rec.Vault = &storage.EncryptedVault{IV: req.IV, Ciphertext: req.Ciphertext}
	if err := s.store.Replace(r.Context(), s.cfg.RecordKey, rec, rec.Version); err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

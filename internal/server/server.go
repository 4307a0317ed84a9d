package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"vaultlite/internal/audit"
	"vaultlite/internal/passkey"
	"vaultlite/internal/storage"
)

// Server is the vault daemon: a single-record HTTP boundary over the
// key-value store, the ceremony stack, and the escrow secret.
type Server struct {
	cfg        Config
	mux        *http.ServeMux
	store      storage.KVStore
	ceremonies *passkey.Ceremonies
	secret     []byte
	audit      *audit.Log
	logger     *log.Logger
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	cfg.setDefaults()

	var store storage.KVStore
	if cfg.MongoURI != "" {
		ms, err := storage.NewMongoKVStore(ctx, cfg.MongoURI, cfg.MongoDB, cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("server: mongo store: %w", err)
		}
		store = ms
	} else {
		store = storage.NewFileKVStore(cfg.DataDir)
	}

	verifier, err := passkey.NewWebAuthnVerifier(cfg.RPID, cfg.RPOrigin, cfg.RPName)
	if err != nil {
		return nil, err
	}
	ceremonies := passkey.NewCeremonies(verifier, cfg.ChallengeTTL)

	s := NewWithStore(cfg, store, ceremonies)
	if cfg.ServerSecret == "" {
		s.logger.Printf("no server secret configured; escrowed keys will not survive a restart")
	}
	return s, nil
}

// NewWithStore wires a server over injected collaborators. Tests use it to
// run against the in-memory store and a fake verifier.
func NewWithStore(cfg Config, store storage.KVStore, ceremonies *passkey.Ceremonies) *Server {
	cfg.setDefaults()
	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		store:      store,
		ceremonies: ceremonies,
		secret:     []byte(cfg.ServerSecret),
		audit:      audit.New(),
		logger:     log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile),
	}
	if len(s.secret) == 0 {
		s.secret = make([]byte, 32)
		if _, err := rand.Read(s.secret); err != nil {
			panic("server: entropy source failed: " + err.Error())
		}
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("panic: %v", rec)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()
	s.addDefaultHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler { return s }

func (s *Server) addDefaultHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", s.cfg.RPOrigin)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/health", s.handleHealth)

	s.mux.HandleFunc("/api/auth/status", s.handleAuthStatus)
	s.mux.HandleFunc("/api/auth/setup", s.handleSetup)
	s.mux.HandleFunc("/api/auth/params", s.handleAuthParams)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)

	s.mux.HandleFunc("/api/passkey/register/start", s.handleRegisterStart)
	s.mux.HandleFunc("/api/passkey/register/finish", s.handleRegisterFinish)
	s.mux.HandleFunc("/api/passkey/login/start", s.handleLoginStart)
	s.mux.HandleFunc("/api/passkey/login/finish", s.handleLoginFinish)

	s.mux.HandleFunc("/api/vault", s.handleVault)

	s.mux.HandleFunc("/api/audit", s.handleAudit)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.audit.Verify(); err != nil {
		s.logger.Printf("audit: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"entries": s.audit.Entries()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ListenAndServe runs the daemon until the listener fails.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("listening on %s", s.cfg.Addr)
	return http.ListenAndServe(s.cfg.Addr, s.Handler())
}

// Close releases the storage backend.
func (s *Server) Close(ctx context.Context) error {
	if c, ok := s.store.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}

package passkey

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// DefaultChallengeTTL bounds how long an issued ceremony challenge stays
// valid before it must be reissued.
const DefaultChallengeTTL = 5 * time.Minute

// ChallengeStore keeps pending ceremony sessions keyed by an opaque
// single-use token. Tokens are consumed on first use; expired entries are
// swept lazily on Issue.
type ChallengeStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	pending map[string]pendingChallenge
}

type pendingChallenge struct {
	session webauthn.SessionData
	expires time.Time
}

func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeStore{
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]pendingChallenge),
	}
}

// Issue stores the session and returns the opaque token identifying it.
func (s *ChallengeStore) Issue(session webauthn.SessionData) string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("passkey: entropy source failed: " + err.Error())
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for t, p := range s.pending {
		if now.After(p.expires) {
			delete(s.pending, t)
		}
	}
	s.pending[token] = pendingChallenge{session: session, expires: now.Add(s.ttl)}
	return token
}

// Consume returns the session for token and removes it. A second Consume of
// the same token, or a Consume past the TTL, reports false.
func (s *ChallengeStore) Consume(token string) (webauthn.SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[token]
	if !ok {
		return webauthn.SessionData{}, false
	}
	delete(s.pending, token)
	if s.now().After(p.expires) {
		return webauthn.SessionData{}, false
	}
	return p.session, true
}

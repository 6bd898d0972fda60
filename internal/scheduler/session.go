package scheduler

import (
	"sync"
	"time"
)

// sessionBinding ties a session fingerprint to an account for a bounded
// window, matching token_manager.rs's sticky_config/session_accounts reuse.
type sessionBinding struct {
	accountID string
	expiresAt time.Time
}

// SessionTable is a compare-and-swap session-affinity table: the first
// request to bind a fingerprint wins, and later requests for the same
// fingerprint reuse its account until the binding expires.
type SessionTable struct {
	mu       sync.Mutex
	bindings map[string]sessionBinding
	ttl      time.Duration
}

// DefaultStickyWindow is the reuse window for a bound session, matching the
// original token manager's 60-second sticky reuse window.
const DefaultStickyWindow = 60 * time.Second

// NewSessionTable builds a SessionTable with the given sticky window.
func NewSessionTable(ttl time.Duration) *SessionTable {
	if ttl <= 0 {
		ttl = DefaultStickyWindow
	}
	return &SessionTable{bindings: make(map[string]sessionBinding), ttl: ttl}
}

// Lookup returns the bound account for fingerprint if the binding exists and
// has not expired.
func (s *SessionTable) Lookup(fingerprint string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[fingerprint]
	if !ok || time.Now().After(b.expiresAt) {
		return "", false
	}
	return b.accountID, true
}

// Bind records accountID for fingerprint if no live binding exists yet
// (first writer wins), and otherwise refreshes the existing binding's
// expiry to extend the sticky window on continued use.
func (s *SessionTable) Bind(fingerprint, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if b, ok := s.bindings[fingerprint]; ok && now.Before(b.expiresAt) {
		if b.accountID == accountID {
			s.bindings[fingerprint] = sessionBinding{accountID: accountID, expiresAt: now.Add(s.ttl)}
		}
		return
	}
	s.bindings[fingerprint] = sessionBinding{accountID: accountID, expiresAt: now.Add(s.ttl)}
}

// Unbind clears a session's binding, used when the bound account becomes
// locked out and the scheduler must fail over to a different account for
// future requests in the session.
func (s *SessionTable) Unbind(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, fingerprint)
}

// UnbindAll clears every binding, used on a full config reload.
func (s *SessionTable) UnbindAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = make(map[string]sessionBinding)
}

package auth

import (
	"sync"

	"github.com/google/uuid"

	"github.com/fpvtiming/racehub/pkg/utils"
)

// SessionHeader is the HTTP header carrying the session token.
const SessionHeader = "racehub-session"

// Session is the server side state of an authenticated connection.
// The permission set may be swapped at runtime (permissions-update),
// all accessors take snapshots.
type Session struct {
	id       uuid.UUID
	username string

	mu            sync.RWMutex
	perms         PermissionSet
	resetRequired bool
}

func NewSession(user *VerifiedUser) *Session {
	return &Session{
		id:            uuid.New(),
		username:      user.Username,
		perms:         user.Permissions.Clone(),
		resetRequired: user.ResetRequired,
	}
}

func (s *Session) ID() uuid.UUID    { return s.id }
func (s *Session) Username() string { return s.username }

func (s *Session) Permissions() PermissionSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perms.Clone()
}

func (s *Session) Satisfies(required Permission) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perms.Satisfies(required)
}

func (s *Session) SetPermissions(perms PermissionSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perms = perms.Clone()
}

func (s *Session) ResetRequired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resetRequired
}

func (s *Session) SetResetRequired(arg bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetRequired = arg
}

// SessionStore maps opaque session tokens to sessions. Tokens are
// random, only their hash is kept in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Add registers the session and returns the opaque token the client
// has to present on subsequent requests.
func (st *SessionStore) Add(sess *Session) string {
	token := uuid.NewString()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[utils.HashToken(token)] = sess
	return token
}

func (st *SessionStore) Lookup(token string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if sess, ok := st.sessions[utils.HashToken(token)]; ok {
		return sess, nil
	}
	return nil, ErrNoSession
}

// Remove drops the session bound to token. Removing an unknown token
// is a no-op.
func (st *SessionStore) Remove(token string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, utils.HashToken(token))
}

func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// SessionTTL is how long a browser login lasts without activity. Every
	// authenticated request slides the expiry forward: a terminal viewer who
	// keeps a session open past the TTL would otherwise lose auth and fail
	// the next reconnect mid-session.
	SessionTTL = 24 * time.Hour

	// maxSessionLife caps the sliding renewal. However active, a login must
	// eventually reauthenticate.
	maxSessionLife = 7 * 24 * time.Hour

	SessionCookie = "coshell_session"
	BcryptCost    = 12
)

// now is swapped out by clock-sensitive tests.
var now = time.Now

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type browserSession struct {
	UserID    uint
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionStore holds browser login sessions in memory. These are HTTP auth
// sessions, unrelated to the resource session memberships the relay serves.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]browserSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]browserSession),
	}
}

func (s *SessionStore) Create(userID uint) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	issued := now()
	s.mu.Lock()
	s.sessions[token] = browserSession{
		UserID:    userID,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(SessionTTL),
	}
	s.mu.Unlock()
	return token, nil
}

// Get resolves a token to its user and renews the session. Expired tokens
// are dropped on sight.
func (s *SessionStore) Get(token string) (uint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[token]
	if !ok {
		return 0, false
	}
	if now().After(entry.ExpiresAt) {
		delete(s.sessions, token)
		return 0, false
	}
	renewed := now().Add(SessionTTL)
	if limit := entry.IssuedAt.Add(maxSessionLife); renewed.After(limit) {
		renewed = limit
	}
	entry.ExpiresAt = renewed
	s.sessions[token] = entry
	return entry.UserID, true
}

func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// DeleteByUserID revokes every login the user holds and reports how many.
// Called when an account is removed or its password reset.
func (s *SessionStore) DeleteByUserID(userID uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, entry := range s.sessions {
		if entry.UserID == userID {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// Cleanup drops sessions that idled past their expiry and reports how many.
func (s *SessionStore) Cleanup() int {
	cutoff := now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, entry := range s.sessions {
		if cutoff.After(entry.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

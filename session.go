package main

import (
	"encoding/hex"
	"sync"
)

// Session is the in-memory record for an authenticated control connection,
// generalized from the teacher's Room.clients map[uint16]*Client to a
// hex-session-ID keyed map.
type Session struct {
	ID         string
	Username   string
	SessionKey []byte
}

// SessionRegistry holds every live session, keyed by sessionId. One mutex
// guards the whole map, matching the discipline the teacher uses for each of
// its registries (room.go).
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*Session)}
}

// Create mints a fresh session for username, generating a random 32-byte
// session id and a random 32-byte session key.
func (r *SessionRegistry) Create(username string) (*Session, error) {
	idToken, err := generateToken(32)
	if err != nil {
		return nil, err
	}
	key, err := generateToken(keySize)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:         hex.EncodeToString(idToken),
		Username:   username,
		SessionKey: key,
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	return sess, nil
}

// Get returns the session for id, or nil if none exists.
func (r *SessionRegistry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Remove destroys the session with the given id.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

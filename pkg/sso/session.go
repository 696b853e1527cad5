package sso

import (
	"errors"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// Status of a login session. Sessions start anonymous, wait for the
// provider callback after the redirect, and end authenticated or failed.
// A failed session re-enters ANONYMOUS on the next login attempt.
type Status string

const (
	StatusAnonymous        Status = "ANONYMOUS"
	StatusAwaitingCallback Status = "AWAITING_CALLBACK"
	StatusAuthenticated    Status = "AUTHENTICATED"
	StatusFailed           Status = "FAILED"
)

type Session struct {
	ID        string
	Status    Status
	Principal *Principal
	ReturnTo  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:        ksuid.New().String(),
		Status:    StatusAnonymous,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var ErrSessionNotFound = errors.New("session not found")

type SessionStore interface {
	GetSession(id string) (*Session, error)
	SaveSession(session *Session) error
	DeleteSession(id string) error
}

// memorySessionStore keeps sessions by value: Get and Save copy, so no
// caller ever shares Session memory with another request. A status
// poller reading a session while the callback handler finishes the
// login must not race on the struct fields.
type memorySessionStore struct {
	sessions map[string]*Session
	lock     sync.RWMutex
}

func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{
		sessions: make(map[string]*Session),
	}
}

func (s *memorySessionStore) GetSession(id string) (*Session, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	snapshot := *session
	return &snapshot, nil
}

func (s *memorySessionStore) SaveSession(session *Session) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	session.UpdatedAt = time.Now()
	snapshot := *session
	s.sessions[session.ID] = &snapshot
	return nil
}

func (s *memorySessionStore) DeleteSession(id string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.sessions, id)
	return nil
}

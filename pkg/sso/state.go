package sso

import (
	"sync"
	"time"
)

// AuthorizationState binds a single authorization attempt to its anti-CSRF
// token. Issued before the redirect to the authorization server, redeemed
// exactly once on callback and discarded afterwards.
type AuthorizationState struct {
	Token     string
	Verifier  string
	Nonce     string
	SessionID string
	ReturnTo  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s *AuthorizationState) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

type StateStore interface {
	// Issue registers a freshly generated state.
	Issue(state *AuthorizationState) error
	// Redeem consumes the state for the given token. A token that is
	// unknown, expired or already redeemed yields ErrInvalidState.
	Redeem(token string) (*AuthorizationState, error)
}

type memoryStateStore struct {
	states map[string]*AuthorizationState
	lock   sync.Mutex
	now    func() time.Time
}

func NewMemoryStateStore() StateStore {
	return &memoryStateStore{
		states: make(map[string]*AuthorizationState),
		now:    time.Now,
	}
}

func (s *memoryStateStore) Issue(state *AuthorizationState) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.purgeExpired()
	s.states[state.Token] = state
	return nil
}

func (s *memoryStateStore) Redeem(token string) (*AuthorizationState, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	state, ok := s.states[token]
	if !ok {
		return nil, ErrInvalidState
	}
	delete(s.states, token)
	if state.Expired(s.now()) {
		return nil, ErrInvalidState
	}
	return state, nil
}

// caller must hold the lock
func (s *memoryStateStore) purgeExpired() {
	now := s.now()
	for token, state := range s.states {
		if state.Expired(now) {
			delete(s.states, token)
		}
	}
}

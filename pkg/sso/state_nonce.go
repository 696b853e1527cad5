package sso

import (
	"fmt"
	"sync"
	"time"

	"github.com/websignon/ssokit/pkg/nonce"
)

// nonceStateStore delegates the consume-once guarantee to a NonceService.
// The nonce service mints and redeems the tokens; this store only keeps
// the per-attempt data attached to them.
type nonceStateStore struct {
	nonces nonce.NonceService
	states map[string]*AuthorizationState
	lock   sync.Mutex
	now    func() time.Time
}

func NewNonceStateStore(ns nonce.NonceService) StateStore {
	return &nonceStateStore{
		nonces: ns,
		states: make(map[string]*AuthorizationState),
		now:    time.Now,
	}
}

// Issue replaces the token of the given state with one minted by the
// nonce service.
func (s *nonceStateStore) Issue(state *AuthorizationState) error {
	token, err := s.nonces.Get()
	if err != nil {
		return fmt.Errorf("minting state token: %w", err)
	}
	state.Token = token

	s.lock.Lock()
	defer s.lock.Unlock()
	for t, st := range s.states {
		if st.Expired(s.now()) {
			delete(s.states, t)
		}
	}
	s.states[token] = state
	return nil
}

func (s *nonceStateStore) Redeem(token string) (*AuthorizationState, error) {
	if err := s.nonces.Redeem(token); err != nil {
		return nil, ErrInvalidState
	}

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

package sso

import (
	"fmt"
	"sync"
	"time"

	"github.com/websignon/ssokit/pkg/oauth2"
)

// TokenContext holds the credentials of one authenticated session. It is
// written only by the exchange client and destroyed on logout.
type TokenContext struct {
	AccessToken  string
	TokenType    string
	ExpiresAt    time.Time
	RefreshToken string
	IDToken      string
}

func NewTokenContext(resp *oauth2.TokenResponse, now time.Time) *TokenContext {
	tc := &TokenContext{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
	}
	if resp.ExpiresIn > 0 {
		tc.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return tc
}

func (tc *TokenContext) Expired(now time.Time) bool {
	if tc.ExpiresAt.IsZero() {
		return false
	}
	return now.After(tc.ExpiresAt)
}

type TokenStore interface {
	GetToken(sessionID string) (*TokenContext, error)
	SaveToken(sessionID string, tc *TokenContext) error
	DeleteToken(sessionID string) error
}

type memoryTokenStore struct {
	tokens map[string]*TokenContext
	lock   sync.RWMutex
}

func NewMemoryTokenStore() TokenStore {
	return &memoryTokenStore{
		tokens: make(map[string]*TokenContext),
	}
}

func (s *memoryTokenStore) GetToken(sessionID string) (*TokenContext, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	tc, ok := s.tokens[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: no token for session", ErrUnauthenticated)
	}
	return tc, nil
}

func (s *memoryTokenStore) SaveToken(sessionID string, tc *TokenContext) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tokens[sessionID] = tc
	return nil
}

func (s *memoryTokenStore) DeleteToken(sessionID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.tokens, sessionID)
	return nil
}

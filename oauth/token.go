// Package oauth keeps user OAuth tokens for the chat bot and refreshes them
// before they expire. Storage is pluggable: memory for local runs, Postgres
// (see package db) when DB_DSN is set.
package oauth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ProviderTwitch is the store key for the chat bot's Twitch token.
const ProviderTwitch = "twitch"

// ErrNotFound is returned when a provider has no stored token.
var ErrNotFound = errors.New("oauth token not found")

// Token is a stored user token. Login is the account the token belongs to.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
	Login        string
}

// Expired reports whether the token is past its expiry. A zero expiry never expires.
func (t Token) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}

// TokenStore persists one token per provider.
type TokenStore interface {
	GetToken(ctx context.Context, provider string) (Token, error)
	PutToken(ctx context.Context, provider string, tok Token) error
}

// MemoryStore is a process-local TokenStore.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

func (m *MemoryStore) GetToken(_ context.Context, provider string) (Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[provider]
	if !ok {
		return Token{}, ErrNotFound
	}
	return tok, nil
}

func (m *MemoryStore) PutToken(_ context.Context, provider string, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[provider] = tok
	return nil
}

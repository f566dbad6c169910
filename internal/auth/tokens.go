// Package auth owns the client session: the persisted token store, the
// login/logout/initialize state machine, and the navigation-guard decisions.
package auth

import (
	"log/slog"
	"sync"
)

// Fixed storage keys, stable across sessions.
const (
	keyAccessToken  = "accessToken"
	keyRefreshToken = "refreshToken"
)

// TokenStore is the single source of truth for the bearer credential.
//
// Every mutation updates memory and durable storage synchronously, so the two
// never diverge; storage is written first and memory only on success. The
// store implements api.TokenSource, which is how a rotated token is honored
// by the very next request without any call site re-reading it.
type TokenStore struct {
	log     *slog.Logger
	storage Storage

	mu      sync.Mutex
	access  string
	refresh string
}

// NewTokenStore wraps storage; call Load to hydrate persisted tokens.
func NewTokenStore(log *slog.Logger, storage Storage) *TokenStore {
	return &TokenStore{log: log, storage: storage}
}

// Load hydrates the in-memory tokens from durable storage. Only a complete
// pair counts: if either token is missing, both are cleared and the store
// stays logged out.
func (t *TokenStore) Load() (ok bool, err error) {
	access, haveAccess, err := t.storage.Get(keyAccessToken)
	if err != nil {
		return false, err
	}
	refresh, haveRefresh, err := t.storage.Get(keyRefreshToken)
	if err != nil {
		return false, err
	}

	if !haveAccess || !haveRefresh {
		if haveAccess != haveRefresh {
			t.log.Warn("auth.tokens.partial_pair", "access", haveAccess, "refresh", haveRefresh)
		}
		return false, t.ClearTokens()
	}

	t.mu.Lock()
	t.access = access
	t.refresh = refresh
	t.mu.Unlock()
	return true, nil
}

// SetTokens writes both tokens to durable storage and memory.
func (t *TokenStore) SetTokens(access, refresh string) error {
	if err := t.storage.Set(keyAccessToken, access); err != nil {
		return err
	}
	if err := t.storage.Set(keyRefreshToken, refresh); err != nil {
		return err
	}

	t.mu.Lock()
	t.access = access
	t.refresh = refresh
	t.mu.Unlock()
	return nil
}

// ClearTokens removes both tokens from durable storage and memory.
func (t *TokenStore) ClearTokens() error {
	if err := t.storage.Delete(keyAccessToken); err != nil {
		return err
	}
	if err := t.storage.Delete(keyRefreshToken); err != nil {
		return err
	}

	t.mu.Lock()
	t.access = ""
	t.refresh = ""
	t.mu.Unlock()
	return nil
}

// AccessToken returns the current access token, or "" when logged out.
func (t *TokenStore) AccessToken() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.access
}

// RefreshToken returns the current refresh token, or "" when logged out.
func (t *TokenStore) RefreshToken() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refresh
}

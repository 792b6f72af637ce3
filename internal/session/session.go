// Package session is the runtime-independent bridge between a UI and the
// vault. It hands out explicit Session objects on unlock and keeps the
// application-account credential in the best secure store available.
package session

import (
	"sync/atomic"
	"time"
)

// Session is the handle returned by Unlock. It stays valid until the vault
// is locked, re-unlocked or the bridge logs out.
type Session struct {
	id        string
	vaultID   string
	isNew     bool
	createdAt time.Time
	ended     atomic.Bool
}

// ID identifies the session.
func (s *Session) ID() string { return s.id }

// VaultID is the id of the unlocked vault.
func (s *Session) VaultID() string { return s.vaultID }

// IsNew reports whether the unlock created the vault.
func (s *Session) IsNew() bool { return s.isNew }

// CreatedAt is when the vault was unlocked.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Valid reports whether the session can still be used.
func (s *Session) Valid() bool {
	return s != nil && !s.ended.Load()
}

func (s *Session) end() {
	if s != nil {
		s.ended.Store(true)
	}
}

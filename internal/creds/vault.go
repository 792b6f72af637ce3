package creds

import (
	"context"
)

// VaultSlot is the session slot inside the encrypted vault.
type VaultSlot interface {
	SessionCredential() (string, error)
	SetSessionCredential(ctx context.Context, token string) error
	ClearSessionCredential(ctx context.Context) error
}

// VaultStore keeps the credential inside the vault's encrypted meta. While
// the vault is locked every call fails with a LockedError, so the user is
// asked to unlock again; nothing is ever written in plaintext.
type VaultStore struct {
	slot VaultSlot
}

// NewVaultStore wraps slot.
func NewVaultStore(slot VaultSlot) *VaultStore {
	return &VaultStore{slot: slot}
}

func (v *VaultStore) Name() string { return "vault" }

func (v *VaultStore) Available(ctx context.Context) bool { return v.slot != nil }

func (v *VaultStore) Get(ctx context.Context) (string, error) {
	return v.slot.SessionCredential()
}

func (v *VaultStore) Set(ctx context.Context, token string) error {
	return v.slot.SetSessionCredential(ctx, token)
}

func (v *VaultStore) Clear(ctx context.Context) error {
	return v.slot.ClearSessionCredential(ctx)
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// PasswordEntry is one credential held in the vault.
type PasswordEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Username   string    `json:"username,omitempty"`
	Password   string    `json:"password"`
	URL        string    `json:"url,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	TOTPSecret string    `json:"totpSecret,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Validate checks the required fields.
func (e *PasswordEntry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if e.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidEntry)
	}
	return nil
}

// ProviderSettings holds provider-specific settings such as bucket names,
// access keys or OAuth tokens. It never holds the vault key.
type ProviderSettings map[string]string

// ProviderConfig selects the active storage provider.
type ProviderConfig struct {
	ActiveProviderID string                      `json:"activeProviderId"`
	RetainCount      int                         `json:"retainCount"`
	Providers        map[string]ProviderSettings `json:"providers"`
}

// DefaultRetainCount is the number of snapshots kept per provider.
const DefaultRetainCount = 10

// DefaultProviderConfig returns the config of a freshly created vault.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		ActiveProviderID: "local",
		RetainCount:      DefaultRetainCount,
		Providers:        map[string]ProviderSettings{},
	}
}

// Active returns the settings of the active provider.
func (c ProviderConfig) Active() ProviderSettings {
	if c.Providers == nil {
		return ProviderSettings{}
	}
	if s, ok := c.Providers[c.ActiveProviderID]; ok {
		return s
	}
	return ProviderSettings{}
}

// Clone deep-copies the config.
func (c ProviderConfig) Clone() ProviderConfig {
	out := ProviderConfig{
		ActiveProviderID: c.ActiveProviderID,
		RetainCount:      c.RetainCount,
		Providers:        make(map[string]ProviderSettings, len(c.Providers)),
	}
	for id, settings := range c.Providers {
		cp := make(ProviderSettings, len(settings))
		for k, v := range settings {
			cp[k] = v
		}
		out.Providers[id] = cp
	}
	return out
}

// VaultMeta describes the vault itself.
type VaultMeta struct {
	VaultID      string    `json:"vaultId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	VaultVersion int64     `json:"vaultVersion"`

	// Session is the in-vault fallback slot for the application-account
	// session credential.
	Session string `json:"session,omitempty"`
}

// DecryptedVault is the plaintext vault payload. It only lives in memory.
type DecryptedVault struct {
	Items           []PasswordEntry `json:"items"`
	ProviderConfigs ProviderConfig  `json:"providerConfigs"`
	Meta            VaultMeta       `json:"meta"`
}

// Clone deep-copies the vault so a failed persist can be rolled back.
func (v *DecryptedVault) Clone() *DecryptedVault {
	items := make([]PasswordEntry, len(v.Items))
	copy(items, v.Items)
	return &DecryptedVault{
		Items:           items,
		ProviderConfigs: v.ProviderConfigs.Clone(),
		Meta:            v.Meta,
	}
}

// IndexOf returns the position of the entry with id, or -1.
func (v *DecryptedVault) IndexOf(id string) int {
	for i := range v.Items {
		if v.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// ProviderVersion is a handle to one snapshot held by a provider.
type ProviderVersion struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int64     `json:"size,omitempty"`
}

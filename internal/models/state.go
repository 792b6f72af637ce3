package models

import (
	"fmt"
	"strings"
	"time"
)

// SyncState records what was last pushed to a remote provider for a vault.
// It holds no secrets.
type SyncState struct {
	VaultID       string    `json:"vault_id"`
	ProviderID    string    `json:"provider_id"`
	LastVersionID string    `json:"last_version_id"`
	Uploads       int       `json:"uploads"`
	LastSyncTime  time.Time `json:"last_sync_time"`
	LastError     string    `json:"last_error,omitempty"`
}

// NewSyncState creates an empty sync state.
func NewSyncState(vaultID string) *SyncState {
	return &SyncState{VaultID: vaultID}
}

// RecordUpload marks a successful upload.
func (s *SyncState) RecordUpload(providerID, versionID string, at time.Time) {
	s.ProviderID = providerID
	s.LastVersionID = versionID
	s.LastSyncTime = at
	s.LastError = ""
	s.Uploads++
}

// RecordError marks a failed upload without losing the last good version.
func (s *SyncState) RecordError(providerID string, err error) {
	s.ProviderID = providerID
	if err != nil {
		s.LastError = err.Error()
	}
}

// Validate checks the sync state.
func (s *SyncState) Validate() error {
	if strings.TrimSpace(s.VaultID) == "" {
		return fmt.Errorf("vault ID is required")
	}
	if s.Uploads < 0 {
		return fmt.Errorf("uploads cannot be negative")
	}
	if s.LastVersionID != "" && s.LastSyncTime.IsZero() {
		return fmt.Errorf("last_sync_time is required when a version is recorded")
	}
	return nil
}

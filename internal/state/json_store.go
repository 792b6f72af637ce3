package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/fsutil"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// LedgerFile is the name of the JSON ledger inside the state directory.
const LedgerFile = "ledger.json"

// ledger is the on-disk document: one record per vault.
type ledger struct {
	Version int                          `json:"version"`
	Vaults  map[string]*models.SyncState `json:"vaults"`
}

// JSONStore keeps the whole ledger in one JSON file. Every Save rewrites
// the file atomically.
type JSONStore struct {
	path   string
	logger *events.Logger

	mu sync.Mutex
}

// NewJSONStore creates a JSON ledger in dir.
func NewJSONStore(dir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &JSONStore{
		path:   filepath.Join(dir, LedgerFile),
		logger: logger.WithField("component", "json_state_store"),
	}, nil
}

func (s *JSONStore) Load(vaultID string) (*models.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.read()
	if err != nil {
		return nil, err
	}
	st, ok := l.Vaults[vaultID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return st, nil
}

// Save upserts the record for vaultID. A corrupt ledger is moved aside and
// replaced; it only caches upload outcomes, so the next uploads refill it.
func (s *JSONStore) Save(vaultID string, st *models.SyncState) error {
	if st == nil {
		return fmt.Errorf("save state %s: nil state", vaultID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.read()
	if errors.Is(err, ErrStateCorrupt) {
		l = s.quarantine()
	} else if err != nil {
		return err
	}

	rec := *st
	rec.VaultID = vaultID
	l.Vaults[vaultID] = &rec

	s.logger.WithFields(map[string]interface{}{
		"vault_id": vaultID,
		"provider": st.ProviderID,
		"uploads":  st.Uploads,
	}).Debug("Saving state")
	return s.write(l)
}

func (s *JSONStore) Reset(vaultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.read()
	if errors.Is(err, ErrStateCorrupt) {
		s.quarantine()
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := l.Vaults[vaultID]; !ok {
		return nil
	}

	s.logger.WithField("vault_id", vaultID).Info("Resetting state")
	delete(l.Vaults, vaultID)
	return s.write(l)
}

// List returns the vault ids in the ledger, sorted.
func (s *JSONStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.read()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(l.Vaults))
	for id := range l.Vaults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *JSONStore) Close() error {
	return nil
}

// read loads the ledger. A missing file is an empty ledger.
func (s *JSONStore) read() (*ledger, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return emptyLedger(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var l ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if l.Version != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: unknown ledger version %d", ErrStateCorrupt, l.Version)
	}
	if l.Vaults == nil {
		l.Vaults = make(map[string]*models.SyncState)
	}
	return &l, nil
}

func (s *JSONStore) write(l *ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := fsutil.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// quarantine renames an unreadable ledger to <name>.corrupt and returns an
// empty one.
func (s *JSONStore) quarantine() *ledger {
	aside := s.path + ".corrupt"
	if err := os.Rename(s.path, aside); err != nil {
		s.logger.WithError(err).Warn("Failed to move corrupt state file")
	} else {
		s.logger.WithField("path", aside).Warn("Corrupt state file moved aside")
	}
	return emptyLedger()
}

func emptyLedger() *ledger {
	return &ledger{
		Version: CurrentSchemaVersion,
		Vaults:  make(map[string]*models.SyncState),
	}
}

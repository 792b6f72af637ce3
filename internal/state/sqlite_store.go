package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// SQLiteStore implements SQLite-based state storage.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore creates a SQLite state store.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_state_store"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS sync_states (
        vault_id TEXT PRIMARY KEY,
        provider_id TEXT NOT NULL DEFAULT '',
        last_version_id TEXT NOT NULL DEFAULT '',
        uploads INTEGER NOT NULL DEFAULT 0,
        last_sync_time TIMESTAMP,
        last_error TEXT,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    INSERT OR IGNORE INTO schema_info (version) VALUES (?);
    `

	if _, err := s.db.Exec(schema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load retrieves state from database.
func (s *SQLiteStore) Load(vaultID string) (*models.SyncState, error) {
	s.logger.WithField("vault_id", vaultID).Debug("Loading state from SQLite")

	st := models.SyncState{VaultID: vaultID}
	var lastSyncTime sql.NullTime
	var lastError sql.NullString

	err := s.db.QueryRow(`
        SELECT provider_id, last_version_id, uploads, last_sync_time, last_error
        FROM sync_states
        WHERE vault_id = ?
    `, vaultID).Scan(&st.ProviderID, &st.LastVersionID, &st.Uploads, &lastSyncTime, &lastError)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	if lastSyncTime.Valid {
		st.LastSyncTime = lastSyncTime.Time.UTC()
	}
	if lastError.Valid {
		st.LastError = lastError.String
	}

	return &st, nil
}

// Save persists state to database.
func (s *SQLiteStore) Save(vaultID string, st *models.SyncState) error {
	s.logger.WithFields(map[string]interface{}{
		"vault_id": vaultID,
		"provider": st.ProviderID,
		"uploads":  st.Uploads,
	}).Debug("Saving state to SQLite")

	var lastSync interface{}
	if !st.LastSyncTime.IsZero() {
		lastSync = st.LastSyncTime.UTC()
	}

	_, err := s.db.Exec(`
        INSERT INTO sync_states (vault_id, provider_id, last_version_id, uploads, last_sync_time, last_error, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(vault_id) DO UPDATE SET
            provider_id = excluded.provider_id,
            last_version_id = excluded.last_version_id,
            uploads = excluded.uploads,
            last_sync_time = excluded.last_sync_time,
            last_error = excluded.last_error,
            updated_at = CURRENT_TIMESTAMP
    `, vaultID, st.ProviderID, st.LastVersionID, st.Uploads, lastSync, st.LastError)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	return nil
}

// Reset removes state for a vault.
func (s *SQLiteStore) Reset(vaultID string) error {
	s.logger.WithField("vault_id", vaultID).Info("Resetting state in SQLite")

	if _, err := s.db.Exec("DELETE FROM sync_states WHERE vault_id = ?", vaultID); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// List returns all vault IDs.
func (s *SQLiteStore) List() ([]string, error) {
	rows, err := s.db.Query("SELECT vault_id FROM sync_states ORDER BY vault_id")
	if err != nil {
		return nil, fmt.Errorf("query vaults: %w", err)
	}
	defer rows.Close()

	var vaultIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan vault ID: %w", err)
		}
		vaultIDs = append(vaultIDs, id)
	}

	return vaultIDs, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package state_test

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pwvault/internal/config"
	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/state"
)

func TestJSONStore(t *testing.T) {
	tmpDir := t.TempDir()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := state.NewJSONStore(tmpDir, logger)
	require.NoError(t, err)
	defer store.Close()

	testStoreOperations(t, store)
}

func TestSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "state.db")
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := state.NewSQLiteStore(dbPath, logger)
	require.NoError(t, err)
	defer store.Close()

	testStoreOperations(t, store)
}

func TestMemoryStore(t *testing.T) {
	testStoreOperations(t, state.NewMemoryStore())
}

func testStoreOperations(t *testing.T, store state.Store) {
	vaultID := "test-vault-123"

	t.Run("load non-existent", func(t *testing.T) {
		_, err := store.Load(vaultID)
		assert.ErrorIs(t, err, state.ErrStateNotFound)
	})

	t.Run("save and load", func(t *testing.T) {
		syncState := models.NewSyncState(vaultID)
		syncState.RecordUpload("s3", "vault-20250101T000000.000000000Z.pwv", time.Now().UTC().Truncate(time.Second))

		require.NoError(t, store.Save(vaultID, syncState))

		loaded, err := store.Load(vaultID)
		require.NoError(t, err)

		assert.Equal(t, vaultID, loaded.VaultID)
		assert.Equal(t, "s3", loaded.ProviderID)
		assert.Equal(t, syncState.LastVersionID, loaded.LastVersionID)
		assert.Equal(t, 1, loaded.Uploads)
		assert.Equal(t, syncState.LastSyncTime.Unix(), loaded.LastSyncTime.Unix())
		assert.Empty(t, loaded.LastError)
	})

	t.Run("update existing", func(t *testing.T) {
		loaded, err := store.Load(vaultID)
		require.NoError(t, err)

		loaded.RecordError("s3", errors.New("bucket unreachable"))
		require.NoError(t, store.Save(vaultID, loaded))

		again, err := store.Load(vaultID)
		require.NoError(t, err)
		assert.Equal(t, "bucket unreachable", again.LastError)
		assert.Equal(t, "vault-20250101T000000.000000000Z.pwv", again.LastVersionID)
		assert.Equal(t, 1, again.Uploads)
	})

	t.Run("list vaults", func(t *testing.T) {
		require.NoError(t, store.Save("vault-456", models.NewSyncState("vault-456")))

		vaults, err := store.List()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{vaultID, "vault-456"}, vaults)
	})

	t.Run("reset vault", func(t *testing.T) {
		require.NoError(t, store.Reset(vaultID))

		_, err := store.Load(vaultID)
		assert.ErrorIs(t, err, state.ErrStateNotFound)

		_, err = store.Load("vault-456")
		assert.NoError(t, err)
	})
}

func TestNewSelectsBackend(t *testing.T) {
	logger := events.Nop()

	tests := []struct {
		backend string
		want    interface{}
	}{
		{config.StateBackendJSON, &state.JSONStore{}},
		{"", &state.JSONStore{}},
		{config.StateBackendSQLite, &state.SQLiteStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			dir := t.TempDir()
			store, err := state.New(config.StateConfig{Backend: tt.backend, Dir: dir}, logger)
			require.NoError(t, err)
			defer store.Close()
			assert.IsType(t, tt.want, store)
		})
	}

	_, err := state.New(config.StateConfig{Backend: "etcd", Dir: t.TempDir()}, logger)
	assert.Error(t, err)
}

func TestJSONStoreCorruption(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := state.NewJSONStore(tmpDir, events.Nop())
	require.NoError(t, err)

	vaultID := "corrupt-test"
	require.NoError(t, store.Save(vaultID, models.NewSyncState(vaultID)))

	ledgerPath := filepath.Join(tmpDir, state.LedgerFile)
	require.NoError(t, os.WriteFile(ledgerPath, []byte("invalid json"), 0600))

	_, err = store.Load(vaultID)
	assert.ErrorIs(t, err, state.ErrStateCorrupt)
	_, err = store.List()
	assert.ErrorIs(t, err, state.ErrStateCorrupt)
}

func TestJSONStoreUnknownVersion(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := state.NewJSONStore(tmpDir, events.Nop())
	require.NoError(t, err)

	ledgerPath := filepath.Join(tmpDir, state.LedgerFile)
	require.NoError(t, os.WriteFile(ledgerPath, []byte(`{"version":99,"vaults":{}}`), 0600))

	_, err = store.Load("any")
	assert.ErrorIs(t, err, state.ErrStateCorrupt)
}

func TestJSONStoreSaveReplacesCorruptLedger(t *testing.T) {
	tmpDir := t.TempDir()
	var buf bytes.Buffer
	store, err := state.NewJSONStore(tmpDir, events.NewTestLogger(events.DebugLevel, "json", &buf))
	require.NoError(t, err)

	ledgerPath := filepath.Join(tmpDir, state.LedgerFile)
	require.NoError(t, os.WriteFile(ledgerPath, []byte("{truncated"), 0600))

	st := models.NewSyncState("healed")
	st.RecordUpload("s3", "v9", time.Now().UTC())
	require.NoError(t, store.Save("healed", st))

	loaded, err := store.Load("healed")
	require.NoError(t, err)
	assert.Equal(t, "v9", loaded.LastVersionID)

	aside, err := os.ReadFile(ledgerPath + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, "{truncated", string(aside))
	assert.Contains(t, buf.String(), "Corrupt state file moved aside")
}

func TestJSONStoreSingleLedger(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := state.NewJSONStore(tmpDir, events.Nop())
	require.NoError(t, err)
	defer store.Close()

	first := models.NewSyncState("a")
	first.RecordUpload("s3", "v1", time.Now().UTC())
	require.NoError(t, store.Save("a", first))
	require.NoError(t, store.Save("b", models.NewSyncState("b")))

	second := *first
	second.RecordUpload("s3", "v2", time.Now().UTC())
	require.NoError(t, store.Save("a", &second))

	loaded, err := store.Load("a")
	require.NoError(t, err)
	assert.Equal(t, "v2", loaded.LastVersionID)
	assert.Equal(t, 2, loaded.Uploads)

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, state.LedgerFile, entries[0].Name())

	info, err := entries[0].Info()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestJSONStoreSaveKeysByVaultID(t *testing.T) {
	store, err := state.NewJSONStore(t.TempDir(), events.Nop())
	require.NoError(t, err)

	require.NoError(t, store.Save("right", models.NewSyncState("wrong")))

	loaded, err := store.Load("right")
	require.NoError(t, err)
	assert.Equal(t, "right", loaded.VaultID)
	_, err = store.Load("wrong")
	assert.ErrorIs(t, err, state.ErrStateNotFound)
}

func TestMigration(t *testing.T) {
	tmpDir := t.TempDir()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	jsonStore, err := state.NewJSONStore(filepath.Join(tmpDir, "json"), logger)
	require.NoError(t, err)
	defer jsonStore.Close()

	vaults := []string{"vault1", "vault2", "vault3"}
	for i, vaultID := range vaults {
		st := models.NewSyncState(vaultID)
		for j := 0; j <= i; j++ {
			st.RecordUpload("gdrive", fmt.Sprintf("v%d", j), time.Now().UTC())
		}
		require.NoError(t, jsonStore.Save(vaultID, st))
	}

	sqliteStore, err := state.NewSQLiteStore(filepath.Join(tmpDir, "state.db"), logger)
	require.NoError(t, err)
	defer sqliteStore.Close()

	require.NoError(t, state.Migrate(jsonStore, sqliteStore, logger))

	migratedVaults, err := sqliteStore.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, vaults, migratedVaults)

	for i, vaultID := range vaults {
		st, err := sqliteStore.Load(vaultID)
		require.NoError(t, err)
		assert.Equal(t, i+1, st.Uploads)
		assert.Equal(t, fmt.Sprintf("v%d", i), st.LastVersionID)
		assert.Equal(t, "gdrive", st.ProviderID)
	}
}


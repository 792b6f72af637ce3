package fsutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pwvault/internal/fsutil"
)

func TestWriteFileReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")

	require.NoError(t, fsutil.WriteFile(path, []byte("first"), 0600))
	require.NoError(t, fsutil.WriteFile(path, []byte("second"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteFileMissingDir(t *testing.T) {
	err := fsutil.WriteFile(filepath.Join(t.TempDir(), "nope", "x"), []byte("x"), 0600)
	assert.Error(t, err)
}

package provider_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/provider"
)

func newLocal(t *testing.T) *provider.LocalProvider {
	t.Helper()
	p, err := provider.NewLocal(t.TempDir(), events.Nop())
	require.NoError(t, err)
	return p
}

func TestLocalUploadDownload(t *testing.T) {
	ctx := context.Background()
	p := newLocal(t)

	assert.Equal(t, "local", p.ID())
	assert.True(t, p.IsConfigured())
	require.NoError(t, p.TestConnection(ctx))

	first, err := p.Upload(ctx, []byte("one"), provider.UploadMeta{})
	require.NoError(t, err)
	second, err := p.Upload(ctx, []byte("two"), provider.UploadMeta{})
	require.NoError(t, err)
	assert.Greater(t, second.Name, first.Name)

	latest, err := p.Download(ctx, provider.DownloadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "two", string(latest))

	old, err := p.RestoreVersion(ctx, first.VersionID)
	require.NoError(t, err)
	assert.Equal(t, "one", string(old))

	info, err := os.Stat(filepath.Join(p.Dir(), second.Name))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLocalDownloadEmpty(t *testing.T) {
	p := newLocal(t)

	_, err := p.Download(context.Background(), provider.DownloadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = p.RestoreVersion(context.Background(), "vault-20200101T000000.000000000Z.pwv")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLocalRejectsForeignVersionIDs(t *testing.T) {
	p := newLocal(t)
	_, err := p.RestoreVersion(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLocalRetentionThreeUploadsKeepTwo(t *testing.T) {
	ctx := context.Background()
	p := newLocal(t)

	var names []string
	for i := 0; i < 3; i++ {
		res, err := p.Upload(ctx, []byte(fmt.Sprintf("v%d", i)), provider.UploadMeta{RetainCount: 2})
		require.NoError(t, err)
		names = append(names, res.Name)
	}

	versions, err := p.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, names[2], versions[0].Name)
	assert.Equal(t, names[1], versions[1].Name)
	assert.Equal(t, int64(2), versions[0].Size)
}

func TestLocalRetentionKeepsNewestN(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct{ retain, extra int }{{1, 3}, {3, 4}, {5, 1}} {
		t.Run(fmt.Sprintf("retain=%d extra=%d", tc.retain, tc.extra), func(t *testing.T) {
			p := newLocal(t)

			var names []string
			for i := 0; i < tc.retain+tc.extra; i++ {
				res, err := p.Upload(ctx, []byte("x"), provider.UploadMeta{RetainCount: tc.retain})
				require.NoError(t, err)
				names = append(names, res.Name)
			}

			versions, err := p.ListVersions(ctx)
			require.NoError(t, err)
			require.Len(t, versions, tc.retain)
			for i, v := range versions {
				assert.Equal(t, names[len(names)-1-i], v.Name)
			}
		})
	}
}

func TestLocalIgnoresStrayFiles(t *testing.T) {
	ctx := context.Background()
	p := newLocal(t)

	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), "notes.txt"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(p.Dir(), "vault-20240101T000000.000000000Z.pwv.tmp.42"), []byte("partial"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(p.Dir(), "vault-20240101T000000.000000001Z.pwv"), 0700))

	versions, err := p.ListVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)

	_, err = p.Upload(ctx, []byte("real"), provider.UploadMeta{RetainCount: 1})
	require.NoError(t, err)

	entries, err := os.ReadDir(p.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp.") && !strings.HasSuffix(e.Name(), ".42"), "leftover temp file %s", e.Name())
	}
}

func TestNewLocalRequiresDir(t *testing.T) {
	_, err := provider.NewLocal("", events.Nop())
	assert.ErrorIs(t, err, models.ErrNotConfigured)
}

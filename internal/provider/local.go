package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/fsutil"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// LocalProvider keeps snapshots as files in one directory.
type LocalProvider struct {
	id     string
	dir    string
	logger *events.Logger

	mu sync.Mutex
}

// NewLocal creates a local provider rooted at dir.
func NewLocal(dir string, logger *events.Logger) (*LocalProvider, error) {
	return newLocal(string(KindLocal), dir, logger)
}

func newLocal(id, dir string, logger *events.Logger) (*LocalProvider, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: local directory is required", models.ErrNotConfigured)
	}

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalProvider{
		id:     id,
		dir:    absPath,
		logger: logger.WithField("component", "local_provider"),
	}, nil
}

func (p *LocalProvider) ID() string { return p.id }

// Dir returns the snapshot directory.
func (p *LocalProvider) Dir() string { return p.dir }

func (p *LocalProvider) IsConfigured() bool { return p.dir != "" }

// TestConnection checks the directory is writable.
func (p *LocalProvider) TestConnection(ctx context.Context) error {
	f, err := os.CreateTemp(p.dir, ".writable-*")
	if err != nil {
		return providerError(p.id, "test", err)
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return nil
}

// Upload writes a snapshot atomically: temp file, fsync, rename.
func (p *LocalProvider) Upload(ctx context.Context, data []byte, meta UploadMeta) (*UploadResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name, created := NewSnapshotName()
	target := filepath.Join(p.dir, name)

	p.logger.WithFields(map[string]interface{}{
		"snapshot": name,
		"size":     len(data),
	}).Debug("Writing snapshot")

	if err := fsutil.WriteFile(target, data, 0600); err != nil {
		return nil, providerError(p.id, "upload", err)
	}

	applyRetention(ctx, p.logger, p.listVersions, meta.RetainCount, func(_ context.Context, v models.ProviderVersion) error {
		return os.Remove(filepath.Join(p.dir, v.Name))
	})

	return &UploadResult{VersionID: name, Name: name, CreatedAt: created}, nil
}

// Download reads the newest snapshot, or the one named by opts.VersionID.
func (p *LocalProvider) Download(ctx context.Context, opts DownloadOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := opts.VersionID
	if name == "" {
		versions, err := p.listVersions(ctx)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, &models.NotFoundError{Provider: p.id}
		}
		name = versions[0].Name
	} else if _, ok := ParseSnapshotName(name); !ok {
		return nil, &models.NotFoundError{Provider: p.id, VersionID: name}
	}

	data, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &models.NotFoundError{Provider: p.id, VersionID: opts.VersionID}
		}
		return nil, providerError(p.id, "download", err)
	}
	return data, nil
}

func (p *LocalProvider) ListVersions(ctx context.Context) ([]models.ProviderVersion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listVersions(ctx)
}

func (p *LocalProvider) listVersions(_ context.Context) ([]models.ProviderVersion, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, providerError(p.id, "list", err)
	}

	var versions []models.ProviderVersion
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		created, ok := ParseSnapshotName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		versions = append(versions, models.ProviderVersion{
			ID:        entry.Name(),
			Name:      entry.Name(),
			CreatedAt: created,
			Size:      info.Size(),
		})
	}

	SortNewestFirst(versions)
	return versions, nil
}

func (p *LocalProvider) RestoreVersion(ctx context.Context, versionID string) ([]byte, error) {
	if versionID == "" {
		return nil, &models.NotFoundError{Provider: p.id}
	}
	return p.Download(ctx, DownloadOptions{VersionID: versionID})
}

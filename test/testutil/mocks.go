package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/provider"
)

// MemoryProvider is an in-memory provider.Provider with failure injection.
type MemoryProvider struct {
	id string

	mu        sync.Mutex
	snapshots map[string][]byte
	uploads   int

	FailUpload   error
	FailDownload error
	FailTest     error
}

// NewMemoryProvider creates an empty provider reporting id.
func NewMemoryProvider(id string) *MemoryProvider {
	return &MemoryProvider{
		id:        id,
		snapshots: make(map[string][]byte),
	}
}

func (m *MemoryProvider) ID() string { return m.id }

func (m *MemoryProvider) IsConfigured() bool { return true }

func (m *MemoryProvider) TestConnection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FailTest
}

func (m *MemoryProvider) Upload(ctx context.Context, data []byte, meta provider.UploadMeta) (*provider.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpload != nil {
		return nil, &models.ProviderError{Provider: m.id, Op: "upload", Err: m.FailUpload}
	}

	name, created := provider.NewSnapshotName()
	m.snapshots[name] = append([]byte(nil), data...)
	m.uploads++

	if meta.RetainCount > 0 {
		names := m.namesLocked()
		for _, old := range names[min(meta.RetainCount, len(names)):] {
			delete(m.snapshots, old)
		}
	}

	return &provider.UploadResult{VersionID: name, Name: name, CreatedAt: created}, nil
}

func (m *MemoryProvider) Download(ctx context.Context, opts provider.DownloadOptions) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailDownload != nil {
		return nil, &models.ProviderError{Provider: m.id, Op: "download", Err: m.FailDownload}
	}

	name := opts.VersionID
	if name == "" {
		names := m.namesLocked()
		if len(names) == 0 {
			return nil, &models.NotFoundError{Provider: m.id}
		}
		name = names[0]
	}
	data, ok := m.snapshots[name]
	if !ok {
		return nil, &models.NotFoundError{Provider: m.id, VersionID: name}
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryProvider) ListVersions(ctx context.Context) ([]models.ProviderVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.ProviderVersion
	for _, name := range m.namesLocked() {
		created, _ := provider.ParseSnapshotName(name)
		out = append(out, models.ProviderVersion{
			ID:        name,
			Name:      name,
			CreatedAt: created,
			Size:      int64(len(m.snapshots[name])),
		})
	}
	return out, nil
}

func (m *MemoryProvider) RestoreVersion(ctx context.Context, versionID string) ([]byte, error) {
	if versionID == "" {
		return nil, &models.NotFoundError{Provider: m.id}
	}
	return m.Download(ctx, provider.DownloadOptions{VersionID: versionID})
}

// Uploads returns the number of successful uploads.
func (m *MemoryProvider) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

// SetFailUpload makes subsequent uploads fail with err (nil clears it).
func (m *MemoryProvider) SetFailUpload(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailUpload = err
}

// Put stores data under name, bypassing retention.
func (m *MemoryProvider) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[name] = append([]byte(nil), data...)
}

// namesLocked returns snapshot names newest first.
func (m *MemoryProvider) namesLocked() []string {
	names := make([]string, 0, len(m.snapshots))
	for name := range m.snapshots {
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names
}

// MockProvider mocks provider.Provider with testify.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) ID() string {
	return m.Called().String(0)
}

func (m *MockProvider) IsConfigured() bool {
	return m.Called().Bool(0)
}

func (m *MockProvider) TestConnection(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockProvider) Upload(ctx context.Context, data []byte, meta provider.UploadMeta) (*provider.UploadResult, error) {
	args := m.Called(ctx, data, meta)
	if res := args.Get(0); res != nil {
		return res.(*provider.UploadResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) Download(ctx context.Context, opts provider.DownloadOptions) ([]byte, error) {
	args := m.Called(ctx, opts)
	if data := args.Get(0); data != nil {
		return data.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) ListVersions(ctx context.Context) ([]models.ProviderVersion, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]models.ProviderVersion), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) RestoreVersion(ctx context.Context, versionID string) ([]byte, error) {
	args := m.Called(ctx, versionID)
	if data := args.Get(0); data != nil {
		return data.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

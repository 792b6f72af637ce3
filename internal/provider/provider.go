// Package provider stores encrypted vault snapshots on local and remote
// backends. Providers only ever see ciphertext.
package provider

import (
	"context"
	"time"

	"github.com/TheMichaelB/pwvault/internal/models"
)

// Kind selects a provider implementation.
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
	KindMinio Kind = "minio"
	KindDrive Kind = "gdrive"
	KindMongo Kind = "mongo"
)

// Kinds lists every supported provider kind.
func Kinds() []Kind {
	return []Kind{KindLocal, KindS3, KindMinio, KindDrive, KindMongo}
}

// ContentType is the media type of a vault container.
const ContentType = "application/json"

// UploadMeta describes an upload.
type UploadMeta struct {
	ContentType string
	// RetainCount is the number of newest snapshots kept after the upload.
	// Zero disables trimming.
	RetainCount int
}

// UploadResult identifies the snapshot that was written.
type UploadResult struct {
	VersionID string
	Name      string
	CreatedAt time.Time
}

// DownloadOptions selects a snapshot. An empty VersionID means the newest.
type DownloadOptions struct {
	VersionID string
}

// Provider is a snapshot store for encrypted vault containers.
type Provider interface {
	// ID returns the provider identifier used in provider configs.
	ID() string

	// IsConfigured reports whether the required settings are present.
	IsConfigured() bool

	// TestConnection checks the backend is reachable with the settings.
	TestConnection(ctx context.Context) error

	// Upload writes a new snapshot and trims old ones.
	Upload(ctx context.Context, data []byte, meta UploadMeta) (*UploadResult, error)

	// Download reads a snapshot. A missing snapshot is a NotFoundError.
	Download(ctx context.Context, opts DownloadOptions) ([]byte, error)

	// ListVersions returns the stored snapshots, newest first.
	ListVersions(ctx context.Context) ([]models.ProviderVersion, error)

	// RestoreVersion downloads a specific snapshot.
	RestoreVersion(ctx context.Context, versionID string) ([]byte, error)
}

// Closer is implemented by providers holding connections.
type Closer interface {
	Close(ctx context.Context) error
}

func providerError(id, op string, err error) error {
	return &models.ProviderError{Provider: id, Op: op, Err: err}
}

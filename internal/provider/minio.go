package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// MinioProvider keeps snapshots in any S3-compatible object store.
type MinioProvider struct {
	client *minio.Client
	bucket string
	prefix string
	logger *events.Logger
}

// NewMinio creates a MinIO provider. Endpoint, bucket and keys are required.
func NewMinio(settings models.ProviderSettings, logger *events.Logger) (*MinioProvider, error) {
	endpoint := settings[SettingEndpoint]
	bucket := settings[SettingBucket]
	ak, sk := settings[SettingAccessKeyID], settings[SettingSecretAccessKey]
	if endpoint == "" || bucket == "" || ak == "" || sk == "" {
		return nil, fmt.Errorf("%w: minio needs endpoint, bucket, access_key_id and secret_access_key", models.ErrNotConfigured)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(ak, sk, settings[SettingSessionToken]),
		Secure: settings[SettingUseSSL] != "false",
		Region: settings[SettingRegion],
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioProvider{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(settings[SettingPrefix], "/"),
		logger: logger.WithFields(map[string]interface{}{
			"component": "minio_provider",
			"bucket":    bucket,
		}),
	}, nil
}

func (p *MinioProvider) ID() string { return string(KindMinio) }

func (p *MinioProvider) IsConfigured() bool { return p.client != nil && p.bucket != "" }

func (p *MinioProvider) TestConnection(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return providerError(p.ID(), "test", err)
	}
	if !exists {
		return providerError(p.ID(), "test", fmt.Errorf("bucket %s does not exist", p.bucket))
	}
	return nil
}

func (p *MinioProvider) Upload(ctx context.Context, data []byte, meta UploadMeta) (*UploadResult, error) {
	name, created := NewSnapshotName()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = ContentType
	}

	info, err := p.client.PutObject(ctx, p.bucket, p.objectName(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, providerError(p.ID(), "upload", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"key":  info.Key,
		"size": info.Size,
	}).Debug("Wrote snapshot to object store")

	applyRetention(ctx, p.logger, p.ListVersions, meta.RetainCount, func(ctx context.Context, v models.ProviderVersion) error {
		return p.client.RemoveObject(ctx, p.bucket, p.objectName(v.Name), minio.RemoveObjectOptions{})
	})

	return &UploadResult{VersionID: name, Name: name, CreatedAt: created}, nil
}

func (p *MinioProvider) Download(ctx context.Context, opts DownloadOptions) ([]byte, error) {
	name := opts.VersionID
	if name == "" {
		versions, err := p.ListVersions(ctx)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, &models.NotFoundError{Provider: p.ID()}
		}
		name = versions[0].Name
	}

	obj, err := p.client.GetObject(ctx, p.bucket, p.objectName(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, p.downloadError(err, opts.VersionID)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, p.downloadError(err, opts.VersionID)
	}
	return data, nil
}

func (p *MinioProvider) downloadError(err error, versionID string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return &models.NotFoundError{Provider: p.ID(), VersionID: versionID}
	}
	return providerError(p.ID(), "download", err)
}

func (p *MinioProvider) ListVersions(ctx context.Context) ([]models.ProviderVersion, error) {
	prefix := snapshotPrefix
	if p.prefix != "" {
		prefix = p.prefix + "/" + snapshotPrefix
	}

	var versions []models.ProviderVersion
	for object := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, providerError(p.ID(), "list", object.Err)
		}
		name := path.Base(object.Key)
		created, ok := ParseSnapshotName(name)
		if !ok {
			continue
		}
		versions = append(versions, models.ProviderVersion{
			ID:        name,
			Name:      name,
			CreatedAt: created,
			Size:      object.Size,
		})
	}

	SortNewestFirst(versions)
	return versions, nil
}

func (p *MinioProvider) RestoreVersion(ctx context.Context, versionID string) ([]byte, error) {
	if versionID == "" {
		return nil, &models.NotFoundError{Provider: p.ID()}
	}
	return p.Download(ctx, DownloadOptions{VersionID: versionID})
}

func (p *MinioProvider) objectName(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}

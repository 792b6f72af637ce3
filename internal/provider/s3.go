package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// Settings keys shared by the object-store providers.
const (
	SettingBucket          = "bucket"
	SettingPrefix          = "prefix"
	SettingRegion          = "region"
	SettingEndpoint        = "endpoint"
	SettingAccessKeyID     = "access_key_id"
	SettingSecretAccessKey = "secret_access_key"
	SettingSessionToken    = "session_token"
	SettingUseSSL          = "use_ssl"
)

// S3API is the subset of the S3 client used by S3Provider.
type S3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Provider keeps snapshots as objects under a bucket prefix.
type S3Provider struct {
	client S3API
	bucket string
	prefix string
	logger *events.Logger
}

// NewS3 creates an S3 provider from settings. Static keys are optional; the
// default AWS credential chain is used without them.
func NewS3(ctx context.Context, settings models.ProviderSettings, logger *events.Logger) (*S3Provider, error) {
	if settings[SettingBucket] == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", models.ErrNotConfigured)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region := settings[SettingRegion]; region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if ak, sk := settings[SettingAccessKeyID], settings[SettingSecretAccessKey]; ak != "" && sk != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(ak, sk, settings[SettingSessionToken]),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := settings[SettingEndpoint]
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3WithClient(client, settings[SettingBucket], settings[SettingPrefix], logger), nil
}

// NewS3WithClient creates an S3 provider around an existing client.
func NewS3WithClient(client S3API, bucket, prefix string, logger *events.Logger) *S3Provider {
	return &S3Provider{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.WithFields(map[string]interface{}{
			"component": "s3_provider",
			"bucket":    bucket,
		}),
	}
}

func (p *S3Provider) ID() string { return string(KindS3) }

func (p *S3Provider) IsConfigured() bool { return p.client != nil && p.bucket != "" }

func (p *S3Provider) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)}); err != nil {
		return providerError(p.ID(), "test", err)
	}
	return nil
}

func (p *S3Provider) Upload(ctx context.Context, data []byte, meta UploadMeta) (*UploadResult, error) {
	name, created := NewSnapshotName()
	key := p.buildKey(name)

	contentType := meta.ContentType
	if contentType == "" {
		contentType = ContentType
	}

	putCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := p.client.PutObject(putCtx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, providerError(p.ID(), "upload", fmt.Errorf("s3 put object: %w", err))
	}

	p.logger.WithFields(map[string]interface{}{
		"key":  key,
		"size": len(data),
	}).Debug("Wrote snapshot to S3")

	applyRetention(ctx, p.logger, p.ListVersions, meta.RetainCount, func(ctx context.Context, v models.ProviderVersion) error {
		_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(p.buildKey(v.Name)),
		})
		return err
	})

	return &UploadResult{VersionID: name, Name: name, CreatedAt: created}, nil
}

func (p *S3Provider) Download(ctx context.Context, opts DownloadOptions) ([]byte, error) {
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

	getCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := p.client.GetObject(getCtx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &models.NotFoundError{Provider: p.ID(), VersionID: opts.VersionID}
		}
		return nil, providerError(p.ID(), "download", fmt.Errorf("s3 get object: %w", err))
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, providerError(p.ID(), "download", err)
	}
	return data, nil
}

func (p *S3Provider) ListVersions(ctx context.Context) ([]models.ProviderVersion, error) {
	prefix := ""
	if p.prefix != "" {
		prefix = p.prefix + "/"
	}

	var versions []models.ProviderVersion

	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix + snapshotPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, providerError(p.ID(), "list", fmt.Errorf("s3 list objects: %w", err))
		}

		for _, obj := range page.Contents {
			name := path.Base(aws.ToString(obj.Key))
			created, ok := ParseSnapshotName(name)
			if !ok {
				continue
			}
			versions = append(versions, models.ProviderVersion{
				ID:        name,
				Name:      name,
				CreatedAt: created,
				Size:      aws.ToInt64(obj.Size),
			})
		}
	}

	SortNewestFirst(versions)
	return versions, nil
}

func (p *S3Provider) RestoreVersion(ctx context.Context, versionID string) ([]byte, error) {
	if versionID == "" {
		return nil, &models.NotFoundError{Provider: p.ID()}
	}
	return p.Download(ctx, DownloadOptions{VersionID: versionID})
}

func (p *S3Provider) buildKey(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}

package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// Drive settings keys.
const (
	SettingClientID     = "client_id"
	SettingClientSecret = "client_secret"
	SettingAccessToken  = "access_token"
	SettingRefreshToken = "refresh_token"
	SettingTokenExpiry  = "token_expiry" // RFC 3339
	SettingFolderID     = "folder_id"
	SettingTokenURL     = "token_url"
	SettingAPIBase      = "api_base"
)

const (
	driveTokenURL = "https://oauth2.googleapis.com/token"
	driveAuthURL  = "https://accounts.google.com/o/oauth2/auth"

	driveFileFields = "id,name,createdTime,size"
)

// TokenCallback receives rotated OAuth tokens so the caller can persist them
// in the provider config. It runs on its own goroutine.
type TokenCallback func(providerID string, token *oauth2.Token)

// DriveProvider keeps snapshots as files in a Google Drive folder.
type DriveProvider struct {
	svc      *drive.Service
	folderID string
	logger   *events.Logger
}

// NewDrive creates a Drive provider. httpClient, when non-nil, is the base
// transport the OAuth client wraps. The api_base setting points the client
// at another Drive endpoint root.
func NewDrive(ctx context.Context, settings models.ProviderSettings, onToken TokenCallback, httpClient *http.Client, logger *events.Logger) (*DriveProvider, error) {
	if settings[SettingRefreshToken] == "" && settings[SettingAccessToken] == "" {
		return nil, fmt.Errorf("%w: gdrive needs an access or refresh token", models.ErrNotConfigured)
	}

	tokenURL := settings[SettingTokenURL]
	if tokenURL == "" {
		tokenURL = driveTokenURL
	}

	oauthCfg := &oauth2.Config{
		ClientID:     settings[SettingClientID],
		ClientSecret: settings[SettingClientSecret],
		Endpoint: oauth2.Endpoint{
			AuthURL:   driveAuthURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{drive.DriveFileScope},
	}

	initial := &oauth2.Token{
		AccessToken:  settings[SettingAccessToken],
		RefreshToken: settings[SettingRefreshToken],
		TokenType:    "Bearer",
	}
	if s := settings[SettingTokenExpiry]; s != "" {
		expiry, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid token_expiry: %v", models.ErrInvalidConfig, err)
		}
		initial.Expiry = expiry
	}

	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	logger = logger.WithField("component", "drive_provider")
	src := &notifyingTokenSource{
		base:   oauth2.ReuseTokenSource(initial, oauthCfg.TokenSource(ctx, initial)),
		last:   initial.AccessToken,
		notify: onToken,
		logger: logger,
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, src))}
	if base := settings[SettingAPIBase]; base != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimSuffix(base, "/")+"/drive/v3/"))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: gdrive client: %v", models.ErrInvalidConfig, err)
	}

	return &DriveProvider{
		svc:      svc,
		folderID: settings[SettingFolderID],
		logger:   logger,
	}, nil
}

// notifyingTokenSource reports each new access token to a callback without
// blocking the request that triggered the refresh.
type notifyingTokenSource struct {
	base   oauth2.TokenSource
	notify TokenCallback
	logger *events.Logger

	mu   sync.Mutex
	last string
}

func (s *notifyingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	rotated := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()

	if rotated && s.notify != nil {
		s.logger.Debug("OAuth token rotated")
		cp := *tok
		go s.notify(string(KindDrive), &cp)
	}
	return tok, nil
}

func (p *DriveProvider) ID() string { return string(KindDrive) }

func (p *DriveProvider) IsConfigured() bool { return p.svc != nil }

func (p *DriveProvider) TestConnection(ctx context.Context) error {
	if _, err := p.svc.About.Get().Fields("user").Context(ctx).Do(); err != nil {
		return providerError(p.ID(), "test", err)
	}
	return nil
}

func (p *DriveProvider) Upload(ctx context.Context, data []byte, meta UploadMeta) (*UploadResult, error) {
	name, created := NewSnapshotName()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = ContentType
	}

	file := &drive.File{Name: name, MimeType: contentType}
	if p.folderID != "" {
		file.Parents = []string{p.folderID}
	}

	stored, err := p.svc.Files.Create(file).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType)).
		Fields(driveFileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, providerError(p.ID(), "upload", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"file_id": stored.Id,
		"size":    len(data),
	}).Debug("Wrote snapshot to Drive")

	applyRetention(ctx, p.logger, p.ListVersions, meta.RetainCount, func(ctx context.Context, v models.ProviderVersion) error {
		return p.svc.Files.Delete(v.ID).Context(ctx).Do()
	})

	return &UploadResult{VersionID: stored.Id, Name: name, CreatedAt: created}, nil
}

func (p *DriveProvider) Download(ctx context.Context, opts DownloadOptions) ([]byte, error) {
	id := opts.VersionID
	if id == "" {
		versions, err := p.ListVersions(ctx)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, &models.NotFoundError{Provider: p.ID()}
		}
		id = versions[0].ID
	}

	resp, err := p.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, &models.NotFoundError{Provider: p.ID(), VersionID: opts.VersionID}
		}
		return nil, providerError(p.ID(), "download", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providerError(p.ID(), "download", err)
	}
	return data, nil
}

func (p *DriveProvider) ListVersions(ctx context.Context) ([]models.ProviderVersion, error) {
	query := fmt.Sprintf("name contains '%s' and trashed = false", snapshotPrefix)
	if p.folderID != "" {
		query += fmt.Sprintf(" and '%s' in parents", p.folderID)
	}

	var versions []models.ProviderVersion
	err := p.svc.Files.List().
		Q(query).
		Fields("files("+driveFileFields+"),nextPageToken").
		PageSize(100).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				created, ok := ParseSnapshotName(f.Name)
				if !ok {
					continue
				}
				versions = append(versions, models.ProviderVersion{
					ID:        f.Id,
					Name:      f.Name,
					CreatedAt: created,
					Size:      f.Size,
				})
			}
			return nil
		})
	if err != nil {
		return nil, providerError(p.ID(), "list", err)
	}

	SortNewestFirst(versions)
	return versions, nil
}

func (p *DriveProvider) RestoreVersion(ctx context.Context, versionID string) ([]byte, error) {
	if versionID == "" {
		return nil, &models.NotFoundError{Provider: p.ID()}
	}
	return p.Download(ctx, DownloadOptions{VersionID: versionID})
}

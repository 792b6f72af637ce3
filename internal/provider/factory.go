package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// SettingDir is the directory of a local provider.
const SettingDir = "dir"

// Deps carries the collaborators a provider may need.
type Deps struct {
	Logger *events.Logger

	// OnTokenRefresh receives rotated OAuth tokens.
	OnTokenRefresh TokenCallback

	// HTTPClient is the base transport for HTTP providers.
	HTTPClient *http.Client
}

// New builds the provider of kind from its settings.
func New(ctx context.Context, kind Kind, settings models.ProviderSettings, deps Deps) (Provider, error) {
	logger := deps.Logger
	if logger == nil {
		logger = events.Nop()
	}
	if settings == nil {
		settings = models.ProviderSettings{}
	}

	switch kind {
	case KindLocal:
		return NewLocal(settings[SettingDir], logger)
	case KindS3:
		return NewS3(ctx, settings, logger)
	case KindMinio:
		return NewMinio(settings, logger)
	case KindDrive:
		return NewDrive(ctx, settings, deps.OnTokenRefresh, deps.HTTPClient, logger)
	case KindMongo:
		return NewMongo(ctx, settings, logger)
	}
	return nil, fmt.Errorf("%w: unknown provider %q", models.ErrInvalidConfig, kind)
}

// ParseKind validates a provider identifier.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown provider %q", models.ErrInvalidConfig, s)
}

// Package license is the client for the licence/subscription service.
package license

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/transport"
)

// Licence service endpoints.
const (
	PathCurrentSession  = "/v1/session/current"
	PathValidateSession = "/v1/session/validate"
	PathSessionEvents   = "/v1/session/events"
)

// Service resolves the subscription for an application-account session.
type Service struct {
	transport transport.Transport
	logger    *events.Logger
	now       func() time.Time

	mu    sync.Mutex
	token *models.TokenInfo
	sub   *models.Subscription
}

// NewService creates a licence service client.
func NewService(t transport.Transport, logger *events.Logger) *Service {
	return &Service{
		transport: t,
		logger:    logger.WithField("service", "license"),
		now:       time.Now,
	}
}

// ParseToken reads the subject and expiry from a JWT session token without
// verifying it. Opaque tokens yield a TokenInfo with no expiry.
func ParseToken(token string) models.TokenInfo {
	info := models.TokenInfo{Token: token}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return info
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	return info
}

// SetToken installs the session credential used for later calls.
func (s *Service) SetToken(token string) (*models.TokenInfo, error) {
	if token == "" {
		return nil, models.ErrNoSession
	}

	info := ParseToken(token)
	if !info.ExpiresAt.IsZero() && !s.now().Before(info.ExpiresAt) {
		return nil, models.ErrSessionExpired
	}

	s.mu.Lock()
	if s.token == nil || s.token.Token != token {
		s.sub = nil
	}
	s.token = &info
	s.mu.Unlock()

	s.transport.SetToken(token)
	return &info, nil
}

// Token returns the current session credential.
func (s *Service) Token() (*models.TokenInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		return nil, models.ErrNoSession
	}
	if !s.token.ExpiresAt.IsZero() && !s.now().Before(s.token.ExpiresAt) {
		return nil, models.ErrSessionExpired
	}
	info := *s.token
	return &info, nil
}

// Clear forgets the session credential and cached subscription.
func (s *Service) Clear() {
	s.mu.Lock()
	s.token = nil
	s.sub = nil
	s.mu.Unlock()

	s.transport.SetToken("")
}

// CurrentSession fetches the subscription for the installed token.
func (s *Service) CurrentSession(ctx context.Context) (*models.Subscription, error) {
	if _, err := s.Token(); err != nil {
		return nil, err
	}

	var sub models.Subscription
	if err := s.transport.GetJSON(ctx, PathCurrentSession, &sub); err != nil {
		return nil, s.sessionError("current session", err)
	}

	s.store(&sub)
	return &sub, nil
}

// ValidateSession asks the service whether token is a live session and
// returns its subscription. The installed token is not changed.
func (s *Service) ValidateSession(ctx context.Context, token string) (*models.Subscription, error) {
	if token == "" {
		return nil, models.ErrNoSession
	}

	req := struct {
		Token string `json:"token"`
	}{Token: token}

	var sub models.Subscription
	if err := s.transport.PostJSON(ctx, PathValidateSession, req, &sub); err != nil {
		return nil, s.sessionError("validate session", err)
	}
	return &sub, nil
}

// Subscription returns the last subscription seen, or nil.
func (s *Service) Subscription() *models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		return nil
	}
	sub := *s.sub
	return &sub
}

// Watch streams subscription events until ctx is done or the stream ends.
// Each event updates the cached subscription before fn is called.
func (s *Service) Watch(ctx context.Context, fn func(models.SubscriptionEvent)) error {
	if _, err := s.Token(); err != nil {
		return err
	}

	stream, err := s.transport.StreamEvents(ctx, PathSessionEvents)
	if err != nil {
		return s.sessionError("watch session", err)
	}

	s.logger.Debug("Watching subscription events")
	for {
		select {
		case event, ok := <-stream:
			if !ok {
				return nil
			}
			s.apply(event)
			if fn != nil {
				fn(event)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) apply(event models.SubscriptionEvent) {
	log := s.logger.WithField("type", event.Type)

	switch event.Type {
	case models.SubscriptionUpdated:
		if event.Subscription != nil {
			s.store(event.Subscription)
		}
	case models.SubscriptionRevoked:
		s.store(&models.Subscription{Plan: "free"})
	case models.SessionRevoked:
		s.mu.Lock()
		s.token = nil
		s.sub = nil
		s.mu.Unlock()
		s.transport.SetToken("")
	default:
		log.Debug("Ignoring unknown event")
		return
	}
	log.Info("Applied subscription event")
}

func (s *Service) store(sub *models.Subscription) {
	cp := *sub
	s.mu.Lock()
	s.sub = &cp
	s.mu.Unlock()
}

// sessionError maps an authentication rejection to ErrSessionExpired.
func (s *Service) sessionError(op string, err error) error {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		s.logger.WithField("status", apiErr.StatusCode).Warn("Session rejected")
		return fmt.Errorf("%s: %w", op, models.ErrSessionExpired)
	}
	return fmt.Errorf("%s: %w", op, err)
}

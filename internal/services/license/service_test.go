package license_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/pwvault/internal/models"
	"github.com/TheMichaelB/pwvault/internal/services/license"
	"github.com/TheMichaelB/pwvault/internal/transport"
	"github.com/TheMichaelB/pwvault/test/testutil"
)

func signedToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return s
}

func TestParseToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	info := license.ParseToken(signedToken(t, "user-42", exp))
	assert.Equal(t, "user-42", info.Subject)
	assert.True(t, exp.Equal(info.ExpiresAt))

	opaque := license.ParseToken("opaque-session-token")
	assert.Equal(t, "opaque-session-token", opaque.Token)
	assert.True(t, opaque.ExpiresAt.IsZero())
	assert.Empty(t, opaque.Subject)
}

func TestSetToken(t *testing.T) {
	mock := transport.NewMockTransport()
	service := license.NewService(mock, testutil.NewTestLogger())

	t.Run("empty", func(t *testing.T) {
		_, err := service.SetToken("")
		assert.ErrorIs(t, err, models.ErrNoSession)
	})

	t.Run("expired jwt", func(t *testing.T) {
		_, err := service.SetToken(signedToken(t, "u", time.Now().Add(-time.Minute)))
		assert.ErrorIs(t, err, models.ErrSessionExpired)
		assert.Empty(t, mock.GetToken())
	})

	t.Run("valid", func(t *testing.T) {
		info, err := service.SetToken("opaque")
		require.NoError(t, err)
		assert.Equal(t, "opaque", info.Token)
		assert.Equal(t, "opaque", mock.GetToken())

		got, err := service.Token()
		require.NoError(t, err)
		assert.Equal(t, "opaque", got.Token)
	})

	t.Run("clear", func(t *testing.T) {
		service.Clear()
		_, err := service.Token()
		assert.ErrorIs(t, err, models.ErrNoSession)
		assert.Empty(t, mock.GetToken())
	})
}

func TestCurrentSession(t *testing.T) {
	mock := transport.NewMockTransport()
	service := license.NewService(mock, testutil.NewTestLogger())
	ctx := context.Background()

	_, err := service.CurrentSession(ctx)
	assert.ErrorIs(t, err, models.ErrNoSession)
	assert.Zero(t, mock.RequestCount(license.PathCurrentSession))

	expires := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.AddResponse(license.PathCurrentSession, models.Subscription{IsPremium: true, Plan: "pro", ExpiresAt: expires})
	_, err = service.SetToken("tok")
	require.NoError(t, err)

	sub, err := service.CurrentSession(ctx)
	require.NoError(t, err)
	assert.True(t, sub.IsPremium)
	assert.Equal(t, "pro", sub.Plan)
	assert.True(t, expires.Equal(sub.ExpiresAt))
	assert.Equal(t, "tok", mock.Requests[0].Token)

	cached := service.Subscription()
	require.NotNil(t, cached)
	assert.Equal(t, "pro", cached.Plan)
}

func TestCurrentSessionRejected(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.AddError(license.PathCurrentSession, &models.APIError{StatusCode: 401, Message: "expired"})
	service := license.NewService(mock, testutil.NewTestLogger())
	_, err := service.SetToken("tok")
	require.NoError(t, err)

	_, err = service.CurrentSession(context.Background())
	assert.ErrorIs(t, err, models.ErrSessionExpired)
}

func TestCurrentSessionServerError(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.AddError(license.PathCurrentSession, &models.APIError{StatusCode: 500, Message: "boom"})
	service := license.NewService(mock, testutil.NewTestLogger())
	_, err := service.SetToken("tok")
	require.NoError(t, err)

	_, err = service.CurrentSession(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrSessionExpired))
	var apiErr *models.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestValidateSession(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.AddResponse(license.PathValidateSession, models.Subscription{Plan: "free"})
	service := license.NewService(mock, testutil.NewTestLogger())

	_, err := service.ValidateSession(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrNoSession)

	sub, err := service.ValidateSession(context.Background(), "candidate")
	require.NoError(t, err)
	assert.False(t, sub.IsPremium)
	assert.Equal(t, "free", sub.Plan)

	require.Len(t, mock.Requests, 1)
	assert.Equal(t, "POST", mock.Requests[0].Method)
	assert.Empty(t, mock.GetToken(), "validate does not install the token")
}

func TestWatchAppliesEvents(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.Events = []models.SubscriptionEvent{
		{Type: models.SubscriptionUpdated, Subscription: &models.Subscription{IsPremium: true, Plan: "pro"}},
		{Type: "device.registered"},
		{Type: models.SubscriptionRevoked},
	}
	service := license.NewService(mock, testutil.NewTestLogger())
	_, err := service.SetToken("tok")
	require.NoError(t, err)

	var seen []string
	var premium []bool
	err = service.Watch(context.Background(), func(e models.SubscriptionEvent) {
		seen = append(seen, e.Type)
		premium = append(premium, service.Subscription().IsPremium)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{models.SubscriptionUpdated, "device.registered", models.SubscriptionRevoked}, seen)
	assert.Equal(t, []bool{true, true, false}, premium)
}

func TestWatchSessionRevoked(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.Events = []models.SubscriptionEvent{{Type: models.SessionRevoked}}
	service := license.NewService(mock, testutil.NewTestLogger())
	_, err := service.SetToken("tok")
	require.NoError(t, err)

	require.NoError(t, service.Watch(context.Background(), nil))

	_, err = service.Token()
	assert.ErrorIs(t, err, models.ErrNoSession)
	assert.Empty(t, mock.GetToken())
}

func TestWatchStopsOnContext(t *testing.T) {
	mock := transport.NewMockTransport()
	mock.HoldOpen()
	service := license.NewService(mock, testutil.NewTestLogger())
	_, err := service.SetToken("tok")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = service.Watch(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_ = mock.Close()
}

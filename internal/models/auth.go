package models

import "time"

// Subscription is the licence state returned by the licence service.
type Subscription struct {
	IsPremium bool      `json:"isPremium"`
	Plan      string    `json:"plan"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Active reports whether a premium plan is in effect at now.
func (s *Subscription) Active(now time.Time) bool {
	if s == nil || !s.IsPremium {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// TokenInfo stores the application-account session credential.
type TokenInfo struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Subject   string    `json:"subject,omitempty"`
}

// IsExpired checks if the token has expired. A zero expiry never expires.
func (t *TokenInfo) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(t.ExpiresAt)
}

// SubscriptionEvent is pushed by the licence service when entitlements change.
type SubscriptionEvent struct {
	Type         string        `json:"type"`
	Subscription *Subscription `json:"subscription,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Subscription event types.
const (
	SubscriptionUpdated = "subscription.updated"
	SubscriptionRevoked = "subscription.revoked"
	SessionRevoked      = "session.revoked"
)

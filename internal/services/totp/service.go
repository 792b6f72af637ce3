// Package totp produces one-time codes for vault entries.
package totp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/TheMichaelB/pwvault/internal/models"
)

// Code is a one-time code and how long it stays valid.
type Code struct {
	Value     string
	Remaining time.Duration
}

// Service generates TOTP codes from entry secrets.
type Service struct {
	period    uint
	digits    otp.Digits
	algorithm otp.Algorithm
	now       func() time.Time
}

// NewService creates a service with the RFC 6238 defaults (30s, 6 digits,
// SHA1). otpauth:// URIs override these per entry.
func NewService() *Service {
	return &Service{
		period:    30,
		digits:    otp.DigitsSix,
		algorithm: otp.AlgorithmSHA1,
		now:       time.Now,
	}
}

// WithClock returns a copy of s that reads time from now.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

// EntryCode returns the current code for an entry's TOTP secret.
func (s *Service) EntryCode(entry models.PasswordEntry) (*Code, error) {
	if entry.TOTPSecret == "" {
		return nil, fmt.Errorf("totp: entry %q has no secret", entry.Name)
	}
	return s.CodeAt(entry.TOTPSecret, s.now())
}

// GenerateCode generates the current code for secret.
func (s *Service) GenerateCode(secret string) (string, error) {
	code, err := s.CodeAt(secret, s.now())
	if err != nil {
		return "", err
	}
	return code.Value, nil
}

// CodeAt generates the code for secret at t. secret is either a base32
// string (spaces and case ignored) or an otpauth:// URI.
func (s *Service) CodeAt(secret string, t time.Time) (*Code, error) {
	key, opts, err := s.parse(secret)
	if err != nil {
		return nil, err
	}

	value, err := totp.GenerateCodeCustom(key, t, opts)
	if err != nil {
		return nil, fmt.Errorf("totp: failed to generate code: %w", err)
	}

	period := int64(opts.Period)
	next := (t.Unix()/period + 1) * period
	return &Code{
		Value:     value,
		Remaining: time.Unix(next, 0).Sub(t),
	}, nil
}

// ValidateCode checks code against secret allowing one period of skew.
func (s *Service) ValidateCode(secret, code string) bool {
	if code == "" {
		return false
	}
	key, opts, err := s.parse(secret)
	if err != nil {
		return false
	}
	opts.Skew = 1
	ok, err := totp.ValidateCustom(code, key, s.now(), opts)
	return err == nil && ok
}

// IsValidSecret reports whether secret can produce codes.
func (s *Service) IsValidSecret(secret string) error {
	_, err := s.CodeAt(secret, s.now())
	return err
}

// NewSecret provisions a fresh secret for account and returns its
// otpauth:// URI, suitable for storing as an entry's TOTP secret.
func (s *Service) NewSecret(issuer, account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      s.period,
		Digits:      s.digits,
		Algorithm:   s.algorithm,
	})
	if err != nil {
		return "", fmt.Errorf("totp: generate secret: %w", err)
	}
	return key.URL(), nil
}

func (s *Service) parse(secret string) (string, totp.ValidateOpts, error) {
	opts := totp.ValidateOpts{
		Period:    s.period,
		Digits:    s.digits,
		Algorithm: s.algorithm,
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", opts, fmt.Errorf("totp: secret cannot be empty")
	}

	if strings.HasPrefix(strings.ToLower(secret), "otpauth://") {
		key, err := otp.NewKeyFromURL(secret)
		if err != nil {
			return "", opts, fmt.Errorf("totp: invalid otpauth uri: %w", err)
		}
		if key.Type() != "totp" {
			return "", opts, fmt.Errorf("totp: unsupported otp type %q", key.Type())
		}
		if p := key.Period(); p > 0 {
			opts.Period = uint(p)
		}
		opts.Digits = key.Digits()
		opts.Algorithm = key.Algorithm()
		return key.Secret(), opts, nil
	}

	secret = strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	return secret, opts, nil
}

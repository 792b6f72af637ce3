package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeFormat      = "FORMAT_ERROR"
	ErrCodeUnsupported = "UNSUPPORTED_ALGORITHM"
	ErrCodeIntegrity   = "INTEGRITY_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeProvider    = "PROVIDER_ERROR"
	ErrCodeLocked      = "VAULT_LOCKED"
	ErrCodeConfig      = "CONFIG_ERROR"
	ErrCodeRateLimit   = "RATE_LIMIT"
	ErrCodeServerError = "SERVER_ERROR"
)

// Sentinel errors. The typed errors below match them with errors.Is.
var (
	ErrFormat               = errors.New("not a vault container")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrIntegrity            = errors.New("integrity check failed")
	ErrNotFound             = errors.New("not found")
	ErrProvider             = errors.New("storage provider failure")
	ErrLocked               = errors.New("vault is locked")

	ErrEntryExists    = errors.New("entry already exists")
	ErrEntryNotFound  = errors.New("entry not found")
	ErrInvalidEntry   = errors.New("invalid entry")
	ErrEntryLimit     = errors.New("entry limit reached for current plan")
	ErrNotConfigured  = errors.New("provider not configured")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrRateLimited    = errors.New("rate limited")
	ErrNoSession      = errors.New("no session credential")
	ErrSessionExpired = errors.New("session expired")
)

// FormatError reports data that is not a recognisable vault container.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("format error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("format error: %s", e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// UnsupportedAlgorithmError reports a KDF or cipher this build cannot run.
type UnsupportedAlgorithmError struct {
	Kind string // "kdf" or "cipher"
	Name string
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported %s algorithm %q", e.Kind, e.Name)
}

func (e *UnsupportedAlgorithmError) Is(target error) bool { return target == ErrUnsupportedAlgorithm }

// IntegrityError is returned when authentication fails. A wrong password and
// tampered data are deliberately indistinguishable.
type IntegrityError struct{}

func (e *IntegrityError) Error() string { return ErrIntegrity.Error() }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// NotFoundError reports a missing snapshot at a provider.
type NotFoundError struct {
	Provider  string
	VersionID string
}

func (e *NotFoundError) Error() string {
	if e.VersionID != "" {
		return fmt.Sprintf("%s: version %s not found", e.Provider, e.VersionID)
	}
	return fmt.Sprintf("%s: no snapshot found", e.Provider)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ProviderError wraps a transport or auth failure talking to a backend.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// LockedError is returned for operations that need an unlocked vault.
type LockedError struct {
	Op string
}

func (e *LockedError) Error() string {
	if e.Op == "" {
		return ErrLocked.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, ErrLocked)
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// APIError represents an error from the licence API.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Code returns the error code for err, or "" when it is not part of the taxonomy.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFormat):
		return ErrCodeFormat
	case errors.Is(err, ErrUnsupportedAlgorithm):
		return ErrCodeUnsupported
	case errors.Is(err, ErrIntegrity):
		return ErrCodeIntegrity
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrProvider):
		return ErrCodeProvider
	case errors.Is(err, ErrLocked):
		return ErrCodeLocked
	case errors.Is(err, ErrRateLimited):
		return ErrCodeRateLimit
	}
	return ""
}

// UserMessage returns the text shown to a user for err.
func UserMessage(err error) string {
	switch Code(err) {
	case ErrCodeIntegrity:
		return "Wrong password or corrupted vault."
	case ErrCodeFormat:
		return "This file is not a vault or was written by an incompatible app version."
	case ErrCodeUnsupported:
		return "This vault was created by a newer or different app version and cannot be opened here."
	case ErrCodeNotFound:
		return "No vault snapshot was found."
	case ErrCodeProvider:
		return "Could not reach the storage provider."
	case ErrCodeLocked:
		return "Unlock the vault first."
	case ErrCodeRateLimit:
		return "Too many attempts. Wait a moment and try again."
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated   = errors.New("no credential provided")
	ErrInvalidCredential = errors.New("invalid or expired credential")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrProvider          = errors.New("completion provider failure")
	ErrStore             = errors.New("store failure")
)

// ProviderErrorKind classifies completion provider failures.
type ProviderErrorKind string

const (
	ProviderAuth        ProviderErrorKind = "auth"
	ProviderRateLimited ProviderErrorKind = "rate_limited"
	ProviderUnavailable ProviderErrorKind = "unavailable"
	ProviderUnknown     ProviderErrorKind = "unknown"
)

// ProviderError is returned by every CompletionClient on failure.
type ProviderError struct {
	Kind       ProviderErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// ProviderKindForStatus maps an HTTP status from a provider to a failure kind.
func ProviderKindForStatus(status int) ProviderErrorKind {
	switch {
	case status == 401 || status == 403:
		return ProviderAuth
	case status == 429:
		return ProviderRateLimited
	case status >= 500:
		return ProviderUnavailable
	default:
		return ProviderUnknown
	}
}

// StoreError wraps a storage driver error so it matches ErrStore.
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

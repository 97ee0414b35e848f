package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/klapctl/internal/adapters/secrets/file"
	passstore "github.com/bnema/klapctl/internal/adapters/secrets/pass"
	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/ports"
)

// Store keeps device passwords in the primary backend and uses the fallback
// when the primary cannot serve a key. Cancellation never falls back.
type Store struct {
	primary  ports.SecretStore
	fallback ports.SecretStore
}

var _ ports.SecretStore = (*Store)(nil)

var (
	errNilPrimaryStore  = errors.New("primary secret store is nil")
	errNilFallbackStore = errors.New("fallback secret store is nil")
)

func NewStore(primary ports.SecretStore, fallback ports.SecretStore) *Store {
	store, err := NewStoreChecked(primary, fallback)
	if err != nil {
		panic(err)
	}

	return store
}

func NewStoreChecked(primary ports.SecretStore, fallback ports.SecretStore) (*Store, error) {
	if primary == nil {
		return nil, errNilPrimaryStore
	}
	if fallback == nil {
		return nil, errNilFallbackStore
	}

	return &Store{primary: primary, fallback: fallback}, nil
}

// NewPassFirstWithFileFallback prefers pass and falls back to files under
// fileRoot, sealed when passphrase is set.
func NewPassFirstWithFileFallback(fileRoot string, passphrase string) (*Store, error) {
	fallback := filestore.NewStore(fileRoot)
	if passphrase != "" {
		fallback = filestore.NewSealedStore(fileRoot, passphrase)
	}
	return NewStoreChecked(passstore.NewStore(), fallback)
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	err := s.primary.Put(ctx, key, value)
	if err == nil {
		return nil
	}
	if shouldSkipFallback(err) {
		return err
	}

	fallbackErr := s.fallback.Put(ctx, key, value)
	if fallbackErr == nil {
		return nil
	}

	return fmt.Errorf("primary backend put failed: %w; fallback backend put failed: %w", err, fallbackErr)
}

// Get reports domain.ErrSecretNotFound only when no backend holds the key
// and none failed for another reason.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.primary.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if shouldSkipFallback(err) {
		return "", err
	}

	fallbackValue, fallbackErr := s.fallback.Get(ctx, key)
	if fallbackErr == nil {
		return fallbackValue, nil
	}
	if shouldSkipFallback(fallbackErr) {
		return "", fallbackErr
	}

	if isAbsent(err) && errors.Is(fallbackErr, domain.ErrSecretNotFound) {
		return "", fmt.Errorf("get secret %q: %w", key, domain.ErrSecretNotFound)
	}
	if isAbsent(err) {
		return "", fmt.Errorf("fallback backend get failed: %w", fallbackErr)
	}

	return "", fmt.Errorf("primary backend get failed: %w; fallback backend get failed: %v", err, fallbackErr)
}

// Delete removes the key from both backends, since Put may have landed in
// either one.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.primary.Delete(ctx, key)
	if err != nil && shouldSkipFallback(err) {
		return err
	}
	if errors.Is(err, passstore.ErrUnavailable) {
		err = nil
	}

	fallbackErr := s.fallback.Delete(ctx, key)

	switch {
	case err != nil && fallbackErr != nil:
		return fmt.Errorf("primary backend delete failed: %w; fallback backend delete failed: %w", err, fallbackErr)
	case err != nil:
		return fmt.Errorf("primary backend delete failed: %w", err)
	case fallbackErr != nil:
		return fmt.Errorf("fallback backend delete failed: %w", fallbackErr)
	default:
		return nil
	}
}

// isAbsent reports a backend that does not hold the key, either because the
// entry is missing or because the backend is not installed.
func isAbsent(err error) bool {
	return errors.Is(err, domain.ErrSecretNotFound) || errors.Is(err, passstore.ErrUnavailable)
}

func shouldSkipFallback(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

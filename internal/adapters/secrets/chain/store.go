package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/chatshell/internal/adapters/secrets/file"
	passstore "github.com/bnema/chatshell/internal/adapters/secrets/pass"
	"github.com/bnema/chatshell/internal/domain"
	"github.com/bnema/chatshell/internal/ports"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Store reads and writes the primary backend and falls back to the secondary one when the
// primary fails. Deletes go to both so a secret never survives in the fallback.
type Store struct {
	primary  ports.SecretStore
	fallback ports.SecretStore
	log      zerolog.Logger
}

var _ ports.SecretStore = (*Store)(nil)

var (
	errNilPrimaryStore  = errors.New("primary secret store is nil")
	errNilFallbackStore = errors.New("fallback secret store is nil")
)

func NewStore(primary ports.SecretStore, fallback ports.SecretStore, log zerolog.Logger) *Store {
	store, err := NewStoreChecked(primary, fallback, log)
	if err != nil {
		panic(err)
	}

	return store
}

func NewStoreChecked(primary ports.SecretStore, fallback ports.SecretStore, log zerolog.Logger) (*Store, error) {
	if primary == nil {
		return nil, errNilPrimaryStore
	}
	if fallback == nil {
		return nil, errNilFallbackStore
	}

	return &Store{
		primary:  primary,
		fallback: fallback,
		log:      log.With().Str("component", "secret_store").Logger(),
	}, nil
}

func NewPassFirstWithFileFallback(fs afero.Fs, fileRoot string, log zerolog.Logger) (*Store, error) {
	return NewStoreChecked(passstore.NewStore(), filestore.NewStore(fs, fileRoot), log)
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	err := s.primary.Put(ctx, key, value)
	if err == nil {
		return nil
	}
	if shouldSkipFallback(err) {
		return err
	}

	s.log.Debug().Err(err).Str("key", key).Msg("primary secret backend put failed, using fallback")
	fallbackErr := s.fallback.Put(ctx, key, value)
	if fallbackErr == nil {
		return nil
	}

	return fmt.Errorf("primary backend put failed: %w; fallback backend put failed: %w", err, fallbackErr)
}

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
		s.log.Debug().Err(err).Str("key", key).Msg("secret served by fallback backend")
		return fallbackValue, nil
	}

	switch {
	case errors.Is(err, domain.ErrSecretNotFound) && errors.Is(fallbackErr, domain.ErrSecretNotFound):
		return "", fmt.Errorf("secret %q: %w", key, domain.ErrSecretNotFound)
	case errors.Is(err, passstore.ErrUnavailable):
		return "", fallbackErr
	}

	// A missing fallback copy must not make a failing primary look like an absent secret.
	return "", fmt.Errorf("primary backend get failed: %w; fallback backend get failed: %v", err, fallbackErr)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.primary.Delete(ctx, key)
	if shouldSkipFallback(err) {
		return err
	}
	fallbackErr := s.fallback.Delete(ctx, key)

	primaryMissing := err == nil || errors.Is(err, domain.ErrSecretNotFound) || errors.Is(err, passstore.ErrUnavailable)
	fallbackMissing := fallbackErr == nil || errors.Is(fallbackErr, domain.ErrSecretNotFound)

	switch {
	case primaryMissing && fallbackMissing:
		if err == nil || fallbackErr == nil {
			return nil
		}
		return fmt.Errorf("secret %q: %w", key, domain.ErrSecretNotFound)
	case primaryMissing:
		return fmt.Errorf("fallback backend delete failed: %w", fallbackErr)
	case fallbackMissing:
		return fmt.Errorf("primary backend delete failed: %w", err)
	}

	return fmt.Errorf("primary backend delete failed: %w; fallback backend delete failed: %w", err, fallbackErr)
}

func shouldSkipFallback(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

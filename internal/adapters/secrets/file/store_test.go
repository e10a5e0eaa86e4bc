package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bnema/chatshell/internal/domain"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	store := NewStore(afero.NewMemMapFs(), "/secrets")
	testCases := []struct {
		name    string
		key     string
		wantErr string
	}{
		{name: "empty", key: "", wantErr: "secret key is empty"},
		{name: "whitespace", key: "   ", wantErr: "secret key is empty"},
		{name: "absolute", key: "/absolute/path", wantErr: "invalid secret key"},
		{name: "traversal", key: "../escape", wantErr: "invalid secret key"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := store.Put(context.Background(), tc.key, "value")
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestStorePutGetAndPermissions(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := NewStore(afero.NewOsFs(), root)
	key := "chatshell/refresh_token"

	require.NoError(t, store.Put(context.Background(), key, "rt-1"))
	require.NoError(t, store.Put(context.Background(), key, "rt-2"))

	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "rt-2", got)

	info, err := os.Stat(filepath.Join(root, key))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(secretFileMod), info.Mode().Perm())

	_, err = os.Stat(filepath.Join(root, key) + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreMissingSecretIsNotFound(t *testing.T) {
	t.Parallel()

	store := NewStore(afero.NewMemMapFs(), "/secrets")

	_, err := store.Get(context.Background(), "chatshell/refresh_token")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)

	err = store.Delete(context.Background(), "chatshell/refresh_token")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreDeleteRemovesSecret(t *testing.T) {
	t.Parallel()

	store := NewStore(afero.NewMemMapFs(), "/secrets")
	require.NoError(t, store.Put(context.Background(), "chatshell/refresh_token", "rt-1"))
	require.NoError(t, store.Delete(context.Background(), "chatshell/refresh_token"))

	_, err := store.Get(context.Background(), "chatshell/refresh_token")
	require.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewStore(afero.NewMemMapFs(), "/secrets")
	require.ErrorIs(t, store.Put(ctx, "chatshell/refresh_token", "rt"), context.Canceled)
}

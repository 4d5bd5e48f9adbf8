package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/tracklet/internal/storage"
)

// OpenStore opens an ephemeral store backed by a file in the test's
// temp directory. The store is closed when the test ends.
func OpenStore(t *testing.T) *storage.Store {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "tracklet.db")
	store, err := storage.Open(logger, path, storage.Options{})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

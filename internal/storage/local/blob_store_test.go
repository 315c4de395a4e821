package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitegrab/sitegrab/internal/storage"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestPutOpenDelete(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	uri, err := store.Put(context.Background(), "jobs/j1/site.tar.gz", "application/gzip", bytes.NewReader([]byte("blob")))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))

	r, err := store.Open(context.Background(), "jobs/j1/site.tar.gz")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "blob", string(got))

	require.NoError(t, store.Delete(context.Background(), "jobs/j1/site.tar.gz"))
	_, err = store.Open(context.Background(), "jobs/j1/site.tar.gz")
	require.True(t, errors.Is(err, storage.ErrNotFound))

	// Deleting again is not an error.
	require.NoError(t, store.Delete(context.Background(), "jobs/j1/site.tar.gz"))
}

func TestPutRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape", "", bytes.NewReader(nil))
	require.Error(t, err)
}

package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndGetRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "content/abc.md", "text/markdown", []byte("# hello"))
	require.NoError(t, err)
	assert.Contains(t, uri, "file://")

	got, err := store.GetObject(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, []byte("# hello"), got)
}

func TestPutRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../outside.md", "", []byte("x"))
	require.Error(t, err)
}

func TestGetRejectsURIOutsideBase(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "file:///etc/passwd")
	require.Error(t, err)
}

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

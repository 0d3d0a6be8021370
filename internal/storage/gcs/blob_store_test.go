package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)

	_, err = Open(context.Background(), Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "b", Prefix: "/courier/"})
	require.NoError(t, err)
	assert.Equal(t, "courier/owner/file.pdf", store.objectName("/owner/file.pdf"))

	bare, err := New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "owner/file.pdf", bare.objectName("owner/file.pdf"))
	require.NoError(t, bare.Close())
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " ", "text/plain", nil)
	require.Error(t, err)
}

package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "jobsai-artifacts", Prefix: "/prod/"})
	require.NoError(t, err)
	require.Equal(t, "prod/documents/j/1.pdf", store.objectName("documents/j/1.pdf"))

	bare, err := New(client, Config{Bucket: "jobsai-artifacts"})
	require.NoError(t, err)
	require.Equal(t, "documents/j/1.pdf", bare.objectName("documents/j/1.pdf"))
}

func TestPutRequiresKey(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), " ", "application/pdf", []byte("x"))
	require.Error(t, err)
}

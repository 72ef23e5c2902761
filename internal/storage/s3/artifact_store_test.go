package s3

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/jonidaniel/jobsai/internal/job"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func staticClient() *s3.Client {
	return s3.New(s3.Options{
		Region: "eu-north-1",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
		}),
	})
}

func TestPutGetWithPrefix(t *testing.T) {
	t.Parallel()

	objects := newFakeObjects()
	store, err := newStore(objects, s3.NewPresignClient(staticClient()), Config{Bucket: "jobsai", Prefix: "/artifacts/"})
	require.NoError(t, err)

	key, err := store.Put(context.Background(), "documents/j/1.pdf", "application/pdf", []byte("%PDF-1.3"))
	require.NoError(t, err)
	require.Equal(t, "documents/j/1.pdf", key)
	require.Contains(t, objects.objects, "jobsai/artifacts/documents/j/1.pdf")
	require.Equal(t, "application/pdf", objects.types["jobsai/artifacts/documents/j/1.pdf"])

	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.3", string(data))

	_, err = store.Get(context.Background(), "documents/j/2.pdf")
	require.ErrorIs(t, err, job.ErrNotFound)

	_, err = store.Put(context.Background(), "", "application/pdf", nil)
	require.Error(t, err)
}

func TestPresignIsSignedAndExpires(t *testing.T) {
	t.Parallel()

	store, err := New(staticClient(), Config{Bucket: "jobsai"})
	require.NoError(t, err)

	raw, err := store.Presign(context.Background(), "documents/j/1.pdf", time.Hour)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Contains(t, u.Path+u.Host, "documents/j/1.pdf")
	require.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
	require.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(staticClient(), Config{})
	require.Error(t, err)
}

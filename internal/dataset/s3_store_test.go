package dataset

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/chtzvt/csvjob/internal/testutil"
	"github.com/stretchr/testify/require"
)

// mockS3API is an in-memory bucket.
type mockS3API struct {
	mu        sync.Mutex
	objects   map[string][]byte
	puts      []string
	putLength []int64
	returnErr error
}

func newMockS3() *mockS3API {
	return &mockS3API{objects: make(map[string][]byte)}
}

func (m *mockS3API) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[*params.Key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(b)))}, nil
}

func (m *mockS3API) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*params.Key] = body
	m.puts = append(m.puts, *params.Key)
	m.putLength = append(m.putLength, aws.ToInt64(params.ContentLength))
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3API) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range params.Delete.Objects {
		delete(m.objects, *id.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

// ListObjectsV2 pages two keys at a time to exercise pagination.
func (m *mockS3API) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(params.Prefix)) && k > aws.ToString(params.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > 2 {
		keys = keys[:2]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(m.objects[k])))})
	}
	return out, nil
}

func newTestS3Store(t *testing.T, opts map[string]interface{}) (*S3Store, *mockS3API) {
	t.Helper()
	u, _ := url.Parse("s3://mybucket/prefix")
	if opts == nil {
		opts = map[string]interface{}{"region": "us-west-2"}
	}
	storeIface, err := NewS3Store(u, opts, nil)
	require.NoError(t, err)
	store := storeIface.(*S3Store)
	mock := newMockS3()
	store.Client = mock
	return store, mock
}

func TestS3Store_PutObject(t *testing.T) {
	for _, bufferType := range []string{"memory", "disk"} {
		t.Run(bufferType, func(t *testing.T) {
			store, mock := newTestS3Store(t, map[string]interface{}{
				"region":      "us-west-2",
				"buffer_type": bufferType,
			})
			ctx := context.Background()

			w, err := store.Create(ctx, "prefix/testfile.csv")
			require.NoError(t, err)
			payload := []byte("s3 test payload")
			n, err := w.Write(payload)
			require.NoError(t, err)
			require.Equal(t, len(payload), n)
			require.Empty(t, mock.puts, "nothing uploaded before Close")
			require.NoError(t, w.Close())

			require.Equal(t, []string{"prefix/testfile.csv"}, mock.puts)
			require.Equal(t, []int64{int64(len(payload))}, mock.putLength)
			require.Equal(t, payload, mock.objects["prefix/testfile.csv"])
		})
	}
}

func TestS3Store_AbortDoesNotUpload(t *testing.T) {
	store, mock := newTestS3Store(t, nil)
	w, err := store.Create(context.Background(), "prefix/aborted.csv")
	require.NoError(t, err)
	w.Write([]byte("partial"))
	require.NoError(t, w.Abort())
	require.NoError(t, w.Close())
	require.Empty(t, mock.puts)
}

func TestS3Store_PutError(t *testing.T) {
	store, mock := newTestS3Store(t, nil)
	mock.returnErr = errors.New("access denied")
	w, err := store.Create(context.Background(), "prefix/x.csv")
	require.NoError(t, err)
	w.Write([]byte("x"))
	err = w.Close()
	require.Error(t, err)
	require.Contains(t, err.Error(), "access denied")
}

func TestS3Store_ListOpenDelete(t *testing.T) {
	store, mock := newTestS3Store(t, nil)
	ctx := context.Background()
	for _, k := range []string{"prefix/a.csv", "prefix/b.csv", "prefix/c.csv", "prefix/d.csv", "other/e.csv"} {
		mock.objects[k] = []byte(k)
	}

	objs, err := store.List(ctx, "prefix/")
	require.NoError(t, err)
	require.Equal(t, []string{"prefix/a.csv", "prefix/b.csv", "prefix/c.csv", "prefix/d.csv"}, Names(objs))
	require.Equal(t, int64(len("prefix/a.csv")), objs[0].Size)

	r, err := store.Open(ctx, "prefix/c.csv")
	require.NoError(t, err)
	b, _ := io.ReadAll(r)
	require.Equal(t, "prefix/c.csv", string(b))

	_, err = store.Open(ctx, "prefix/missing.csv")
	require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, store.Delete(ctx, "prefix/a.csv", "prefix/b.csv"))
	objs, err = store.List(ctx, "prefix/")
	require.NoError(t, err)
	require.Equal(t, []string{"prefix/c.csv", "prefix/d.csv"}, Names(objs))
}

func TestS3Store_StaticCredentialsFromSecrets(t *testing.T) {
	sec := testutil.SetupSecretsStore(t)
	ctx := context.Background()
	require.NoError(t, sec.Set(ctx, "TEST_AWS_ACCESS_KEY_ID", []byte("fake-access")))
	require.NoError(t, sec.Set(ctx, "TEST_AWS_SECRET_ACCESS_KEY", []byte("fake-secret")))

	u, _ := url.Parse("s3://mybucket/prefix")
	storeIface, err := NewS3Store(u, map[string]interface{}{
		"region":               "us-west-2",
		"endpoint":             "http://127.0.0.1:9000",
		"use_path_style":       "true",
		"access_key_id_secret": "TEST_AWS_ACCESS_KEY_ID",
		"access_key_secret":    "TEST_AWS_SECRET_ACCESS_KEY",
	}, sec)
	require.NoError(t, err)

	client, err := storeIface.(*S3Store).client(ctx)
	require.NoError(t, err)
	creds, err := client.(*s3.Client).Options().Credentials.Retrieve(ctx)
	require.NoError(t, err)
	require.Equal(t, "fake-access", creds.AccessKeyID)
	require.Equal(t, "fake-secret", creds.SecretAccessKey)
	require.True(t, client.(*s3.Client).Options().UsePathStyle)
}

func TestS3Store_MissingCredentialSecret(t *testing.T) {
	sec := testutil.SetupSecretsStore(t)
	u, _ := url.Parse("s3://mybucket/prefix")
	storeIface, err := NewS3Store(u, map[string]interface{}{
		"region":               "us-west-2",
		"access_key_id_secret": "NOPE",
		"access_key_secret":    "NOPE_EITHER",
	}, sec)
	require.NoError(t, err)
	_, err = storeIface.List(context.Background(), "prefix/")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing NOPE")
}

package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ignite/funnel-studio/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalArchivePutGetList(t *testing.T) {
	a, err := NewLocalArchive(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "published/f1/quiz-2026-05-04.json", []byte(`{"name":"Quiz"}`)))
	require.NoError(t, a.Put(ctx, "published/f1/quiz-2026-05-05.json", []byte(`{}`)))
	require.NoError(t, a.Put(ctx, "published/f2/other.json", []byte(`{}`)))

	data, err := a.Get(ctx, "published/f1/quiz-2026-05-04.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Quiz"}`, string(data))

	keys, err := a.List(ctx, "published/f1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"published/f1/quiz-2026-05-04.json", "published/f1/quiz-2026-05-05.json"}, keys)

	_, err = a.Get(ctx, "published/f9/none.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalArchiveRejectsEscapingKeys(t *testing.T) {
	a, err := NewLocalArchive(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"../x.json", "/etc/passwd", "a/../../x"} {
		assert.Error(t, a.Put(context.Background(), key, []byte("x")), key)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	dir := t.TempDir()
	a, err := New(context.Background(), config.ExportConfig{Type: "local", LocalPath: dir})
	require.NoError(t, err)
	assert.IsType(t, &LocalArchive{}, a)

	_, err = New(context.Background(), config.ExportConfig{Type: "s3"})
	assert.Error(t, err)
	_, err = New(context.Background(), config.ExportConfig{Type: "ftp"})
	assert.Error(t, err)
}

// fakeS3 keeps objects in memory and pages listings two at a time.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []*s3.PutObjectInput
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := start + 2
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end])
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Archive(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	a := NewS3Archive(client, "exports", "/funnel-exports/")
	ctx := context.Background()

	for _, k := range []string{"published/f1/a.json", "published/f1/b.json", "published/f1/c.json", "published/f2/d.json"} {
		require.NoError(t, a.Put(ctx, k, []byte(`{"k":"`+k+`"}`)))
	}
	require.Len(t, client.puts, 4)
	assert.Equal(t, "exports", aws.ToString(client.puts[0].Bucket))
	assert.Equal(t, "funnel-exports/published/f1/a.json", aws.ToString(client.puts[0].Key))
	assert.Equal(t, "application/json", aws.ToString(client.puts[0].ContentType))

	keys, err := a.List(ctx, "published/f1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"published/f1/a.json", "published/f1/b.json", "published/f1/c.json"}, keys)

	data, err := a.Get(ctx, "published/f2/d.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "published/f2/d.json")

	_, err = a.Get(ctx, "published/f3/none.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

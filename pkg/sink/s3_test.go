package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket honouring If-None-Match: *.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, exists := f.objects[key]; exists {
			return nil, errors.New("PreconditionFailed")
		}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Sink_Contract(t *testing.T) {
	s, err := NewS3WithClient(context.Background(), newFakeS3(), "ledger-bucket", "chains/prod/")
	require.NoError(t, err)

	exerciseSink(t, s)
}

func TestS3Sink_RecoversSequenceAndIgnoresForeignKeys(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.objects["chains/prod/README.txt"] = []byte("not an entry")

	s, err := NewS3WithClient(ctx, fake, "ledger-bucket", "chains/prod/")
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []byte(`{"n":1}`)))
	require.NoError(t, s.Write(ctx, []byte(`{"n":2}`)))

	assert.Contains(t, fake.objects, "chains/prod/00000000000000000002.json")

	reopened, err := NewS3WithClient(ctx, fake, "ledger-bucket", "chains/prod/")
	require.NoError(t, err)
	require.NoError(t, reopened.Write(ctx, []byte(`{"n":3}`)))

	all, err := reopened.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, `{"n":3}`, string(all[2]))
}

func TestS3Sink_NeverOverwrites(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()

	a, err := NewS3WithClient(ctx, fake, "b", "")
	require.NoError(t, err)
	b, err := NewS3WithClient(ctx, fake, "b", "")
	require.NoError(t, err)

	require.NoError(t, a.Write(ctx, []byte(`{"writer":"a"}`)))
	// b holds a stale sequence; the conditional put must refuse.
	assert.Error(t, b.Write(ctx, []byte(`{"writer":"b"}`)))

	last, err := a.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"writer":"a"}`, string(last))
}

func TestParseEntryName(t *testing.T) {
	seq, ok := parseEntryName("p/", "p/00000000000000000042.json")
	assert.True(t, ok)
	assert.Equal(t, uint64(42), seq)

	_, ok = parseEntryName("p/", "q/00000000000000000042.json")
	assert.False(t, ok)
	_, ok = parseEntryName("p/", "p/sub/00000000000000000042.json")
	assert.False(t, ok)
	_, ok = parseEntryName("", "notes.json")
	assert.False(t, ok)
}

package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data         []byte
	lastModified time.Time
}

// fakeS3 is an in-memory bucket implementing s3API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	now     time.Time
	headErr error
	putErr  error
	deletes int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string]fakeObject),
		now:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(time.Second)
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, lastModified: f.now}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(in.Prefix)
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		obj := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			LastModified: aws.Time(obj.lastModified),
			Size:         aws.Int64(int64(len(obj.data))),
		})
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func newTestS3Store(fake *fakeS3) *S3Store {
	return newS3Store(fake, nil, S3Config{Bucket: "sheets", Prefix: "cache"}, nil)
}

func TestS3StorePutGet(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newTestS3Store(fake)

	rec := record("file:report.xlsx", time.Now())
	require.NoError(t, s.Put(ctx, CollectionFile, rec))

	got, err := s.Get(ctx, CollectionFile, "file:report.xlsx")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Value, got.Value)

	// Keys with separators are encoded into a single path segment.
	for k := range fake.objects {
		assert.True(t, strings.HasPrefix(k, "cache/fileCache/"))
		assert.NotContains(t, strings.TrimPrefix(k, "cache/fileCache/"), "/")
	}

	missing, err := s.Get(ctx, CollectionFile, "file:other")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestS3StoreKeysAndClear(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := newTestS3Store(fake)

	for _, k := range []string{"q3", "q1", "q2"} {
		require.NoError(t, s.Put(ctx, CollectionQuery, record(k, time.Now())))
	}
	require.NoError(t, s.Put(ctx, CollectionData, record("d1", time.Now())))

	keys, err := s.Keys(ctx, CollectionQuery, Query{By: ByTimestamp})
	require.NoError(t, err)
	assert.Equal(t, []string{"q3", "q1", "q2"}, keys, "ordered by upload time")

	keys, err = s.Keys(ctx, CollectionQuery, Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, s.Clear(ctx, CollectionQuery))
	assert.Equal(t, 1, fake.deletes)

	keys, err = s.Keys(ctx, CollectionQuery, Query{})
	require.NoError(t, err)
	assert.Empty(t, keys)

	got, err := s.Get(ctx, CollectionData, "d1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestS3StoreDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestS3Store(newFakeS3())

	require.NoError(t, s.Put(ctx, CollectionData, record("k", time.Now())))
	require.NoError(t, s.Delete(ctx, CollectionData, "k"))

	got, err := s.Get(ctx, CollectionData, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestS3StoreErrors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.headErr = errors.New("forbidden")
	fake.putErr = errors.New("slow down")
	s := newTestS3Store(fake)

	assert.Error(t, s.Ping(ctx))
	assert.Error(t, s.Put(ctx, CollectionData, record("k", time.Now())))
	assert.NoError(t, s.Touch(ctx, CollectionData, "k", time.Now()))
}

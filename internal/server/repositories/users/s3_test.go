package users

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
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeObjects is an in-memory bucket honouring If-None-Match: *.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(append([]byte(nil), data...)))}, nil
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, exists := f.objects[key]; exists {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeObjects) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
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

func (f *fakeObjects) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Repository_Contract(t *testing.T) {
	runRepositoryContract(t, NewS3Repository(newFakeObjects(), "users"))
}

func TestS3Repository_EmailIndexIsHashed(t *testing.T) {
	objs := newFakeObjects()
	repo := NewS3Repository(objs, "users")
	require.NoError(t, repo.Save(context.Background(), newTestUser("id-1", "a@example.com", time.Now().UTC())))

	owner, ok := objs.objects[emailObjectKey("a@example.com")]
	require.True(t, ok)
	assert.Equal(t, "id-1", string(owner))
	assert.NotContains(t, emailObjectKey("a@example.com"), "a@example.com")
	_, ok = objs.objects[userObjectKey("id-1")]
	assert.True(t, ok)
}

func TestS3Repository_StaleIndexIsReclaimed(t *testing.T) {
	objs := newFakeObjects()
	repo := NewS3Repository(objs, "users")
	ctx := context.Background()

	// index object left behind by a user that no longer exists
	objs.objects[emailObjectKey("a@example.com")] = []byte("ghost")

	require.NoError(t, repo.Save(ctx, newTestUser("id-1", "a@example.com", time.Now().UTC())))
	got, err := repo.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
}

func TestS3Repository_PutErrorWrapped(t *testing.T) {
	objs := newFakeObjects()
	objs.putErr = errors.New("bucket gone")
	repo := NewS3Repository(objs, "users")

	err := repo.Save(context.Background(), newTestUser("id-1", "a@example.com", time.Now().UTC()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 error")
	assert.Contains(t, err.Error(), "bucket gone")
}

package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/resilience"
)

// fakeS3 serves a bucket from memory, two keys per listing page.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failures map[string][]error // op -> queued errors
	calls    map[string]int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  make(map[string][]byte),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeS3) fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeS3) next(op string) error {
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next("list"); err != nil {
		return nil, err
	}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next("get"); err != nil {
		return nil, err
	}
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next("put"); err != nil {
		return nil, err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func httpError(code int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
			Err:      errors.New(http.StatusText(code)),
		},
	}
}

func testS3(fake *fakeS3, prefix string) *S3 {
	return newS3(fake, S3Config{
		Bucket: "shards",
		Prefix: prefix,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 100},
	})
}

func TestS3_ListPaginatesAndTrimsPrefix(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	for _, k := range []string{
		"trees/2024-01-01/2024-01-01_utm_17T.tree",
		"trees/2024-01-08/2024-01-08_utm_17T.tree",
		"trees/2024-01-08/2024-01-08_utm_18T.tree",
		"trees/2024-01-08/manifest.json",
		"trees/2024-01-15/",
		"other/2024-01-08/2024-01-08_utm_17T.tree",
	} {
		fake.objects[k] = []byte("x")
	}

	keys, err := testS3(fake, "/trees/").List(context.Background(), ".tree")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-01-01/2024-01-01_utm_17T.tree",
		"2024-01-08/2024-01-08_utm_17T.tree",
		"2024-01-08/2024-01-08_utm_18T.tree",
	}, keys)
	assert.Equal(t, 3, fake.calls["list"])
}

func TestS3_ListFailureIsTyped(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	fake.fail("list", errors.New("AccessDenied"))

	_, err := testS3(fake, "").List(context.Background(), ".tree")
	require.Error(t, err)
	assert.Equal(t, model.KindRemoteListingFailure, model.KindOf(err))
	assert.True(t, model.IsRetryable(err))
	assert.Equal(t, 1, fake.calls["list"])
}

func TestS3_GetRetriesTransient(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	fake.objects["p/2024-01-08/a.tree"] = []byte("blob")
	fake.fail("get", httpError(503), httpError(500))

	got, err := testS3(fake, "p").Get(context.Background(), "2024-01-08/a.tree")
	require.NoError(t, err)
	assert.Equal(t, "blob", string(got))
	assert.Equal(t, 3, fake.calls["get"])
}

func TestS3_GetExhaustedRetries(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	fake.objects["a.tree"] = []byte("blob")
	fake.fail("get", httpError(503), httpError(503), httpError(503))

	_, err := testS3(fake, "").Get(context.Background(), "a.tree")
	require.Error(t, err)
	assert.Equal(t, model.KindRemoteDownloadFailure, model.KindOf(err))
	assert.Equal(t, 3, fake.calls["get"])
}

func TestS3_GetMissingKey(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()

	_, err := testS3(fake, "").Get(context.Background(), "missing.tree")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, model.KindRemoteDownloadFailure, model.KindOf(err))
	assert.Equal(t, 1, fake.calls["get"])
}

func TestS3_Put(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	store := testS3(fake, "trees")

	require.NoError(t, store.Put(context.Background(), "2024-01-08/a.tree", []byte("abc")))
	assert.Equal(t, []byte("abc"), fake.objects["trees/2024-01-08/a.tree"])

	got, err := store.Get(context.Background(), "2024-01-08/a.tree")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestS3_CircuitOpens(t *testing.T) {
	t.Parallel()
	fake := newFakeS3()
	store := newS3(fake, S3Config{
		Bucket:  "shards",
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
	})
	fake.fail("get", httpError(502), httpError(502))

	for i := 0; i < 2; i++ {
		_, err := store.Get(context.Background(), "a.tree")
		require.Error(t, err)
	}
	_, err := store.Get(context.Background(), "a.tree")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, fake.calls["get"])
}

func TestAdaptiveLimiter(t *testing.T) {
	t.Parallel()
	lim := newAdaptiveLimiter(100, 10)
	lim.onThrottle()
	assert.InDelta(t, 50, float64(lim.limit()), 0.001)
	lim.onThrottle()
	lim.onThrottle()
	assert.InDelta(t, 25, float64(lim.limit()), 0.001)
	lim.onSuccess()
	assert.InDelta(t, 30, float64(lim.limit()), 0.001)

	unlimited := newAdaptiveLimiter(0, 0)
	unlimited.onThrottle()
	require.NoError(t, unlimited.Wait(context.Background()))
}

package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-scorer/internal/model"
	"github.com/sells-group/site-scorer/internal/resilience"
)

// S3Config configures the S3 store. Endpoint, AccessKey and SecretKey are
// optional; without them the default AWS endpoint and credential chain apply.
type S3Config struct {
	Endpoint          string
	Region            string
	Bucket            string
	Prefix            string
	AccessKey         string
	SecretKey         string
	PathStyle         bool
	RequestsPerSecond float64
	Burst             int
	Retry             resilience.RetryConfig
	Breaker           resilience.CircuitBreakerConfig
}

// s3API is the subset of *s3.Client the store calls.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 is a Store over an S3 compatible bucket. Every request is rate limited,
// retried on transient failures and guarded by a circuit breaker.
type S3 struct {
	client  s3API
	bucket  string
	prefix  string
	limiter *adaptiveLimiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	log     *zap.Logger
}

// NewS3 builds the SDK client from cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("objstore: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "objstore: load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newS3(client, cfg), nil
}

func newS3(client s3API, cfg S3Config) *S3 {
	log := zap.L().With(zap.String("component", "objstore"), zap.String("bucket", cfg.Bucket))
	breakerCfg := cfg.Breaker
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		log.Warn("objstore: circuit breaker state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("objstore", "s3")
	}
	return &S3{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		limiter: newAdaptiveLimiter(cfg.RequestsPerSecond, cfg.Burst),
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		log:     log,
	}
}

// List implements Store. Pages are fetched with ListObjectsV2 under the
// configured prefix; returned keys have the prefix removed.
func (s *S3) List(ctx context.Context, contains string) ([]string, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if p := strings.Trim(s.prefix, "/"); p != "" {
		in.Prefix = aws.String(p + "/")
	}
	pager := s3.NewListObjectsV2Paginator(s.client, in)

	var keys []string
	for pager.HasMorePages() {
		page, err := call(ctx, s, func(ctx context.Context) (*s3.ListObjectsV2Output, error) {
			return pager.NextPage(ctx)
		})
		if err != nil {
			return nil, model.NewError(model.KindRemoteListingFailure, "list s3://"+s.bucket+"/"+s.prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.Contains(key, contains) {
				keys = append(keys, trimKey(s.prefix, key))
			}
		}
	}
	s.log.Debug("objstore: listed keys", zap.String("contains", contains), zap.Int("count", len(keys)))
	return keys, nil
}

// Get implements Store.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	full := joinKey(s.prefix, key)
	data, err := call(ctx, s, func(ctx context.Context) ([]byte, error) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(full),
		})
		if err != nil {
			return nil, err
		}
		defer out.Body.Close() //nolint:errcheck
		b, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "read body"), 0)
		}
		return b, nil
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			err = eris.Wrapf(ErrNotFound, "objstore: get %s", key)
		}
		return nil, model.NewError(model.KindRemoteDownloadFailure, "get "+key, err)
	}
	return data, nil
}

// Put implements Store.
func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	full := joinKey(s.prefix, key)
	_, err := call(ctx, s, func(ctx context.Context) (*s3.PutObjectOutput, error) {
		return s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(full),
			Body:   bytes.NewReader(data),
		})
	})
	return eris.Wrapf(err, "objstore: put s3://%s/%s", s.bucket, full)
}

// call runs fn behind the limiter, retry policy and circuit breaker.
func call[T any](ctx context.Context, s *S3, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (T, error) {
		return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (T, error) {
			if err := s.limiter.Wait(ctx); err != nil {
				var zero T
				return zero, eris.Wrap(err, "objstore: rate limiter wait")
			}
			v, err := fn(ctx)
			if err != nil {
				err = s.classify(err)
				return v, err
			}
			s.limiter.onSuccess()
			return v, nil
		})
	})
}

// classify marks throttling and server-side failures as transient.
func (s *S3) classify(err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		if code == 429 || code == 503 {
			s.limiter.onThrottle()
		}
		if resilience.IsTransientHTTPStatus(code) {
			return resilience.NewTransientError(err, code)
		}
	}
	return err
}

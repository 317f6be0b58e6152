package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v5"
)

// S3API is the slice of the S3 client the backend needs.
type S3API interface {
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3BackendConfig struct {
	Client S3API
	Bucket string

	// Optional with defaults.
	Prefix   string
	MaxTries uint
}

const defaultS3MaxTries = 4

func (c *S3BackendConfig) Validate() error {
	if c.Client == nil {
		return errors.New("s3 client is required")
	}
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.MaxTries == 0 {
		c.MaxTries = defaultS3MaxTries
	}
	return nil
}

// S3Backend shares the dependency cache across build hosts through an object
// store. All calls retry with exponential backoff; persistent failures are
// still surfaced as errors and left to the caller's advisory handling.
type S3Backend struct {
	cfg *S3BackendConfig
}

func NewS3Backend(cfg *S3BackendConfig) (*S3Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate s3 backend config: %w", err)
	}
	return &S3Backend{cfg: cfg}, nil
}

func (b *S3Backend) key(key string) string {
	return path.Join(b.cfg.Prefix, "cache", key+archiveSuffix)
}

func (b *S3Backend) Has(ctx context.Context, key string) (bool, error) {
	objectKey := b.key(key)
	found, err := backoff.Retry(ctx, func() (bool, error) {
		_, err := b.cfg.Client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(objectKey),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(b.cfg.MaxTries))
	if err != nil {
		return false, fmt.Errorf("failed to probe cache entry %s: %w", objectKey, err)
	}
	return found, nil
}

func (b *S3Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey := b.key(key)
	body, err := backoff.Retry(ctx, func() (io.ReadCloser, error) {
		out, err := b.cfg.Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(objectKey),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			if errors.As(err, &noSuchKey) {
				return nil, backoff.Permanent(ErrMiss)
			}
			return nil, err
		}
		return out.Body, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(b.cfg.MaxTries))
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get cache entry %s: %w", objectKey, err)
	}
	return body, nil
}

func (b *S3Backend) Put(ctx context.Context, key string, body io.Reader) error {
	// Buffered so retries can reseek the payload.
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read cache entry body: %w", err)
	}
	objectKey := b.key(key)
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		_, err := b.cfg.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(objectKey),
			Body:   bytes.NewReader(data),
		})
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(b.cfg.MaxTries))
	if err != nil {
		return fmt.Errorf("failed to put cache entry %s: %w", objectKey, err)
	}
	return nil
}

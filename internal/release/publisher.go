package release

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v5"
)

// Publisher attaches one asset to the public release identified by tag.
// Publishing is the only externally visible side effect of a run.
type Publisher interface {
	Publish(ctx context.Context, tag, assetName string, body io.Reader) error
}

// S3API is the slice of the S3 client the publisher needs.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

const defaultPublishMaxTries = 4

type S3PublisherConfig struct {
	Client S3API
	Bucket string

	// Optional with defaults.
	Prefix   string
	MaxTries uint
}

func (c *S3PublisherConfig) Validate() error {
	if c.Client == nil {
		return fmt.Errorf("s3 client is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.MaxTries == 0 {
		c.MaxTries = defaultPublishMaxTries
	}
	return nil
}

// S3Publisher publishes assets as publicly downloadable objects under
// <prefix>/releases/<tag>/<asset>.
type S3Publisher struct {
	cfg *S3PublisherConfig
}

func NewS3Publisher(cfg *S3PublisherConfig) (*S3Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate s3 publisher config: %w", err)
	}
	return &S3Publisher{cfg: cfg}, nil
}

func (p *S3Publisher) Publish(ctx context.Context, tag, assetName string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read asset body: %w", err)
	}
	key := path.Join(p.cfg.Prefix, "releases", tag, assetName)
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		_, err := p.cfg.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(p.cfg.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(p.cfg.MaxTries))
	if err != nil {
		return fmt.Errorf("failed to publish asset %s: %w", key, err)
	}
	return nil
}

// DirPublisher writes assets under <dir>/<tag>/<asset>. Used for local runs
// and tests.
type DirPublisher struct {
	Dir string
}

func (p DirPublisher) Publish(_ context.Context, tag, assetName string, body io.Reader) error {
	if p.Dir == "" {
		return fmt.Errorf("release directory is required")
	}
	dir := filepath.Join(p.Dir, tag)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create release directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, assetName))
	if err != nil {
		return fmt.Errorf("failed to create release asset: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write release asset: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close release asset: %w", err)
	}
	return nil
}

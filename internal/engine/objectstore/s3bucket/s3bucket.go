// Package s3bucket implements objectstore.Bucket against any S3-compatible
// endpoint via the AWS SDK, adapted from the storage package's S3 client
// wiring for multi-cloud endpoints (evalgo-org-eve/storage/s3aws.go):
// path-style addressing and a custom endpoint resolver are kept, the
// LakeFS/MinIO/Hetzner-specific bulk-sync helpers are dropped in favor of
// the single-object Put/Get/Delete surface the Bucket interface requires.
package s3bucket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rakunlabs/at-engine/internal/engine/objectstore"
)

// Config holds the connection settings for an S3-compatible endpoint.
type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
}

// Bucket is an objectstore.Bucket backed by a single S3 bucket.
type Bucket struct {
	client *s3.Client
	bucket string
}

// New builds a Bucket from cfg.
func New(ctx context.Context, cfg Config) (*Bucket, error) {
	loadOpts := []func(*s3.Options){
		func(o *s3.Options) { o.UsePathStyle = cfg.UsePathStyle },
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if cfg.Endpoint == "" {
					return aws.Endpoint{}, &aws.EndpointNotFoundError{}
				}
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					SigningRegion:     region,
					HostnameImmutable: true,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("s3bucket: load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, loadOpts...)
	return &Bucket{client: client, bucket: cfg.Bucket}, nil
}

func (b *Bucket) Put(ctx context.Context, key string, data []byte, opts objectstore.PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}
	if len(opts.CustomMetadata) > 0 {
		input.Metadata = opts.CustomMetadata
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3bucket: put %q: %w", key, err)
	}
	return nil
}

func (b *Bucket) Get(ctx context.Context, key string) (*objectstore.GetResult, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, objectstore.ErrNotFound
		}
		return nil, fmt.Errorf("s3bucket: get %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3bucket: read %q: %w", key, err)
	}

	return &objectstore.GetResult{Data: data, CustomMetadata: out.Metadata}, nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3bucket: delete %q: %w", key, err)
	}
	return nil
}

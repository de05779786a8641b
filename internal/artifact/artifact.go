// Package artifact implements the optional S3-compatible artifact sink:
// an upload path for result payloads over a configurable size threshold,
// referenced by pointer in the reply instead of being inlined.
package artifact

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/probed/probed/internal/dispatch"
)

// Sink uploads oversized result payloads to an S3-compatible bucket. It
// satisfies dispatch.ArtifactSink.
type Sink struct {
	client *s3.Client
	bucket string
}

// Options configures the underlying S3 client.
type Options struct {
	Bucket   string
	Region   string
	Endpoint string // non-empty for S3-compatible stores (MinIO, etc.)

	// AccessKeyID/SecretAccessKey override the default credential chain
	// (environment, shared config, IMDS) when both are non-empty — for
	// S3-compatible stores that issue their own static keys.
	AccessKeyID     string
	SecretAccessKey string
}

// New builds a Sink from Options, loading AWS credentials the default
// way (environment, shared config, IMDS) unless static keys are given.
func New(ctx context.Context, opts Options) (*Sink, error) {
	configOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Sink{client: client, bucket: opts.Bucket}, nil
}

// Put implements dispatch.ArtifactSink.
func (s *Sink) Put(ctx context.Context, oid dispatch.OID, data []byte) (string, error) {
	key := fmt.Sprintf("results/%s/%s.json", oid, uuid.NewString())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("artifact: put object: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Package s3blob is the cold-storage layer of the risk monitor. Resolved
// alerts and audit batches are written as JSONL objects to an S3-compatible
// bucket; any provider with an S3 API (AWS, MinIO, R2) works through the
// Endpoint field.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the connection parameters for the archive bucket.
type ClientConfig struct {
	// Endpoint overrides the S3 endpoint for compatible providers. Empty
	// means standard AWS S3.
	Endpoint string

	// Region is the bucket region, or the provider's equivalent.
	Region string

	// Bucket is the archive bucket. All reads and writes in this package go
	// through it.
	Bucket string

	// AccessKey and SecretKey are static credentials.
	AccessKey string
	SecretKey string

	// UseSSL picks the scheme when Endpoint carries none.
	UseSSL bool

	// ForcePathStyle puts the bucket in the path instead of the subdomain.
	// Most non-AWS providers need it.
	ForcePathStyle bool
}

// Client wraps the AWS SDK client together with the archive bucket name. The
// archive writer and reader share one Client.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New connects to the archive bucket. Bucket and Region are mandatory; the
// rest defaults to plain AWS S3 behavior.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := withScheme(cfg.Endpoint, cfg.UseSSL)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Client{
		s3:     s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Health verifies that the archive bucket is reachable and accessible with
// the configured credentials.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Close exists for closer symmetry with the other backends; the SDK's HTTP
// client needs no teardown.
func (c *Client) Close() error {
	return nil
}

// S3 exposes the SDK client to the writer and reader in this package.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// withScheme prepends https:// or http:// when the endpoint has no scheme.
func withScheme(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}

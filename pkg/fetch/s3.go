package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the S3 fetcher.
type S3Config struct {
	// Region is the AWS region. Empty falls back to the SDK default chain.
	Region string

	// Endpoint overrides the S3 endpoint, for MinIO and other S3-compatible
	// stores. Empty uses AWS.
	Endpoint string

	// AccessKeyID and SecretAccessKey are static credentials. Empty falls
	// back to the SDK default chain (env, shared config, IAM role).
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible stores.
	UsePathStyle bool
}

// DefaultS3Config returns the standard S3 fetcher settings.
func DefaultS3Config() S3Config {
	return S3Config{Region: "us-east-1"}
}

// S3Fetcher downloads resources from S3 buckets. URLs take the form
// s3://bucket/key. The client is built lazily on first use so constructing
// the default registry never touches the AWS credential chain.
type S3Fetcher struct {
	cfg S3Config

	mu     sync.Mutex
	client *s3.Client
}

// NewS3Fetcher creates an S3 fetcher.
func NewS3Fetcher(cfg S3Config) *S3Fetcher {
	return &S3Fetcher{cfg: cfg}
}

// Fetch downloads the object at rawURL.
func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("s3 fetch: parse url: %w", err)
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 fetch %s: url must name a bucket and a key", rawURL)
	}

	client, err := f.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3 fetch: build client: %w", err)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 fetch s3://%s/%s: read body: %w", bucket, key, err)
	}
	return data, nil
}

func (f *S3Fetcher) getClient(ctx context.Context) (*s3.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if f.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(f.cfg.Region))
	}
	if f.cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(f.cfg.AccessKeyID, f.cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	f.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if f.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(f.cfg.Endpoint)
		}
		o.UsePathStyle = f.cfg.UsePathStyle
	})
	return f.client, nil
}

package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config addresses an S3-compatible bucket. For Cloudflare R2 use the
// account endpoint and region "auto".
type S3Config struct {
	Endpoint  string `yaml:"endpoint"` // host[:port] or full URL
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// S3 stores objects in a bucket with path-style addressing.
type S3 struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewS3 builds the client. No request is made until the first call.
// publicURL is the CDN origin objects are served from.
func NewS3(cfg S3Config, publicURL string) (*S3, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("objstore: s3 endpoint and bucket are required")
	}
	if publicURL == "" {
		return nil, fmt.Errorf("objstore: s3 public_url is required")
	}
	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: s3 client: %w", err)
	}
	return &S3{client: client, bucket: cfg.Bucket, publicURL: publicURL}, nil
}

// splitEndpoint accepts "host:port" or "https://host"; an explicit scheme
// overrides useSSL.
func splitEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("objstore: s3 endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("objstore: s3 endpoint scheme %q", u.Scheme)
	}
}

func (s *S3) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("objstore: put %s: %w", key, err)
	}
	return PublicURL(s.publicURL, key), nil
}

// Delete succeeds for a missing key, as S3 DeleteObject does.
func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("objstore: delete %s: %w", key, err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key string) (Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, fmt.Errorf("objstore: get %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Object{}, fmt.Errorf("objstore: read %s: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		return Object{Data: data}, nil
	}
	return Object{Data: data, ContentType: info.ContentType}, nil
}

// Ping checks that the bucket is reachable.
func (s *S3) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("objstore: s3 ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("objstore: bucket %q does not exist", s.bucket)
	}
	return nil
}

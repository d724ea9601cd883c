package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/config"
)

const defaultSignedURLExpiry = 15 * time.Minute

// R2Storage implements StorageClient on Cloudflare R2, or on any
// S3-compatible store when an endpoint override is configured.
type R2Storage struct {
	s3        *s3.Client
	presigner *s3.PresignClient
	endpoint  string
	bucket    string
	publicURL string
}

func NewR2Storage(cfg *config.R2Config) (*R2Storage, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, errors.New("r2 storage needs an access key, a secret and a bucket")
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		if cfg.AccountID == "" {
			return nil, errors.New("r2 storage needs an account id or an endpoint")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &R2Storage{
		s3:        client,
		presigner: s3.NewPresignClient(client),
		endpoint:  endpoint,
		bucket:    cfg.BucketName,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func objectKey(key string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", apperr.Validation("empty storage key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", apperr.Validationf("storage key %q leaves its prefix", key)
		}
	}
	return key, nil
}

// Upload buffers streamed bodies so the SDK can sign a known length.
// Artifacts are single segments or exports, small enough to hold in memory.
func (c *R2Storage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	k, err := objectKey(key)
	if err != nil {
		return "", err
	}
	if _, ok := body.(io.ReadSeeker); !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("failed to read artifact %s: %w", k, err)
		}
		body = bytes.NewReader(data)
	}

	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(k),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", k, err)
	}
	return c.GetPublicURL(k), nil
}

func (c *R2Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, apperr.NotFound("artifact", k)
		}
		return nil, fmt.Errorf("failed to download %s: %w", k, err)
	}
	return out.Body, nil
}

func (c *R2Storage) Delete(ctx context.Context, key string) error {
	k, err := objectKey(key)
	if err != nil {
		return err
	}
	if _, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(k),
	}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", k, err)
	}
	return nil
}

// GetSignedURL presigns a GET. A non-positive expiry uses 15 minutes.
func (c *R2Storage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	k, err := objectKey(key)
	if err != nil {
		return "", err
	}
	if expiry <= 0 {
		expiry = defaultSignedURLExpiry
	}
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(k),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", k, err)
	}
	return req.URL, nil
}

// GetPublicURL uses the CDN prefix when set. Without one the object URL on
// the endpoint is returned, which is only readable for public buckets.
func (c *R2Storage) GetPublicURL(key string) string {
	escaped := strings.TrimLeft((&url.URL{Path: key}).EscapedPath(), "/")
	if c.publicURL != "" {
		return c.publicURL + "/" + escaped
	}
	return c.endpoint + "/" + c.bucket + "/" + escaped
}

func (c *R2Storage) IsConfigured() bool {
	return c.s3 != nil && c.bucket != ""
}

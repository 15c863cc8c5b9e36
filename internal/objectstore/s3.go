package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// SchemeS3 is the URL scheme served by S3.
const SchemeS3 = "s3"

const (
	s3GetTimeout    = 30 * time.Second
	s3UploadTimeout = 2 * time.Minute
)

// S3Config configures the S3 backend. Endpoint is set for S3-compatible
// services such as MinIO and implies path-style addressing.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3 reads objects from an S3 bucket. Keys are either bare object keys in the
// configured bucket or s3://bucket/key URLs.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 loads the AWS configuration and creates the backend. Static
// credentials are used when both parts are set; otherwise the default chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket name not set")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// Get implements Store.
func (c *S3) Get(ctx context.Context, key string) ([]byte, error) {
	bucket, objectKey, err := c.locate(key)
	if err != nil {
		return nil, err
	}

	ctxGet, cancel := context.WithTimeout(ctx, s3GetTimeout)
	defer cancel()

	resp, err := c.client.GetObject(ctxGet, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noKey) || errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Put implements Store.
func (c *S3) Put(ctx context.Context, key string, data []byte) error {
	bucket, objectKey, err := c.locate(key)
	if err != nil {
		return err
	}

	ctxUpload, cancel := context.WithTimeout(ctx, s3UploadTimeout)
	defer cancel()

	uploader := manager.NewUploader(c.client)
	_, err = uploader.Upload(ctxUpload, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}

func (c *S3) locate(key string) (bucket, objectKey string, err error) {
	scheme, rest := SplitKey(key)
	switch scheme {
	case "":
		bucket, objectKey = c.bucket, strings.TrimLeft(key, "/")
	case SchemeS3:
		var ok bool
		bucket, objectKey, ok = strings.Cut(rest, "/")
		if !ok {
			return "", "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
		}
	default:
		return "", "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	if bucket == "" || objectKey == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return bucket, objectKey, nil
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const backendS3 = "s3"

// S3Options configures an S3Store. Endpoint may point at any S3 compatible
// server such as MinIO.
type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3Store keeps images as objects in a single bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds a client with static credentials.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 store: bucket is required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	client := s3.NewFromConfig(aws.Config{Region: region}, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		if opts.AccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
		}
	})
	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

// Put uploads data, retrying transient failures.
func (s *S3Store) Put(ctx context.Context, name string, data []byte) (err error) {
	start := time.Now()
	defer func() { observe(backendS3, "put", start, err) }()
	if err = ValidateName(name); err != nil {
		return err
	}
	err = retryWrite(ctx, defaultRetryBase, defaultRetryAttempts, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(name),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(http.DetectContentType(data)),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("s3 store put %s: %w", name, err)
	}
	return nil
}

// Get downloads an object; a missing key yields ErrNotFound.
func (s *S3Store) Get(ctx context.Context, name string) (data []byte, err error) {
	start := time.Now()
	defer func() { observe(backendS3, "get", start, err) }()
	if err = ValidateName(name); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("s3 store get %s: %w", name, err)
	}
	defer out.Body.Close()
	data, err = io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 store get %s: %w", name, err)
	}
	return data, nil
}

// Close is a no-op; the SDK client holds no connections that need release.
func (s *S3Store) Close() error { return nil }

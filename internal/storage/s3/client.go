package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tvoe/cliphub/internal/config"
	"github.com/tvoe/cliphub/internal/domain"
)

// DeleteObjects accepts at most this many keys per request
const maxDeleteBatch = 1000

// API is the subset of the S3 client used here
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	s3.ListObjectsV2APIClient
}

// Client wraps S3 operations on the uploads bucket
type Client struct {
	api     API
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
	now     func() time.Time
}

// New creates a new S3 client
func New(cfg config.S3Config) (*Client, error) {
	if cfg.BucketUploads == "" {
		return nil, errors.New("uploads bucket is required")
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Client{
		api:     client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.BucketUploads,
		expiry:  cfg.PresignExpiry,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Bucket returns the uploads bucket
func (c *Client) Bucket() string {
	return c.bucket
}

// PresignUpload returns a PUT destination the client uploads the raw file to
func (c *Client) PresignUpload(ctx context.Context, key, contentType string, size int64) (*domain.UploadTarget, error) {
	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	}, s3.WithPresignExpires(c.expiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for name, values := range req.SignedHeader {
		if len(values) == 0 || http.CanonicalHeaderKey(name) == "Host" {
			continue
		}
		headers[http.CanonicalHeaderKey(name)] = values[0]
	}

	return &domain.UploadTarget{
		URL:       req.URL,
		Method:    req.Method,
		Headers:   headers,
		Key:       key,
		ExpiresAt: c.now().Add(c.expiry),
	}, nil
}

// Exists checks if an object exists in the uploads bucket
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object: %w", err)
	}
	return true, nil
}

// DeletePrefix removes every object under prefix and returns how many were removed
func (c *Client) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list objects: %w", err)
		}

		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}

		for start := 0; start < len(ids); start += maxDeleteBatch {
			end := min(start+maxDeleteBatch, len(ids))
			out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(c.bucket),
				Delete: &types.Delete{Objects: ids[start:end], Quiet: aws.Bool(true)},
			})
			if err != nil {
				return deleted, fmt.Errorf("failed to delete objects: %w", err)
			}
			if len(out.Errors) > 0 {
				first := out.Errors[0]
				return deleted, fmt.Errorf("failed to delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
			}
			deleted += end - start
		}
	}
	return deleted, nil
}

// Health checks S3 connectivity
func (c *Client) Health(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	return err
}

package objectstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Multipart download tuning: 8 MiB parts, up to 16 in flight.
const (
	downloadPartSize    = 8 * 1024 * 1024
	downloadConcurrency = 16
)

// S3Config holds the configuration for S3 access.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Store implements Store on top of the AWS S3 client. The zero number of
// shared mutable fields makes it safe for concurrent use.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// Compile-time check that S3Store implements Store.
var _ Store = (*S3Store)(nil)

// NewS3Store creates a new S3Store.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

// Bucket returns the default bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Upload stores a local file and verifies the stored byte count.
func (s *S3Store) Upload(ctx context.Context, localPath, key string, opts UploadOptions) (UploadResult, error) {
	f, err := os.Open(localPath) // #nosec G304 - path is produced by the pipeline, not user input
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: open %s: %w", ErrUpload, localPath, err)
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: stat %s: %w", ErrUpload, localPath, err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.UserMetadata) > 0 {
		input.Metadata = opts.UserMetadata
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return UploadResult{}, fmt.Errorf("%w: put %s: %w", ErrUpload, key, err)
	}

	// Verify by re-reading the stored length. A mismatch means the object is
	// corrupt; remove it so nothing downstream reads a truncated artifact.
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: verify %s: %w", ErrUpload, key, err)
	}
	stored := aws.ToInt64(head.ContentLength)
	if stored != stat.Size() {
		_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return UploadResult{}, fmt.Errorf("%w: %s: expected %d bytes, stored %d",
			ErrUploadVerification, key, stat.Size(), stored)
	}

	return UploadResult{
		Bucket:  s.bucket,
		Key:     key,
		Bytes:   stored,
		Version: strings.Trim(aws.ToString(head.ETag), `"`),
	}, nil
}

// Download fetches an object into localPath using concurrent ranged parts.
func (s *S3Store) Download(ctx context.Context, key, localPath, bucket string) error {
	if bucket == "" {
		bucket = s.bucket
	}

	f, err := os.Create(localPath) // #nosec G304 - path is produced by the pipeline, not user input
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrDownload, localPath, err)
	}
	defer func() { _ = f.Close() }()

	downloader := manager.NewDownloader(s.client, func(d *manager.Downloader) {
		d.PartSize = downloadPartSize
		d.Concurrency = downloadConcurrency
	})

	if _, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		_ = os.Remove(localPath)
		return fmt.Errorf("%w: %s: %w", ErrDownload, key, err)
	}

	return nil
}

// Head returns object metadata, or (nil, nil) when the object does not exist.
func (s *S3Store) Head(ctx context.Context, key, bucket string) (*ObjectInfo, error) {
	if bucket == "" {
		bucket = s.bucket
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("head %s: %w", key, err)
	}

	return &ObjectInfo{
		Bytes:        aws.ToInt64(out.ContentLength),
		Version:      strings.Trim(aws.ToString(out.ETag), `"`),
		ContentType:  aws.ToString(out.ContentType),
		UserMetadata: out.Metadata,
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// Presign returns a time-limited URL for direct access to an object.
func (s *S3Store) Presign(ctx context.Context, key string, method PresignMethod, ttl time.Duration, contentType string) (string, error) {
	expires := func(o *s3.PresignOptions) { o.Expires = ttl }

	switch method {
	case PresignPUT:
		input := &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}
		// ContentType must be part of the PUT signature or the client's
		// upload is rejected.
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		req, err := s.presign.PresignPutObject(ctx, input, expires)
		if err != nil {
			return "", fmt.Errorf("%w: PUT %s: %w", ErrPresign, key, err)
		}
		return req.URL, nil
	default:
		req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}, expires)
		if err != nil {
			return "", fmt.Errorf("%w: GET %s: %w", ErrPresign, key, err)
		}
		return req.URL, nil
	}
}

// Delete removes an object from the default bucket.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List returns up to max objects under prefix.
func (s *S3Store) List(ctx context.Context, prefix string, max int32) ([]ObjectSummary, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(max),
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	summaries := make([]ObjectSummary, 0, len(out.Contents))
	for _, obj := range out.Contents {
		summaries = append(summaries, ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Bytes:        aws.ToInt64(obj.Size),
			Version:      strings.Trim(aws.ToString(obj.ETag), `"`),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return summaries, nil
}

// isNotFound reports whether an S3 error means the object does not exist.
func isNotFound(err error) bool {
	// HeadObject surfaces missing objects as a generic 404 rather than
	// types.NoSuchKey, so match on the API error code.
	msg := err.Error()
	return strings.Contains(msg, "NotFound") ||
		strings.Contains(msg, "NoSuchKey") ||
		strings.Contains(msg, "StatusCode: 404")
}

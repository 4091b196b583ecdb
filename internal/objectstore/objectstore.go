// Package objectstore provides uniform access to the remote blob store that
// holds uploaded videos and processing artifacts. It defines the Store
// interface (port) and implementations for S3 and in-memory testing.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// Static errors for object store operations.
var (
	// ErrUpload is returned when an upload fails for network or permission reasons.
	ErrUpload = errors.New("objectstore: upload failed")
	// ErrUploadVerification is returned when the stored byte count does not
	// match the source file. The partial object is deleted before returning.
	ErrUploadVerification = errors.New("objectstore: upload verification failed")
	// ErrDownload is returned when a download fails.
	ErrDownload = errors.New("objectstore: download failed")
	// ErrPresign is returned when presigned URL generation fails.
	ErrPresign = errors.New("objectstore: presign failed")
)

// PresignMethod selects the HTTP method a presigned URL authorizes.
type PresignMethod string

const (
	PresignGET PresignMethod = "GET"
	PresignPUT PresignMethod = "PUT"
)

// UploadOptions carries optional upload parameters.
type UploadOptions struct {
	ContentType  string
	UserMetadata map[string]string
}

// UploadResult describes a verified upload.
type UploadResult struct {
	Bucket  string
	Key     string
	Bytes   int64
	Version string // content tag (ETag); opaque, compare only for equality
}

// ObjectInfo describes an existing object.
type ObjectInfo struct {
	Bytes        int64
	Version      string // opaque content tag
	ContentType  string
	UserMetadata map[string]string
	LastModified time.Time
}

// ObjectSummary is one entry of a prefix listing.
type ObjectSummary struct {
	Key          string
	Bytes        int64
	Version      string
	LastModified time.Time
}

// Store defines uniform put/get/head/presign access to the blob store.
// Implementations must be safe for concurrent use; Download in particular
// runs concurrently with other downloads inside one executor.
type Store interface {
	// Upload stores a local file under key, then verifies the stored byte
	// count equals the source. On mismatch the partial object is deleted and
	// ErrUploadVerification returned.
	Upload(ctx context.Context, localPath, key string, opts UploadOptions) (UploadResult, error)

	// Download fetches key into localPath. Large objects are fetched as
	// concurrent ranged parts. An empty bucket means the default bucket.
	Download(ctx context.Context, key, localPath, bucket string) error

	// Head returns object metadata, or (nil, nil) when the object does not
	// exist. Not-found is not an error.
	Head(ctx context.Context, key, bucket string) (*ObjectInfo, error)

	// Presign returns a time-limited URL for the given method. For PUT, the
	// content type is part of the signature.
	Presign(ctx context.Context, key string, method PresignMethod, ttl time.Duration, contentType string) (string, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// List returns up to max objects under prefix in the default bucket.
	List(ctx context.Context, prefix string, max int32) ([]ObjectSummary, error)
}

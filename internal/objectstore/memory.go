package objectstore

import (
	"context"
	"crypto/md5" // #nosec G501 - content tags only, mirrors the remote store's ETag
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Compile-time check that MemStore implements Store.
var _ Store = (*MemStore)(nil)

type memObject struct {
	data         []byte
	version      string
	contentType  string
	userMetadata map[string]string
	lastModified time.Time
}

// MemStore is an in-memory implementation of Store used in tests and local
// development. Versions are content hashes, so re-uploading identical bytes
// yields an equal version, matching remote ETag behavior.
type MemStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memObject

	// FailUploads forces Upload to fail; used to exercise failure paths.
	FailUploads bool
}

// NewMemStore creates an empty MemStore with the given default bucket name.
func NewMemStore(bucket string) *MemStore {
	return &MemStore{
		bucket:  bucket,
		objects: make(map[string]memObject),
	}
}

// Put seeds an object directly, bypassing the local-file upload path.
func (s *MemStore) Put(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{
		data:         append([]byte(nil), data...),
		version:      contentVersion(data),
		contentType:  contentType,
		lastModified: time.Now(),
	}
}

// Get returns the raw bytes of an object, or nil when missing.
func (s *MemStore) Get(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil
	}
	return append([]byte(nil), obj.data...)
}

// Upload stores a local file under key.
func (s *MemStore) Upload(_ context.Context, localPath, key string, opts UploadOptions) (UploadResult, error) {
	if s.FailUploads {
		return UploadResult{}, fmt.Errorf("%w: forced failure", ErrUpload)
	}

	data, err := os.ReadFile(localPath) // #nosec G304 - test helper
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{
		data:         data,
		version:      contentVersion(data),
		contentType:  opts.ContentType,
		userMetadata: opts.UserMetadata,
		lastModified: time.Now(),
	}

	return UploadResult{
		Bucket:  s.bucket,
		Key:     key,
		Bytes:   int64(len(data)),
		Version: contentVersion(data),
	}, nil
}

// Download writes an object to localPath.
func (s *MemStore) Download(_ context.Context, key, localPath, _ string) error {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s: not found", ErrDownload, key)
	}
	if err := os.WriteFile(localPath, obj.data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	return nil
}

// Head returns object metadata, or (nil, nil) when the object does not exist.
func (s *MemStore) Head(_ context.Context, key, _ string) (*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, nil
	}
	return &ObjectInfo{
		Bytes:        int64(len(obj.data)),
		Version:      obj.version,
		ContentType:  obj.contentType,
		UserMetadata: obj.userMetadata,
		LastModified: obj.lastModified,
	}, nil
}

// Presign returns a synthetic URL naming the key and method.
func (s *MemStore) Presign(_ context.Context, key string, method PresignMethod, ttl time.Duration, _ string) (string, error) {
	return fmt.Sprintf("mem://%s/%s?method=%s&ttl=%d", s.bucket, key, method, int(ttl.Seconds())), nil
}

// Delete removes an object. Missing objects are ignored.
func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// List returns objects under prefix in key order.
func (s *MemStore) List(_ context.Context, prefix string, max int32) ([]ObjectSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	summaries := make([]ObjectSummary, 0, len(keys))
	for _, k := range keys {
		if int32(len(summaries)) >= max {
			break
		}
		obj := s.objects[k]
		summaries = append(summaries, ObjectSummary{
			Key:          k,
			Bytes:        int64(len(obj.data)),
			Version:      obj.version,
			LastModified: obj.lastModified,
		})
	}
	return summaries, nil
}

func contentVersion(data []byte) string {
	sum := md5.Sum(data) // #nosec G401 - content tag, not a security boundary
	return hex.EncodeToString(sum[:])
}

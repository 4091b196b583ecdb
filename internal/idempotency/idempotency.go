// Package idempotency guards the dispatcher against duplicate deliveries.
// A guard record is keyed by object key and version, so re-uploading the
// same bytes (same version tag) is deduplicated while a genuinely new
// upload of the same key processes again.
package idempotency

import (
	"context"
	"errors"
)

// Sentinel errors returned by guard implementations.
var (
	// ErrAlreadyClaimed is returned by Claim when another dispatcher (or a
	// prior delivery of the same message) holds the record.
	ErrAlreadyClaimed = errors.New("idempotency: object version already claimed")
)

// Key builds the deduplication key for an object version. The version is
// the storage ETag with surrounding quotes stripped; an empty version
// degrades to the bare object key.
func Key(objectKey, version string) string {
	v := version
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		v = v[1 : len(v)-1]
	}
	return objectKey + "|" + v
}

// Guard is the dispatcher's deduplication port.
type Guard interface {
	// Claim atomically records that processing of the object version has
	// begun under jobID. A second Claim for the same key returns
	// ErrAlreadyClaimed regardless of which job holds it.
	Claim(ctx context.Context, key, jobID string) error

	// MarkProcessed records that the object version completed the pipeline
	// and where its summary landed, so the record alone answers "what came
	// of this upload".
	MarkProcessed(ctx context.Context, key, resultKey string) error

	// IsProcessed reports whether the object version already completed.
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Release removes a claim so a later delivery can retry. Used when the
	// executor launch fails after the claim succeeded.
	Release(ctx context.Context, key string) error
}

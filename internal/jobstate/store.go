package jobstate

import (
	"context"
	"errors"
)

// MaxListLimit caps List scans; the listing is an operational query, not a
// data-plane path.
const MaxListLimit = 500

// ErrJobIDRequired is returned when an operation is called without a job ID.
var ErrJobIDRequired = errors.New("jobstate: job ID is required")

// Update carries a partial job update. Nil fields are left untouched;
// UpdatedAt is always refreshed. Timings is replaced wholesale: the caller
// merges before writing, so the store never needs additive expressions.
type Update struct {
	Status           *Status
	CurrentStage     *string
	ErrorMessage     *string
	ResultKey        *string
	FailureReportKey *string
	TaskHandle       *string
	Timings          Timings
}

// Store defines the interface for job persistence. It acts as a port: the
// DynamoDB implementation backs production, the memory implementation backs
// tests.
type Store interface {
	// Create conditionally inserts a queued job record. If the job already
	// exists the call is a no-op and returns nil: the dispatcher and the
	// upload confirmation path race to create the same record.
	Create(ctx context.Context, jobID, objectKey, objectBucket, objectVersion string) error

	// Get retrieves a job, or (nil, nil) when it does not exist.
	Get(ctx context.Context, jobID string) (*Job, error)

	// Update applies a partial update and refreshes updated_at.
	Update(ctx context.Context, jobID string, u Update) error

	// List scans jobs, optionally filtered by status. limit is clamped to
	// MaxListLimit.
	List(ctx context.Context, statusFilter Status, limit int) ([]*Job, error)

	// FindQueuedByObjectKey returns the job ID of a queued job for the given
	// object key, or "" when none exists. Used by the dispatcher to adopt a
	// confirmation-created job when the raw upload event arrives second.
	FindQueuedByObjectKey(ctx context.Context, objectKey string) (string, error)

	// Delete removes a job record unconditionally.
	Delete(ctx context.Context, jobID string) error
}

// Helper constructors for Update fields.

// StatusPtr returns a pointer to s for use in Update.
func StatusPtr(s Status) *Status { return &s }

// StringPtr returns a pointer to s for use in Update.
func StringPtr(s string) *string { return &s }

// Package dispatch turns queue messages into exactly-once executor launches.
// It owns the claim-then-launch sequence: parse, resolve the job identity,
// read the object version, claim it, create the job record, start the
// executor, and only then acknowledge the message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lifestream/lifestream/internal/idempotency"
	"github.com/lifestream/lifestream/internal/jobstate"
	"github.com/lifestream/lifestream/internal/objectstore"
	"github.com/lifestream/lifestream/internal/queue"
)

// Dispatcher consumes upload notifications and launches executors.
type Dispatcher struct {
	consumer      queue.Consumer
	jobs          jobstate.Store
	guard         idempotency.Guard
	objects       objectstore.Store
	launcher      Launcher
	defaultBucket string
	logger        *slog.Logger

	// Dispatched counts successful executor launches since start.
	Dispatched atomic.Int64
}

// NewDispatcher wires the dispatcher's ports together.
func NewDispatcher(
	consumer queue.Consumer,
	jobs jobstate.Store,
	guard idempotency.Guard,
	objects objectstore.Store,
	launcher Launcher,
	defaultBucket string,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		consumer:      consumer,
		jobs:          jobs,
		guard:         guard,
		objects:       objects,
		launcher:      launcher,
		defaultBucket: defaultBucket,
		logger:        logger,
	}
}

// Run polls the queue until ctx is cancelled. Receive errors back off
// briefly instead of spinning; per-message failures never stop the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started")
	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info("dispatcher stopping", "dispatched", d.Dispatched.Load())
			return err
		}

		messages, err := d.consumer.Receive(ctx, 10)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			d.logger.Error("receive failed", "error", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			continue
		}

		for _, msg := range messages {
			if err := d.HandleMessage(ctx, msg); err != nil {
				d.logger.Error("message handling failed",
					"message_id", msg.MessageID, "error", err)
			}
		}
	}
}

// HandleMessage processes one queue message end to end. A nil return means
// the message reached a final disposition (launched, deduplicated, or
// discarded as malformed); a non-nil return leaves the message on the queue
// for redelivery after the visibility timeout.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg queue.Message) error {
	ev, err := queue.ParseMessage(msg.Body)
	if err != nil {
		// Malformed payloads never become parseable; acknowledge them so
		// they do not cycle forever.
		d.logger.Warn("discarding unrecognized message",
			"message_id", msg.MessageID, "error", err)
		return d.consumer.Delete(ctx, msg.ReceiptHandle)
	}

	bucket := ev.ObjectBucket
	if bucket == "" {
		bucket = d.defaultBucket
	}

	jobID, err := d.resolveJobID(ctx, ev)
	if err != nil {
		return err
	}
	if jobID == "" {
		// Upload event with no confirmation-created job yet. Dispatching now
		// would run the pipeline under an identity the client never learns;
		// drop the event and let the confirmation drive the launch.
		d.logger.Info("upload event precedes confirmation, waiting",
			"object_key", ev.ObjectKey)
		return d.consumer.Delete(ctx, msg.ReceiptHandle)
	}

	info, err := d.objects.Head(ctx, ev.ObjectKey, bucket)
	if err != nil {
		return fmt.Errorf("head %s: %w", ev.ObjectKey, err)
	}
	if info == nil {
		if ev.Kind == queue.KindConfirmation {
			// Confirmation outran the upload. Record the queued job so the
			// eventual bucket notification adopts it instead of minting a
			// second identity.
			if err := d.jobs.Create(ctx, jobID, ev.ObjectKey, bucket, ""); err != nil {
				return fmt.Errorf("create job for early confirmation: %w", err)
			}
			d.logger.Info("confirmation arrived before upload, job queued",
				"job_id", jobID, "object_key", ev.ObjectKey)
			return d.consumer.Delete(ctx, msg.ReceiptHandle)
		}
		d.logger.Warn("object no longer exists, discarding message",
			"object_key", ev.ObjectKey, "bucket", bucket)
		return d.consumer.Delete(ctx, msg.ReceiptHandle)
	}

	key := idempotency.Key(ev.ObjectKey, info.Version)

	done, err := d.guard.IsProcessed(ctx, key)
	if err != nil {
		return fmt.Errorf("check processed: %w", err)
	}
	if done {
		d.logger.Info("object version already processed",
			"object_key", ev.ObjectKey, "version", info.Version)
		return d.consumer.Delete(ctx, msg.ReceiptHandle)
	}

	if err := d.guard.Claim(ctx, key, jobID); err != nil {
		if errors.Is(err, idempotency.ErrAlreadyClaimed) {
			d.logger.Info("object version already claimed, deduplicating",
				"object_key", ev.ObjectKey, "version", info.Version)
			return d.consumer.Delete(ctx, msg.ReceiptHandle)
		}
		return fmt.Errorf("claim: %w", err)
	}

	if err := d.jobs.Create(ctx, jobID, ev.ObjectKey, bucket, info.Version); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	spec := LaunchSpec{JobID: jobID, ObjectKey: ev.ObjectKey, ObjectBucket: bucket}
	handle, err := d.launcher.Launch(ctx, spec)
	if err != nil {
		// Release the claim and leave the message: the next delivery gets a
		// clean retry.
		if relErr := d.guard.Release(ctx, key); relErr != nil {
			d.logger.Error("claim release failed after launch failure",
				"job_id", jobID, "error", relErr)
		}
		return fmt.Errorf("launch job %s: %w", jobID, err)
	}

	if err := d.jobs.Update(ctx, jobID, jobstate.Update{
		TaskHandle: jobstate.StringPtr(handle),
	}); err != nil {
		// The executor is already running; record the miss but do not fail
		// the message.
		d.logger.Error("task handle update failed", "job_id", jobID, "error", err)
	}

	d.Dispatched.Add(1)
	d.logger.Info("executor launched",
		"job_id", jobID, "object_key", ev.ObjectKey, "task_handle", handle)
	return d.consumer.Delete(ctx, msg.ReceiptHandle)
}

// resolveJobID picks the job identity for an event. Confirmations name their
// job. Upload events adopt an existing queued job for the same key when the
// confirmation arrived first; otherwise they resolve to "" and the caller
// discards the event, because only the confirmation carries the job identity
// the client polls for.
func (d *Dispatcher) resolveJobID(ctx context.Context, ev *queue.Event) (string, error) {
	if ev.Kind == queue.KindConfirmation {
		return ev.JobID, nil
	}

	existing, err := d.jobs.FindQueuedByObjectKey(ctx, ev.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("find queued job: %w", err)
	}
	return existing, nil
}

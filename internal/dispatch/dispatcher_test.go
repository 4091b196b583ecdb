package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/lifestream/lifestream/internal/idempotency"
	"github.com/lifestream/lifestream/internal/jobstate"
	"github.com/lifestream/lifestream/internal/objectstore"
	"github.com/lifestream/lifestream/internal/queue"
)

type fakeConsumer struct {
	deleted []string
}

func (f *fakeConsumer) Receive(context.Context, int32) ([]queue.Message, error) {
	return nil, nil
}

func (f *fakeConsumer) Delete(_ context.Context, receiptHandle string) error {
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

type fakeLauncher struct {
	specs []LaunchSpec
	err   error
}

func (f *fakeLauncher) Launch(_ context.Context, spec LaunchSpec) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.specs = append(f.specs, spec)
	return "task-arn-1", nil
}

type fixture struct {
	dispatcher *Dispatcher
	consumer   *fakeConsumer
	jobs       *jobstate.MemStore
	guard      *idempotency.MemGuard
	objects    *objectstore.MemStore
	launcher   *fakeLauncher
}

func newFixture() *fixture {
	consumer := &fakeConsumer{}
	jobs := jobstate.NewMemStore()
	guard := idempotency.NewMemGuard()
	objects := objectstore.NewMemStore("videos")
	launcher := &fakeLauncher{}
	logger := slog.New(slog.DiscardHandler)
	return &fixture{
		dispatcher: NewDispatcher(consumer, jobs, guard, objects, launcher, "videos", logger),
		consumer:   consumer,
		jobs:       jobs,
		guard:      guard,
		objects:    objects,
		launcher:   launcher,
	}
}

func uploadEvent(key string) queue.Message {
	return queue.Message{
		MessageID:     "m-event",
		ReceiptHandle: "rh-event",
		Body:          `{"Records":[{"s3":{"bucket":{"name":"videos"},"object":{"key":"` + key + `"}}}]}`,
	}
}

func confirmation(jobID, key string) queue.Message {
	return queue.Message{
		MessageID:     "m-conf",
		ReceiptHandle: "rh-conf",
		Body:          `{"job_id":"` + jobID + `","object_key":"` + key + `"}`,
	}
}

func TestHandleConfirmationLaunchesExecutor(t *testing.T) {
	f := newFixture()
	f.objects.Put("uploads/a.mp4", []byte("video-bytes"), "video/mp4")
	jobID := uuid.NewString()

	if err := f.dispatcher.HandleMessage(context.Background(), confirmation(jobID, "uploads/a.mp4")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(f.launcher.specs) != 1 {
		t.Fatalf("launches = %d, want 1", len(f.launcher.specs))
	}
	spec := f.launcher.specs[0]
	if spec.ObjectKey != "uploads/a.mp4" || spec.ObjectBucket != "videos" || spec.JobID != jobID {
		t.Errorf("unexpected launch spec: %+v", spec)
	}

	job, err := f.jobs.Get(context.Background(), jobID)
	if err != nil || job == nil {
		t.Fatalf("job record missing: %v", err)
	}
	if job.Status != jobstate.StatusQueued || job.TaskHandle != "task-arn-1" {
		t.Errorf("unexpected job: %+v", job)
	}
	if len(f.consumer.deleted) != 1 {
		t.Errorf("message not acknowledged")
	}
	if got := f.dispatcher.Dispatched.Load(); got != 1 {
		t.Errorf("dispatched counter = %d, want 1", got)
	}
}

func TestUploadEventWithoutConfirmationIsDeferred(t *testing.T) {
	f := newFixture()
	f.objects.Put("uploads/a.mp4", []byte("video-bytes"), "video/mp4")
	ctx := context.Background()
	jobID := uuid.NewString()

	// Bucket notification beats the client's confirmation.
	if err := f.dispatcher.HandleMessage(ctx, uploadEvent("uploads/a.mp4")); err != nil {
		t.Fatalf("event: %v", err)
	}
	if len(f.launcher.specs) != 0 {
		t.Fatal("event without a confirmation must not launch")
	}
	if len(f.consumer.deleted) != 1 {
		t.Error("deferred event must still be acknowledged")
	}
	jobs, err := f.jobs.List(ctx, "", 10)
	if err != nil || len(jobs) != 0 {
		t.Errorf("no job may exist before the confirmation, got %d (%v)", len(jobs), err)
	}

	// The confirmation arrives and drives the launch under the client's ID.
	if err := f.dispatcher.HandleMessage(ctx, confirmation(jobID, "uploads/a.mp4")); err != nil {
		t.Fatalf("confirmation: %v", err)
	}
	if len(f.launcher.specs) != 1 || f.launcher.specs[0].JobID != jobID {
		t.Fatalf("launch specs = %+v, want one launch under %s", f.launcher.specs, jobID)
	}
	if job, _ := f.jobs.Get(ctx, jobID); job == nil {
		t.Error("client-visible job record missing")
	}

	// A redelivered copy of the event adopts the job and deduplicates.
	if err := f.dispatcher.HandleMessage(ctx, uploadEvent("uploads/a.mp4")); err != nil {
		t.Fatalf("redelivered event: %v", err)
	}
	if len(f.launcher.specs) != 1 {
		t.Errorf("launches = %d, want exactly 1", len(f.launcher.specs))
	}
}

func TestDuplicateDeliveryLaunchesOnce(t *testing.T) {
	f := newFixture()
	f.objects.Put("uploads/a.mp4", []byte("video-bytes"), "video/mp4")
	ctx := context.Background()
	jobID := uuid.NewString()

	if err := f.dispatcher.HandleMessage(ctx, confirmation(jobID, "uploads/a.mp4")); err != nil {
		t.Fatal(err)
	}
	// Same confirmation redelivered after a visibility timeout.
	if err := f.dispatcher.HandleMessage(ctx, confirmation(jobID, "uploads/a.mp4")); err != nil {
		t.Fatal(err)
	}

	if len(f.launcher.specs) != 1 {
		t.Errorf("launches = %d, want exactly 1", len(f.launcher.specs))
	}
	if len(f.consumer.deleted) != 2 {
		t.Errorf("both deliveries must be acknowledged, got %d", len(f.consumer.deleted))
	}
}

func TestReuploadedBytesDispatchAgain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.objects.Put("uploads/a.mp4", []byte("take-one"), "video/mp4")
	if err := f.dispatcher.HandleMessage(ctx, confirmation(uuid.NewString(), "uploads/a.mp4")); err != nil {
		t.Fatal(err)
	}

	// New bytes under the same key get a new version tag and a new
	// confirmation from the upload API.
	f.objects.Put("uploads/a.mp4", []byte("take-two"), "video/mp4")
	if err := f.dispatcher.HandleMessage(ctx, confirmation(uuid.NewString(), "uploads/a.mp4")); err != nil {
		t.Fatal(err)
	}

	if len(f.launcher.specs) != 2 {
		t.Errorf("launches = %d, want 2 for distinct versions", len(f.launcher.specs))
	}
}

func TestConfirmationBeforeUploadQueuesJob(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	jobID := uuid.NewString()

	if err := f.dispatcher.HandleMessage(ctx, confirmation(jobID, "uploads/a.mp4")); err != nil {
		t.Fatalf("confirmation: %v", err)
	}
	if len(f.launcher.specs) != 0 {
		t.Fatal("nothing to launch before the upload exists")
	}

	// The upload lands and its bucket notification arrives.
	f.objects.Put("uploads/a.mp4", []byte("video-bytes"), "video/mp4")
	if err := f.dispatcher.HandleMessage(ctx, uploadEvent("uploads/a.mp4")); err != nil {
		t.Fatalf("upload event: %v", err)
	}

	if len(f.launcher.specs) != 1 {
		t.Fatalf("launches = %d, want 1", len(f.launcher.specs))
	}
	// The event must adopt the confirmation's job ID, not mint a new one.
	if f.launcher.specs[0].JobID != jobID {
		t.Errorf("launched job ID = %q, want adopted %s", f.launcher.specs[0].JobID, jobID)
	}
}

func TestLaunchFailureLeavesMessageAndReleasesClaim(t *testing.T) {
	f := newFixture()
	f.launcher.err = errors.New("capacity unavailable")
	f.objects.Put("uploads/a.mp4", []byte("video-bytes"), "video/mp4")
	ctx := context.Background()
	jobID := uuid.NewString()

	err := f.dispatcher.HandleMessage(ctx, confirmation(jobID, "uploads/a.mp4"))
	if err == nil {
		t.Fatal("expected launch failure to propagate")
	}
	if len(f.consumer.deleted) != 0 {
		t.Error("message must stay on the queue after a launch failure")
	}

	// The claim was released, so the redelivery can launch.
	f.launcher.err = nil
	if err := f.dispatcher.HandleMessage(ctx, confirmation(jobID, "uploads/a.mp4")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(f.launcher.specs) != 1 {
		t.Errorf("redelivery did not launch: %d", len(f.launcher.specs))
	}
}

func TestMalformedMessageIsDiscarded(t *testing.T) {
	f := newFixture()
	msg := queue.Message{MessageID: "m1", ReceiptHandle: "rh1", Body: "not json"}

	if err := f.dispatcher.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(f.consumer.deleted) != 1 {
		t.Error("malformed message must be acknowledged to avoid a poison loop")
	}
	if len(f.launcher.specs) != 0 {
		t.Error("malformed message must not launch")
	}
}

func TestAlreadyProcessedVersionIsAcknowledged(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.objects.Put("uploads/a.mp4", []byte("video-bytes"), "video/mp4")

	info, err := f.objects.Head(ctx, "uploads/a.mp4", "videos")
	if err != nil {
		t.Fatal(err)
	}
	key := idempotency.Key("uploads/a.mp4", info.Version)
	if err := f.guard.Claim(ctx, key, "old-job"); err != nil {
		t.Fatal(err)
	}
	if err := f.guard.MarkProcessed(ctx, key, "results/old-job/summary.json"); err != nil {
		t.Fatal(err)
	}

	if err := f.dispatcher.HandleMessage(ctx, confirmation(uuid.NewString(), "uploads/a.mp4")); err != nil {
		t.Fatal(err)
	}
	if len(f.launcher.specs) != 0 {
		t.Error("processed version must not relaunch")
	}
	if len(f.consumer.deleted) != 1 {
		t.Error("message must be acknowledged")
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/lifestream/lifestream/internal/diary"
	"github.com/lifestream/lifestream/internal/idempotency"
	"github.com/lifestream/lifestream/internal/index"
	"github.com/lifestream/lifestream/internal/jobstate"
	"github.com/lifestream/lifestream/internal/objectstore"
	"github.com/lifestream/lifestream/internal/scene"
	"github.com/lifestream/lifestream/internal/speech"
)

type fakeMedia struct {
	duration float64
}

func (f *fakeMedia) ExtractAudio(_ context.Context, _, outputWAV string) error {
	return os.WriteFile(outputWAV, []byte("RIFF"), 0o600)
}

func (f *fakeMedia) Duration(context.Context, string) (float64, error) {
	return f.duration, nil
}

type fakeTranscriber struct {
	err error
}

func (f *fakeTranscriber) Transcribe(context.Context, string, string) ([]speech.TranscriptSegment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []speech.TranscriptSegment{
		{Start: 5, End: 15, Text: "Morning standup, reviewing yesterday's work."},
	}, nil
}

type fakeDiarizer struct{}

func (f *fakeDiarizer) Diarize(context.Context, string) (*speech.Annotation, error) {
	return &speech.Annotation{Turns: []speech.SpeakerTurn{
		{Start: 0, End: 20, SpeakerID: "SPEAKER_00"},
	}}, nil
}

type fakeDetector struct {
	boundaries       []float64
	gotCaptureBounds []float64
}

func (f *fakeDetector) Detect(context.Context, string, float64) ([]float64, error) {
	return f.boundaries, nil
}

func (f *fakeDetector) ExtractKeyframes(_ context.Context, _ string, boundaries []float64, outDir string) ([]scene.Keyframe, error) {
	f.gotCaptureBounds = boundaries
	frames := make([]scene.Keyframe, 0, len(boundaries))
	for _, b := range boundaries {
		frames = append(frames, scene.Keyframe{Timestamp: b, Path: outDir + "/frame.jpg", SceneChange: true})
	}
	return frames, nil
}

type fakeEmbed struct{}

func (fakeEmbed) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 2}
	}
	return vectors, nil
}

// recordingJobStore captures every Update the executor writes so tests can
// assert on intermediate progress, not just the final record. Branches write
// concurrently, hence the mutex.
type recordingJobStore struct {
	jobstate.Store
	mu      sync.Mutex
	updates []jobstate.Update
}

func (r *recordingJobStore) Update(ctx context.Context, jobID string, u jobstate.Update) error {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	return r.Store.Update(ctx, jobID, u)
}

// sawCompletion reports whether some update named stage as current and
// carried timings that already include that stage's elapsed entry.
func (r *recordingJobStore) sawCompletion(stage string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.updates {
		if u.CurrentStage == nil || *u.CurrentStage != stage {
			continue
		}
		if _, ok := u.Timings[stage]; ok {
			return true
		}
	}
	return false
}

type execFixture struct {
	executor *Executor
	objects  *objectstore.MemStore
	jobs     *jobstate.MemStore
	updates  *recordingJobStore
	guard    *idempotency.MemGuard
	vectors  *index.MemStore
	detector *fakeDetector
	asr      *fakeTranscriber
}

func newExecFixture(t *testing.T, streaming bool) *execFixture {
	t.Helper()
	ctx := context.Background()

	objects := objectstore.NewMemStore("videos")
	objects.Put("uploads/a.mp4", []byte("video-bytes"), "video/mp4")
	info, err := objects.Head(ctx, "uploads/a.mp4", "videos")
	if err != nil {
		t.Fatal(err)
	}

	jobs := jobstate.NewMemStore()
	if err := jobs.Create(ctx, "job-1", "uploads/a.mp4", "videos", info.Version); err != nil {
		t.Fatal(err)
	}
	updates := &recordingJobStore{Store: jobs}

	guard := idempotency.NewMemGuard()
	if err := guard.Claim(ctx, idempotency.Key("uploads/a.mp4", info.Version), "job-1"); err != nil {
		t.Fatal(err)
	}

	vectors := index.NewMemStore()
	logger := slog.New(slog.DiscardHandler)
	detector := &fakeDetector{boundaries: []float64{120}}
	asr := &fakeTranscriber{}

	executor := NewExecutor(
		"job-1", "uploads/a.mp4", "videos",
		objects, updates, guard,
		&fakeMedia{duration: 600},
		asr, &fakeDiarizer{}, detector,
		NewSummarizer(&fakeLLM{replies: []string{`{"activity": "Standup"}`}}, 1, logger),
		index.NewIndexer(fakeEmbed{}, vectors, 0, logger),
		ExecutorOptions{
			WindowSeconds:    300,
			StreamingIntake:  streaming,
			WorkDir:          t.TempDir(),
			CleanupTempFiles: true,
		},
		logger,
	)

	return &execFixture{
		executor: executor,
		objects:  objects,
		jobs:     jobs,
		updates:  updates,
		guard:    guard,
		vectors:  vectors,
		detector: detector,
		asr:      asr,
	}
}

func TestExecutorHappyPath(t *testing.T) {
	f := newExecFixture(t, false)
	ctx := context.Background()

	if err := f.executor.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, err := f.jobs.Get(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != jobstate.StatusCompleted || job.CurrentStage != jobstate.StageCompleted {
		t.Errorf("job state: %+v", job)
	}
	if job.ResultKey != "results/job-1/summary.json" {
		t.Errorf("result key = %q", job.ResultKey)
	}

	for _, stage := range []string{
		jobstate.StageDownload, jobstate.StageAudioExtract, jobstate.StageDiarization,
		jobstate.StageASR, jobstate.StageSceneDetection, jobstate.StageKeyframes,
		jobstate.StageSync, jobstate.StageSummarization, jobstate.StageUpload,
		jobstate.StageIndexing,
	} {
		if _, ok := job.Timings[stage]; !ok {
			t.Errorf("timings missing stage %q: %v", stage, job.Timings)
		}
	}

	raw := f.objects.Get("results/job-1/summary.json")
	if raw == nil {
		t.Fatal("summary.json not uploaded")
	}
	var summary diary.DailySummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("summary not valid JSON: %v", err)
	}
	if len(summary.TimeBlocks) != 2 {
		t.Errorf("time blocks = %d, want 2 for a 600s video at 300s windows", len(summary.TimeBlocks))
	}
	if summary.TimeBlocks[0].Activity != "Standup" {
		t.Errorf("first block activity = %q", summary.TimeBlocks[0].Activity)
	}

	md := f.objects.Get("results/job-1/summary.md")
	if md == nil || !strings.Contains(string(md), "# Daily Summary") {
		t.Error("summary.md not uploaded or malformed")
	}

	info, _ := f.objects.Head(context.Background(), "uploads/a.mp4", "videos")
	done, err := f.guard.IsProcessed(ctx, idempotency.Key("uploads/a.mp4", info.Version))
	if err != nil || !done {
		t.Errorf("idempotency record not marked processed: (%v, %v)", done, err)
	}

	chunks, err := f.vectors.ListChunks(ctx, "videos/uploads/a.mp4", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Error("no chunks indexed")
	}
}

func TestExecutorStreamingIntake(t *testing.T) {
	f := newExecFixture(t, true)

	if err := f.executor.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, _ := f.jobs.Get(context.Background(), "job-1")
	if job.Status != jobstate.StatusCompleted {
		t.Errorf("status = %q", job.Status)
	}
	if _, ok := job.Timings[jobstate.StageDownload]; !ok {
		t.Error("background download timing missing")
	}
}

func TestExecutorASRFailure(t *testing.T) {
	f := newExecFixture(t, false)
	f.asr.err = errors.New("speech service unavailable")
	ctx := context.Background()

	if err := f.executor.Run(ctx); err == nil {
		t.Fatal("expected run to fail")
	}

	job, err := f.jobs.Get(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != jobstate.StatusFailed || job.CurrentStage != jobstate.StageFailed {
		t.Errorf("job state: %+v", job)
	}
	if !strings.Contains(job.ErrorMessage, "asr failed") {
		t.Errorf("error message = %q", job.ErrorMessage)
	}
	if job.FailureReportKey != "results/job-1/failure_report.json" {
		t.Errorf("failure report key = %q", job.FailureReportKey)
	}

	raw := f.objects.Get("results/job-1/failure_report.json")
	if raw == nil {
		t.Fatal("failure report not uploaded")
	}
	var report struct {
		JobID     string           `json:"job_id"`
		Status    string           `json:"status"`
		Error     string           `json:"error"`
		Traceback string           `json:"traceback"`
		Timings   jobstate.Timings `json:"timings"`
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("report not valid JSON: %v", err)
	}
	if report.JobID != "job-1" || report.Status != "failed" {
		t.Errorf("report header: %+v", report)
	}
	if report.Traceback == "" {
		t.Error("report missing traceback")
	}
	for _, stage := range []string{
		jobstate.StageStarted, jobstate.StageDownload,
		jobstate.StageAudioExtract, jobstate.StageDiarization, jobstate.StageASR,
	} {
		if _, ok := report.Timings[stage]; !ok {
			t.Errorf("report timings missing %q: %v", stage, report.Timings)
		}
	}

	// Failure must not consume the idempotency claim.
	info, _ := f.objects.Head(ctx, "uploads/a.mp4", "videos")
	done, _ := f.guard.IsProcessed(ctx, idempotency.Key("uploads/a.mp4", info.Version))
	if done {
		t.Error("failed job must not mark the object version processed")
	}
}

func TestExecutorSyntheticBoundaryWhenNoScenes(t *testing.T) {
	f := newExecFixture(t, false)
	f.detector.boundaries = nil

	if err := f.executor.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(f.detector.gotCaptureBounds) != 1 || f.detector.gotCaptureBounds[0] != 600 {
		t.Errorf("capture boundaries = %v, want [600] synthetic", f.detector.gotCaptureBounds)
	}

	job, _ := f.jobs.Get(context.Background(), "job-1")
	if job.Status != jobstate.StatusCompleted {
		t.Errorf("status = %q", job.Status)
	}
}

func TestExecutorReportsStageCompletions(t *testing.T) {
	f := newExecFixture(t, false)

	if err := f.executor.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	// A status poll mid-run must be able to see every stage land: each one
	// gets a store update naming it as current with its elapsed time already
	// in the timings map.
	for _, stage := range []string{
		jobstate.StageDownload, jobstate.StageAudioExtract, jobstate.StageDiarization,
		jobstate.StageASR, jobstate.StageSceneDetection, jobstate.StageKeyframes,
		jobstate.StageSync, jobstate.StageSummarization, jobstate.StageUpload,
		jobstate.StageIndexing,
	} {
		if !f.updates.sawCompletion(stage) {
			t.Errorf("no completion update for stage %q", stage)
		}
	}
}

func TestReuploadDuringRunKeepsClaimedVersion(t *testing.T) {
	f := newExecFixture(t, false)
	ctx := context.Background()

	orig, err := f.objects.Head(ctx, "uploads/a.mp4", "videos")
	if err != nil {
		t.Fatal(err)
	}

	// New bytes land under the same key while the job is mid-flight.
	f.objects.Put("uploads/a.mp4", []byte("take-two"), "video/mp4")

	if err := f.executor.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	origKey := idempotency.Key("uploads/a.mp4", orig.Version)
	done, err := f.guard.IsProcessed(ctx, origKey)
	if err != nil || !done {
		t.Fatalf("claimed version not marked processed: (%v, %v)", done, err)
	}
	if got := f.guard.ResultKeyOf(origKey); got != "results/job-1/summary.json" {
		t.Errorf("recorded result key = %q", got)
	}

	// The new version was never claimed; marking it processed would swallow
	// its eventual dispatch.
	latest, err := f.objects.Head(ctx, "uploads/a.mp4", "videos")
	if err != nil {
		t.Fatal(err)
	}
	done, err = f.guard.IsProcessed(ctx, idempotency.Key("uploads/a.mp4", latest.Version))
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Error("re-uploaded version must not be marked processed")
	}
}

func TestExecutorWorkDirNaming(t *testing.T) {
	f := newExecFixture(t, false)
	f.executor.opts.CleanupTempFiles = false

	if err := f.executor.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	dir := filepath.Join(f.executor.opts.WorkDir, "lifestream_job-1")
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Errorf("work dir %s missing: %v", dir, err)
	}
}

func TestExecutorRejectsUnsupportedFormat(t *testing.T) {
	f := newExecFixture(t, false)
	f.executor.objectKey = "uploads/notes.txt"

	if err := f.executor.Run(context.Background()); err == nil {
		t.Fatal("expected format rejection")
	}

	job, _ := f.jobs.Get(context.Background(), "job-1")
	if job.Status != jobstate.StatusFailed {
		t.Errorf("status = %q, want failed", job.Status)
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/lifestream/lifestream/internal/diary"
	"github.com/lifestream/lifestream/internal/idempotency"
	"github.com/lifestream/lifestream/internal/index"
	"github.com/lifestream/lifestream/internal/jobstate"
	"github.com/lifestream/lifestream/internal/media"
	"github.com/lifestream/lifestream/internal/objectstore"
	"github.com/lifestream/lifestream/internal/scene"
	"github.com/lifestream/lifestream/internal/speech"
)

// presignTTL covers the longest plausible streaming read of one video.
const presignTTL = 2 * time.Hour

// MediaTool is the subset of the ffmpeg binding the executor needs,
// extracted so tests can substitute a fake.
type MediaTool interface {
	ExtractAudio(ctx context.Context, input, outputWAV string) error
	Duration(ctx context.Context, input string) (float64, error)
}

// ExecutorOptions tune one executor run.
type ExecutorOptions struct {
	WindowSeconds    float64
	SceneThreshold   float64
	StreamingIntake  bool
	WorkDir          string
	CleanupTempFiles bool
	Language         string
}

// Executor processes exactly one job: download, two parallel analysis
// branches, synchronization, summarization, upload, and best-effort
// indexing.
type Executor struct {
	jobID        string
	objectKey    string
	objectBucket string

	objects     objectstore.Store
	jobs        jobstate.Store
	guard       idempotency.Guard
	ff          MediaTool
	transcriber speech.Transcriber
	diarizer    speech.Diarizer
	detector    scene.Detector
	summarizer  *Summarizer
	indexer     *index.Indexer
	opts        ExecutorOptions
	logger      *slog.Logger
}

// NewExecutor wires one job's pipeline. indexer may be nil, which disables
// the indexing stage.
func NewExecutor(
	jobID, objectKey, objectBucket string,
	objects objectstore.Store,
	jobs jobstate.Store,
	guard idempotency.Guard,
	ff MediaTool,
	transcriber speech.Transcriber,
	diarizer speech.Diarizer,
	detector scene.Detector,
	summarizer *Summarizer,
	indexer *index.Indexer,
	opts ExecutorOptions,
	logger *slog.Logger,
) *Executor {
	if opts.WindowSeconds <= 0 {
		opts.WindowSeconds = DefaultWindowSeconds
	}
	if opts.SceneThreshold <= 0 {
		opts.SceneThreshold = 0.3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		jobID:        jobID,
		objectKey:    objectKey,
		objectBucket: objectBucket,
		objects:      objects,
		jobs:         jobs,
		guard:        guard,
		ff:           ff,
		transcriber:  transcriber,
		diarizer:     diarizer,
		detector:     detector,
		summarizer:   summarizer,
		indexer:      indexer,
		opts:         opts,
		logger:       logger.With("job_id", jobID),
	}
}

// branchResult is what each analysis branch hands back to the join point.
// Timings travel with the result so only the main goroutine touches the
// job's timing map.
type audioResult struct {
	segments []diary.AudioSegment
	timings  jobstate.Timings
	err      error
}

type sceneResult struct {
	boundaries []float64
	keyframes  []scene.Keyframe
	timings    jobstate.Timings
	err        error
}

// Run executes the pipeline. On mandatory-stage failure it uploads a
// failure report, marks the job failed, and returns the error.
func (e *Executor) Run(ctx context.Context) error {
	timer := newStageTimer()
	timer.timings[jobstate.StageStarted] = 0

	e.setStage(ctx, jobstate.StageStarted, jobstate.StatusProcessing)
	summary, err := e.runStages(ctx, timer)
	if err != nil {
		e.fail(ctx, timer, err)
		return err
	}

	e.logger.Info("job completed", "time_blocks", len(summary.TimeBlocks))
	return nil
}

func (e *Executor) runStages(ctx context.Context, timer *stageTimer) (*diary.DailySummary, error) {
	if err := media.ValidateFormat(e.objectKey); err != nil {
		return nil, err
	}

	workDir, err := e.ensureWorkDir()
	if err != nil {
		return nil, err
	}
	if e.opts.CleanupTempFiles {
		defer func() {
			if err := os.RemoveAll(workDir); err != nil {
				e.logger.Warn("temp cleanup failed", "dir", workDir, "error", err)
			}
		}()
	}

	videoPath := filepath.Join(workDir, "input"+filepath.Ext(e.objectKey))
	audioPath := filepath.Join(workDir, "audio.wav")
	framesDir := filepath.Join(workDir, "frames")
	if err := os.MkdirAll(framesDir, 0o750); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}

	// Intake. The streaming variant extracts audio straight from a presigned
	// URL while a background goroutine downloads the full video for the
	// scene branch; both stages overlap instead of running back to back.
	downloadDone, audioInput, err := e.startIntake(ctx, timer, videoPath)
	if err != nil {
		return nil, err
	}

	e.setStage(ctx, jobstate.StageAudioExtract, "")
	err = timer.track(jobstate.StageAudioExtract, func() error {
		return e.ff.ExtractAudio(ctx, audioInput, audioPath)
	})
	if err != nil {
		return nil, fmt.Errorf("audio_extraction failed: %w", err)
	}
	e.recordStage(ctx, jobstate.StageAudioExtract, timer.snapshot())

	// The scene branch needs the local file; join the background download
	// before the branches start.
	if downloadDone != nil {
		res := <-downloadDone
		timer.timings[jobstate.StageDownload] = res.elapsedMs
		if res.err != nil {
			return nil, fmt.Errorf("download failed: %w", res.err)
		}
		e.recordStage(ctx, "", timer.snapshot())
	}

	duration, err := e.ff.Duration(ctx, videoPath)
	if err != nil {
		e.logger.Warn("duration probe failed, deriving from branch output", "error", err)
		duration = 0
	}

	audioCh := make(chan audioResult, 1)
	sceneCh := make(chan sceneResult, 1)

	// Branches report their own stage completions to the store; base carries
	// the timings accumulated so far so each report shows a growing map.
	base := timer.snapshot()
	go e.runAudioBranch(ctx, base, audioPath, audioCh)
	go e.runSceneBranch(ctx, base, videoPath, framesDir, duration, sceneCh)

	audio := <-audioCh
	scenes := <-sceneCh
	timer.merge(audio.timings)
	timer.merge(scenes.timings)
	if audio.err != nil {
		return nil, audio.err
	}
	if scenes.err != nil {
		return nil, scenes.err
	}

	e.setStage(ctx, jobstate.StageSync, "")
	var windows []Window
	_ = timer.track(jobstate.StageSync, func() error {
		windows = Synchronize(audio.segments, scenes.keyframes, scenes.boundaries, duration, e.opts.WindowSeconds)
		return nil
	})
	e.recordStage(ctx, jobstate.StageSync, timer.snapshot())

	e.setStage(ctx, jobstate.StageSummarization, "")
	var summary *diary.DailySummary
	err = timer.track(jobstate.StageSummarization, func() error {
		var sumErr error
		summary, sumErr = e.summarizer.Summarize(ctx, windows, e.videoID(), duration)
		return sumErr
	})
	if err != nil {
		return nil, fmt.Errorf("summarization failed: %w", err)
	}
	e.recordStage(ctx, jobstate.StageSummarization, timer.snapshot())

	e.setStage(ctx, jobstate.StageUpload, "")
	resultKey := fmt.Sprintf("results/%s/summary.json", e.jobID)
	err = timer.track(jobstate.StageUpload, func() error {
		return e.uploadSummary(ctx, workDir, resultKey, summary)
	})
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	e.recordStage(ctx, jobstate.StageUpload, timer.snapshot())

	e.runIndexing(ctx, timer, summary, resultKey)

	timer.timings[jobstate.StageCompleted] = 0
	if err := e.jobs.Update(ctx, e.jobID, jobstate.Update{
		Status:       jobstate.StatusPtr(jobstate.StatusCompleted),
		CurrentStage: jobstate.StringPtr(jobstate.StageCompleted),
		ResultKey:    jobstate.StringPtr(resultKey),
		Timings:      timer.snapshot(),
	}); err != nil {
		return nil, fmt.Errorf("final status update: %w", err)
	}

	return summary, nil
}

// downloadResult carries the background download's outcome and elapsed
// time back to the main goroutine, which owns the timing map.
type downloadResult struct {
	err       error
	elapsedMs int64
}

// startIntake begins the download stage. In streaming mode it returns a
// channel that resolves when the background download finishes plus a
// presigned URL for audio extraction; otherwise it blocks until the
// download completes and both inputs are the local file.
func (e *Executor) startIntake(ctx context.Context, timer *stageTimer, videoPath string) (<-chan downloadResult, string, error) {
	e.setStage(ctx, jobstate.StageDownload, "")

	if !e.opts.StreamingIntake {
		err := timer.track(jobstate.StageDownload, func() error {
			return e.objects.Download(ctx, e.objectKey, videoPath, e.objectBucket)
		})
		if err != nil {
			return nil, "", fmt.Errorf("download failed: %w", err)
		}
		e.recordStage(ctx, jobstate.StageDownload, timer.snapshot())
		return nil, videoPath, nil
	}

	url, err := e.objects.Presign(ctx, e.objectKey, objectstore.PresignGET, presignTTL, "")
	if err != nil {
		return nil, "", fmt.Errorf("download failed: presign: %w", err)
	}

	done := make(chan downloadResult, 1)
	started := time.Now()
	go func() {
		err := e.objects.Download(ctx, e.objectKey, videoPath, e.objectBucket)
		done <- downloadResult{err: err, elapsedMs: time.Since(started).Milliseconds()}
	}()
	return done, url, nil
}

// runAudioBranch runs diarization then transcription and merges them into
// attributed audio segments. Stage completions are reported to the store
// with base merged in; the branch timer itself stays goroutine-local.
func (e *Executor) runAudioBranch(ctx context.Context, base jobstate.Timings, audioPath string, out chan<- audioResult) {
	branch := newStageTimer()
	var turns []speech.SpeakerTurn
	var segments []speech.TranscriptSegment

	err := branch.track(jobstate.StageDiarization, func() error {
		annotation, err := e.diarizer.Diarize(ctx, audioPath)
		if err != nil {
			return err
		}
		turns, err = annotation.Unwrap()
		return err
	})
	if err != nil {
		out <- audioResult{timings: branch.snapshot(), err: fmt.Errorf("diarization failed: %w", err)}
		return
	}
	e.recordStage(ctx, jobstate.StageDiarization, base.Merge(branch.snapshot()))

	err = branch.track(jobstate.StageASR, func() error {
		var asrErr error
		segments, asrErr = e.transcriber.Transcribe(ctx, audioPath, e.opts.Language)
		return asrErr
	})
	if err != nil {
		out <- audioResult{timings: branch.snapshot(), err: fmt.Errorf("asr failed: %w", err)}
		return
	}
	e.recordStage(ctx, jobstate.StageASR, base.Merge(branch.snapshot()))

	out <- audioResult{
		segments: MergeTranscript(segments, turns),
		timings:  branch.snapshot(),
	}
}

// runSceneBranch runs scene detection then keyframe capture. A video with
// no detected boundaries still gets one keyframe via a synthetic boundary.
func (e *Executor) runSceneBranch(ctx context.Context, base jobstate.Timings, videoPath, framesDir string, duration float64, out chan<- sceneResult) {
	branch := newStageTimer()
	var boundaries []float64
	var keyframes []scene.Keyframe

	err := branch.track(jobstate.StageSceneDetection, func() error {
		var detErr error
		boundaries, detErr = e.detector.Detect(ctx, videoPath, e.opts.SceneThreshold)
		return detErr
	})
	if err != nil {
		out <- sceneResult{timings: branch.snapshot(), err: fmt.Errorf("scene_detection failed: %w", err)}
		return
	}
	e.recordStage(ctx, jobstate.StageSceneDetection, base.Merge(branch.snapshot()))

	captureBoundaries := boundaries
	if len(captureBoundaries) == 0 {
		captureBoundaries = scene.SyntheticBoundaries(duration)
	}

	err = branch.track(jobstate.StageKeyframes, func() error {
		var kfErr error
		keyframes, kfErr = e.detector.ExtractKeyframes(ctx, videoPath, captureBoundaries, framesDir)
		return kfErr
	})
	if err != nil {
		if len(boundaries) == 0 {
			// Keyframes are only mandatory when real scene changes exist.
			e.logger.Warn("keyframe capture on synthetic boundary failed", "error", err)
			out <- sceneResult{boundaries: boundaries, timings: branch.snapshot()}
			return
		}
		out <- sceneResult{timings: branch.snapshot(), err: fmt.Errorf("keyframes failed: %w", err)}
		return
	}
	e.recordStage(ctx, jobstate.StageKeyframes, base.Merge(branch.snapshot()))

	out <- sceneResult{boundaries: boundaries, keyframes: keyframes, timings: branch.snapshot()}
}

// uploadSummary writes both result artifacts; each must succeed.
func (e *Executor) uploadSummary(ctx context.Context, workDir, resultKey string, summary *diary.DailySummary) error {
	jsonPath := filepath.Join(workDir, "summary.json")
	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(jsonPath, raw, 0o600); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if _, err := e.objects.Upload(ctx, jsonPath, resultKey, objectstore.UploadOptions{
		ContentType: "application/json",
	}); err != nil {
		return err
	}

	mdPath := filepath.Join(workDir, "summary.md")
	if err := os.WriteFile(mdPath, []byte(summary.Markdown()), 0o600); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	mdKey := fmt.Sprintf("results/%s/summary.md", e.jobID)
	if _, err := e.objects.Upload(ctx, mdPath, mdKey, objectstore.UploadOptions{
		ContentType: "text/markdown",
	}); err != nil {
		return err
	}
	return nil
}

// runIndexing performs the best-effort indexing stage. Success marks the
// idempotency record processed; failure is logged and the job still
// completes.
func (e *Executor) runIndexing(ctx context.Context, timer *stageTimer, summary *diary.DailySummary, resultKey string) {
	if e.indexer == nil {
		return
	}

	e.setStage(ctx, jobstate.StageIndexing, "")
	err := timer.track(jobstate.StageIndexing, func() error {
		_, ixErr := e.indexer.IndexSummary(ctx, e.videoID(), summary)
		return ixErr
	})
	if err != nil {
		e.logger.Error("indexing failed, continuing", "error", err)
		return
	}
	e.recordStage(ctx, jobstate.StageIndexing, timer.snapshot())

	version, err := e.claimedVersion(ctx)
	if err != nil {
		e.logger.Warn("could not resolve object version for processed mark", "error", err)
		return
	}
	key := idempotency.Key(e.objectKey, version)
	if err := e.guard.MarkProcessed(ctx, key, resultKey); err != nil {
		e.logger.Warn("processed mark failed", "error", err)
	}
}

// claimedVersion resolves the object version this job was dispatched for.
// The job record is authoritative: a re-upload during processing must not
// get its new version marked processed. Head is only a fallback for records
// created before the object existed.
func (e *Executor) claimedVersion(ctx context.Context) (string, error) {
	job, err := e.jobs.Get(ctx, e.jobID)
	if err != nil {
		return "", err
	}
	if job != nil && job.ObjectVersion != "" {
		return job.ObjectVersion, nil
	}

	info, err := e.objects.Head(ctx, e.objectKey, e.objectBucket)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", fmt.Errorf("object %s not found", e.objectKey)
	}
	return info.Version, nil
}

// fail runs the failure path: upload a failure report, then mark the job
// failed with whatever parts of the report landed.
func (e *Executor) fail(ctx context.Context, timer *stageTimer, cause error) {
	e.logger.Error("job failed", "error", cause)

	update := jobstate.Update{
		Status:       jobstate.StatusPtr(jobstate.StatusFailed),
		CurrentStage: jobstate.StringPtr(jobstate.StageFailed),
		ErrorMessage: jobstate.StringPtr(cause.Error()),
		Timings:      timer.snapshot(),
	}

	if reportKey, err := e.uploadFailureReport(ctx, timer, cause); err != nil {
		e.logger.Error("failure report upload failed", "error", err)
	} else {
		update.FailureReportKey = jobstate.StringPtr(reportKey)
	}

	if err := e.jobs.Update(ctx, e.jobID, update); err != nil {
		e.logger.Error("failed-state update failed", "error", err)
	}
}

// failureReport is the JSON document written on the failure path.
type failureReport struct {
	JobID     string           `json:"job_id"`
	Status    string           `json:"status"`
	Error     string           `json:"error"`
	Traceback string           `json:"traceback"`
	Timings   jobstate.Timings `json:"timings"`
}

func (e *Executor) uploadFailureReport(ctx context.Context, timer *stageTimer, cause error) (string, error) {
	report := failureReport{
		JobID:     e.jobID,
		Status:    "failed",
		Error:     cause.Error(),
		Traceback: string(debug.Stack()),
		Timings:   timer.snapshot(),
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal failure report: %w", err)
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("failure_%s.json", e.jobID))
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", fmt.Errorf("write failure report: %w", err)
	}
	defer func() { _ = os.Remove(path) }()

	key := fmt.Sprintf("results/%s/failure_report.json", e.jobID)
	if _, err := e.objects.Upload(ctx, path, key, objectstore.UploadOptions{
		ContentType: "application/json",
	}); err != nil {
		return "", err
	}
	return key, nil
}

// setStage records a stage transition; failures to write status never stop
// the pipeline.
func (e *Executor) setStage(ctx context.Context, stage string, status jobstate.Status) {
	update := jobstate.Update{CurrentStage: jobstate.StringPtr(stage)}
	if status != "" {
		update.Status = jobstate.StatusPtr(status)
	}
	if err := e.jobs.Update(ctx, e.jobID, update); err != nil {
		e.logger.Warn("stage update failed", "stage", stage, "error", err)
	}
}

// recordStage writes a stage's successful completion to the store together
// with the timings accumulated so far, so a status poll mid-run sees the
// map grow stage by stage. An empty stage writes timings only. Write
// failures never stop the pipeline.
func (e *Executor) recordStage(ctx context.Context, stage string, timings jobstate.Timings) {
	update := jobstate.Update{Timings: timings}
	if stage != "" {
		update.CurrentStage = jobstate.StringPtr(stage)
	}
	if err := e.jobs.Update(ctx, e.jobID, update); err != nil {
		e.logger.Warn("stage completion update failed", "stage", stage, "error", err)
	}
}

func (e *Executor) ensureWorkDir() (string, error) {
	base := e.opts.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "lifestream_"+e.jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

// videoID identifies the source video across the vector store.
func (e *Executor) videoID() string {
	return e.objectBucket + "/" + e.objectKey
}

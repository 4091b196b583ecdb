// Package jobstate provides the authoritative per-job record for the
// video-to-diary pipeline. It is the single source of truth for status:
// dispatcher, processor, and query API all read and write through it.
package jobstate

import (
	"time"
)

// Status represents the lifecycle state of a job. Transitions form an
// acyclic graph: queued → processing → {completed, failed}.
type Status string

const (
	// StatusQueued indicates the job record exists but no executor has started.
	StatusQueued Status = "queued"
	// StatusProcessing indicates an executor is running the pipeline.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the pipeline finished and the result was uploaded.
	StatusCompleted Status = "completed"
	// StatusFailed indicates a mandatory stage failed.
	StatusFailed Status = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage names in canonical pipeline order. The two branch pairs
// (diarization/asr and scene_detection/keyframes) run in parallel, but the
// vocabulary is flat for progress derivation.
const (
	StageQueued         = "queued"
	StageStarted        = "started"
	StageDownload       = "download"
	StageAudioExtract   = "audio_extraction"
	StageDiarization    = "diarization"
	StageASR            = "asr"
	StageSceneDetection = "scene_detection"
	StageKeyframes      = "keyframes"
	StageSync           = "sync"
	StageSummarization  = "summarization"
	StageUpload         = "upload"
	StageIndexing       = "indexing"
	StageCompleted      = "completed"
	StageFailed         = "failed"
)

// StageOrder is the ordered stage vocabulary used for progress weighting.
var StageOrder = []string{
	StageStarted,
	StageDownload,
	StageAudioExtract,
	StageDiarization,
	StageASR,
	StageSceneDetection,
	StageKeyframes,
	StageSync,
	StageSummarization,
	StageUpload,
	StageIndexing,
	StageCompleted,
}

// Timings maps stage name to elapsed wall-clock milliseconds. Stages are
// appended, never rewritten; the map only grows.
type Timings map[string]int64

// Merge returns a copy of t with every entry of other added. Existing keys
// are overwritten only by larger values so a stage's recorded time never
// decreases.
func (t Timings) Merge(other Timings) Timings {
	out := make(Timings, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		if cur, ok := out[k]; !ok || v > cur {
			out[k] = v
		}
	}
	return out
}

// Job is the authoritative record of one processing request.
type Job struct {
	JobID            string  `json:"job_id" dynamodbav:"job_id"`
	Status           Status  `json:"status" dynamodbav:"status"`
	CurrentStage     string  `json:"current_stage" dynamodbav:"current_stage"`
	ObjectKey        string  `json:"object_key" dynamodbav:"object_key"`
	ObjectBucket     string  `json:"object_bucket" dynamodbav:"object_bucket"`
	ObjectVersion    string  `json:"object_version,omitempty" dynamodbav:"object_version,omitempty"`
	ResultKey        string  `json:"result_key,omitempty" dynamodbav:"result_key,omitempty"`
	FailureReportKey string  `json:"failure_report_key,omitempty" dynamodbav:"failure_report_key,omitempty"`
	ErrorMessage     string  `json:"error_message,omitempty" dynamodbav:"error_message,omitempty"`
	TaskHandle       string  `json:"task_handle,omitempty" dynamodbav:"task_handle,omitempty"`
	Timings          Timings `json:"timings,omitempty" dynamodbav:"-"`
	CreatedAt        string  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt        string  `json:"updated_at" dynamodbav:"updated_at"`
}

// Progress derives completion in [0, 1] from the current stage. It is a pure
// function so every reader computes the same value for the same record.
func Progress(currentStage string, _ Timings) float64 {
	switch currentStage {
	case StageCompleted, StageFailed:
		return 1.0
	case StageQueued, "":
		return 0.0
	}
	for i, s := range StageOrder {
		if s == currentStage {
			return float64(i+1) / float64(len(StageOrder))
		}
	}
	// Unknown stage: midpoint rather than an error, so a reader of a newer
	// record never breaks.
	return 0.5
}

// StatusView is the document the status API returns for one job.
type StatusView struct {
	JobID            string  `json:"job_id"`
	Status           Status  `json:"status"`
	CurrentStage     string  `json:"current_stage"`
	Progress         float64 `json:"progress"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	ResultKey        string  `json:"result_key,omitempty"`
	FailureReportKey string  `json:"failure_report_key,omitempty"`
	Timings          Timings `json:"timings,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// NewStatusView builds the API status document for a job.
func NewStatusView(j *Job) StatusView {
	return StatusView{
		JobID:            j.JobID,
		Status:           j.Status,
		CurrentStage:     j.CurrentStage,
		Progress:         Progress(j.CurrentStage, j.Timings),
		ErrorMessage:     j.ErrorMessage,
		ResultKey:        j.ResultKey,
		FailureReportKey: j.FailureReportKey,
		Timings:          j.Timings,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
	}
}

// nowISO returns the current UTC time in RFC 3339 format with nanosecond
// precision, the timestamp format stored on every record. Second precision
// would make a terminal update within the creation second look simultaneous
// with it.
func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

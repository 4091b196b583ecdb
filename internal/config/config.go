// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrBucketRequired is returned when S3_BUCKET is not set.
	ErrBucketRequired = errors.New("config: S3_BUCKET is required")
	// ErrQueueURLRequired is returned when SQS_QUEUE_URL is not set.
	ErrQueueURLRequired = errors.New("config: SQS_QUEUE_URL is required")
	// ErrJobsTableRequired is returned when JOBS_TABLE_NAME is not set.
	ErrJobsTableRequired = errors.New("config: JOBS_TABLE_NAME is required")
	// ErrJobIdentityRequired is returned when the processor is started without
	// its job identity environment.
	ErrJobIdentityRequired = errors.New("config: JOB_ID, OBJECT_KEY, and OBJECT_BUCKET are required")
)

// Config holds all configuration for the dispatcher and processor.
type Config struct {
	// AWS settings
	Region             string `env:"AWS_REGION, default=us-east-1" json:"region"`
	Bucket             string `env:"S3_BUCKET" json:"bucket"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`

	// Queue settings
	QueueURL          string `env:"SQS_QUEUE_URL" json:"queue_url,omitempty"`
	DLQURL            string `env:"SQS_DLQ_URL" json:"dlq_url,omitempty"`
	VisibilityTimeout int32  `env:"SQS_VISIBILITY_TIMEOUT, default=900" json:"visibility_timeout"`
	WaitTimeSeconds   int32  `env:"SQS_WAIT_TIME_SECONDS, default=20" json:"wait_time_seconds"`

	// State store settings
	JobsTable        string `env:"JOBS_TABLE_NAME" json:"jobs_table"`
	IdempotencyTable string `env:"IDEMPOTENCY_TABLE_NAME" json:"idempotency_table"`

	// Task launch settings (dispatcher)
	ECSCluster        string   `env:"ECS_CLUSTER" json:"ecs_cluster,omitempty"`
	ECSTaskDefinition string   `env:"ECS_TASK_DEFINITION" json:"ecs_task_definition,omitempty"`
	ECSContainerName  string   `env:"ECS_CONTAINER_NAME, default=processor" json:"ecs_container_name,omitempty"`
	ECSSubnets        []string `env:"ECS_SUBNETS" json:"ecs_subnets,omitempty"`
	ECSSecurityGroups []string `env:"ECS_SECURITY_GROUPS" json:"ecs_security_groups,omitempty"`

	// Job identity (processor; injected by the dispatcher via task environment)
	JobID        string `env:"JOB_ID" json:"job_id,omitempty"`
	ObjectKey    string `env:"OBJECT_KEY" json:"object_key,omitempty"`
	ObjectBucket string `env:"OBJECT_BUCKET" json:"object_bucket,omitempty"`

	// Language model settings
	LLMModel      string `env:"LLM_MODEL, default=gpt-4o" json:"llm_model"`
	LLMAPIKey     string `env:"LLM_API_KEY" json:"-"` // Masked in JSON
	LLMBaseURL    string `env:"LLM_BASE_URL" json:"llm_base_url,omitempty"`
	LLMMaxRetries int    `env:"LLM_MAX_RETRIES, default=8" json:"llm_max_retries"`

	// Speech service settings
	ASRBaseURL  string `env:"ASR_BASE_URL" json:"asr_base_url,omitempty"`
	ASRModel    string `env:"ASR_MODEL, default=whisper-1" json:"asr_model"`
	DiarizerURL string `env:"DIARIZER_URL" json:"diarizer_url,omitempty"`

	// Embedding settings
	EmbeddingModel      string `env:"EMBEDDING_MODEL, default=text-embedding-3-small" json:"embedding_model"`
	EmbeddingBatchSize  int    `env:"EMBEDDING_BATCH_SIZE, default=64" json:"embedding_batch_size"`
	EmbeddingDimensions int    `env:"EMBEDDING_DIMENSIONS, default=1536" json:"embedding_dimensions"`

	// Vector store settings
	VectorDBPath string `env:"VECTOR_DB_PATH, default=/var/lib/lifestream/index.db" json:"vector_db_path"`

	// Processing settings
	WindowSeconds      int     `env:"CHUNK_WINDOW_SECONDS, default=300" json:"window_seconds"`
	SceneThreshold     float64 `env:"SCENE_DETECTION_THRESHOLD, default=0.3" json:"scene_threshold"`
	ParallelWorkers    int     `env:"PARALLEL_WORKERS, default=2" json:"parallel_workers"`
	StreamingIntake    bool    `env:"USE_STREAMING_VIDEO_INTAKE, default=true" json:"streaming_intake"`
	ExecutorTimeoutSec int     `env:"EXECUTOR_TIMEOUT_SECONDS, default=900" json:"executor_timeout_sec"`

	// Workspace settings
	WorkDir          string `env:"WORK_DIR, default=/tmp" json:"work_dir"`
	CleanupTempFiles bool   `env:"CLEANUP_TEMP_FILES, default=true" json:"cleanup_temp_files"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// ValidateDispatcher checks the settings the dispatcher cannot run without.
func (c *Config) ValidateDispatcher() error {
	if c.Bucket == "" {
		return ErrBucketRequired
	}
	if c.QueueURL == "" {
		return ErrQueueURLRequired
	}
	if c.JobsTable == "" {
		return ErrJobsTableRequired
	}
	return nil
}

// ValidateProcessor checks the settings the processor cannot run without.
func (c *Config) ValidateProcessor() error {
	if c.JobsTable == "" {
		return ErrJobsTableRequired
	}
	if c.JobID == "" || c.ObjectKey == "" || c.ObjectBucket == "" {
		return ErrJobIdentityRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Region: %s, Bucket: %s, QueueURL: %s, JobsTable: %s, IdempotencyTable: %s, LLMModel: %s, WindowSeconds: %d, StreamingIntake: %t, LogFormat: %s, LogLevel: %s}",
		c.Region,
		c.Bucket,
		c.QueueURL,
		c.JobsTable,
		c.IdempotencyTable,
		c.LLMModel,
		c.WindowSeconds,
		c.StreamingIntake,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package main provides the entry point for the per-job processor. The
// dispatcher starts one processor per upload with the job identity in the
// environment; the process exits when its single job is done.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/lifestream/lifestream/internal/config"
	"github.com/lifestream/lifestream/internal/idempotency"
	"github.com/lifestream/lifestream/internal/index"
	"github.com/lifestream/lifestream/internal/jobstate"
	"github.com/lifestream/lifestream/internal/llm"
	"github.com/lifestream/lifestream/internal/media"
	"github.com/lifestream/lifestream/internal/objectstore"
	"github.com/lifestream/lifestream/internal/pipeline"
	"github.com/lifestream/lifestream/internal/scene"
	"github.com/lifestream/lifestream/internal/speech"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateProcessor(); err != nil {
		return err
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting processor",
		slog.String("job_id", cfg.JobID),
		slog.String("object_key", cfg.ObjectKey),
		slog.String("object_bucket", cfg.ObjectBucket),
		slog.Bool("streaming_intake", cfg.StreamingIntake),
		slog.Int("window_seconds", cfg.WindowSeconds),
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	objects, err := objectstore.NewS3Store(objectstore.S3Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}

	dynamo := dynamodb.NewFromConfig(awsCfg)
	jobs := jobstate.NewDynamoStore(dynamo, cfg.JobsTable)
	guard := idempotency.NewDynamoGuard(dynamo, cfg.IdempotencyTable)

	llmOpts := []llm.ClientOption{
		llm.WithAPIKey(cfg.LLMAPIKey),
		llm.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.LLMBaseURL != "" {
		llmOpts = append(llmOpts, llm.WithBaseURL(cfg.LLMBaseURL))
	}
	llmClient, err := llm.NewClient(cfg.LLMModel, llmOpts...)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}

	var whisperOpts []speech.WhisperOption
	if cfg.ASRBaseURL != "" {
		whisperOpts = append(whisperOpts, speech.WithWhisperBaseURL(cfg.ASRBaseURL))
	}
	transcriber := speech.NewWhisperClient(cfg.LLMAPIKey, cfg.ASRModel, whisperOpts...)

	diarizer, err := speech.NewHTTPDiarizer(cfg.DiarizerURL)
	if err != nil {
		return fmt.Errorf("create diarizer: %w", err)
	}

	ff := media.New()
	detector := scene.NewFFmpegDetector(ff)
	summarizer := pipeline.NewSummarizer(llmClient, cfg.LLMMaxRetries, logger)

	// Indexing is best effort: a broken local vector store should not stop
	// the pipeline, so fall back to running without an indexer.
	var indexer *index.Indexer
	if cfg.VectorDBPath != "" {
		store, err := index.NewSQLiteStore(cfg.VectorDBPath, cfg.EmbeddingDimensions)
		if err != nil {
			logger.Warn("vector store unavailable, indexing disabled", "error", err)
		} else {
			defer func() { _ = store.Close() }()
			indexer = index.NewIndexer(llmClient, store, cfg.EmbeddingBatchSize, logger)
		}
	}

	executor := pipeline.NewExecutor(
		cfg.JobID, cfg.ObjectKey, cfg.ObjectBucket,
		objects, jobs, guard,
		ff, transcriber, diarizer, detector,
		summarizer, indexer,
		pipeline.ExecutorOptions{
			WindowSeconds:    float64(cfg.WindowSeconds),
			SceneThreshold:   cfg.SceneThreshold,
			StreamingIntake:  cfg.StreamingIntake,
			WorkDir:          cfg.WorkDir,
			CleanupTempFiles: cfg.CleanupTempFiles,
		},
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ExecutorTimeoutSec)*time.Second)
	defer cancel()

	if err := executor.Run(ctx); err != nil {
		return fmt.Errorf("job %s: %w", cfg.JobID, err)
	}

	logger.Info("job completed", slog.String("job_id", cfg.JobID))
	return nil
}

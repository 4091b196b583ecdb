// Package main provides the entry point for the upload dispatcher.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/lifestream/lifestream/internal/config"
	"github.com/lifestream/lifestream/internal/dispatch"
	"github.com/lifestream/lifestream/internal/idempotency"
	"github.com/lifestream/lifestream/internal/jobstate"
	"github.com/lifestream/lifestream/internal/objectstore"
	"github.com/lifestream/lifestream/internal/queue"
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
	if err := cfg.ValidateDispatcher(); err != nil {
		return err
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting dispatcher",
		slog.String("queue_url", cfg.QueueURL),
		slog.String("bucket", cfg.Bucket),
		slog.String("jobs_table", cfg.JobsTable),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
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

	consumer := queue.NewSQSConsumer(
		sqs.NewFromConfig(awsCfg),
		cfg.QueueURL,
		cfg.WaitTimeSeconds,
		cfg.VisibilityTimeout,
	)

	// An ECS cluster means Fargate tasks; without one each job runs as a
	// local subprocess.
	var launcher dispatch.Launcher
	if cfg.ECSCluster != "" {
		launcher = dispatch.NewECSLauncher(ecs.NewFromConfig(awsCfg), dispatch.ECSLauncherConfig{
			Cluster:        cfg.ECSCluster,
			TaskDefinition: cfg.ECSTaskDefinition,
			ContainerName:  cfg.ECSContainerName,
			Subnets:        cfg.ECSSubnets,
			SecurityGroups: cfg.ECSSecurityGroups,
		})
		logger.Info("ECS launcher configured",
			slog.String("cluster", cfg.ECSCluster),
			slog.String("task_definition", cfg.ECSTaskDefinition),
		)
	} else {
		launcher = &dispatch.LocalLauncher{}
		logger.Info("local launcher configured")
	}

	dispatcher := dispatch.NewDispatcher(consumer, jobs, guard, objects, launcher, cfg.Bucket, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("dispatcher: %w", err)
	}

	logger.Info("dispatcher shut down")
	return nil
}

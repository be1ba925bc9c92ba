// Package main is the entrypoint for the categorization worker Lambda.
//
// The worker consumes CategorizationJobs from the categorize SQS queue. Each
// job names up to queue.MaxIDsPerMessage freshly imported, AI-eligible
// transactions; the worker asks the model for a category per row and writes
// the answers back. Failed jobs are reported as batch item failures so SQS
// redelivers only those.
//
// Cold start: load configuration (SSM outside local), connect to Postgres,
// build the OpenAI categorizer and CloudWatch recorder, then lambda.Start.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"expenseterminal/internal/categorize"
	"expenseterminal/internal/config"
	"expenseterminal/internal/db"
	"expenseterminal/internal/external"
	"expenseterminal/internal/metrics"
)

func main() {
	handler, err := setup(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(handler.Handle)
}

func setup(ctx context.Context) (*categorize.Handler, error) {
	provider := config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	cfg, err := config.LoadWorker(provider)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger := config.NewLogger(cfg.LogLevel).With("service", cfg.Service)
	slog.SetDefault(logger)
	logger.Info("categorization worker initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"model", cfg.AI.Model,
	)

	// One connection is enough: Lambda runs one invocation per instance.
	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), db.PoolOptions{
		MaxConns:        1,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		recorder = metrics.NewCloudWatchRecorder(cw, logger)
	}

	categorizer := external.NewOpenAICategorizer(
		&http.Client{Timeout: cfg.AI.Timeout},
		external.OpenAIConfig{
			APIKey:  cfg.AI.OpenAIKey,
			Model:   cfg.AI.Model,
			BaseURL: cfg.AI.BaseURL,
			Logger:  logger,
		},
	)

	return categorize.NewHandler(db.NewTransactionRepo(pool), categorizer, recorder, logger), nil
}

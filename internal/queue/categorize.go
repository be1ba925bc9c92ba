// Package queue provides the SQS producer that hands freshly imported,
// AI-eligible transactions to the categorization worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"expenseterminal/internal/config"
	"expenseterminal/internal/types"
)

// MaxIDsPerMessage bounds how many transactions one worker invocation
// categorizes, which keeps each model prompt small.
const MaxIDsPerMessage = 100

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// CategorizationProducer enqueues CategorizationJobs.
type CategorizationProducer struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
	now      func() time.Time
}

// NewCategorizationProducer creates a producer for the queue configured in
// awsCfg.
func NewCategorizationProducer(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *CategorizationProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CategorizationProducer{
		client:   client,
		queueURL: awsCfg.CategorizeQueueURL,
		logger:   logger,
		now:      time.Now,
	}
}

// EnqueueCategorization sends ids in chunks of MaxIDsPerMessage. It stops at
// the first failed send; jobs already sent stay queued and the worker skips
// rows that are categorized by the time it runs.
func (p *CategorizationProducer) EnqueueCategorization(ctx context.Context, userID string, ids []string) error {
	for start := 0; start < len(ids); start += MaxIDsPerMessage {
		end := min(start+MaxIDsPerMessage, len(ids))
		job := types.CategorizationJob{
			JobID:          uuid.NewString(),
			UserID:         userID,
			TransactionIDs: ids[start:end],
			EnqueuedAt:     p.now().UTC(),
		}
		if err := p.send(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (p *CategorizationProducer) send(ctx context.Context, job types.CategorizationJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal CategorizationJob: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"user_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.UserID),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("queue: failed to send CategorizationJob to %s", p.queueURL), err)
	}

	p.logger.InfoContext(ctx, "categorization job sent",
		"job_id", job.JobID,
		"user_id", job.UserID,
		"transactions", len(job.TransactionIDs),
	)
	return nil
}

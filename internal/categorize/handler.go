// Package categorize runs queued categorization jobs: it loads the rows a job
// names, asks the Categorizer for a category per row and writes the answers
// back.
package categorize

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"expenseterminal/internal/metrics"
	"expenseterminal/internal/types"
)

// Store is the transaction persistence the worker uses.
type Store interface {
	// ListForCategorization returns the rows among ids that are still
	// AI-eligible and uncategorized.
	ListForCategorization(ctx context.Context, userID string, ids []string) ([]*types.Transaction, error)
	UpdateCategory(ctx context.Context, userID string, a types.CategoryAssignment) error
}

// Categorizer classifies transactions.
type Categorizer interface {
	Categorize(ctx context.Context, txns []*types.Transaction) ([]types.CategoryAssignment, error)
}

// Handler consumes SQS batches of CategorizationJobs.
type Handler struct {
	store       Store
	categorizer Categorizer
	recorder    metrics.Recorder
	logger      *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(store Store, categorizer Categorizer, recorder metrics.Recorder, logger *slog.Logger) *Handler {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:       store,
		categorizer: categorizer,
		recorder:    recorder,
		logger:      logger,
	}
}

// Handle processes each record independently and reports the ones that
// should be redelivered as batch item failures.
func (h *Handler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range ev.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "failed to process categorization message",
				"message_id", record.MessageId,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var job types.CategorizationJob
	if err := json.Unmarshal([]byte(record.Body), &job); err != nil || job.UserID == "" {
		// Redelivery cannot fix a malformed body; ACK it.
		h.logger.ErrorContext(ctx, "dropping malformed categorization message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}
	return h.Process(ctx, job)
}

// Process categorizes one job. Rows that are no longer eligible or were
// categorized by an earlier delivery are skipped, so redelivery is safe.
func (h *Handler) Process(ctx context.Context, job types.CategorizationJob) error {
	logger := h.logger.With("job_id", job.JobID, "user_id", job.UserID)

	txns, err := h.store.ListForCategorization(ctx, job.UserID, job.TransactionIDs)
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		logger.InfoContext(ctx, "nothing left to categorize")
		return nil
	}

	assignments, err := h.categorizer.Categorize(ctx, txns)
	if err != nil {
		h.recorder.RecordCategorization(ctx, 0, len(txns))
		return err
	}

	written := 0
	for _, a := range assignments {
		err := h.store.UpdateCategory(ctx, job.UserID, a)
		switch {
		case err == nil:
			written++
		case types.IsCode(err, types.ErrCodeNotFoundTransaction):
			logger.WarnContext(ctx, "transaction vanished before categorization", "transaction_id", a.TransactionID)
		default:
			h.recorder.RecordCategorization(ctx, written, len(txns)-written)
			return errors.Join(errors.New("categorize: write-back failed"), err)
		}
	}

	h.recorder.RecordCategorization(ctx, written, len(txns)-written)
	logger.InfoContext(ctx, "transactions categorized",
		"requested", len(job.TransactionIDs),
		"pending", len(txns),
		"categorized", written,
	)
	return nil
}

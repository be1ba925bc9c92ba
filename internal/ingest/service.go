// Package ingest stores imported transaction batches and decides which rows
// count toward the user's AI categorization allowance.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"expenseterminal/internal/billing"
	"expenseterminal/internal/core"
	"expenseterminal/internal/metrics"
	"expenseterminal/internal/types"
)

// MaxBatchRows is the largest batch Import accepts.
const MaxBatchRows = 1000

// PlanResolver resolves the plan in force for a user.
type PlanResolver interface {
	ResolveEffectivePlan(ctx context.Context, userID string) (types.PlanID, error)
}

// TransactionStore is the persistence Import needs.
type TransactionStore interface {
	CountUploadedEligible(ctx context.Context, userID string) (int, error)
	InsertBatch(ctx context.Context, rows []types.NewTransaction) error
}

// CategorizationEnqueuer hands eligible rows to the categorization worker.
type CategorizationEnqueuer interface {
	EnqueueCategorization(ctx context.Context, userID string, ids []string) error
}

// Service imports parsed transaction rows.
type Service struct {
	catalog  *billing.Catalog
	plans    PlanResolver
	store    TransactionStore
	queue    CategorizationEnqueuer
	recorder metrics.Recorder
	logger   *slog.Logger
	validate *core.Validator
	newID    func() string
}

// batch gives row validation errors a rows[i].field path.
type batch struct {
	Rows []types.TransactionInput `json:"rows" validate:"dive"`
}

// NewService creates a Service. queue may be nil, in which case eligible
// rows are stored but not sent for categorization.
func NewService(
	catalog *billing.Catalog,
	plans PlanResolver,
	store TransactionStore,
	queue CategorizationEnqueuer,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *Service {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalog:  catalog,
		plans:    plans,
		store:    store,
		queue:    queue,
		recorder: recorder,
		logger:   logger,
		validate: core.NewValidator(logger),
		newID:    uuid.NewString,
	}
}

// Import stores rows for userID and flags the first rows that fit under the
// plan's cap as AI-eligible, in input order. The cap check reads the current
// count and then writes, so concurrent imports for the same user can overrun
// a finite cap; the usage report surfaces any overrun.
func (s *Service) Import(ctx context.Context, userID string, rows []types.TransactionInput) (*types.ImportResult, error) {
	if len(rows) == 0 || len(rows) > MaxBatchRows {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationBatchSize,
			"batch must contain between 1 and 1000 rows", nil,
			map[string]any{"rows": len(rows), "max": MaxBatchRows})
	}
	if err := s.validate.ValidateStruct(batch{Rows: rows}); err != nil {
		return nil, err
	}

	plan, err := s.plans.ResolveEffectivePlan(ctx, userID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve plan", err)
	}
	limit := s.catalog.IngestCapFor(plan)

	current, err := s.store.CountUploadedEligible(ctx, userID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count eligible transactions", err)
	}

	elig := billing.ComputeEligibility(current, len(rows), limit)

	insert := make([]types.NewTransaction, len(rows))
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = s.newID()
		insert[i] = types.NewTransaction{
			ID:          ids[i],
			UserID:      userID,
			Date:        r.Date.UTC().Truncate(24 * time.Hour),
			Vendor:      r.Vendor,
			Description: r.Description,
			AmountCents: r.AmountCents,
			Source:      types.SourceCSVUpload,
			AIEligible:  i < elig.Eligible,
		}
	}

	if err := s.store.InsertBatch(ctx, insert); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "transactions imported",
		"user_id", userID,
		"plan", plan,
		"rows", len(rows),
		"ai_eligible", elig.Eligible,
		"ai_ineligible", elig.Ineligible,
	)
	s.recorder.RecordImport(ctx, plan, elig.Eligible, elig.Ineligible)

	if s.queue != nil && elig.Eligible > 0 {
		// Rows are already stored; a failed enqueue leaves them uncategorized
		// rather than failing the import.
		if err := s.queue.EnqueueCategorization(ctx, userID, ids[:elig.Eligible]); err != nil {
			s.logger.ErrorContext(ctx, "failed to enqueue categorization",
				"user_id", userID,
				"error", err,
			)
		}
	}

	return &types.ImportResult{
		Inserted:     len(rows),
		AIEligible:   elig.Eligible,
		AIIneligible: elig.Ineligible,
		OverLimit:    elig.OverLimit,
		Plan:         plan,
		Cap:          limit,
		IDs:          ids,
	}, nil
}

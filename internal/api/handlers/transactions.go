package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"expenseterminal/internal/core"
	"expenseterminal/internal/ingest"
	"expenseterminal/internal/types"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200
)

// Importer stores an uploaded batch. *ingest.Service satisfies it.
type Importer interface {
	Import(ctx context.Context, userID string, rows []types.TransactionInput) (*types.ImportResult, error)
}

// TransactionLister pages through stored transactions.
type TransactionLister interface {
	List(ctx context.Context, userID string, params types.ListTransactionsParams) ([]*types.Transaction, types.PageInfo, error)
}

// ImportRow is one parsed CSV row as sent by the web app. Dates are
// YYYY-MM-DD or RFC3339.
type ImportRow struct {
	Date        string `json:"date" validate:"required,iso_date"`
	Vendor      string `json:"vendor" validate:"required,max=200"`
	Description string `json:"description" validate:"max=500"`
	AmountCents int64  `json:"amount_cents"`
}

// ImportRequest is the body of POST /v1/transactions/import.
type ImportRequest struct {
	Rows []ImportRow `json:"rows" validate:"required,dive"`
}

// TransactionHandler serves transaction upload and listing.
type TransactionHandler struct {
	importer  Importer
	lister    TransactionLister
	validator *core.Validator
	logger    *slog.Logger
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(importer Importer, lister TransactionLister, v *core.Validator, l *slog.Logger) *TransactionHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	return &TransactionHandler{importer: importer, lister: lister, validator: v, logger: l}
}

// RegisterRoutes mounts the transaction endpoints on an authenticated router.
func (h *TransactionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/transactions/import", h.Import)
	r.Get("/transactions", h.List)
}

// Import handles POST /v1/transactions/import. The response reports how many
// rows were flagged for AI categorization under the user's plan.
func (h *TransactionHandler) Import(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.UserIDFrom(w, r)
	if !ok {
		return
	}

	var req ImportRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	// Size first, so an oversized batch is rejected before per-row checks.
	if n := len(req.Rows); n == 0 || n > ingest.MaxBatchRows {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationBatchSize,
			"batch must contain between 1 and 1000 rows", nil,
			map[string]any{"rows": n, "max": ingest.MaxBatchRows}))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	inputs, err := toTransactionInputs(req.Rows)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.importer.Import(r.Context(), userID, inputs)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "import failed",
			"user_id", userID,
			"rows", len(inputs),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	var meta *types.ResponseMeta
	if result.OverLimit {
		meta = &types.ResponseMeta{Warnings: []string{
			"plan limit reached: some rows were stored without AI categorization",
		}}
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: result, Meta: meta})
}

func toTransactionInputs(rows []ImportRow) ([]types.TransactionInput, error) {
	out := make([]types.TransactionInput, len(rows))
	for i, row := range rows {
		date, err := core.ParseDate(row.Date)
		if err != nil {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
				"invalid date", err, map[string]any{"row": i})
		}
		out[i] = types.TransactionInput{
			Date:        date,
			Vendor:      row.Vendor,
			Description: row.Description,
			AmountCents: row.AmountCents,
		}
	}
	return out, nil
}

// List handles GET /v1/transactions?limit&cursor.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.UserIDFrom(w, r)
	if !ok {
		return
	}

	params := types.ListTransactionsParams{Limit: defaultTransactionLimit, Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxTransactionLimit {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"limit must be a number between 1 and 200", nil))
			return
		}
		params.Limit = limit
	}

	txns, page, err := h.lister.List(r.Context(), userID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if txns == nil {
		txns = []*types.Transaction{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: txns,
		Meta: &types.ResponseMeta{Pagination: &page},
	})
}

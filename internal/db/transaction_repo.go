package db

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"expenseterminal/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

const transactionColumns = `id, user_id, date, vendor, COALESCE(description, ''), amount_cents,
	category, deductible, source, ai_eligible, created_at`

// TransactionRepo stores imported and manually entered transactions.
type TransactionRepo struct {
	db DBTX
}

// NewTransactionRepo creates a TransactionRepo.
func NewTransactionRepo(db DBTX) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// CountUploaded counts the user's rows that arrived through CSV upload.
func (r *TransactionRepo) CountUploaded(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = $1 AND source = $2`,
		userID, string(types.SourceCSVUpload),
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count uploaded transactions", err)
	}
	return n, nil
}

// CountUploadedEligible counts uploaded rows already flagged for AI
// categorization.
func (r *TransactionRepo) CountUploadedEligible(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = $1 AND source = $2 AND ai_eligible`,
		userID, string(types.SourceCSVUpload),
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count eligible transactions", err)
	}
	return n, nil
}

// InsertBatch writes all rows in one statement. Either every row is stored
// or none is. All rows must belong to the same user.
func (r *TransactionRepo) InsertBatch(ctx context.Context, rows []types.NewTransaction) error {
	if len(rows) == 0 {
		return nil
	}

	n := len(rows)
	var (
		ids          = make([]string, n)
		dates        = make([]time.Time, n)
		vendors      = make([]string, n)
		descriptions = make([]string, n)
		amounts      = make([]int64, n)
		sources      = make([]string, n)
		eligible     = make([]bool, n)
	)
	for i, row := range rows {
		ids[i] = row.ID
		dates[i] = row.Date
		vendors[i] = row.Vendor
		descriptions[i] = row.Description
		amounts[i] = row.AmountCents
		sources[i] = string(row.Source)
		eligible[i] = row.AIEligible
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO transactions (id, user_id, date, vendor, description, amount_cents, source, ai_eligible)
		 SELECT u.id, $1, u.date, u.vendor, NULLIF(u.description, ''), u.amount_cents, u.source, u.ai_eligible
		 FROM unnest($2::uuid[], $3::date[], $4::text[], $5::text[], $6::bigint[], $7::text[], $8::boolean[])
		   AS u(id, date, vendor, description, amount_cents, source, ai_eligible)`,
		rows[0].UserID, ids, dates, vendors, descriptions, amounts, sources, eligible,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert transactions", err)
	}
	return nil
}

// List returns a page of the user's transactions, newest first. Pages are
// keyed on (created_at, id) because one import batch shares a timestamp.
func (r *TransactionRepo) List(ctx context.Context, userID string, params types.ListTransactionsParams) ([]*types.Transaction, types.PageInfo, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	conditions := []string{"user_id = $1"}
	args := []any{userID}

	if params.Cursor != "" {
		at, id, err := decodeCursor(params.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeValidationInvalidCursor, "invalid cursor", err)
		}
		conditions = append(conditions, "(created_at, id) < ($2, $3)")
		args = append(args, at, id)
	}

	query := fmt.Sprintf(
		`SELECT %s
		 FROM transactions
		 WHERE %s
		 ORDER BY created_at DESC, id DESC
		 LIMIT $%d`,
		transactionColumns,
		strings.Join(conditions, " AND "),
		len(args)+1,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list transactions", err)
	}
	defer rows.Close()

	results, err := scanTransactions(rows)
	if err != nil {
		return nil, types.PageInfo{}, err
	}

	page := types.PageInfo{}
	if len(results) > limit {
		last := results[limit-1]
		page.HasMore = true
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
		results = results[:limit]
	}
	return results, page, nil
}

// ListForCategorization loads the subset of ids that still need a category
// and were admitted under the user's AI cap.
func (r *TransactionRepo) ListForCategorization(ctx context.Context, userID string, ids []string) ([]*types.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE user_id = $1 AND id = ANY($2::uuid[]) AND ai_eligible AND category IS NULL
		 ORDER BY created_at, id`,
		userID, ids,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load transactions for categorization", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// UpdateCategory stores the category chosen for an eligible transaction.
func (r *TransactionRepo) UpdateCategory(ctx context.Context, userID string, a types.CategoryAssignment) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions
		 SET category = $1, deductible = $2
		 WHERE id = $3 AND user_id = $4 AND ai_eligible`,
		a.Category, a.Deductible, a.TransactionID, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update transaction category", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
	}
	return nil
}

func scanTransactions(rows pgx.Rows) ([]*types.Transaction, error) {
	var results []*types.Transaction
	for rows.Next() {
		var (
			t      types.Transaction
			source string
		)
		if err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Date,
			&t.Vendor,
			&t.Description,
			&t.AmountCents,
			&t.Category,
			&t.Deductible,
			&source,
			&t.AIEligible,
			&t.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan transaction row", err)
		}
		t.Source = types.TransactionSource(source)
		results = append(results, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating transaction rows", err)
	}
	return results, nil
}

func encodeCursor(at time.Time, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(at.UTC().Format(time.RFC3339Nano) + "|" + id))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", err
	}
	return at, id, nil
}

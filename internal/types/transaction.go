package types

import "time"

// TransactionSource records how a transaction entered the system.
type TransactionSource string

const (
	SourceCSVUpload TransactionSource = "csv_upload"
	SourceManual    TransactionSource = "manual"
)

// Transaction is a stored business expense or income line.
type Transaction struct {
	ID          string            `json:"id"`
	UserID      string            `json:"-"`
	Date        time.Time         `json:"date"`
	Vendor      string            `json:"vendor"`
	Description string            `json:"description,omitempty"`
	AmountCents int64             `json:"amount_cents"`
	Category    *string           `json:"category"`
	Deductible  *bool             `json:"deductible"`
	Source      TransactionSource `json:"source"`
	AIEligible  bool              `json:"ai_eligible"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TransactionInput is one already-parsed row submitted for import.
type TransactionInput struct {
	Date        time.Time `json:"date" validate:"required"`
	Vendor      string    `json:"vendor" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=500"`
	AmountCents int64     `json:"amount_cents"`
}

// NewTransaction is a row ready for insertion. ID is assigned by the caller.
type NewTransaction struct {
	ID          string
	UserID      string
	Date        time.Time
	Vendor      string
	Description string
	AmountCents int64
	Source      TransactionSource
	AIEligible  bool
}

// ImportResult summarizes a completed import batch.
type ImportResult struct {
	Inserted     int      `json:"inserted"`
	AIEligible   int      `json:"ai_eligible"`
	AIIneligible int      `json:"ai_ineligible"`
	OverLimit    bool     `json:"over_limit"`
	Plan         PlanID   `json:"plan"`
	Cap          Cap      `json:"cap"`
	IDs          []string `json:"ids"`
}

// CategorizationJob is the queue payload asking the worker to categorize a
// set of AI-eligible transactions belonging to one user.
type CategorizationJob struct {
	JobID          string    `json:"job_id"`
	UserID         string    `json:"user_id"`
	TransactionIDs []string  `json:"transaction_ids"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// CategoryAssignment is the outcome of categorizing one transaction.
type CategoryAssignment struct {
	TransactionID string
	Category      string
	Deductible    bool
}

// ListTransactionsParams selects a page of a user's transactions, newest first.
type ListTransactionsParams struct {
	Limit  int
	Cursor string
}

// ExpenseCategories is the fixed set of categories the categorizer may
// assign. Anything else returned by the model is stored as "Other".
var ExpenseCategories = []string{
	"Advertising",
	"Bank Fees",
	"Contractors",
	"Meals",
	"Office Supplies",
	"Rent",
	"Software",
	"Travel",
	"Utilities",
	"Income",
	"Other",
}

// IsExpenseCategory reports whether name is one of ExpenseCategories.
func IsExpenseCategory(name string) bool {
	for _, c := range ExpenseCategories {
		if c == name {
			return true
		}
	}
	return false
}

// Package handlers contains the HTTP handlers for the ExpenseTerminal API.
// Each handler declares the narrow service interfaces it depends on and is
// wired with concrete implementations in cmd/api.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"expenseterminal/internal/billing"
	"expenseterminal/internal/core"
	"expenseterminal/internal/types"
)

const (
	defaultInvoiceLimit = 20
	maxInvoiceLimit     = 100
)

// CheckoutService starts upgrades and opens the billing portal.
// *billing.Checkout satisfies it.
type CheckoutService interface {
	Start(ctx context.Context, userID, email string, plan types.PlanID, urls types.RedirectURLs, portalReturnURL string) (*billing.CheckoutOutcome, error)
	Portal(ctx context.Context, userID, returnURL string) (string, error)
	CustomerID(ctx context.Context, userID string) (string, error)
}

// InvoiceLister reads billing history from the payments provider.
type InvoiceLister interface {
	GetInvoices(ctx context.Context, customerID string, params types.ListInvoicesParams) ([]*types.Invoice, types.PageInfo, error)
}

// UsageReporter computes the usage snapshot. *billing.UsageAggregator
// satisfies it.
type UsageReporter interface {
	GetUsageSnapshot(ctx context.Context, userID string) (*types.UsageSnapshot, error)
}

// PlanLister lists purchasable and free plans. *billing.Catalog satisfies it.
type PlanLister interface {
	All() []billing.PlanDefinition
}

// CreateCheckoutRequest is the body of POST /v1/billing/checkout-session.
// Redirect URLs are never accepted from the client.
type CreateCheckoutRequest struct {
	Plan types.PlanID `json:"plan" validate:"required,paid_plan"`
}

// PortalResponse is the body returned by POST /v1/billing/portal-session.
type PortalResponse struct {
	URL string `json:"url"`
}

// BillingHandler serves plan, checkout, invoice and usage endpoints.
type BillingHandler struct {
	checkout     CheckoutService
	invoices     InvoiceLister
	usage        UsageReporter
	plans        PlanLister
	validator    *core.Validator
	dashboardURL string
	logger       *slog.Logger
}

// NewBillingHandler creates a BillingHandler. dashboardURL is the web app
// origin used to build every redirect target.
func NewBillingHandler(
	checkout CheckoutService,
	invoices InvoiceLister,
	usage UsageReporter,
	plans PlanLister,
	dashboardURL string,
	v *core.Validator,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	return &BillingHandler{
		checkout:     checkout,
		invoices:     invoices,
		usage:        usage,
		plans:        plans,
		validator:    v,
		dashboardURL: dashboardURL,
		logger:       l,
	}
}

// RegisterRoutes mounts the billing and usage endpoints on an authenticated
// router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout-session", h.CreateCheckoutSession)
	r.Post("/billing/portal-session", h.CreatePortalSession)
	r.Get("/billing/invoices", h.GetInvoices)
	r.Get("/billing/plans", h.ListPlans)
	r.Get("/usage", h.GetUsage)
}

func (h *BillingHandler) redirectURLs() types.RedirectURLs {
	return types.RedirectURLs{
		Success: h.dashboardURL + "/billing?checkout=success&session_id={CHECKOUT_SESSION_ID}",
		Cancel:  h.dashboardURL + "/billing?checkout=canceled",
	}
}

func (h *BillingHandler) portalReturnURL() string {
	return h.dashboardURL + "/billing"
}

// CreateCheckoutSession handles POST /v1/billing/checkout-session. The
// response mode is "portal" when the user already pays and should change
// plans there, otherwise "checkout" with a new session.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.UserIDFrom(w, r)
	if !ok {
		return
	}

	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPlan, "plan must be starter or plus", err))
		return
	}

	email := types.GetUserEmail(r.Context())
	outcome, err := h.checkout.Start(r.Context(), userID, email, req.Plan, h.redirectURLs(), h.portalReturnURL())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to start checkout",
			"user_id", userID,
			"plan", req.Plan,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout started",
		"user_id", userID,
		"plan", req.Plan,
		"mode", outcome.Mode,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: outcome})
}

// CreatePortalSession handles POST /v1/billing/portal-session. Users who
// never checked out have no customer and get 404.
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.UserIDFrom(w, r)
	if !ok {
		return
	}

	url, err := h.checkout.Portal(r.Context(), userID, h.portalReturnURL())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PortalResponse{URL: url}})
}

// GetInvoices handles GET /v1/billing/invoices?limit&cursor.
func (h *BillingHandler) GetInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.UserIDFrom(w, r)
	if !ok {
		return
	}

	params := types.ListInvoicesParams{Limit: defaultInvoiceLimit, Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxInvoiceLimit {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"limit must be a number between 1 and 100", nil))
			return
		}
		params.Limit = limit
	}

	customerID, err := h.checkout.CustomerID(r.Context(), userID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundCustomer {
			// Never billed: an empty history, not an error.
			core.JSON(w, r, http.StatusOK, core.APIResponse{
				Data: []*types.Invoice{},
				Meta: &types.ResponseMeta{Pagination: &types.PageInfo{}},
			})
			return
		}
		core.Error(w, r, err)
		return
	}

	invoices, page, err := h.invoices.GetInvoices(r.Context(), customerID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []*types.Invoice{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: invoices,
		Meta: &types.ResponseMeta{Pagination: &page},
	})
}

// ListPlans handles GET /v1/billing/plans.
func (h *BillingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.plans.All()})
}

// GetUsage handles GET /v1/usage.
func (h *BillingHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := core.UserIDFrom(w, r)
	if !ok {
		return
	}

	snapshot, err := h.usage.GetUsageSnapshot(r.Context(), userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to compute usage snapshot",
			"user_id", userID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snapshot})
}

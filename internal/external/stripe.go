package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"expenseterminal/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the settings for a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // tests point this at httptest
	Logger    *slog.Logger
}

// StripeClient calls the Stripe REST API through BaseClient. Requests are
// form-encoded and pinned to the API version of the linked stripe-go release.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient with Stripe's retry policy.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"ExpenseTerminal/1.0",
		WithUpstreamCode(types.ErrCodeUpstreamStripe),
		WithLogger(logger),
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient on a preconfigured
// BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// CreateCheckoutSession opens a subscription checkout for one price. The
// user id travels as client_reference_id and the plan as metadata so the
// checkout.session.completed webhook can create the subscription row.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p types.CheckoutParams) (string, string, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("client_reference_id", p.UserID)
	form.Set("success_url", p.Redirect.Success)
	form.Set("cancel_url", p.Redirect.Cancel)
	form.Set("line_items[0][price]", p.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[user_id]", p.UserID)
	form.Set("metadata[plan]", string(p.Plan))
	form.Set("subscription_data[metadata][user_id]", p.UserID)
	form.Set("subscription_data[metadata][plan]", string(p.Plan))
	switch {
	case p.CustomerID != "":
		form.Set("customer", p.CustomerID)
	case p.Email != "":
		form.Set("customer_email", p.Email)
	}

	var session stripeCheckoutSession
	if err := s.call(ctx, http.MethodPost, "/v1/checkout/sessions", form, "CreateCheckoutSession", &session); err != nil {
		return "", "", err
	}

	s.logger.InfoContext(ctx, "stripe checkout session created",
		"user_id", p.UserID,
		"plan", p.Plan,
		"session_id", session.ID,
	)
	return session.URL, session.ID, nil
}

// CreatePortalSession opens the Stripe billing portal for a customer.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	var session stripePortalSession
	if err := s.call(ctx, http.MethodPost, "/v1/billing_portal/sessions", form, "CreatePortalSession", &session); err != nil {
		return "", err
	}
	return session.URL, nil
}

// GetInvoices lists a customer's invoices newest first. The cursor is the
// last invoice id of the previous page, passed as starting_after.
func (s *StripeClient) GetInvoices(ctx context.Context, customerID string, params types.ListInvoicesParams) ([]*types.Invoice, types.PageInfo, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	q := url.Values{}
	q.Set("customer", customerID)
	q.Set("limit", strconv.Itoa(limit))
	if params.Cursor != "" {
		q.Set("starting_after", params.Cursor)
	}

	var list stripeInvoiceList
	if err := s.call(ctx, http.MethodGet, "/v1/invoices", q, "GetInvoices", &list); err != nil {
		return nil, types.PageInfo{}, err
	}

	invoices := make([]*types.Invoice, 0, len(list.Data))
	for i := range list.Data {
		invoices = append(invoices, mapStripeInvoice(&list.Data[i]))
	}

	page := types.PageInfo{HasMore: list.HasMore}
	if list.HasMore && len(list.Data) > 0 {
		page.NextCursor = list.Data[len(list.Data)-1].ID
	}
	return invoices, page, nil
}

// call sends one request and decodes a 200 response into out.
func (s *StripeClient) call(ctx context.Context, method, path string, params url.Values, op string, out any) error {
	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		u := s.baseURL + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, s.baseURL+path, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, op+": failed to build Stripe request", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		return wrapStripeError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return handleStripeErrorResponse(resp, op)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe, op+": failed to decode Stripe response", err)
	}
	return nil
}

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

func handleStripeErrorResponse(resp *http.Response, op string) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned %d with an unreadable body", op, resp.StatusCode), err)
	}

	var se stripeErrorResponse
	if err := json.Unmarshal(body, &se); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned %d with a non-JSON body", op, resp.StatusCode), err)
	}
	return mapStripeError(op, resp.StatusCode, &se.Error)
}

func mapStripeError(op string, status int, se *stripeErrorBody) error {
	if se.Code == "card_declined" || se.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", op, se.Message),
			nil,
			map[string]any{"decline_code": se.DeclineCode, "stripe_code": se.Code},
		)
	}

	switch {
	case status == http.StatusNotFound || se.Code == "resource_missing":
		return types.NewAppError(types.ErrCodeNotFoundCustomer,
			fmt.Sprintf("%s: Stripe resource not found: %s", op, se.Message), nil)
	case status == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, op+": Stripe rate limit exceeded", nil)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", op, status, se.Message), nil,
			map[string]any{"stripe_type": se.Type, "param": se.Param})
	}
}

func wrapStripeError(op string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe, op+": Stripe request failed", err)
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeInvoice struct {
	ID                string `json:"id"`
	AmountDue         int64  `json:"amount_due"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	PeriodStart       int64  `json:"period_start"`
	PeriodEnd         int64  `json:"period_end"`
	InvoicePDF        string `json:"invoice_pdf"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

type stripeInvoiceList struct {
	Data    []stripeInvoice `json:"data"`
	HasMore bool            `json:"has_more"`
}

func mapStripeInvoice(si *stripeInvoice) *types.Invoice {
	inv := &types.Invoice{
		ID:          si.ID,
		AmountCents: si.AmountDue,
		Currency:    si.Currency,
		Status:      si.Status,
		PeriodStart: time.Unix(si.PeriodStart, 0).UTC(),
		PeriodEnd:   time.Unix(si.PeriodEnd, 0).UTC(),
		PDFURL:      si.InvoicePDF,
	}
	if si.StatusTransitions.PaidAt > 0 {
		paid := time.Unix(si.StatusTransitions.PaidAt, 0).UTC()
		inv.PaidAt = &paid
	}
	return inv
}

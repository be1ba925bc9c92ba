package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"expenseterminal/internal/core"
	"expenseterminal/internal/external"
	"expenseterminal/internal/metrics"
	"expenseterminal/internal/types"
)

// maxWebhookBodySize caps webhook payloads. Stripe events are well under it.
const maxWebhookBodySize = 64 * 1024

// LifecycleApplier reconciles subscription state changes.
// *billing.Reconciler satisfies it.
type LifecycleApplier interface {
	ApplyLifecycleEvent(ctx context.Context, ev types.LifecycleEvent) error
}

// CheckoutRecorder persists the subscription created by a completed checkout.
// *db.SubscriptionRepo satisfies it.
type CheckoutRecorder interface {
	RecordCheckout(ctx context.Context, rec types.CheckoutRecord) error
}

// errIgnoredEvent marks a well-formed event that carries nothing actionable.
// It is acknowledged so Stripe stops redelivering it.
var errIgnoredEvent = errors.New("event ignored")

// stripeWebhookEvent is the envelope of every Stripe event.
type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSubscriptionObject struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CurrentPeriodEnd  *int64 `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd *int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// periodEnd prefers the subscription-level field and falls back to the first
// item, where newer API versions report it.
func (s stripeSubscriptionObject) periodEnd() *int64 {
	if s.CurrentPeriodEnd != nil {
		return s.CurrentPeriodEnd
	}
	if len(s.Items.Data) > 0 {
		return s.Items.Data[0].CurrentPeriodEnd
	}
	return nil
}

type stripeCheckoutSessionObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// StripeWebhookHandler receives Stripe events. Processing failures answer
// 500 so Stripe redelivers; every write it performs is idempotent.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler LifecycleApplier
	checkouts  CheckoutRecorder
	metrics    metrics.Recorder
	secret     types.SecretString
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler. A nil recorder
// disables webhook metrics.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	reconciler LifecycleApplier,
	checkouts CheckoutRecorder,
	recorder metrics.Recorder,
	secret types.SecretString,
	l *slog.Logger,
) *StripeWebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		checkouts:  checkouts,
		metrics:    recorder,
		secret:     secret,
		logger:     l,
	}
}

// RegisterRoutes mounts the webhook on a public (unauthenticated) router.
// The Stripe signature is the only credential.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle handles POST /webhooks/stripe.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidEvent, "failed to read webhook body", err))
		return
	}
	if len(payload) > maxWebhookBodySize {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidEvent, "webhook body too large", nil))
		return
	}

	header := r.Header.Get("Stripe-Signature")
	if header == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing Stripe-Signature header", nil))
		return
	}
	if err := h.verifier.Verify(payload, header, h.secret.Unmask()); err != nil {
		h.logger.WarnContext(r.Context(), "stripe webhook signature rejected", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid webhook signature", err))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil || event.Type == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidEvent, "malformed webhook event", err))
		return
	}

	log := h.logger.With("event_id", event.ID, "event_type", event.Type)

	err = h.routeEvent(r.Context(), event)
	switch {
	case err == nil:
		h.metrics.RecordWebhook(r.Context(), event.Type, metrics.ResultSuccess)
	case errors.Is(err, errIgnoredEvent):
		log.InfoContext(r.Context(), "stripe event ignored", "reason", err)
		h.metrics.RecordWebhook(r.Context(), event.Type, metrics.ResultIgnored)
	default:
		log.ErrorContext(r.Context(), "stripe event processing failed", "error", err)
		h.metrics.RecordWebhook(r.Context(), event.Type, metrics.ResultFailure)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event stripeWebhookEvent) error {
	switch event.Type {
	case external.EventStripeSubUpdated, external.EventStripeSubDeleted:
		return h.handleSubscriptionChange(ctx, event)
	case external.EventStripeCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)
	default:
		return errIgnoredEvent
	}
}

func (h *StripeWebhookHandler) handleSubscriptionChange(ctx context.Context, event stripeWebhookEvent) error {
	var sub stripeSubscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidEvent, "malformed subscription object", err)
	}
	if sub.ID == "" {
		return errIgnoredEvent
	}

	status := sub.Status
	if event.Type == external.EventStripeSubDeleted {
		status = string(types.SubStatusCanceled)
	}

	return h.reconciler.ApplyLifecycleEvent(ctx, types.LifecycleEvent{
		ExternalSubscriptionID:       sub.ID,
		Status:                       status,
		CurrentPeriodEndEpochSeconds: sub.periodEnd(),
		CancelAtPeriodEnd:            sub.CancelAtPeriodEnd,
	})
}

// handleCheckoutCompleted creates the subscription row. The session's plan
// and user come from what checkout creation attached to it.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripeWebhookEvent) error {
	var sess stripeCheckoutSessionObject
	if err := json.Unmarshal(event.Data.Object, &sess); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidEvent, "malformed checkout session", err)
	}
	if sess.Mode != "subscription" || sess.Subscription == "" {
		return errIgnoredEvent
	}

	userID := sess.ClientReferenceID
	if userID == "" {
		userID = sess.Metadata["user_id"]
	}
	plan := types.PlanID(sess.Metadata["plan"])
	if userID == "" || !plan.IsPaid() {
		h.logger.WarnContext(ctx, "checkout session missing user or plan",
			"session_id", sess.ID,
			"plan", plan,
		)
		return errIgnoredEvent
	}

	created := time.Now().UTC()
	if event.Created > 0 {
		created = time.Unix(event.Created, 0).UTC()
	}

	return h.checkouts.RecordCheckout(ctx, types.CheckoutRecord{
		UserID:               userID,
		PlanID:               plan,
		Status:               types.SubStatusActive,
		StripeCustomerID:     sess.Customer,
		StripeSubscriptionID: sess.Subscription,
		CreatedAt:            created,
	})
}

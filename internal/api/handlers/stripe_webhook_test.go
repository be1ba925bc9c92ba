package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"expenseterminal/internal/external"
	"expenseterminal/internal/metrics"
	"expenseterminal/internal/types"
)

type mockWebhookVerifier struct {
	err       error
	gotSecret string
}

func (m *mockWebhookVerifier) Verify(_ []byte, _ string, secret string) error {
	m.gotSecret = secret
	return m.err
}

type mockLifecycleApplier struct {
	events []types.LifecycleEvent
	err    error
}

func (m *mockLifecycleApplier) ApplyLifecycleEvent(_ context.Context, ev types.LifecycleEvent) error {
	m.events = append(m.events, ev)
	return m.err
}

type mockCheckoutRecorder struct {
	records []types.CheckoutRecord
	err     error
}

func (m *mockCheckoutRecorder) RecordCheckout(_ context.Context, rec types.CheckoutRecord) error {
	m.records = append(m.records, rec)
	return m.err
}

type webhookCall struct {
	EventType string
	Result    string
}

type mockWebhookMetrics struct {
	metrics.NoopRecorder
	calls []webhookCall
}

func (m *mockWebhookMetrics) RecordWebhook(_ context.Context, eventType, result string) {
	m.calls = append(m.calls, webhookCall{eventType, result})
}

type webhookFixture struct {
	verifier   *mockWebhookVerifier
	reconciler *mockLifecycleApplier
	checkouts  *mockCheckoutRecorder
	metrics    *mockWebhookMetrics
	handler    *StripeWebhookHandler
}

func newWebhookFixture() *webhookFixture {
	f := &webhookFixture{
		verifier:   &mockWebhookVerifier{},
		reconciler: &mockLifecycleApplier{},
		checkouts:  &mockCheckoutRecorder{},
		metrics:    &mockWebhookMetrics{},
	}
	f.handler = NewStripeWebhookHandler(f.verifier, f.reconciler, f.checkouts, f.metrics,
		types.SecretString("whsec_test"), discardLogger())
	return f
}

func buildStripeEvent(t *testing.T, eventType string, created int64, object map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":      "evt_1",
		"type":    eventType,
		"created": created,
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func (f *webhookFixture) post(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	f.handler.Handle(rec, req)
	return rec
}

func (f *webhookFixture) lastResult(t *testing.T) string {
	t.Helper()
	if len(f.metrics.calls) == 0 {
		t.Fatal("no webhook metric recorded")
	}
	return f.metrics.calls[len(f.metrics.calls)-1].Result
}

func TestWebhook_SubscriptionUpdated(t *testing.T) {
	f := newWebhookFixture()
	payload := buildStripeEvent(t, external.EventStripeSubUpdated, 1760000000, map[string]any{
		"id":                   "sub_1",
		"status":               "past_due",
		"current_period_end":   1762592000,
		"cancel_at_period_end": true,
	})

	rec := f.post(payload, "t=1,v1=abc")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if f.verifier.gotSecret != "whsec_test" {
		t.Errorf("verifier secret = %q", f.verifier.gotSecret)
	}
	if len(f.reconciler.events) != 1 {
		t.Fatalf("events = %d", len(f.reconciler.events))
	}
	ev := f.reconciler.events[0]
	if ev.ExternalSubscriptionID != "sub_1" || ev.Status != "past_due" || !ev.CancelAtPeriodEnd {
		t.Errorf("event = %+v", ev)
	}
	if ev.CurrentPeriodEndEpochSeconds == nil || *ev.CurrentPeriodEndEpochSeconds != 1762592000 {
		t.Errorf("period end = %v", ev.CurrentPeriodEndEpochSeconds)
	}
	if got := f.lastResult(t); got != metrics.ResultSuccess {
		t.Errorf("metric result = %s", got)
	}
}

func TestWebhook_PeriodEndFromItems(t *testing.T) {
	f := newWebhookFixture()
	payload := buildStripeEvent(t, external.EventStripeSubUpdated, 1760000000, map[string]any{
		"id":     "sub_1",
		"status": "active",
		"items": map[string]any{
			"data": []map[string]any{{"current_period_end": 1765000000}},
		},
	})

	if rec := f.post(payload, "sig"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	ev := f.reconciler.events[0]
	if ev.CurrentPeriodEndEpochSeconds == nil || *ev.CurrentPeriodEndEpochSeconds != 1765000000 {
		t.Errorf("period end = %v", ev.CurrentPeriodEndEpochSeconds)
	}
}

func TestWebhook_SubscriptionDeletedForcesCanceled(t *testing.T) {
	f := newWebhookFixture()
	payload := buildStripeEvent(t, external.EventStripeSubDeleted, 1760000000, map[string]any{
		"id":     "sub_1",
		"status": "active",
	})

	if rec := f.post(payload, "sig"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := f.reconciler.events[0].Status; got != string(types.SubStatusCanceled) {
		t.Errorf("status = %s, want canceled", got)
	}
}

func TestWebhook_ReconcileFailureAsksForRedelivery(t *testing.T) {
	f := newWebhookFixture()
	f.reconciler.err = types.NewAppError(types.ErrCodeInternalDB, "update failed", errors.New("conn reset"))
	payload := buildStripeEvent(t, external.EventStripeSubUpdated, 1760000000, map[string]any{"id": "sub_1", "status": "active"})

	rec := f.post(payload, "sig")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := f.lastResult(t); got != metrics.ResultFailure {
		t.Errorf("metric result = %s", got)
	}
}

func TestWebhook_CheckoutCompleted(t *testing.T) {
	f := newWebhookFixture()
	payload := buildStripeEvent(t, external.EventStripeCheckoutCompleted, 1760000000, map[string]any{
		"id":                  "cs_1",
		"mode":                "subscription",
		"client_reference_id": "user_42",
		"customer":            "cus_9",
		"subscription":        "sub_9",
		"metadata":            map[string]string{"plan": "plus", "user_id": "user_42"},
	})

	if rec := f.post(payload, "sig"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(f.checkouts.records) != 1 {
		t.Fatalf("records = %d", len(f.checkouts.records))
	}
	got := f.checkouts.records[0]
	want := types.CheckoutRecord{
		UserID:               "user_42",
		PlanID:               types.PlanPlus,
		Status:               types.SubStatusActive,
		StripeCustomerID:     "cus_9",
		StripeSubscriptionID: "sub_9",
		CreatedAt:            time.Unix(1760000000, 0).UTC(),
	}
	if got != want {
		t.Errorf("record = %+v, want %+v", got, want)
	}
}

func TestWebhook_CheckoutUserFromMetadata(t *testing.T) {
	f := newWebhookFixture()
	payload := buildStripeEvent(t, external.EventStripeCheckoutCompleted, 1760000000, map[string]any{
		"mode":         "subscription",
		"customer":     "cus_9",
		"subscription": "sub_9",
		"metadata":     map[string]string{"plan": "starter", "user_id": "user_7"},
	})

	f.post(payload, "sig")

	if len(f.checkouts.records) != 1 || f.checkouts.records[0].UserID != "user_7" {
		t.Errorf("records = %+v", f.checkouts.records)
	}
}

func TestWebhook_CheckoutIgnored(t *testing.T) {
	tests := []struct {
		name   string
		object map[string]any
	}{
		{"payment mode", map[string]any{"mode": "payment", "client_reference_id": "u", "metadata": map[string]string{"plan": "plus"}}},
		{"no user", map[string]any{"mode": "subscription", "subscription": "sub_1", "metadata": map[string]string{"plan": "plus"}}},
		{"free plan", map[string]any{"mode": "subscription", "subscription": "sub_1", "client_reference_id": "u", "metadata": map[string]string{"plan": "free"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture()
			rec := f.post(buildStripeEvent(t, external.EventStripeCheckoutCompleted, 1, tt.object), "sig")

			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
			if len(f.checkouts.records) != 0 {
				t.Error("nothing should be recorded")
			}
			if got := f.lastResult(t); got != metrics.ResultIgnored {
				t.Errorf("metric result = %s", got)
			}
		})
	}
}

func TestWebhook_UnknownEventAcknowledged(t *testing.T) {
	f := newWebhookFixture()
	rec := f.post(buildStripeEvent(t, "invoice.paid", 1, map[string]any{"id": "in_1"}), "sig")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if len(f.reconciler.events)+len(f.checkouts.records) != 0 {
		t.Error("unknown events must not write")
	}
	if got := f.lastResult(t); got != metrics.ResultIgnored {
		t.Errorf("metric result = %s", got)
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	f := newWebhookFixture()
	rec := f.post(buildStripeEvent(t, external.EventStripeSubUpdated, 1, map[string]any{"id": "sub_1"}), "")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(types.ErrCodeAuthTokenMissing) {
		t.Errorf("code = %s", code)
	}
}

func TestWebhook_BadSignature(t *testing.T) {
	f := newWebhookFixture()
	f.verifier.err = errors.New("no valid signature")
	rec := f.post(buildStripeEvent(t, external.EventStripeSubUpdated, 1, map[string]any{"id": "sub_1"}), "t=1,v1=bad")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
	if len(f.reconciler.events) != 0 {
		t.Error("unverified events must not be applied")
	}
	if len(f.metrics.calls) != 0 {
		t.Error("rejected deliveries are not counted as events")
	}
}

func TestWebhook_MalformedPayload(t *testing.T) {
	f := newWebhookFixture()
	rec := f.post([]byte(`{"type":`), "sig")

	if code := errorCode(t, rec); code != string(types.ErrCodeValidationInvalidEvent) {
		t.Errorf("code = %s", code)
	}
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	f := newWebhookFixture()
	payload := []byte(`{"type":"x","pad":"` + strings.Repeat("a", maxWebhookBodySize) + `"}`)

	rec := f.post(payload, "sig")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

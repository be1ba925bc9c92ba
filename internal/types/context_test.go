package types

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestUserIDRoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), "user_123")

	id, ok := GetUserID(ctx)
	if !ok || id != "user_123" {
		t.Errorf("GetUserID() = (%q, %v), want (user_123, true)", id, ok)
	}
}

func TestGetUserID_Missing(t *testing.T) {
	if _, ok := GetUserID(context.Background()); ok {
		t.Error("GetUserID on empty context should report false")
	}
	if _, ok := GetUserID(WithUserID(context.Background(), "")); ok {
		t.Error("GetUserID with empty ID should report false")
	}
}

func TestRequestID(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID on empty context = %q", got)
	}
	ctx := WithRequestID(context.Background(), "req_abc")
	if got := GetRequestID(ctx); got != "req_abc" {
		t.Errorf("GetRequestID() = %q, want req_abc", got)
	}
}

func TestSecretString_NeverPrints(t *testing.T) {
	const raw = "sk_live_abcdef"
	s := SecretString(raw)

	if strings.Contains(fmt.Sprintf("%s %v", s, s), raw) {
		t.Error("fmt leaked the raw secret")
	}
	b, _ := json.Marshal(struct{ Key SecretString }{s})
	if strings.Contains(string(b), raw) {
		t.Errorf("json leaked the raw secret: %s", b)
	}
	if s.Unmask() != raw {
		t.Error("Unmask() should return the raw value")
	}
	if !s.IsSet() || SecretString("").IsSet() {
		t.Error("IsSet() mismatch")
	}
}

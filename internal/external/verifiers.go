package external

import (
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeVerifier checks Stripe-Signature headers with stripe-go's HMAC-SHA256
// verification, including the timestamp tolerance.
type StripeVerifier struct {
	// Tolerance overrides webhook.DefaultTolerance when non-zero.
	Tolerance time.Duration
}

// Verify validates payload against header and the signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	if v.Tolerance > 0 {
		return webhook.ValidatePayloadWithTolerance(payload, header, secret, v.Tolerance)
	}
	return webhook.ValidatePayload(payload, header, secret)
}

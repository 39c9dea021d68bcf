package billing_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/lumeapp/billingd/pkg/billing"
)

const stripeWebhookSecret = "whsec_test"

func newStripeProvider(t *testing.T) *billing.StripeProvider {
	t.Helper()

	p, err := billing.NewStripeProvider(billing.StripeConfig{
		APIKey:        "sk_test_123",
		WebhookSecret: stripeWebhookSecret,
	}, testCatalog(t))
	require.NoError(t, err)
	return p
}

// signedStripeEvent wraps an event object in a webhook envelope and signs it
// the way Stripe does, so ParseWebhook exercises real signature verification.
func signedStripeEvent(t *testing.T, eventType, object string) (payload []byte, header string) {
	t.Helper()

	body := fmt.Sprintf(`{"id":"evt_1","api_version":%q,"type":%q,"created":%d,"data":{"object":%s}}`,
		stripe.APIVersion, eventType, time.Now().Unix(), object)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(body),
		Secret:  stripeWebhookSecret,
	})
	return signed.Payload, signed.Header
}

func TestNewStripeProvider(t *testing.T) {
	t.Parallel()

	t.Run("missing api key", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewStripeProvider(billing.StripeConfig{
			WebhookSecret: stripeWebhookSecret,
		}, testCatalog(t))
		assert.ErrorIs(t, err, billing.ErrMissingAPIKey)
	})

	t.Run("missing webhook secret", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewStripeProvider(billing.StripeConfig{
			APIKey: "sk_test_123",
		}, testCatalog(t))
		assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)
	})

	t.Run("nil catalog panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() {
			_, _ = billing.NewStripeProvider(billing.StripeConfig{
				APIKey:        "sk_test_123",
				WebhookSecret: stripeWebhookSecret,
			}, nil)
		})
	})
}

func TestStripeParseWebhook(t *testing.T) {
	t.Parallel()

	p := newStripeProvider(t)

	t.Run("bad signature rejected", func(t *testing.T) {
		t.Parallel()

		payload, _ := signedStripeEvent(t, "customer.subscription.updated", `{"id":"sub_1"}`)
		_, err := p.ParseWebhook(payload, "t=1,v1=deadbeef")
		assert.ErrorIs(t, err, billing.ErrSignatureInvalid)
	})

	t.Run("subscription event without items rejected as malformed", func(t *testing.T) {
		t.Parallel()

		payload, header := signedStripeEvent(t, "customer.subscription.updated",
			`{"id":"sub_1","customer":"cus_1","status":"active"}`)
		_, err := p.ParseWebhook(payload, header)
		assert.ErrorIs(t, err, billing.ErrMalformedEvent)
	})

	t.Run("subscription item without price rejected as malformed", func(t *testing.T) {
		t.Parallel()

		payload, header := signedStripeEvent(t, "customer.subscription.updated",
			`{"id":"sub_1","customer":"cus_1","status":"active","items":{"data":[{"id":"si_1"}]}}`)
		_, err := p.ParseWebhook(payload, header)
		assert.ErrorIs(t, err, billing.ErrMalformedEvent)
	})

	t.Run("subscription event without customer rejected as malformed", func(t *testing.T) {
		t.Parallel()

		payload, header := signedStripeEvent(t, "customer.subscription.updated",
			`{"id":"sub_1","status":"active","items":{"data":[{"id":"si_1","price":{"id":"price_pro_m"}}]}}`)
		_, err := p.ParseWebhook(payload, header)
		assert.ErrorIs(t, err, billing.ErrMalformedEvent)
	})

	t.Run("subscription updated carries full state", func(t *testing.T) {
		t.Parallel()

		payload, header := signedStripeEvent(t, "customer.subscription.updated",
			`{"id":"sub_1","customer":"cus_1","status":"active","cancel_at_period_end":true,
			"current_period_end":1738368000,
			"items":{"data":[{"id":"si_1","price":{"id":"price_pro_m"}}]}}`)
		ev, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)

		changed, ok := ev.(billing.StripeSubscriptionChanged)
		require.True(t, ok)
		assert.Equal(t, "evt_1", changed.Meta().EventID)
		assert.Equal(t, "cus_1", changed.Meta().CustomerID)
		assert.Equal(t, "sub_1", changed.SubscriptionID)
		assert.Equal(t, billing.StatusActive, changed.Status)
		assert.Equal(t, "price_pro_m", changed.PriceID)
		assert.Equal(t, time.Unix(1738368000, 0).UTC(), changed.CurrentPeriodEnd)
		assert.True(t, changed.CancelAtPeriodEnd)
	})

	t.Run("canceled status maps to expired", func(t *testing.T) {
		t.Parallel()

		payload, header := signedStripeEvent(t, "customer.subscription.updated",
			`{"id":"sub_1","customer":"cus_1","status":"canceled",
			"items":{"data":[{"id":"si_1","price":{"id":"price_pro_m"}}]}}`)
		ev, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)

		changed, ok := ev.(billing.StripeSubscriptionChanged)
		require.True(t, ok)
		assert.Equal(t, billing.StatusExpired, changed.Status)
	})

	t.Run("subscription deleted", func(t *testing.T) {
		t.Parallel()

		payload, header := signedStripeEvent(t, "customer.subscription.deleted",
			`{"id":"sub_1","customer":"cus_1","status":"canceled"}`)
		ev, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)

		deleted, ok := ev.(billing.StripeSubscriptionDeleted)
		require.True(t, ok)
		assert.Equal(t, "sub_1", deleted.SubscriptionID)
		assert.Equal(t, "cus_1", deleted.Meta().CustomerID)
	})

	t.Run("invoice payment succeeded", func(t *testing.T) {
		t.Parallel()

		payload, header := signedStripeEvent(t, "invoice.payment_succeeded",
			`{"id":"in_1","customer":"cus_1","subscription":"sub_1"}`)
		ev, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)

		paid, ok := ev.(billing.StripeInvoicePaid)
		require.True(t, ok)
		assert.Equal(t, "sub_1", paid.SubscriptionID)
	})

	t.Run("invoice payment failed", func(t *testing.T) {
		t.Parallel()

		payload, header := signedStripeEvent(t, "invoice.payment_failed",
			`{"id":"in_1","customer":"cus_1","subscription":"sub_1"}`)
		ev, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)

		_, ok := ev.(billing.StripeInvoiceFailed)
		assert.True(t, ok)
	})

	t.Run("one-off invoice ignored", func(t *testing.T) {
		t.Parallel()

		payload, header := signedStripeEvent(t, "invoice.payment_succeeded",
			`{"id":"in_1","customer":"cus_1"}`)
		ev, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)

		_, ok := ev.(billing.StripeIgnored)
		assert.True(t, ok)
	})

	t.Run("unsubscribed event type ignored", func(t *testing.T) {
		t.Parallel()

		payload, header := signedStripeEvent(t, "charge.refunded", `{"id":"ch_1"}`)
		ev, err := p.ParseWebhook(payload, header)
		require.NoError(t, err)

		ignored, ok := ev.(billing.StripeIgnored)
		require.True(t, ok)
		assert.Equal(t, "charge.refunded", ignored.Type)
	})
}

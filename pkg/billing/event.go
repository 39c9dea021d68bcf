package billing

import "time"

// Webhook events are modeled as one closed set of types per provider instead
// of strings switched on at every call site. Parsing classifies the
// provider's event-type string exactly once; everything downstream matches on
// concrete types, so an unmapped event cannot silently fall through; it
// becomes an explicit Ignored value.

// RevenueCatEvent is the closed set of IAP-broker webhook events.
// The interface is sealed by the unexported marker method.
type RevenueCatEvent interface {
	Meta() RCEventMeta
	revenueCatEvent()
}

// RCEventMeta carries the envelope fields shared by all broker events.
type RCEventMeta struct {
	EventID    string
	AppUserID  string // the broker's subject reference; our local user ID
	OccurredAt time.Time
}

func (m RCEventMeta) Meta() RCEventMeta { return m }
func (RCEventMeta) revenueCatEvent()    {}

// RCPurchase covers INITIAL_PURCHASE, RENEWAL and TRIAL_CONVERTED: the
// subscription is (or becomes) active and paid through ExpiresAt.
type RCPurchase struct {
	RCEventMeta
	ProductID     string
	TransactionID string // original transaction ID; doubles as the external subscription ID
	ExpiresAt     time.Time
}

// RCTrialStarted covers TRIAL_STARTED: a trial is running until ExpiresAt.
type RCTrialStarted struct {
	RCEventMeta
	ProductID     string
	TransactionID string
	ExpiresAt     time.Time
}

// RCTrialCancelled covers TRIAL_CANCELLED: auto-renew was turned off during
// the trial; entitlement continues until the trial ends.
type RCTrialCancelled struct {
	RCEventMeta
}

// RCCancellation covers CANCELLATION: auto-renew was turned off; the paid
// period keeps running.
type RCCancellation struct {
	RCEventMeta
	Reason string
}

// RCUncancellation covers UNCANCELLATION: auto-renew was turned back on.
type RCUncancellation struct {
	RCEventMeta
}

// RCExpiration covers EXPIRATION: the subscription ran out; unconditional
// downgrade to free.
type RCExpiration struct {
	RCEventMeta
}

// RCProductChange covers PRODUCT_CHANGE: the user switched to another
// product; status and cancellation flags are untouched.
type RCProductChange struct {
	RCEventMeta
	NewProductID string
	OldProductID string // analytics only, never written to the snapshot
}

// RCBillingIssue covers BILLING_ISSUE: a renewal charge failed; the broker
// may grant a grace period.
type RCBillingIssue struct {
	RCEventMeta
	GracePeriodEnd time.Time
}

// RCPaused covers SUBSCRIPTION_PAUSED (broker-specific; the card processor
// has no equivalent).
type RCPaused struct {
	RCEventMeta
}

// RCTransfer covers SUBSCRIBER_ALIAS and TRANSFER: identity bookkeeping,
// logged only, no state change.
type RCTransfer struct {
	RCEventMeta
	From []string
	To   []string
}

// RCIgnored covers TEST and any event type the parser does not recognize.
// Acknowledged, logged, never an error.
type RCIgnored struct {
	RCEventMeta
	Type string
}

// StripeEvent is the closed set of card-processor webhook events.
type StripeEvent interface {
	Meta() StripeEventMeta
	stripeEvent()
}

// StripeEventMeta carries the envelope fields shared by all processor events.
type StripeEventMeta struct {
	EventID    string
	CustomerID string // the processor's subject reference, mapped via the store
	OccurredAt time.Time
}

func (m StripeEventMeta) Meta() StripeEventMeta { return m }
func (StripeEventMeta) stripeEvent()            {}

// StripeSubscriptionChanged covers customer.subscription.created and
// customer.subscription.updated: a full canonical snapshot of the
// subscription as the processor sees it.
type StripeSubscriptionChanged struct {
	StripeEventMeta
	SubscriptionID    string
	Status            Status
	PriceID           string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
}

// StripeSubscriptionDeleted covers customer.subscription.deleted: the
// subscription ended; unconditional downgrade to free.
type StripeSubscriptionDeleted struct {
	StripeEventMeta
	SubscriptionID string
}

// StripeInvoicePaid covers invoice.payment_succeeded for subscription
// invoices.
type StripeInvoicePaid struct {
	StripeEventMeta
	SubscriptionID string
}

// StripeInvoiceFailed covers invoice.payment_failed for subscription
// invoices.
type StripeInvoiceFailed struct {
	StripeEventMeta
	SubscriptionID string
}

// StripeIgnored covers every event type the endpoint is not subscribed to.
type StripeIgnored struct {
	StripeEventMeta
	Type string
}

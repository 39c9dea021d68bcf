package billing

// ProviderID identifies one of the external billing systems.
type ProviderID string

const (
	ProviderStripe     ProviderID = "stripe"
	ProviderRevenueCat ProviderID = "revenuecat"
)

// Status represents the canonical state of a subscription, normalized across
// providers. StatusNone means the user has never had a paid subscription.
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusExpired           Status = "expired"
	StatusPaused            Status = "paused"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusUnpaid            Status = "unpaid"
	StatusNone              Status = "none"
)

// Cancellable reports whether a scheduled cancellation may be attached to a
// subscription in this status. CancelAtPeriodEnd may only be true for these
// three states.
func (s Status) Cancellable() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

// Entitled reports whether the status grants access to the paid plan.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

// Action describes what a subscribe command actually did.
type Action string

const (
	ActionSubscribed Action = "subscribed"
	ActionUpgraded   Action = "upgraded"
	ActionDowngraded Action = "downgraded"
	ActionResumed    Action = "resumed"
)

// IntentType tells the client which kind of confirmation the card processor
// expects: a setup intent when a trial delays the first charge, a payment
// intent when the first charge happens now.
type IntentType string

const (
	IntentSetup   IntentType = "setup"
	IntentPayment IntentType = "payment"
)

// EffectiveImmediate is the effective-date marker for changes applied now.
// Deferred changes report the current period end formatted with DateLayout.
const EffectiveImmediate = "immediate"

// DateLayout formats deferred effective dates in API responses.
const DateLayout = "2006-01-02"

// FactSource labels where a subscription fact came from, for logging and
// write attribution.
type FactSource string

const (
	SourceCommand           FactSource = "command"
	SourceRefresh           FactSource = "refresh"
	SourceStripeWebhook     FactSource = "stripe_webhook"
	SourceRevenueCatWebhook FactSource = "revenuecat_webhook"
)

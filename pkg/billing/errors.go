package billing

import "errors"

// Validation errors: the request itself is wrong.
var (
	ErrUnsupportedPlan = errors.New("billing: unsupported plan/period combination")
)

// Not-found errors: a required entity does not exist.
var (
	ErrSnapshotNotFound  = errors.New("billing: subscription snapshot not found")
	ErrNoBillingCustomer = errors.New("billing: user has no billing customer identity")
)

// Conflict errors: the command does not apply to the current state.
var (
	ErrNoActiveSubscription = errors.New("billing: no active subscription")
	ErrAlreadyCancelled     = errors.New("billing: subscription already scheduled for cancellation")
	ErrNotCancelled         = errors.New("billing: subscription has no pending cancellation")
	ErrPeriodAlreadyEnded   = errors.New("billing: paid period has already ended")
)

// Provider errors: an upstream call failed or timed out; safe to retry.
var (
	ErrProviderUnavailable  = errors.New("billing: payment provider unavailable")
	ErrUnsupportedOperation = errors.New("billing: operation not supported by this provider")
)

// Webhook errors.
var (
	ErrSignatureInvalid = errors.New("billing: webhook signature verification failed")
	ErrMalformedEvent   = errors.New("billing: malformed webhook payload")
)

// Reconciliation errors.
var (
	ErrStaleFact = errors.New("billing: fact is older than the stored snapshot")
)

// Provider configuration errors.
var (
	ErrMissingAPIKey        = errors.New("billing: provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing: provider webhook secret is required")
)

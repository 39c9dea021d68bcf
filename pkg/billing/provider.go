package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lumeapp/billingd/pkg/catalog"
)

// Change is a partial update to a Subscription record. Nil fields are left
// untouched by the Reconciler; set fields overwrite, including set-to-zero
// (an empty *SubscriptionID clears the external ID).
type Change struct {
	SubscriptionID    *string
	Provider          *ProviderID
	CustomerID        *string
	Status            *Status
	Plan              *catalog.Plan
	Period            *catalog.Period
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd *bool
	PriceID           *string
	ProductID         *string
}

// Empty reports whether the change carries no fields at all.
func (c Change) Empty() bool {
	return c.SubscriptionID == nil && c.Provider == nil && c.CustomerID == nil &&
		c.Status == nil && c.Plan == nil && c.Period == nil &&
		c.CurrentPeriodEnd == nil && c.CancelAtPeriodEnd == nil &&
		c.PriceID == nil && c.ProductID == nil
}

// Fact is a canonical subscription fact observed from a provider: a partial
// update plus the moment it was observed. EventID, when present, enables
// exact-duplicate suppression for webhook deliveries.
type Fact struct {
	Change     Change
	ObservedAt time.Time
	EventID    string
}

// ptr returns a pointer to v; used to build Change values concisely.
func ptr[T any](v T) *T { return &v }

// CreateParams carries everything a provider needs to create a subscription.
type CreateParams struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string // optional; provider falls back to the customer's default
}

// CreateResult is the outcome of a provider create call: the canonical fact
// plus whatever the client needs to finish confirmation.
type CreateResult struct {
	Fact         Fact
	IntentType   IntentType
	ClientSecret string
}

// ChangeParams describes a plan change on an existing provider subscription.
// Prorate=true applies the change immediately with proration (upgrade path);
// Prorate=false schedules it for the end of the current period (downgrade
// path) and the provider must leave the running period untouched.
type ChangeParams struct {
	SubscriptionID string
	PriceID        string
	Prorate        bool
}

// Provider is the capability every external billing system implements.
// Reconciliation never talks to a provider directly and stays
// provider-agnostic; adapters translate provider responses into canonical
// Facts. Adapters that cannot perform an operation (the IAP broker cannot
// mutate subscriptions server-side) return ErrUnsupportedOperation.
type Provider interface {
	// ID returns the stable provider identifier.
	ID() ProviderID

	// CreateCustomer creates (or looks up) the provider-side customer for a
	// local user and returns its identifier.
	CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error)

	// Create starts a new subscription for the customer.
	Create(ctx context.Context, params CreateParams) (*CreateResult, error)

	// ChangePlan moves an existing subscription to another price.
	ChangePlan(ctx context.Context, params ChangeParams) (*Fact, error)

	// Cancel schedules cancellation at the end of the current period.
	Cancel(ctx context.Context, subscriptionID string) (*Fact, error)

	// Resume clears a scheduled cancellation.
	Resume(ctx context.Context, subscriptionID string) (*Fact, error)

	// Fetch re-reads the canonical subscription state for a customer.
	Fetch(ctx context.Context, customerID string) (*Fact, error)
}

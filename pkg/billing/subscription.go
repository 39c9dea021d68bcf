package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumeapp/billingd/pkg/catalog"
)

// Subscription is the cached canonical view of a user's subscription.
// Each user has exactly one record; it is created implicitly the first time
// the user is observed and mutated in place afterwards, only ever through the
// Reconciler. Expiration is a state, never a deletion.
//
// Invariant: Plan == free ⇔ Status ∈ {none, expired} ⇔ ID empty.
type Subscription struct {
	UserID            uuid.UUID      `bson:"-" json:"user_id"`
	ID                string         `bson:"id,omitempty" json:"id,omitempty"` // provider's subscription ID, empty on free
	Provider          ProviderID     `bson:"provider,omitempty" json:"provider,omitempty"`
	CustomerID        string         `bson:"customer_id,omitempty" json:"-"` // card processor customer identity
	Status            Status         `bson:"status" json:"status"`
	Plan              catalog.Plan   `bson:"plan" json:"plan"`
	Period            catalog.Period `bson:"period,omitempty" json:"period,omitempty"`
	CurrentPeriodEnd  time.Time      `bson:"current_period_end,omitempty" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool           `bson:"cancel_at_period_end" json:"cancel_at_period_end"`
	PriceID           string         `bson:"price_id,omitempty" json:"-"`
	ProductID         string         `bson:"product_id,omitempty" json:"-"`
	LastSyncedAt      time.Time      `bson:"last_synced_at" json:"-"`
}

// FreeSubscription returns the implicit initial record for a user that has
// never subscribed.
func FreeSubscription(userID uuid.UUID) *Subscription {
	return &Subscription{
		UserID: userID,
		Status: StatusNone,
		Plan:   catalog.PlanFree,
	}
}

// HasProviderSubscription reports whether an external subscription backs this
// record.
func (s *Subscription) HasProviderSubscription() bool {
	return s.ID != ""
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

// Live reports whether the provider subscription is in a state commands may
// operate on: an existing subscription that has not terminally ended.
func (s *Subscription) Live() bool {
	return s.HasProviderSubscription() && s.Status.Entitled()
}

// CanScheduleCancellation reports whether a cancel command is valid: a live
// subscription without an already pending cancellation.
func (s *Subscription) CanScheduleCancellation() bool {
	return s.Live() && !s.CancelAtPeriodEnd
}

// CanResume reports whether a resume command is valid at the given time:
// a pending cancellation whose paid period has not run out yet.
func (s *Subscription) CanResume(now time.Time) bool {
	return s.HasProviderSubscription() && s.CancelAtPeriodEnd && s.CurrentPeriodEnd.After(now)
}

// Matches reports whether the record is already on the given tuple.
func (s *Subscription) Matches(plan catalog.Plan, period catalog.Period) bool {
	return s.Plan == plan && s.Period == period
}

// FreshAt reports whether the record was synchronized within the given
// window, measured at now.
func (s *Subscription) FreshAt(now time.Time, window time.Duration) bool {
	if s.LastSyncedAt.IsZero() {
		return false
	}
	return now.Sub(s.LastSyncedAt) < window
}

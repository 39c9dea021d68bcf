package billing_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/lumeapp/billingd/pkg/billing"
	"github.com/lumeapp/billingd/pkg/catalog"
)

func TestFreeSubscription(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	sub := billing.FreeSubscription(userID)

	assert.Equal(t, userID, sub.UserID)
	assert.Equal(t, billing.StatusNone, sub.Status)
	assert.Equal(t, catalog.PlanFree, sub.Plan)
	assert.Empty(t, sub.ID)
	assert.False(t, sub.HasProviderSubscription())
	assert.False(t, sub.Live())
}

func TestSubscriptionPredicates(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	t.Run("live active subscription", func(t *testing.T) {
		t.Parallel()

		sub := &billing.Subscription{ID: "sub_1", Status: billing.StatusActive}
		assert.True(t, sub.Live())
		assert.True(t, sub.CanScheduleCancellation())
	})

	t.Run("past due still entitled", func(t *testing.T) {
		t.Parallel()

		sub := &billing.Subscription{ID: "sub_1", Status: billing.StatusPastDue}
		assert.True(t, sub.Live())
	})

	t.Run("expired not live", func(t *testing.T) {
		t.Parallel()

		sub := &billing.Subscription{Status: billing.StatusExpired}
		assert.False(t, sub.Live())
		assert.False(t, sub.CanScheduleCancellation())
	})

	t.Run("pending cancellation blocks another cancel", func(t *testing.T) {
		t.Parallel()

		sub := &billing.Subscription{
			ID:                "sub_1",
			Status:            billing.StatusActive,
			CancelAtPeriodEnd: true,
		}
		assert.False(t, sub.CanScheduleCancellation())
	})

	t.Run("resume within period", func(t *testing.T) {
		t.Parallel()

		sub := &billing.Subscription{
			ID:                "sub_1",
			Status:            billing.StatusActive,
			CancelAtPeriodEnd: true,
			CurrentPeriodEnd:  now.Add(24 * time.Hour),
		}
		assert.True(t, sub.CanResume(now))
	})

	t.Run("resume after period end", func(t *testing.T) {
		t.Parallel()

		sub := &billing.Subscription{
			ID:                "sub_1",
			Status:            billing.StatusActive,
			CancelAtPeriodEnd: true,
			CurrentPeriodEnd:  now.Add(-time.Hour),
		}
		assert.False(t, sub.CanResume(now))
	})

	t.Run("matches tuple", func(t *testing.T) {
		t.Parallel()

		sub := &billing.Subscription{Plan: catalog.PlanPro, Period: catalog.PeriodMonthly}
		assert.True(t, sub.Matches(catalog.PlanPro, catalog.PeriodMonthly))
		assert.False(t, sub.Matches(catalog.PlanPro, catalog.PeriodYearly))
	})

	t.Run("freshness window", func(t *testing.T) {
		t.Parallel()

		sub := &billing.Subscription{LastSyncedAt: now.Add(-time.Minute)}
		assert.True(t, sub.FreshAt(now, 5*time.Minute))
		assert.False(t, sub.FreshAt(now, 30*time.Second))

		never := &billing.Subscription{}
		assert.False(t, never.FreshAt(now, 5*time.Minute))
	})
}

func TestStatusPredicates(t *testing.T) {
	t.Parallel()

	entitled := []billing.Status{billing.StatusActive, billing.StatusTrialing, billing.StatusPastDue}
	for _, s := range entitled {
		assert.True(t, s.Entitled(), "status %s", s)
		assert.True(t, s.Cancellable(), "status %s", s)
	}

	notEntitled := []billing.Status{
		billing.StatusCanceled, billing.StatusExpired, billing.StatusPaused,
		billing.StatusIncomplete, billing.StatusIncompleteExpired,
		billing.StatusUnpaid, billing.StatusNone,
	}
	for _, s := range notEntitled {
		assert.False(t, s.Entitled(), "status %s", s)
	}
}

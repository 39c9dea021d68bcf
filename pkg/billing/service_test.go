package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lumeapp/billingd/pkg/billing"
	"github.com/lumeapp/billingd/pkg/catalog"
)

type mockProvider struct {
	mock.Mock
	id billing.ProviderID
}

func (m *mockProvider) ID() billing.ProviderID { return m.id }

func (m *mockProvider) CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	args := m.Called(ctx, userID, email)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) Create(ctx context.Context, params billing.CreateParams) (*billing.CreateResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CreateResult), args.Error(1)
}

func (m *mockProvider) ChangePlan(ctx context.Context, params billing.ChangeParams) (*billing.Fact, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Fact), args.Error(1)
}

func (m *mockProvider) Cancel(ctx context.Context, subscriptionID string) (*billing.Fact, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Fact), args.Error(1)
}

func (m *mockProvider) Resume(ctx context.Context, subscriptionID string) (*billing.Fact, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Fact), args.Error(1)
}

func (m *mockProvider) Fetch(ctx context.Context, customerID string) (*billing.Fact, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Fact), args.Error(1)
}

type serviceFixture struct {
	svc   *billing.Service
	store *billing.MemoryStore
	card  *mockProvider
	iap   *mockProvider
	now   time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := billing.NewMemoryStore()
	card := &mockProvider{id: billing.ProviderStripe}
	iap := &mockProvider{id: billing.ProviderRevenueCat}
	now := time.Now().UTC()

	svc := billing.NewService(testCatalog(t), store, billing.NewReconciler(store), card, iap,
		billing.WithClock(func() time.Time { return now }),
	)
	return &serviceFixture{svc: svc, store: store, card: card, iap: iap, now: now}
}

// seed writes a snapshot directly, timestamped in the past so later command
// facts are never stale.
func (f *serviceFixture) seed(t *testing.T, userID uuid.UUID, change billing.Change) {
	t.Helper()
	_, err := f.store.Apply(context.Background(), userID, change, f.now.Add(-time.Hour))
	require.NoError(t, err)
}

func activeFact(subID string, plan catalog.Plan, period catalog.Period, priceID string, periodEnd time.Time) *billing.Fact {
	return &billing.Fact{
		Change: billing.Change{
			SubscriptionID:    ptrOf(subID),
			Provider:          ptrOf(billing.ProviderStripe),
			Status:            ptrOf(billing.StatusActive),
			Plan:              ptrOf(plan),
			Period:            ptrOf(period),
			PriceID:           ptrOf(priceID),
			CurrentPeriodEnd:  ptrOf(periodEnd),
			CancelAtPeriodEnd: ptrOf(false),
		},
		ObservedAt: time.Now().UTC(),
	}
}

func TestServiceSubscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rejects free plan", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.Subscribe(ctx, uuid.New(), billing.SubscribeParams{
			Plan: catalog.PlanFree, Period: catalog.PeriodMonthly,
		})
		assert.ErrorIs(t, err, billing.ErrUnsupportedPlan)
	})

	t.Run("rejects invalid period", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.Subscribe(ctx, uuid.New(), billing.SubscribeParams{
			Plan: catalog.PlanPro, Period: "weekly",
		})
		assert.ErrorIs(t, err, billing.ErrUnsupportedPlan)
	})

	t.Run("rejects tuple missing from catalog", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.Subscribe(ctx, uuid.New(), billing.SubscribeParams{
			Plan: catalog.PlanEnterprise, Period: catalog.PeriodMonthly,
		})
		assert.ErrorIs(t, err, billing.ErrUnsupportedPlan)
	})

	t.Run("first subscription creates customer and subscription", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		periodEnd := f.now.Add(30 * 24 * time.Hour)

		f.card.On("CreateCustomer", mock.Anything, userID, "u@example.com").Return("cus_1", nil)
		f.card.On("Create", mock.Anything, billing.CreateParams{
			CustomerID: "cus_1",
			PriceID:    "price_pro_m",
		}).Return(&billing.CreateResult{
			Fact:         *activeFact("sub_1", catalog.PlanPro, catalog.PeriodMonthly, "price_pro_m", periodEnd),
			IntentType:   billing.IntentPayment,
			ClientSecret: "pi_secret",
		}, nil)

		res, err := f.svc.Subscribe(ctx, userID, billing.SubscribeParams{
			Plan:   catalog.PlanPro,
			Period: catalog.PeriodMonthly,
			Email:  "u@example.com",
		})
		require.NoError(t, err)

		assert.Equal(t, billing.ActionSubscribed, res.Action)
		assert.Equal(t, billing.EffectiveImmediate, res.EffectiveDate)
		assert.Equal(t, "pi_secret", res.ClientSecret)
		assert.Equal(t, billing.IntentPayment, res.IntentType)
		assert.Equal(t, int64(999), res.Price.Amount)

		snap, err := f.store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "sub_1", snap.ID)
		assert.Equal(t, "cus_1", snap.CustomerID)
		f.card.AssertExpectations(t)
	})

	t.Run("existing customer reused", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		f.seed(t, userID, billing.Change{
			CustomerID: ptrOf("cus_1"),
			Status:     ptrOf(billing.StatusNone),
			Plan:       ptrOf(catalog.PlanFree),
		})

		periodEnd := f.now.Add(30 * 24 * time.Hour)
		f.card.On("Create", mock.Anything, mock.MatchedBy(func(p billing.CreateParams) bool {
			return p.CustomerID == "cus_1" && p.PriceID == "price_basic_m"
		})).Return(&billing.CreateResult{
			Fact: *activeFact("sub_1", catalog.PlanBasic, catalog.PeriodMonthly, "price_basic_m", periodEnd),
		}, nil)

		res, err := f.svc.Subscribe(ctx, userID, billing.SubscribeParams{
			Plan: catalog.PlanBasic, Period: catalog.PeriodMonthly,
		})
		require.NoError(t, err)
		assert.Equal(t, billing.ActionSubscribed, res.Action)
		f.card.AssertNotCalled(t, "CreateCustomer", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("upgrade applies immediately with proration", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		periodEnd := f.now.Add(20 * 24 * time.Hour)
		f.seed(t, userID, billing.Change{
			SubscriptionID:   ptrOf("sub_1"),
			Provider:         ptrOf(billing.ProviderStripe),
			CustomerID:       ptrOf("cus_1"),
			Status:           ptrOf(billing.StatusActive),
			Plan:             ptrOf(catalog.PlanBasic),
			Period:           ptrOf(catalog.PeriodMonthly),
			CurrentPeriodEnd: ptrOf(periodEnd),
		})

		f.card.On("ChangePlan", mock.Anything, billing.ChangeParams{
			SubscriptionID: "sub_1",
			PriceID:        "price_pro_m",
			Prorate:        true,
		}).Return(activeFact("sub_1", catalog.PlanPro, catalog.PeriodMonthly, "price_pro_m", periodEnd), nil)

		res, err := f.svc.Subscribe(ctx, userID, billing.SubscribeParams{
			Plan: catalog.PlanPro, Period: catalog.PeriodMonthly,
		})
		require.NoError(t, err)

		assert.Equal(t, billing.ActionUpgraded, res.Action)
		assert.Equal(t, billing.EffectiveImmediate, res.EffectiveDate)
		f.card.AssertExpectations(t)
	})

	t.Run("equal rank period change is an upgrade", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		periodEnd := f.now.Add(20 * 24 * time.Hour)
		f.seed(t, userID, billing.Change{
			SubscriptionID:   ptrOf("sub_1"),
			Provider:         ptrOf(billing.ProviderStripe),
			CustomerID:       ptrOf("cus_1"),
			Status:           ptrOf(billing.StatusActive),
			Plan:             ptrOf(catalog.PlanPro),
			Period:           ptrOf(catalog.PeriodMonthly),
			CurrentPeriodEnd: ptrOf(periodEnd),
		})

		f.card.On("ChangePlan", mock.Anything, billing.ChangeParams{
			SubscriptionID: "sub_1",
			PriceID:        "price_pro_y",
			Prorate:        true,
		}).Return(activeFact("sub_1", catalog.PlanPro, catalog.PeriodYearly, "price_pro_y", periodEnd), nil)

		res, err := f.svc.Subscribe(ctx, userID, billing.SubscribeParams{
			Plan: catalog.PlanPro, Period: catalog.PeriodYearly,
		})
		require.NoError(t, err)
		assert.Equal(t, billing.ActionUpgraded, res.Action)
	})

	t.Run("downgrade deferred to period end without proration", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		periodEnd := f.now.Add(20 * 24 * time.Hour)
		f.seed(t, userID, billing.Change{
			SubscriptionID:   ptrOf("sub_1"),
			Provider:         ptrOf(billing.ProviderStripe),
			CustomerID:       ptrOf("cus_1"),
			Status:           ptrOf(billing.StatusActive),
			Plan:             ptrOf(catalog.PlanPro),
			Period:           ptrOf(catalog.PeriodMonthly),
			CurrentPeriodEnd: ptrOf(periodEnd),
		})

		f.card.On("ChangePlan", mock.Anything, billing.ChangeParams{
			SubscriptionID: "sub_1",
			PriceID:        "price_basic_m",
			Prorate:        false,
		}).Return(activeFact("sub_1", catalog.PlanPro, catalog.PeriodMonthly, "price_pro_m", periodEnd), nil)

		res, err := f.svc.Subscribe(ctx, userID, billing.SubscribeParams{
			Plan: catalog.PlanBasic, Period: catalog.PeriodMonthly,
		})
		require.NoError(t, err)

		assert.Equal(t, billing.ActionDowngraded, res.Action)
		assert.Equal(t, periodEnd.Format(billing.DateLayout), res.EffectiveDate)
	})

	t.Run("pending cancellation resumed before change", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		periodEnd := f.now.Add(20 * 24 * time.Hour)
		f.seed(t, userID, billing.Change{
			SubscriptionID:    ptrOf("sub_1"),
			Provider:          ptrOf(billing.ProviderStripe),
			CustomerID:        ptrOf("cus_1"),
			Status:            ptrOf(billing.StatusActive),
			Plan:              ptrOf(catalog.PlanPro),
			Period:            ptrOf(catalog.PeriodMonthly),
			CurrentPeriodEnd:  ptrOf(periodEnd),
			CancelAtPeriodEnd: ptrOf(true),
		})

		f.card.On("Resume", mock.Anything, "sub_1").
			Return(activeFact("sub_1", catalog.PlanPro, catalog.PeriodMonthly, "price_pro_m", periodEnd), nil)

		// Requested tuple equals current: after the resume no plan change runs.
		res, err := f.svc.Subscribe(ctx, userID, billing.SubscribeParams{
			Plan: catalog.PlanPro, Period: catalog.PeriodMonthly,
		})
		require.NoError(t, err)

		assert.Equal(t, billing.ActionResumed, res.Action)
		f.card.AssertNotCalled(t, "ChangePlan", mock.Anything, mock.Anything)
	})

	t.Run("provider failure surfaces as unavailable", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()

		f.card.On("CreateCustomer", mock.Anything, userID, "").Return("", errors.New("rate limited"))

		_, err := f.svc.Subscribe(ctx, userID, billing.SubscribeParams{
			Plan: catalog.PlanPro, Period: catalog.PeriodMonthly,
		})
		assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
	})
}

func TestServiceCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("no active subscription", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.Cancel(ctx, uuid.New())
		assert.ErrorIs(t, err, billing.ErrNoActiveSubscription)
	})

	t.Run("already cancelled", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		f.seed(t, userID, billing.Change{
			SubscriptionID:    ptrOf("sub_1"),
			Provider:          ptrOf(billing.ProviderStripe),
			Status:            ptrOf(billing.StatusActive),
			Plan:              ptrOf(catalog.PlanPro),
			CancelAtPeriodEnd: ptrOf(true),
		})

		_, err := f.svc.Cancel(ctx, userID)
		assert.ErrorIs(t, err, billing.ErrAlreadyCancelled)
	})

	t.Run("cancel schedules at period end", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		periodEnd := f.now.Add(20 * 24 * time.Hour)
		f.seed(t, userID, billing.Change{
			SubscriptionID:   ptrOf("sub_1"),
			Provider:         ptrOf(billing.ProviderStripe),
			Status:           ptrOf(billing.StatusActive),
			Plan:             ptrOf(catalog.PlanPro),
			Period:           ptrOf(catalog.PeriodMonthly),
			CurrentPeriodEnd: ptrOf(periodEnd),
		})

		cancelled := activeFact("sub_1", catalog.PlanPro, catalog.PeriodMonthly, "price_pro_m", periodEnd)
		cancelled.Change.CancelAtPeriodEnd = ptrOf(true)
		f.card.On("Cancel", mock.Anything, "sub_1").Return(cancelled, nil)

		res, err := f.svc.Cancel(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, periodEnd, res.CancelAt)

		snap, err := f.store.Get(ctx, userID)
		require.NoError(t, err)
		assert.True(t, snap.CancelAtPeriodEnd)
		// Entitlement continues until the period actually ends.
		assert.Equal(t, catalog.PlanPro, snap.Plan)
	})
}

func TestServiceResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("nothing to resume", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		f.seed(t, userID, billing.Change{
			SubscriptionID: ptrOf("sub_1"),
			Provider:       ptrOf(billing.ProviderStripe),
			Status:         ptrOf(billing.StatusActive),
			Plan:           ptrOf(catalog.PlanPro),
		})

		assert.ErrorIs(t, f.svc.Resume(ctx, userID), billing.ErrNotCancelled)
	})

	t.Run("period already ended", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		f.seed(t, userID, billing.Change{
			SubscriptionID:    ptrOf("sub_1"),
			Provider:          ptrOf(billing.ProviderStripe),
			Status:            ptrOf(billing.StatusActive),
			Plan:              ptrOf(catalog.PlanPro),
			CancelAtPeriodEnd: ptrOf(true),
			CurrentPeriodEnd:  ptrOf(f.now.Add(-time.Hour)),
		})

		assert.ErrorIs(t, f.svc.Resume(ctx, userID), billing.ErrPeriodAlreadyEnded)
	})

	t.Run("resume clears pending cancellation", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		periodEnd := f.now.Add(10 * 24 * time.Hour)
		f.seed(t, userID, billing.Change{
			SubscriptionID:    ptrOf("sub_1"),
			Provider:          ptrOf(billing.ProviderStripe),
			Status:            ptrOf(billing.StatusActive),
			Plan:              ptrOf(catalog.PlanPro),
			Period:            ptrOf(catalog.PeriodMonthly),
			CancelAtPeriodEnd: ptrOf(true),
			CurrentPeriodEnd:  ptrOf(periodEnd),
		})

		f.card.On("Resume", mock.Anything, "sub_1").
			Return(activeFact("sub_1", catalog.PlanPro, catalog.PeriodMonthly, "price_pro_m", periodEnd), nil)

		require.NoError(t, f.svc.Resume(ctx, userID))

		snap, err := f.store.Get(ctx, userID)
		require.NoError(t, err)
		assert.False(t, snap.CancelAtPeriodEnd)
	})
}

func TestServiceGetSubscription(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("unknown user gets implicit free record", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()

		snap, err := f.svc.GetSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusNone, snap.Status)
		assert.Equal(t, catalog.PlanFree, snap.Plan)
	})

	t.Run("fresh snapshot served without provider call", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		_, err := f.store.Apply(ctx, userID, billing.Change{
			SubscriptionID: ptrOf("sub_1"),
			Provider:       ptrOf(billing.ProviderStripe),
			CustomerID:     ptrOf("cus_1"),
			Status:         ptrOf(billing.StatusActive),
			Plan:           ptrOf(catalog.PlanPro),
		}, f.now.Add(-time.Minute))
		require.NoError(t, err)

		snap, err := f.svc.GetSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, catalog.PlanPro, snap.Plan)
		f.card.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	})

	t.Run("stale snapshot refreshed from card processor", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		f.seed(t, userID, billing.Change{
			SubscriptionID: ptrOf("sub_1"),
			Provider:       ptrOf(billing.ProviderStripe),
			CustomerID:     ptrOf("cus_1"),
			Status:         ptrOf(billing.StatusActive),
			Plan:           ptrOf(catalog.PlanPro),
			Period:         ptrOf(catalog.PeriodMonthly),
		})

		refreshed := activeFact("sub_1", catalog.PlanPro, catalog.PeriodMonthly, "price_pro_m", f.now.Add(10*24*time.Hour))
		refreshed.Change.Status = ptrOf(billing.StatusPastDue)
		f.card.On("Fetch", mock.Anything, "cus_1").Return(refreshed, nil).Once()

		snap, err := f.svc.GetSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, snap.Status)
		f.card.AssertExpectations(t)
	})

	t.Run("iap snapshot refreshed with user id reference", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		f.seed(t, userID, billing.Change{
			SubscriptionID: ptrOf("txn_1"),
			Provider:       ptrOf(billing.ProviderRevenueCat),
			Status:         ptrOf(billing.StatusActive),
			Plan:           ptrOf(catalog.PlanPro),
			Period:         ptrOf(catalog.PeriodMonthly),
		})

		fact := &billing.Fact{
			Change:     billing.Change{Status: ptrOf(billing.StatusActive)},
			ObservedAt: time.Now().UTC(),
		}
		f.iap.On("Fetch", mock.Anything, userID.String()).Return(fact, nil).Once()

		_, err := f.svc.GetSubscription(ctx, userID)
		require.NoError(t, err)
		f.iap.AssertExpectations(t)
		f.card.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	})

	t.Run("refresh failure serves stale snapshot", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		f.seed(t, userID, billing.Change{
			SubscriptionID: ptrOf("sub_1"),
			Provider:       ptrOf(billing.ProviderStripe),
			CustomerID:     ptrOf("cus_1"),
			Status:         ptrOf(billing.StatusActive),
			Plan:           ptrOf(catalog.PlanPro),
		})

		f.card.On("Fetch", mock.Anything, "cus_1").Return(nil, errors.New("timeout"))

		snap, err := f.svc.GetSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, catalog.PlanPro, snap.Plan)
	})

	t.Run("no billing identity short circuits", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		userID := uuid.New()
		f.seed(t, userID, billing.Change{
			Status: ptrOf(billing.StatusNone),
			Plan:   ptrOf(catalog.PlanFree),
		})

		snap, err := f.svc.GetSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, catalog.PlanFree, snap.Plan)
		f.card.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
		f.iap.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	})
}

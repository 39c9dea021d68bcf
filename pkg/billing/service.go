package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lumeapp/billingd/pkg/catalog"
)

const (
	defaultFreshnessWindow = 5 * time.Minute
	defaultProviderTimeout = 15 * time.Second
)

// Service handles user-initiated subscription commands and snapshot reads.
// Within one command, provider calls are sequential (each may depend on the
// previous result); every branch that touches a provider ends by handing the
// returned canonical fact to the Reconciler before returning to the caller.
type Service struct {
	cat       *catalog.Catalog
	store     SnapshotStore
	rec       *Reconciler
	card      Provider // card processor: owns all command mutations
	iap       Provider // IAP broker: fetch only, mutations happen on-device
	log       *slog.Logger
	now       func() time.Time
	freshness time.Duration
	timeout   time.Duration
}

// NewService creates the command service. Panics if a required dependency is
// nil to fail fast during initialization.
func NewService(cat *catalog.Catalog, store SnapshotStore, rec *Reconciler, card, iap Provider, opts ...ServiceOption) *Service {
	if cat == nil {
		panic("billing: Catalog is required")
	}
	if store == nil {
		panic("billing: SnapshotStore is required")
	}
	if rec == nil {
		panic("billing: Reconciler is required")
	}
	if card == nil || iap == nil {
		panic("billing: both providers are required")
	}

	s := &Service{
		cat:       cat,
		store:     store,
		rec:       rec,
		card:      card,
		iap:       iap,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       func() time.Time { return time.Now().UTC() },
		freshness: defaultFreshnessWindow,
		timeout:   defaultProviderTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubscribeParams carries a subscribe command.
type SubscribeParams struct {
	Plan            catalog.Plan
	Period          catalog.Period
	Email           string // used when the billing customer is created on demand
	PaymentMethodID string // optional
}

// SubscribeResult reports what the command did and what the client needs to
// finish it. ClientSecret and IntentType are set only when a new provider
// subscription was created and requires client-side confirmation.
type SubscribeResult struct {
	Action        Action         `json:"action"`
	Plan          catalog.Plan   `json:"plan"`
	Period        catalog.Period `json:"period"`
	ClientSecret  string         `json:"client_secret,omitempty"`
	IntentType    IntentType     `json:"intent_type,omitempty"`
	EffectiveDate string         `json:"effective_date"`
	Price         catalog.Money  `json:"price"`
}

// CancelResult reports when the cancelled subscription will actually end.
type CancelResult struct {
	CancelAt time.Time `json:"cancel_at"`
}

// Subscribe creates, resumes, upgrades or downgrades the user's subscription
// to the requested (plan, period) tuple.
//
// Upgrades (target ranks higher) apply immediately with proration.
// Downgrades (target ranks lower) are scheduled for the current period end
// and do not prorate. An equal-rank change to a different period is treated
// as an upgrade by convention.
func (s *Service) Subscribe(ctx context.Context, userID uuid.UUID, params SubscribeParams) (*SubscribeResult, error) {
	if !params.Plan.Paid() || !params.Period.Valid() {
		return nil, ErrUnsupportedPlan
	}
	entry, err := s.cat.Entry(params.Plan, params.Period)
	if err != nil {
		return nil, errors.Join(ErrUnsupportedPlan, err)
	}

	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !snap.Live() {
		return s.startSubscription(ctx, userID, snap, entry, params)
	}
	return s.changeSubscription(ctx, userID, snap, entry, params)
}

// startSubscription handles the no-active-subscription branch: ensure the
// billing customer exists, create the provider subscription, and report
// which kind of client confirmation is expected.
func (s *Service) startSubscription(ctx context.Context, userID uuid.UUID, snap *Subscription, entry catalog.Entry, params SubscribeParams) (*SubscribeResult, error) {
	customerID := snap.CustomerID
	if customerID == "" {
		cctx, cancel := s.callCtx(ctx)
		id, err := s.card.CreateCustomer(cctx, userID, params.Email)
		cancel()
		if err != nil {
			return nil, providerErr(err)
		}
		customerID = id
		if _, err := s.rec.Apply(ctx, userID, Fact{
			Change:     Change{CustomerID: ptr(customerID)},
			ObservedAt: s.now(),
		}, SourceCommand); err != nil {
			return nil, err
		}
	}

	cctx, cancel := s.callCtx(ctx)
	res, err := s.card.Create(cctx, CreateParams{
		CustomerID:      customerID,
		PriceID:         entry.PriceID,
		PaymentMethodID: params.PaymentMethodID,
	})
	cancel()
	if err != nil {
		return nil, providerErr(err)
	}

	if _, err := s.rec.Apply(ctx, userID, res.Fact, SourceCommand); err != nil {
		return nil, err
	}

	return &SubscribeResult{
		Action:        ActionSubscribed,
		Plan:          entry.Plan,
		Period:        entry.Period,
		ClientSecret:  res.ClientSecret,
		IntentType:    res.IntentType,
		EffectiveDate: EffectiveImmediate,
		Price:         entry.Price,
	}, nil
}

// changeSubscription handles the active-subscription branch: clear a pending
// cancellation first, then classify and apply the plan change.
func (s *Service) changeSubscription(ctx context.Context, userID uuid.UUID, snap *Subscription, entry catalog.Entry, params SubscribeParams) (*SubscribeResult, error) {
	adapter := s.adapterFor(snap.Provider)

	if snap.CancelAtPeriodEnd {
		cctx, cancel := s.callCtx(ctx)
		fact, err := adapter.Resume(cctx, snap.ID)
		cancel()
		if err != nil {
			return nil, providerErr(err)
		}
		if snap, err = s.rec.Apply(ctx, userID, *fact, SourceCommand); err != nil {
			return nil, err
		}
	}

	// Already on the requested tuple with nothing pending: no provider call.
	if snap.Matches(entry.Plan, entry.Period) {
		return &SubscribeResult{
			Action:        ActionResumed,
			Plan:          snap.Plan,
			Period:        snap.Period,
			EffectiveDate: EffectiveImmediate,
			Price:         entry.Price,
		}, nil
	}

	if catalog.Compare(entry.Plan, snap.Plan) == catalog.Lower {
		// Captured before the provider call: the running period is what the
		// user already paid for and the change takes effect when it ends.
		effective := snap.CurrentPeriodEnd

		cctx, cancel := s.callCtx(ctx)
		fact, err := adapter.ChangePlan(cctx, ChangeParams{
			SubscriptionID: snap.ID,
			PriceID:        entry.PriceID,
			Prorate:        false,
		})
		cancel()
		if err != nil {
			return nil, providerErr(err)
		}
		if _, err := s.rec.Apply(ctx, userID, *fact, SourceCommand); err != nil {
			return nil, err
		}

		return &SubscribeResult{
			Action:        ActionDowngraded,
			Plan:          entry.Plan,
			Period:        entry.Period,
			EffectiveDate: effective.Format(DateLayout),
			Price:         entry.Price,
		}, nil
	}

	// Higher rank, or equal rank with a different period (upgrade by
	// convention): immediate, prorated.
	cctx, cancel := s.callCtx(ctx)
	fact, err := adapter.ChangePlan(cctx, ChangeParams{
		SubscriptionID: snap.ID,
		PriceID:        entry.PriceID,
		Prorate:        true,
	})
	cancel()
	if err != nil {
		return nil, providerErr(err)
	}
	if _, err := s.rec.Apply(ctx, userID, *fact, SourceCommand); err != nil {
		return nil, err
	}

	return &SubscribeResult{
		Action:        ActionUpgraded,
		Plan:          entry.Plan,
		Period:        entry.Period,
		EffectiveDate: EffectiveImmediate,
		Price:         entry.Price,
	}, nil
}

// Cancel schedules cancellation at the end of the current period.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID) (*CancelResult, error) {
	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !snap.Live() {
		return nil, ErrNoActiveSubscription
	}
	if snap.CancelAtPeriodEnd {
		return nil, ErrAlreadyCancelled
	}

	cctx, cancel := s.callCtx(ctx)
	fact, err := s.adapterFor(snap.Provider).Cancel(cctx, snap.ID)
	cancel()
	if err != nil {
		return nil, providerErr(err)
	}

	updated, err := s.rec.Apply(ctx, userID, *fact, SourceCommand)
	if err != nil {
		return nil, err
	}
	return &CancelResult{CancelAt: updated.CurrentPeriodEnd}, nil
}

// Resume clears a pending cancellation before the paid period runs out.
func (s *Service) Resume(ctx context.Context, userID uuid.UUID) error {
	snap, err := s.snapshot(ctx, userID)
	if err != nil {
		return err
	}
	if !snap.HasProviderSubscription() || !snap.CancelAtPeriodEnd {
		return ErrNotCancelled
	}
	if !snap.CurrentPeriodEnd.After(s.now()) {
		return ErrPeriodAlreadyEnded
	}

	cctx, cancel := s.callCtx(ctx)
	fact, err := s.adapterFor(snap.Provider).Resume(cctx, snap.ID)
	cancel()
	if err != nil {
		return providerErr(err)
	}

	_, err = s.rec.Apply(ctx, userID, *fact, SourceCommand)
	return err
}

// GetSubscription returns the user's subscription through the freshness
// policy: a snapshot synchronized within the freshness window is served
// as-is; otherwise the owning provider is re-fetched and the refreshed
// snapshot returned. Users without any billing identity short-circuit to the
// implicit free record without a provider call.
func (s *Service) GetSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	snap, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return FreeSubscription(userID), nil
	}
	if err != nil {
		return nil, err
	}

	if snap.CustomerID == "" && snap.Provider != ProviderRevenueCat {
		return snap, nil
	}
	if snap.FreshAt(s.now(), s.freshness) {
		return snap, nil
	}

	adapter := s.adapterFor(snap.Provider)
	ref := snap.CustomerID
	if adapter.ID() == ProviderRevenueCat {
		// The broker keys subscribers by our user ID, not by a customer ID.
		ref = userID.String()
	}

	cctx, cancel := s.callCtx(ctx)
	fact, err := adapter.Fetch(cctx, ref)
	cancel()
	if err != nil {
		// Serving the stale snapshot beats failing the read; the next
		// request past the window retries the refresh.
		s.log.WarnContext(ctx, "subscription refresh failed, serving cached snapshot",
			slog.String("user_id", userID.String()), slog.Any("error", err))
		return snap, nil
	}

	return s.rec.Apply(ctx, userID, *fact, SourceRefresh)
}

func (s *Service) snapshot(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	snap, err := s.store.Get(ctx, userID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return FreeSubscription(userID), nil
	}
	return snap, err
}

func (s *Service) adapterFor(id ProviderID) Provider {
	if id == ProviderRevenueCat {
		return s.iap
	}
	return s.card
}

func (s *Service) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// providerErr wraps upstream failures as retryable provider errors without
// masking the not-supported sentinel.
func providerErr(err error) error {
	if errors.Is(err, ErrUnsupportedOperation) {
		return err
	}
	return errors.Join(ErrProviderUnavailable, err)
}

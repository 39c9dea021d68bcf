package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/lumeapp/billingd/pkg/catalog"
)

// StripeConfig holds configuration for the card-processor adapter.
type StripeConfig struct {
	APIKey        string `env:"STRIPE_API_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeProvider implements Provider and StripeWebhookParser against the
// Stripe API. It owns the translation between Stripe's subscription shape
// and the canonical one; nothing Stripe-specific leaks past this file.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	cat           *catalog.Catalog
}

// NewStripeProvider creates the card-processor adapter.
func NewStripeProvider(cfg StripeConfig, cat *catalog.Catalog) (*StripeProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if cat == nil {
		panic("billing: Catalog is required")
	}

	api := &client.API{}
	api.Init(cfg.APIKey, nil)

	return &StripeProvider{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		cat:           cat,
	}, nil
}

func (p *StripeProvider) ID() ProviderID { return ProviderStripe }

// CreateCustomer creates the Stripe customer for a local user. The user ID
// travels in metadata so dashboard lookups can be traced back.
func (p *StripeProvider) CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata("user_id", userID.String())

	cus, err := p.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return cus.ID, nil
}

// Create starts a subscription with default_incomplete payment behavior so
// the first charge (or the payment-method setup when a trial defers it) is
// confirmed client-side. The kind of intent Stripe returns determines
// IntentType.
func (p *StripeProvider) Create(ctx context.Context, cp CreateParams) (*CreateResult, error) {
	params := &stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(cp.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(cp.PriceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	if cp.PaymentMethodID != "" {
		params.DefaultPaymentMethod = stripe.String(cp.PaymentMethodID)
	}
	params.AddExpand("latest_invoice.payment_intent")
	params.AddExpand("pending_setup_intent")

	sub, err := p.api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create subscription: %w", err)
	}

	res := &CreateResult{Fact: p.subscriptionFact(sub)}
	switch {
	case sub.PendingSetupIntent != nil:
		// Trial period: no charge now, the client confirms a setup intent.
		res.IntentType = IntentSetup
		res.ClientSecret = sub.PendingSetupIntent.ClientSecret
	case sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil:
		res.IntentType = IntentPayment
		res.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}
	return res, nil
}

// ChangePlan moves the subscription to another price. Prorated changes apply
// immediately; non-prorated ones are scheduled for the end of the running
// period via a subscription schedule, leaving the current phase untouched.
func (p *StripeProvider) ChangePlan(ctx context.Context, cp ChangeParams) (*Fact, error) {
	sub, err := p.getSubscription(ctx, cp.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return nil, fmt.Errorf("stripe subscription %s has no items", cp.SubscriptionID)
	}

	if cp.Prorate {
		params := &stripe.SubscriptionParams{
			Params: stripe.Params{Context: ctx},
			Items: []*stripe.SubscriptionItemsParams{
				{
					ID:    stripe.String(sub.Items.Data[0].ID),
					Price: stripe.String(cp.PriceID),
				},
			},
			ProrationBehavior: stripe.String("create_prorations"),
		}
		updated, err := p.api.Subscriptions.Update(cp.SubscriptionID, params)
		if err != nil {
			return nil, fmt.Errorf("stripe update subscription: %w", err)
		}
		fact := p.subscriptionFact(updated)
		return &fact, nil
	}

	if err := p.schedulePlanChange(ctx, sub, cp.PriceID); err != nil {
		return nil, err
	}
	// The running period is untouched: the canonical fact reflects the
	// subscription as it still is, so the snapshot keeps the old plan until
	// the scheduled phase starts and the subscription.updated webhook lands.
	fact := p.subscriptionFact(sub)
	return &fact, nil
}

// schedulePlanChange defers a price change to the end of the current period
// using a subscription schedule: one phase holding the current price until
// the period end, then one open-ended phase on the new price. Nothing is
// prorated.
func (p *StripeProvider) schedulePlanChange(ctx context.Context, sub *stripe.Subscription, newPriceID string) error {
	sched, err := p.api.SubscriptionSchedules.New(&stripe.SubscriptionScheduleParams{
		Params:           stripe.Params{Context: ctx},
		FromSubscription: stripe.String(sub.ID),
	})
	if err != nil {
		return fmt.Errorf("stripe create schedule: %w", err)
	}

	_, err = p.api.SubscriptionSchedules.Update(sched.ID, &stripe.SubscriptionScheduleParams{
		Params:      stripe.Params{Context: ctx},
		EndBehavior: stripe.String("release"),
		Phases: []*stripe.SubscriptionSchedulePhaseParams{
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{Price: stripe.String(sub.Items.Data[0].Price.ID), Quantity: stripe.Int64(1)},
				},
				StartDate:         stripe.Int64(sub.CurrentPeriodStart),
				EndDate:           stripe.Int64(sub.CurrentPeriodEnd),
				ProrationBehavior: stripe.String("none"),
			},
			{
				Items: []*stripe.SubscriptionSchedulePhaseItemParams{
					{Price: stripe.String(newPriceID), Quantity: stripe.Int64(1)},
				},
				ProrationBehavior: stripe.String("none"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("stripe update schedule: %w", err)
	}
	return nil
}

// Cancel schedules cancellation at period end; never an immediate cancel.
func (p *StripeProvider) Cancel(ctx context.Context, subscriptionID string) (*Fact, error) {
	sub, err := p.api.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("stripe cancel subscription: %w", err)
	}
	fact := p.subscriptionFact(sub)
	return &fact, nil
}

// Resume clears a scheduled cancellation.
func (p *StripeProvider) Resume(ctx context.Context, subscriptionID string) (*Fact, error) {
	sub, err := p.api.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("stripe resume subscription: %w", err)
	}
	fact := p.subscriptionFact(sub)
	return &fact, nil
}

// Fetch re-reads the customer's newest subscription. A customer without any
// subscription yields a terminal free fact.
func (p *StripeProvider) Fetch(ctx context.Context, customerID string) (*Fact, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := p.api.Subscriptions.List(params)
	if iter.Next() {
		fact := p.subscriptionFact(iter.Subscription())
		return &fact, nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe list subscriptions: %w", err)
	}

	return &Fact{
		Change: Change{
			Status: ptr(StatusNone),
			Plan:   ptr(catalog.PlanFree),
		},
		ObservedAt: time.Now().UTC(),
	}, nil
}

// ParseWebhook verifies the delivery against the endpoint secret and
// classifies it into the typed event set.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (StripeEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}

	meta := StripeEventMeta{
		EventID:    event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		if sub.Customer == nil || sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
			return nil, fmt.Errorf("%w: subscription event missing customer or items", ErrMalformedEvent)
		}
		meta.CustomerID = sub.Customer.ID
		return StripeSubscriptionChanged{
			StripeEventMeta:   meta,
			SubscriptionID:    sub.ID,
			Status:            mapStripeStatus(sub.Status),
			PriceID:           sub.Items.Data[0].Price.ID,
			CurrentPeriodEnd:  time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		}, nil

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		if sub.Customer == nil {
			return nil, fmt.Errorf("%w: subscription event missing customer", ErrMalformedEvent)
		}
		meta.CustomerID = sub.Customer.ID
		return StripeSubscriptionDeleted{
			StripeEventMeta: meta,
			SubscriptionID:  sub.ID,
		}, nil

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, errors.Join(ErrMalformedEvent, err)
		}
		if inv.Customer == nil || inv.Subscription == nil {
			// One-off invoices are not subscription facts.
			return StripeIgnored{StripeEventMeta: meta, Type: string(event.Type)}, nil
		}
		meta.CustomerID = inv.Customer.ID
		if event.Type == "invoice.payment_succeeded" {
			return StripeInvoicePaid{StripeEventMeta: meta, SubscriptionID: inv.Subscription.ID}, nil
		}
		return StripeInvoiceFailed{StripeEventMeta: meta, SubscriptionID: inv.Subscription.ID}, nil

	default:
		return StripeIgnored{StripeEventMeta: meta, Type: string(event.Type)}, nil
	}
}

func (p *StripeProvider) getSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	sub, err := p.api.Subscriptions.Get(id, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}
	return sub, nil
}

// subscriptionFact translates a Stripe subscription into a canonical fact.
// Prices the catalog cannot reverse-map leave Plan/Period unset rather than
// guessing; the reconciler keeps whatever the snapshot already has and the
// mismatch surfaces in logs through the transition path.
func (p *StripeProvider) subscriptionFact(sub *stripe.Subscription) Fact {
	status := mapStripeStatus(sub.Status)
	change := Change{
		SubscriptionID:    ptr(sub.ID),
		Provider:          ptr(ProviderStripe),
		Status:            ptr(status),
		CurrentPeriodEnd:  ptr(time.Unix(sub.CurrentPeriodEnd, 0).UTC()),
		CancelAtPeriodEnd: ptr(sub.CancelAtPeriodEnd),
	}
	if sub.Customer != nil {
		change.CustomerID = ptr(sub.Customer.ID)
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID := sub.Items.Data[0].Price.ID
		change.PriceID = ptr(priceID)
		if entry, err := p.cat.ByPriceID(priceID); err == nil {
			change.Plan = ptr(entry.Plan)
			change.Period = ptr(entry.Period)
		}
	}
	return Fact{Change: change, ObservedAt: time.Now().UTC()}
}

// mapStripeStatus maps Stripe subscription statuses onto the canonical set.
// Stripe's "canceled" is terminal (the subscription ended), which is our
// "expired"; a pending cancellation is active + cancel_at_period_end.
func mapStripeStatus(s stripe.SubscriptionStatus) Status {
	switch s {
	case stripe.SubscriptionStatusActive:
		return StatusActive
	case stripe.SubscriptionStatusTrialing:
		return StatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return StatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return StatusExpired
	case stripe.SubscriptionStatusUnpaid:
		return StatusUnpaid
	case stripe.SubscriptionStatusIncomplete:
		return StatusIncomplete
	case stripe.SubscriptionStatusIncompleteExpired:
		return StatusIncompleteExpired
	case stripe.SubscriptionStatusPaused:
		return StatusPaused
	default:
		return Status(s)
	}
}

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

// StripeWebhookParser verifies and classifies a card-processor delivery.
type StripeWebhookParser interface {
	ParseWebhook(payload []byte, signature string) (StripeEvent, error)
}

// RevenueCatWebhookParser verifies and classifies an IAP-broker delivery.
type RevenueCatWebhookParser interface {
	ParseWebhook(payload []byte, authorization string) (RevenueCatEvent, error)
}

// Router ingests provider webhooks: verify, resolve the subject to a local
// user, run exactly one transition, reconcile, and dispatch side effects off
// the critical path.
//
// Error contract: only ErrSignatureInvalid propagates to the caller (the
// HTTP layer answers non-2xx and the provider retries). Everything else
// (unknown users, malformed payloads, unrecognized event types) is logged
// and swallowed so the provider gets its acknowledgment and redelivery
// storms cannot build up for errors retrying will not fix.
type Router struct {
	cat           *catalog.Catalog
	store         SnapshotStore
	rec           *Reconciler
	stripe        StripeWebhookParser
	revenuecat    RevenueCatWebhookParser
	notifier      Notifier
	log           *slog.Logger
	notifyTimeout time.Duration
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithNotifier sets the side-effect sink. Defaults to a LogNotifier on the
// router's logger.
func WithNotifier(n Notifier) RouterOption {
	return func(r *Router) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithRouterLogger sets the router's logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRouter creates a webhook router. Panics if any required dependency is
// nil to fail fast during initialization.
func NewRouter(cat *catalog.Catalog, store SnapshotStore, rec *Reconciler, stripe StripeWebhookParser, revenuecat RevenueCatWebhookParser, opts ...RouterOption) *Router {
	if cat == nil {
		panic("billing: Catalog is required")
	}
	if store == nil {
		panic("billing: SnapshotStore is required")
	}
	if rec == nil {
		panic("billing: Reconciler is required")
	}
	if stripe == nil || revenuecat == nil {
		panic("billing: both webhook parsers are required")
	}

	r := &Router{
		cat:        cat,
		store:      store,
		rec:        rec,
		stripe:     stripe,
		revenuecat: revenuecat,
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.notifier == nil {
		r.notifier = NewLogNotifier(r.log)
	}
	return r
}

// HandleStripe processes one card-processor delivery.
func (r *Router) HandleStripe(ctx context.Context, payload []byte, signature string) error {
	ev, err := r.stripe.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, ErrSignatureInvalid) {
			return err
		}
		r.log.ErrorContext(ctx, "malformed stripe webhook", slog.Any("error", err))
		return nil
	}

	meta := ev.Meta()
	if ignored, ok := ev.(StripeIgnored); ok {
		r.log.InfoContext(ctx, "stripe event ignored",
			slog.String("event_id", meta.EventID), slog.String("type", ignored.Type))
		return nil
	}

	userID, err := r.store.FindByCustomerID(ctx, meta.CustomerID)
	if err != nil {
		// Not a delivery failure: the customer may belong to another
		// environment or a deleted account. Acknowledge and move on.
		r.log.WarnContext(ctx, "stripe customer not resolvable",
			slog.String("event_id", meta.EventID), slog.String("customer_id", meta.CustomerID))
		return nil
	}

	change, notifs, err := TransitionStripe(ev, r.cat)
	if err != nil {
		r.log.ErrorContext(ctx, "stripe event transition failed",
			slog.String("event_id", meta.EventID), slog.Any("error", err))
		return nil
	}

	r.reconcileAndNotify(ctx, userID, Fact{
		Change:     change,
		ObservedAt: meta.OccurredAt,
		EventID:    meta.EventID,
	}, SourceStripeWebhook, notifs)
	return nil
}

// HandleRevenueCat processes one IAP-broker delivery.
func (r *Router) HandleRevenueCat(ctx context.Context, payload []byte, authorization string) error {
	ev, err := r.revenuecat.ParseWebhook(payload, authorization)
	if err != nil {
		if errors.Is(err, ErrSignatureInvalid) {
			return err
		}
		r.log.ErrorContext(ctx, "malformed revenuecat webhook", slog.Any("error", err))
		return nil
	}

	meta := ev.Meta()
	switch e := ev.(type) {
	case RCIgnored:
		r.log.InfoContext(ctx, "revenuecat event ignored",
			slog.String("event_id", meta.EventID), slog.String("type", e.Type))
		return nil
	case RCTransfer:
		r.log.InfoContext(ctx, "revenuecat subscriber transfer",
			slog.String("event_id", meta.EventID),
			slog.Any("from", e.From), slog.Any("to", e.To))
		return nil
	}

	userID, err := uuid.Parse(meta.AppUserID)
	if err != nil {
		// Anonymous broker IDs ($RCAnonymousID:...) and foreign-environment
		// subjects land here. Acknowledge without processing.
		r.log.WarnContext(ctx, "revenuecat subject not resolvable",
			slog.String("event_id", meta.EventID), slog.String("app_user_id", meta.AppUserID))
		return nil
	}

	change, notifs, err := TransitionRevenueCat(ev, r.cat)
	if err != nil {
		r.log.ErrorContext(ctx, "revenuecat event transition failed",
			slog.String("event_id", meta.EventID), slog.Any("error", err))
		return nil
	}

	r.reconcileAndNotify(ctx, userID, Fact{
		Change:     change,
		ObservedAt: meta.OccurredAt,
		EventID:    meta.EventID,
	}, SourceRevenueCatWebhook, notifs)
	return nil
}

// reconcileAndNotify applies the fact synchronously (the write must land
// before the provider gets its 2xx) and dispatches notifications on a
// detached goroutine so they cannot delay the response.
func (r *Router) reconcileAndNotify(ctx context.Context, userID uuid.UUID, fact Fact, source FactSource, notifs []Notification) {
	if _, err := r.rec.Apply(ctx, userID, fact, source); err != nil {
		r.log.ErrorContext(ctx, "webhook reconciliation failed",
			slog.String("user_id", userID.String()),
			slog.String("source", string(source)),
			slog.Any("error", err))
		return
	}

	if len(notifs) == 0 {
		return
	}
	timeout := r.notifyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		for _, n := range notifs {
			n.UserID = userID
			r.notifier.Notify(nctx, n)
		}
	}()
}

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

// Reconciler is the only writer of the snapshot store. Command results and
// webhook transitions alike funnel through Apply, which keeps the merge
// rules, the ordering guard and duplicate suppression in one place.
type Reconciler struct {
	store SnapshotStore
	dedup Deduplicator
	log   *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithDeduplicator enables exact-duplicate suppression for facts that carry
// an event ID. Without one, duplicate webhooks are still harmless for
// idempotent transitions but are re-applied.
func WithDeduplicator(d Deduplicator) ReconcilerOption {
	return func(r *Reconciler) {
		if d != nil {
			r.dedup = d
		}
	}
}

// WithReconcilerLogger sets the logger used for write attribution.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// NewReconciler creates a Reconciler writing to the given store.
// Panics if store is nil to fail fast during initialization.
func NewReconciler(store SnapshotStore, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("billing: SnapshotStore is required")
	}
	r := &Reconciler{
		store: store,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply merges a canonical subscription fact into the user's snapshot and
// returns the snapshot as stored afterwards.
//
// Duplicate facts (same event ID) and stale facts (observed before the
// snapshot's last trusted write) are skipped without error: both are
// expected under webhook redelivery and reordering, and the stored state is
// already at least as new as the fact.
func (r *Reconciler) Apply(ctx context.Context, userID uuid.UUID, fact Fact, source FactSource) (*Subscription, error) {
	if fact.EventID != "" && r.dedup != nil {
		seen, err := r.dedup.Seen(ctx, fact.EventID)
		switch {
		case err != nil:
			// Dedup is best-effort; the ordering guard below still protects
			// the snapshot if the set is unavailable.
			r.log.WarnContext(ctx, "event dedup unavailable",
				slog.String("event_id", fact.EventID), slog.Any("error", err))
		case seen:
			r.log.DebugContext(ctx, "duplicate event suppressed",
				slog.String("event_id", fact.EventID), slog.String("source", string(source)))
			return r.current(ctx, userID)
		}
	}

	if fact.Change.Empty() {
		return r.current(ctx, userID)
	}

	observedAt := fact.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	snap, err := r.store.Apply(ctx, userID, normalize(fact.Change), observedAt)
	if err != nil {
		if errors.Is(err, ErrStaleFact) {
			r.log.InfoContext(ctx, "stale fact rejected",
				slog.String("user_id", userID.String()),
				slog.String("source", string(source)),
				slog.Time("observed_at", observedAt))
			return snap, nil
		}
		return nil, err
	}

	// Record the event only after the write lands. Marking earlier would
	// turn a transient store failure into permanent suppression of the
	// redelivered event.
	if fact.EventID != "" && r.dedup != nil {
		if err := r.dedup.MarkSeen(ctx, fact.EventID); err != nil {
			r.log.WarnContext(ctx, "event dedup record failed",
				slog.String("event_id", fact.EventID), slog.Any("error", err))
		}
	}

	r.log.DebugContext(ctx, "subscription fact applied",
		slog.String("user_id", userID.String()),
		slog.String("source", string(source)),
		slog.Time("observed_at", observedAt))
	return snap, nil
}

func (r *Reconciler) current(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	snap, err := r.store.Get(ctx, userID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return FreeSubscription(userID), nil
	}
	return snap, err
}

// normalize enforces the record invariant on a partial change: plan == free,
// status ∈ {none, expired} and an absent external ID always travel together.
// A fact that downgrades to free (or terminates the status) therefore clears
// every provider-specific field in the same write.
func normalize(c Change) Change {
	terminal := c.Status != nil && (*c.Status == StatusExpired || *c.Status == StatusNone)
	toFree := c.Plan != nil && *c.Plan == catalog.PlanFree

	if !terminal && !toFree {
		return c
	}

	if c.Status == nil {
		c.Status = ptr(StatusExpired)
	}
	c.Plan = ptr(catalog.PlanFree)
	c.SubscriptionID = ptr("")
	c.Period = ptr(catalog.Period(""))
	c.PriceID = ptr("")
	c.ProductID = ptr("")
	c.CancelAtPeriodEnd = ptr(false)
	return c
}

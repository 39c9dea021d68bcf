// Package billing manages the subscription lifecycle across two payment
// providers: a card processor (Stripe) for web checkout and an IAP broker
// (RevenueCat) for app-store purchases.
//
// The package keeps a single canonical subscription record per user and
// reconciles everything the outside world reports into it. User commands,
// webhook deliveries, and on-demand refreshes all converge on the same write
// path, so the snapshot can never fork between sources.
//
// # Architecture
//
// State flows through a small set of components with one writer at the end:
//
//   - Service: user-facing commands (subscribe, cancel, resume, read)
//   - Router: webhook ingestion for both providers
//   - Provider: the adapter contract both payment systems implement
//   - Reconciler: the only component that writes snapshots
//   - SnapshotStore: per-user persistence with an atomic ordering guard
//   - Deduplicator: short-TTL suppression of exact webhook redeliveries
//
// Adapters translate provider responses and webhook payloads into canonical
// Facts: a partial Change plus the moment it was observed. The Reconciler
// normalizes each fact against the lifecycle invariants and hands it to the
// store, which rejects anything older than what is already recorded. Out of
// order deliveries therefore resolve themselves without locks or queues.
//
// # Commands and entitlement
//
// All mutations go through the card processor; the IAP broker is read-only
// from the backend's point of view because purchases happen on-device.
// Upgrades apply immediately with proration, downgrades are deferred to the
// end of the paid period, and cancellation always means "at period end",
// never an immediate cut-off. Reads are served from the snapshot and
// refreshed from the owning provider once the freshness window lapses.
//
// # Usage
//
//	store := billing.NewMongoStore(db.Collection("subscriptions"))
//	rec := billing.NewReconciler(store, billing.WithDeduplicator(dedup))
//
//	stripe, err := billing.NewStripeProvider(stripeCfg, cat)
//	if err != nil { ... }
//	rcat, err := billing.NewRevenueCatProvider(rcCfg, cat)
//	if err != nil { ... }
//
//	svc := billing.NewService(cat, store, rec, stripe, rcat)
//	router := billing.NewRouter(cat, store, rec, stripe, rcat)
//
//	res, err := svc.Subscribe(ctx, userID, billing.SubscribeParams{
//		Plan:   catalog.PlanPro,
//		Period: catalog.PeriodMonthly,
//	})
//
// # Error Handling
//
// The package exposes sentinel errors grouped by how callers should react:
// validation (reject the request), conflict (the command does not apply to
// the current state), provider (upstream failed, retryable), and webhook
// (signature or payload problems). Errors are wrapped with errors.Join so
// both the sentinel and the underlying cause survive errors.Is checks.
package billing

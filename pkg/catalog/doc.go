// Package catalog provides the static plan catalog for the billing service.
//
// The catalog is the single source of truth for the mapping between local
// (plan, period) tuples and the external identifiers each payment provider
// uses for them: the card processor's price IDs and the IAP broker's product
// IDs. It also defines the total order over plans that classifies a plan
// change as an upgrade or a downgrade.
//
// A Catalog is immutable after construction. Entries are loaded once from a
// Source (in-memory for tests, YAML file for deployments) and validated at
// startup so that misconfiguration fails fast instead of surfacing as broken
// checkouts at runtime.
//
// Usage:
//
//	src := catalog.NewYAMLSource("configs/plans.yaml")
//	cat, err := catalog.New(ctx, src)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	priceID, err := cat.PriceID(catalog.PlanPro, catalog.PeriodMonthly)
//	entry, err := cat.ByProductID("lume_pro_monthly")
//
// Unknown identifiers are a data-corruption condition, not a transient
// failure: a price ID coming back from a provider that the catalog cannot
// reverse-map means the catalog and the provider dashboard have drifted.
package catalog

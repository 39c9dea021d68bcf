package catalog

import (
	"context"
	"errors"
	"fmt"
)

// Plan is a named service tier. Plans form a total order used to classify
// plan changes as upgrades or downgrades.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// planRanks defines the total order over plans. Higher rank wins.
var planRanks = map[Plan]int{
	PlanFree:       0,
	PlanBasic:      1,
	PlanPro:        2,
	PlanEnterprise: 3,
}

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	_, ok := planRanks[p]
	return ok
}

// Paid reports whether p requires a payment provider subscription.
func (p Plan) Paid() bool {
	return p.Valid() && p != PlanFree
}

// Comparison is the result of comparing two plans by rank.
type Comparison int

const (
	Lower  Comparison = -1
	Equal  Comparison = 0
	Higher Comparison = 1
)

// Compare returns whether target ranks higher, lower, or equal to current.
// Both plans must be valid; unknown plans compare as Equal so callers must
// validate first via Plan.Valid.
func Compare(target, current Plan) Comparison {
	tr, cr := planRanks[target], planRanks[current]
	switch {
	case tr > cr:
		return Higher
	case tr < cr:
		return Lower
	default:
		return Equal
	}
}

// Period is the billing cadence of a paid plan.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

// Valid reports whether p is a known billing period.
func (p Period) Valid() bool {
	return p == PeriodMonthly || p == PeriodYearly
}

// Money represents a monetary amount in the smallest currency unit.
// For example, $9.99 USD is Amount: 999, Currency: "USD".
type Money struct {
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
}

// Entry maps one (plan, period) tuple to its external identifiers.
// PriceID is the card processor's price identifier, ProductID the IAP
// broker's product identifier. Price is the display price for the tuple.
type Entry struct {
	Plan      Plan   `yaml:"plan"`
	Period    Period `yaml:"period"`
	PriceID   string `yaml:"price_id"`
	ProductID string `yaml:"product_id"`
	Price     Money  `yaml:"price"`
}

type entryKey struct {
	plan   Plan
	period Period
}

// Catalog is the immutable plan catalog. Construct with New.
type Catalog struct {
	byTuple   map[entryKey]Entry
	byPrice   map[string]Entry
	byProduct map[string]Entry
}

// Source loads catalog entries. Load is called exactly once by New.
type Source interface {
	Load(ctx context.Context) ([]Entry, error)
}

// New builds a Catalog from the given source, validating every entry.
// Panics if src is nil to fail fast on wiring mistakes.
func New(ctx context.Context, src Source) (*Catalog, error) {
	if src == nil {
		panic("catalog: Source is required")
	}

	entries, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadEntries, err)
	}
	if len(entries) == 0 {
		return nil, errors.Join(ErrInvalidEntry, errors.New("catalog has no entries"))
	}

	c := &Catalog{
		byTuple:   make(map[entryKey]Entry, len(entries)),
		byPrice:   make(map[string]Entry, len(entries)),
		byProduct: make(map[string]Entry, len(entries)),
	}

	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return nil, err
		}

		k := entryKey{plan: e.Plan, period: e.Period}
		if _, exists := c.byTuple[k]; exists {
			return nil, errors.Join(ErrDuplicateEntry,
				fmt.Errorf("duplicate entry for %s/%s", e.Plan, e.Period))
		}
		c.byTuple[k] = e

		if _, exists := c.byPrice[e.PriceID]; exists {
			return nil, errors.Join(ErrDuplicateEntry,
				fmt.Errorf("price ID %s maps to more than one plan", e.PriceID))
		}
		c.byPrice[e.PriceID] = e

		if _, exists := c.byProduct[e.ProductID]; exists {
			return nil, errors.Join(ErrDuplicateEntry,
				fmt.Errorf("product ID %s maps to more than one plan", e.ProductID))
		}
		c.byProduct[e.ProductID] = e
	}

	return c, nil
}

func validateEntry(e Entry) error {
	if !e.Plan.Valid() || e.Plan == PlanFree {
		return errors.Join(ErrInvalidEntry,
			fmt.Errorf("entry plan %q must be a paid plan", e.Plan))
	}
	if !e.Period.Valid() {
		return errors.Join(ErrInvalidEntry,
			fmt.Errorf("entry %s has invalid period %q", e.Plan, e.Period))
	}
	if e.PriceID == "" || e.ProductID == "" {
		return errors.Join(ErrInvalidEntry,
			fmt.Errorf("entry %s/%s is missing external identifiers", e.Plan, e.Period))
	}
	return nil
}

// Entry returns the catalog entry for a paid (plan, period) tuple.
// Returns ErrUnknownPlan for tuples not present in the catalog.
func (c *Catalog) Entry(plan Plan, period Period) (Entry, error) {
	e, ok := c.byTuple[entryKey{plan: plan, period: period}]
	if !ok {
		return Entry{}, ErrUnknownPlan
	}
	return e, nil
}

// PriceID resolves the card processor's price identifier for a tuple.
// The free plan resolves to an empty ID: it has no external counterpart.
func (c *Catalog) PriceID(plan Plan, period Period) (string, error) {
	if plan == PlanFree {
		return "", nil
	}
	e, err := c.Entry(plan, period)
	if err != nil {
		return "", err
	}
	return e.PriceID, nil
}

// ProductID resolves the IAP broker's product identifier for a tuple.
// The free plan resolves to an empty ID: it has no external counterpart.
func (c *Catalog) ProductID(plan Plan, period Period) (string, error) {
	if plan == PlanFree {
		return "", nil
	}
	e, err := c.Entry(plan, period)
	if err != nil {
		return "", err
	}
	return e.ProductID, nil
}

// ByPriceID reverse-maps a card processor price ID to its catalog entry.
// Returns ErrUnknownProduct when the ID is not in the catalog.
func (c *Catalog) ByPriceID(priceID string) (Entry, error) {
	e, ok := c.byPrice[priceID]
	if !ok {
		return Entry{}, ErrUnknownProduct
	}
	return e, nil
}

// ByProductID reverse-maps an IAP broker product ID to its catalog entry.
// Returns ErrUnknownProduct when the ID is not in the catalog.
func (c *Catalog) ByProductID(productID string) (Entry, error) {
	e, ok := c.byProduct[productID]
	if !ok {
		return Entry{}, ErrUnknownProduct
	}
	return e, nil
}

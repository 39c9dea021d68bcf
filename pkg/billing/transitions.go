package billing

import (
	"fmt"
	"time"

	"github.com/lumeapp/billingd/pkg/catalog"
)

// Transition functions are pure: event in, partial update plus side-effect
// notifications out. They never touch the store and never fail for a
// recognized event; the only error condition is a payload referencing an
// external product the catalog cannot reverse-map, which callers log as a
// data-quality problem and acknowledge anyway.

// TransitionRevenueCat maps one IAP-broker event to a snapshot change.
func TransitionRevenueCat(ev RevenueCatEvent, cat *catalog.Catalog) (Change, []Notification, error) {
	switch e := ev.(type) {
	case RCPurchase:
		entry, err := cat.ByProductID(e.ProductID)
		if err != nil {
			return Change{}, nil, fmt.Errorf("%w: product %q not in catalog", ErrMalformedEvent, e.ProductID)
		}
		return Change{
			SubscriptionID:    ptr(e.TransactionID),
			Provider:          ptr(ProviderRevenueCat),
			Status:            ptr(StatusActive),
			Plan:              ptr(entry.Plan),
			Period:            ptr(entry.Period),
			CurrentPeriodEnd:  ptr(e.ExpiresAt),
			CancelAtPeriodEnd: ptr(false),
			ProductID:         ptr(e.ProductID),
		}, nil, nil

	case RCTrialStarted:
		entry, err := cat.ByProductID(e.ProductID)
		if err != nil {
			return Change{}, nil, fmt.Errorf("%w: product %q not in catalog", ErrMalformedEvent, e.ProductID)
		}
		return Change{
			SubscriptionID:    ptr(e.TransactionID),
			Provider:          ptr(ProviderRevenueCat),
			Status:            ptr(StatusTrialing),
			Plan:              ptr(entry.Plan),
			Period:            ptr(entry.Period),
			CurrentPeriodEnd:  ptr(e.ExpiresAt),
			CancelAtPeriodEnd: ptr(false),
			ProductID:         ptr(e.ProductID),
		}, nil, nil

	case RCTrialCancelled:
		return Change{
			Status:            ptr(StatusCanceled),
			CancelAtPeriodEnd: ptr(true),
		}, nil, nil

	case RCCancellation:
		change := Change{
			Status:            ptr(StatusCanceled),
			CancelAtPeriodEnd: ptr(true),
		}
		return change, []Notification{{
			Kind:     NotifyCancellation,
			Provider: ProviderRevenueCat,
			Reason:   e.Reason,
		}}, nil

	case RCUncancellation:
		return Change{
			Status:            ptr(StatusActive),
			CancelAtPeriodEnd: ptr(false),
		}, nil, nil

	case RCExpiration:
		// Unconditional downgrade to free regardless of prior state; the
		// reconciler clears the provider-specific fields.
		return Change{
			Status: ptr(StatusExpired),
			Plan:   ptr(catalog.PlanFree),
		}, []Notification{{
			Kind:     NotifyExpiration,
			Provider: ProviderRevenueCat,
		}}, nil

	case RCProductChange:
		entry, err := cat.ByProductID(e.NewProductID)
		if err != nil {
			return Change{}, nil, fmt.Errorf("%w: product %q not in catalog", ErrMalformedEvent, e.NewProductID)
		}
		// Status and cancellation flag are untouched; the previous product is
		// reported for analytics only.
		return Change{
				Plan:      ptr(entry.Plan),
				Period:    ptr(entry.Period),
				ProductID: ptr(e.NewProductID),
			}, []Notification{{
				Kind:     NotifyPlanChanged,
				Provider: ProviderRevenueCat,
				Fields: map[string]string{
					"old_product": e.OldProductID,
					"new_product": e.NewProductID,
				},
			}}, nil

	case RCBillingIssue:
		return Change{
			Status: ptr(StatusPastDue),
		}, []Notification{{
			Kind:     NotifyBillingIssue,
			Provider: ProviderRevenueCat,
			Fields:   map[string]string{"grace_period_end": e.GracePeriodEnd.Format(time.RFC3339)},
		}}, nil

	case RCPaused:
		return Change{
			Status: ptr(StatusPaused),
		}, nil, nil

	case RCTransfer:
		// Identity bookkeeping only; logged by the router.
		return Change{}, nil, nil

	case RCIgnored:
		return Change{}, nil, nil

	default:
		// Unreachable while the set stays sealed; a new event type added to
		// the package must be handled above.
		return Change{}, nil, fmt.Errorf("%w: unhandled event %T", ErrMalformedEvent, ev)
	}
}

// TransitionStripe maps one card-processor event to a snapshot change.
func TransitionStripe(ev StripeEvent, cat *catalog.Catalog) (Change, []Notification, error) {
	switch e := ev.(type) {
	case StripeSubscriptionChanged:
		entry, err := cat.ByPriceID(e.PriceID)
		if err != nil {
			return Change{}, nil, fmt.Errorf("%w: price %q not in catalog", ErrMalformedEvent, e.PriceID)
		}
		return Change{
			SubscriptionID:    ptr(e.SubscriptionID),
			Provider:          ptr(ProviderStripe),
			Status:            ptr(e.Status),
			Plan:              ptr(entry.Plan),
			Period:            ptr(entry.Period),
			CurrentPeriodEnd:  ptr(e.CurrentPeriodEnd),
			CancelAtPeriodEnd: ptr(e.CancelAtPeriodEnd),
			PriceID:           ptr(e.PriceID),
		}, nil, nil

	case StripeSubscriptionDeleted:
		return Change{
			Status: ptr(StatusExpired),
			Plan:   ptr(catalog.PlanFree),
		}, []Notification{{
			Kind:     NotifyExpiration,
			Provider: ProviderStripe,
		}}, nil

	case StripeInvoicePaid:
		return Change{
			Status: ptr(StatusActive),
		}, nil, nil

	case StripeInvoiceFailed:
		return Change{
			Status: ptr(StatusPastDue),
		}, []Notification{{
			Kind:     NotifyBillingIssue,
			Provider: ProviderStripe,
		}}, nil

	case StripeIgnored:
		return Change{}, nil, nil

	default:
		return Change{}, nil, fmt.Errorf("%w: unhandled event %T", ErrMalformedEvent, ev)
	}
}

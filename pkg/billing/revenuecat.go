package billing

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/lumeapp/billingd/pkg/catalog"
)

const defaultRevenueCatBaseURL = "https://api.revenuecat.com/v1"

// RevenueCatConfig holds configuration for the IAP-broker adapter.
type RevenueCatConfig struct {
	APIKey           string `env:"REVENUECAT_API_KEY,required"`
	WebhookAuthToken string `env:"REVENUECAT_WEBHOOK_AUTH_TOKEN,required"`
	BaseURL          string `env:"REVENUECAT_BASE_URL" envDefault:"https://api.revenuecat.com/v1"`
}

// RevenueCatProvider implements Provider and RevenueCatWebhookParser against
// the RevenueCat REST API. App-store purchases happen on-device, so the
// adapter is read-only: Fetch and webhook parsing work, every mutation
// returns ErrUnsupportedOperation.
type RevenueCatProvider struct {
	apiKey    string
	authToken string
	baseURL   string
	httpc     *http.Client
	cat       *catalog.Catalog
	log       *slog.Logger
}

// RevenueCatOption configures a RevenueCatProvider.
type RevenueCatOption func(*RevenueCatProvider)

// WithRevenueCatHTTPClient replaces the HTTP client, typically for tests.
func WithRevenueCatHTTPClient(c *http.Client) RevenueCatOption {
	return func(p *RevenueCatProvider) {
		if c != nil {
			p.httpc = c
		}
	}
}

// WithRevenueCatLogger sets the logger used for data-quality warnings.
func WithRevenueCatLogger(l *slog.Logger) RevenueCatOption {
	return func(p *RevenueCatProvider) {
		if l != nil {
			p.log = l
		}
	}
}

// NewRevenueCatProvider creates the IAP-broker adapter.
func NewRevenueCatProvider(cfg RevenueCatConfig, cat *catalog.Catalog, opts ...RevenueCatOption) (*RevenueCatProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookAuthToken == "" {
		return nil, ErrMissingWebhookSecret
	}
	if cat == nil {
		panic("billing: Catalog is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultRevenueCatBaseURL
	}

	p := &RevenueCatProvider{
		apiKey:    cfg.APIKey,
		authToken: cfg.WebhookAuthToken,
		baseURL:   baseURL,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		cat:       cat,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *RevenueCatProvider) ID() ProviderID { return ProviderRevenueCat }

// CreateCustomer is not supported: the broker creates subscribers implicitly
// on the first device purchase.
func (p *RevenueCatProvider) CreateCustomer(ctx context.Context, userID uuid.UUID, email string) (string, error) {
	return "", ErrUnsupportedOperation
}

func (p *RevenueCatProvider) Create(ctx context.Context, cp CreateParams) (*CreateResult, error) {
	return nil, ErrUnsupportedOperation
}

func (p *RevenueCatProvider) ChangePlan(ctx context.Context, cp ChangeParams) (*Fact, error) {
	return nil, ErrUnsupportedOperation
}

func (p *RevenueCatProvider) Cancel(ctx context.Context, subscriptionID string) (*Fact, error) {
	return nil, ErrUnsupportedOperation
}

func (p *RevenueCatProvider) Resume(ctx context.Context, subscriptionID string) (*Fact, error) {
	return nil, ErrUnsupportedOperation
}

// rcSubscriber mirrors the relevant slice of GET /subscribers/{app_user_id}.
type rcSubscriber struct {
	Subscriber struct {
		Subscriptions map[string]rcSubscription `json:"subscriptions"`
	} `json:"subscriber"`
}

type rcSubscription struct {
	ExpiresDate             *time.Time `json:"expires_date"`
	PurchaseDate            *time.Time `json:"purchase_date"`
	PeriodType              string     `json:"period_type"` // normal, trial, intro
	UnsubscribeDetectedAt   *time.Time `json:"unsubscribe_detected_at"`
	BillingIssuesDetectedAt *time.Time `json:"billing_issues_detected_at"`
	StoreTransactionID      string     `json:"store_transaction_id"`
}

// Fetch re-reads the subscriber record. The broker keys subscribers by our
// user ID, so ref is the user ID string, not a customer ID. A subscriber with
// no live subscription yields a terminal free fact.
func (p *RevenueCatProvider) Fetch(ctx context.Context, ref string) (*Fact, error) {
	endpoint := p.baseURL + "/subscribers/" + url.PathEscape(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("revenuecat build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("revenuecat get subscriber: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("revenuecat get subscriber: unexpected status %d", resp.StatusCode)
	}

	var body rcSubscriber
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("revenuecat decode subscriber: %w", err)
	}

	fact := p.subscriberFact(body, time.Now().UTC())
	return &fact, nil
}

// subscriberFact picks the subscription with the latest expiry and maps it to
// a canonical fact.
func (p *RevenueCatProvider) subscriberFact(body rcSubscriber, now time.Time) Fact {
	var (
		productID string
		latest    rcSubscription
		found     bool
	)
	for id, sub := range body.Subscriber.Subscriptions {
		if sub.ExpiresDate == nil {
			continue
		}
		if !found || sub.ExpiresDate.After(*latest.ExpiresDate) {
			productID, latest, found = id, sub, true
		}
	}

	if !found {
		return Fact{
			Change: Change{
				Status: ptr(StatusNone),
				Plan:   ptr(catalog.PlanFree),
			},
			ObservedAt: now,
		}
	}

	if latest.ExpiresDate.Before(now) {
		return Fact{
			Change: Change{
				Status: ptr(StatusExpired),
				Plan:   ptr(catalog.PlanFree),
			},
			ObservedAt: now,
		}
	}

	status := StatusActive
	if latest.PeriodType == "trial" {
		status = StatusTrialing
	}
	if latest.BillingIssuesDetectedAt != nil {
		status = StatusPastDue
	}

	change := Change{
		Provider:          ptr(ProviderRevenueCat),
		Status:            ptr(status),
		CurrentPeriodEnd:  ptr(latest.ExpiresDate.UTC()),
		CancelAtPeriodEnd: ptr(latest.UnsubscribeDetectedAt != nil),
		ProductID:         ptr(productID),
	}
	if latest.StoreTransactionID != "" {
		change.SubscriptionID = ptr(latest.StoreTransactionID)
	}
	if entry, err := p.cat.ByProductID(productID); err == nil {
		change.Plan = ptr(entry.Plan)
		change.Period = ptr(entry.Period)
	} else {
		// A live subscription on a product the catalog does not know keeps
		// its previous plan and period; surface it instead of dropping it.
		p.log.Warn("subscriber product not in catalog",
			slog.String("product_id", productID),
			slog.String("status", string(status)))
	}
	return Fact{Change: change, ObservedAt: now}
}

// rcWebhook mirrors the broker's webhook envelope.
type rcWebhook struct {
	APIVersion string `json:"api_version"`
	Event      struct {
		Type                      string   `json:"type"`
		ID                        string   `json:"id"`
		AppUserID                 string   `json:"app_user_id"`
		ProductID                 string   `json:"product_id"`
		NewProductID              string   `json:"new_product_id"`
		EventTimestampMs          int64    `json:"event_timestamp_ms"`
		ExpirationAtMs            int64    `json:"expiration_at_ms"`
		GracePeriodExpirationAtMs int64    `json:"grace_period_expiration_at_ms"`
		CancelReason              string   `json:"cancel_reason"`
		PeriodType                string   `json:"period_type"`
		OriginalTransactionID     string   `json:"original_transaction_id"`
		TransferredFrom           []string `json:"transferred_from"`
		TransferredTo             []string `json:"transferred_to"`
	} `json:"event"`
}

// ParseWebhook verifies the Authorization header against the configured token
// and classifies the delivery into the typed event set.
func (p *RevenueCatProvider) ParseWebhook(payload []byte, authorization string) (RevenueCatEvent, error) {
	want := "Bearer " + p.authToken
	if subtle.ConstantTimeCompare([]byte(authorization), []byte(want)) != 1 {
		return nil, ErrSignatureInvalid
	}

	var wh rcWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	ev := wh.Event
	if ev.Type == "" || ev.ID == "" {
		return nil, fmt.Errorf("%w: missing event type or id", ErrMalformedEvent)
	}

	meta := RCEventMeta{
		EventID:    ev.ID,
		AppUserID:  ev.AppUserID,
		OccurredAt: msTime(ev.EventTimestampMs),
	}

	switch ev.Type {
	case "INITIAL_PURCHASE":
		// A trial-period initial purchase is a trial start, not a paid one.
		if ev.PeriodType == "TRIAL" {
			return RCTrialStarted{
				RCEventMeta:   meta,
				ProductID:     ev.ProductID,
				TransactionID: ev.OriginalTransactionID,
				ExpiresAt:     msTime(ev.ExpirationAtMs),
			}, nil
		}
		fallthrough
	case "RENEWAL", "TRIAL_CONVERTED", "NON_RENEWING_PURCHASE":
		return RCPurchase{
			RCEventMeta:   meta,
			ProductID:     ev.ProductID,
			TransactionID: ev.OriginalTransactionID,
			ExpiresAt:     msTime(ev.ExpirationAtMs),
		}, nil

	case "TRIAL_STARTED":
		return RCTrialStarted{
			RCEventMeta:   meta,
			ProductID:     ev.ProductID,
			TransactionID: ev.OriginalTransactionID,
			ExpiresAt:     msTime(ev.ExpirationAtMs),
		}, nil

	case "TRIAL_CANCELLED":
		return RCTrialCancelled{RCEventMeta: meta}, nil

	case "CANCELLATION":
		return RCCancellation{RCEventMeta: meta, Reason: ev.CancelReason}, nil

	case "UNCANCELLATION":
		return RCUncancellation{RCEventMeta: meta}, nil

	case "EXPIRATION":
		return RCExpiration{RCEventMeta: meta}, nil

	case "PRODUCT_CHANGE":
		return RCProductChange{
			RCEventMeta:  meta,
			NewProductID: ev.NewProductID,
			OldProductID: ev.ProductID,
		}, nil

	case "BILLING_ISSUE":
		return RCBillingIssue{
			RCEventMeta:    meta,
			GracePeriodEnd: msTime(ev.GracePeriodExpirationAtMs),
		}, nil

	case "SUBSCRIPTION_PAUSED":
		return RCPaused{RCEventMeta: meta}, nil

	case "TRANSFER", "SUBSCRIBER_ALIAS":
		return RCTransfer{
			RCEventMeta: meta,
			From:        ev.TransferredFrom,
			To:          ev.TransferredTo,
		}, nil

	default:
		return RCIgnored{RCEventMeta: meta, Type: ev.Type}, nil
	}
}

// msTime converts broker millisecond timestamps; zero stays zero.
func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

package billing

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NotificationKind classifies the side effects a webhook transition asks for.
type NotificationKind string

const (
	NotifyBillingIssue NotificationKind = "billing_issue"
	NotifyCancellation NotificationKind = "cancellation"
	NotifyExpiration   NotificationKind = "expiration"
	NotifyPlanChanged  NotificationKind = "plan_changed"
)

// Notification is a side effect requested by a transition. Notifications are
// dispatched outside the webhook critical path: a slow or failing notifier
// must never delay the acknowledgment to the provider.
type Notification struct {
	Kind     NotificationKind
	UserID   uuid.UUID // filled in by the router after subject resolution
	Provider ProviderID
	Reason   string
	Fields   map[string]string
}

// Notifier receives transition side effects. Implementations must be safe
// for concurrent use; errors are the notifier's to log, not to return.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier records notifications as structured log entries. It is the
// default sink and the integration point for analytics pipelines that tail
// logs.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a notifier writing to the given logger.
// Panics if log is nil.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		panic("billing: logger is required")
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, notif Notification) {
	attrs := []any{
		slog.String("kind", string(notif.Kind)),
		slog.String("user_id", notif.UserID.String()),
		slog.String("provider", string(notif.Provider)),
	}
	if notif.Reason != "" {
		attrs = append(attrs, slog.String("reason", notif.Reason))
	}
	for k, v := range notif.Fields {
		attrs = append(attrs, slog.String(k, v))
	}
	n.log.InfoContext(ctx, "billing notification", attrs...)
}

// MultiNotifier fans a notification out to several sinks in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		notifier.Notify(ctx, n)
	}
}

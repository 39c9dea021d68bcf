package billing

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/lumeapp/billingd/pkg/billing"
	"github.com/lumeapp/billingd/pkg/email"
	"github.com/lumeapp/billingd/pkg/logger"
)

// EmailResolver looks up the email address for a local user. The billing
// service stores no profile data, so address resolution belongs to the caller.
type EmailResolver func(ctx context.Context, userID uuid.UUID) (string, error)

// EmailNotifier turns billing notifications into transactional emails.
// Notification dispatch runs off the webhook critical path, so failures are
// logged and dropped rather than retried.
type EmailNotifier struct {
	sender  email.EmailSender
	resolve EmailResolver
	log     *slog.Logger
}

// NewEmailNotifier creates a notifier sending through the given sender.
// Panics if any dependency is nil.
func NewEmailNotifier(sender email.EmailSender, resolve EmailResolver, log *slog.Logger) *EmailNotifier {
	if sender == nil {
		panic("billing: EmailSender is required")
	}
	if resolve == nil {
		panic("billing: EmailResolver is required")
	}
	if log == nil {
		panic("billing: logger is required")
	}
	return &EmailNotifier{sender: sender, resolve: resolve, log: log}
}

var notificationEmails = map[billing.NotificationKind]struct {
	subject string
	tpl     *template.Template
}{
	billing.NotifyBillingIssue: {
		subject: "Action needed: payment problem with your subscription",
		tpl: template.Must(template.New("billing_issue").Parse(`
<p>We could not process your latest subscription payment.</p>
<p>Please update your payment method to keep your plan active.
{{if .GracePeriodEnd}}Your access continues until {{.GracePeriodEnd}}.{{end}}</p>`)),
	},
	billing.NotifyCancellation: {
		subject: "Your subscription has been cancelled",
		tpl: template.Must(template.New("cancellation").Parse(`
<p>Your subscription will not renew.</p>
<p>You keep full access until the end of the paid period. You can resume the
subscription from the app at any time before then.</p>`)),
	},
	billing.NotifyExpiration: {
		subject: "Your subscription has ended",
		tpl: template.Must(template.New("expiration").Parse(`
<p>Your subscription has ended and your account is back on the free plan.</p>
<p>You can subscribe again from the app whenever you like.</p>`)),
	},
	billing.NotifyPlanChanged: {
		subject: "Your subscription plan has changed",
		tpl: template.Must(template.New("plan_changed").Parse(`
<p>Your subscription plan was updated{{if .NewProduct}} to {{.NewProduct}}{{end}}.</p>
<p>If you did not make this change, contact support.</p>`)),
	},
}

// Notify renders and sends the email matching the notification kind. Unknown
// kinds are logged and skipped so new kinds cannot crash dispatch.
func (n *EmailNotifier) Notify(ctx context.Context, notif billing.Notification) {
	spec, ok := notificationEmails[notif.Kind]
	if !ok {
		n.log.WarnContext(ctx, "no email template for notification",
			slog.String("kind", string(notif.Kind)))
		return
	}

	addr, err := n.resolve(ctx, notif.UserID)
	if err != nil || addr == "" {
		n.log.WarnContext(ctx, "could not resolve user email",
			logger.UserID(notif.UserID.String()), logger.Error(err))
		return
	}

	data := map[string]string{
		"GracePeriodEnd": notif.Fields["grace_period_end"],
		"NewProduct":     notif.Fields["new_product"],
	}
	var body strings.Builder
	if err := spec.tpl.Execute(&body, data); err != nil {
		n.log.ErrorContext(ctx, "failed to render notification email",
			slog.String("kind", string(notif.Kind)), logger.Error(err))
		return
	}

	err = n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   addr,
		Subject:  spec.subject,
		BodyHTML: body.String(),
		Tag:      fmt.Sprintf("billing-%s", notif.Kind),
	})
	if err != nil {
		n.log.ErrorContext(ctx, "failed to send notification email",
			slog.String("kind", string(notif.Kind)),
			logger.UserID(notif.UserID.String()), logger.Error(err))
	}
}

package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/reyhq/rentledger/internal/db"
)

// Email holds the rendered parts of an outbound message before enqueueing.
type Email struct {
	Recipient string
	Subject   string
	HTML      string
	Text      string
}

// NewInvoiceEmail renders the "new rent invoice" email sent to the tenant
// when the billing cycle generates a charge.
func NewInvoiceEmail(parties *db.LeaseParties, amount decimal.Decimal, period time.Time) Email {
	month := period.Format("January 2006")
	where := fmt.Sprintf("%s, unit %s", parties.Property.Name, parties.Unit.Label)

	html := fmt.Sprintf(`<html><body>
<p>Dear %s,</p>
<p>Your rent invoice for <strong>%s</strong> is ready.</p>
<table>
<tr><td>Property</td><td>%s</td></tr>
<tr><td>Amount due</td><td><strong>%s</strong></td></tr>
<tr><td>Due date</td><td>%s</td></tr>
</table>
<p>Please make your payment at your earliest convenience.</p>
</body></html>`,
		parties.Tenant.FullName, month, where, amount.StringFixed(2), period.Format("2 January 2006"))

	text := fmt.Sprintf(
		"Dear %s,\n\nYour rent invoice for %s is ready.\n\nProperty: %s\nAmount due: %s\nDue date: %s\n\nPlease make your payment at your earliest convenience.\n",
		parties.Tenant.FullName, month, where, amount.StringFixed(2), period.Format("2 January 2006"))

	return Email{
		Recipient: parties.Tenant.Email,
		Subject:   fmt.Sprintf("Rent invoice for %s - %s", month, where),
		HTML:      html,
		Text:      text,
	}
}

// PaymentReceiptEmail renders the confirmation sent to the tenant after a
// gateway payment completes.
func PaymentReceiptEmail(parties *db.LeaseParties, payment *db.Payment) Email {
	confirmation := ""
	if payment.ConfirmationCode != nil {
		confirmation = *payment.ConfirmationCode
	}
	where := fmt.Sprintf("%s, unit %s", parties.Property.Name, parties.Unit.Label)

	html := fmt.Sprintf(`<html><body>
<p>Dear %s,</p>
<p>We received your payment of <strong>%s</strong> for %s.</p>
<table>
<tr><td>Payment method</td><td>%s</td></tr>
<tr><td>Confirmation code</td><td>%s</td></tr>
</table>
<p>Thank you.</p>
</body></html>`,
		parties.Tenant.FullName, payment.Amount.StringFixed(2), where, payment.Method, confirmation)

	text := fmt.Sprintf(
		"Dear %s,\n\nWe received your payment of %s for %s.\n\nPayment method: %s\nConfirmation code: %s\n\nThank you.\n",
		parties.Tenant.FullName, payment.Amount.StringFixed(2), where, payment.Method, confirmation)

	return Email{
		Recipient: parties.Tenant.Email,
		Subject:   fmt.Sprintf("Payment received - %s", where),
		HTML:      html,
		Text:      text,
	}
}

// OwnerPaymentEmail renders the notification sent to the property owner after
// a tenant's payment completes.
func OwnerPaymentEmail(parties *db.LeaseParties, payment *db.Payment) Email {
	where := fmt.Sprintf("%s, unit %s", parties.Property.Name, parties.Unit.Label)

	html := fmt.Sprintf(`<html><body>
<p>Dear %s,</p>
<p>A payment of <strong>%s</strong> was received from %s for %s.</p>
</body></html>`,
		parties.Property.OwnerName, payment.Amount.StringFixed(2), parties.Tenant.FullName, where)

	text := fmt.Sprintf(
		"Dear %s,\n\nA payment of %s was received from %s for %s.\n",
		parties.Property.OwnerName, payment.Amount.StringFixed(2), parties.Tenant.FullName, where)

	return Email{
		Recipient: parties.Property.OwnerEmail,
		Subject:   fmt.Sprintf("Payment received from %s - %s", parties.Tenant.FullName, where),
		HTML:      html,
		Text:      text,
	}
}

// QueueItem wraps a rendered email into a pending queue row tagged with its
// kind and correlation ids.
func QueueItem(email Email, kind string, leaseID, paymentID *uuid.UUID) *db.NotificationItem {
	return &db.NotificationItem{
		ID:        uuid.New(),
		Recipient: email.Recipient,
		Subject:   email.Subject,
		HTMLBody:  email.HTML,
		TextBody:  email.Text,
		Status:    db.QueuePending,
		Kind:      kind,
		LeaseID:   leaseID,
		PaymentID: paymentID,
	}
}

package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment status constants. A payment is terminal once it leaves pending;
// only completed payments feed the ledger.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentCancelled = "cancelled"
)

// Payment type tags.
const (
	PaymentTypeRent    = "rent"
	PaymentTypeDeposit = "deposit"
	PaymentTypeOther   = "other"
)

// Notification queue status constants
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueSent       = "sent"
	QueueFailed     = "failed"
)

// Notification kind tags
const (
	KindNewInvoice       = "new_invoice"
	KindPaymentReceipt   = "payment_receipt"
	KindOwnerPaymentNote = "owner_payment_note"
)

// Lease binds one tenant to one unit at a fixed monthly rent. Read-only to
// this subsystem; the scheduler never mutates it.
type Lease struct {
	ID          uuid.UUID       `json:"id"`
	UnitID      uuid.UUID       `json:"unit_id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	MonthlyRent decimal.Decimal `json:"monthly_rent"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Payment is either a rent charge generated by the billing scheduler
// (PeriodYear/PeriodMonth set) or a gateway-bound payment created by the
// payment-initiation flow (period columns NULL).
type Payment struct {
	ID               uuid.UUID       `json:"id"`
	LeaseID          uuid.UUID       `json:"lease_id"`
	Amount           decimal.Decimal `json:"amount"`
	DueDate          time.Time       `json:"due_date"`
	PaidDate         *time.Time      `json:"paid_date,omitempty"`
	Method           string          `json:"method"`
	Status           string          `json:"status"`
	PaymentType      string          `json:"payment_type"`
	Description      string          `json:"description"`
	TrackingID       *string         `json:"tracking_id,omitempty"`
	ConfirmationCode *string         `json:"confirmation_code,omitempty"`
	PeriodYear       *int            `json:"period_year,omitempty"`
	PeriodMonth      *int            `json:"period_month,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Tenant holds the contact fields this subsystem needs.
type Tenant struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
}

// Unit is a rentable unit inside a property.
type Unit struct {
	ID         uuid.UUID `json:"id"`
	PropertyID uuid.UUID `json:"property_id"`
	Label      string    `json:"label"`
}

// Property carries the owner contact fields used for owner notifications.
type Property struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	OwnerName  string    `json:"owner_name"`
	OwnerEmail string    `json:"owner_email"`
}

// LeaseParties is the resolved relation chain lease -> tenant, unit, property.
type LeaseParties struct {
	Lease    *Lease
	Tenant   *Tenant
	Unit     *Unit
	Property *Property
}

// NotificationItem is a durable outbound email. Items at or above the retry
// cap stay failed and are excluded from selection (dead-lettered in place).
type NotificationItem struct {
	ID         uuid.UUID  `json:"id"`
	Recipient  string     `json:"recipient"`
	Subject    string     `json:"subject"`
	HTMLBody   string     `json:"html_body"`
	TextBody   string     `json:"text_body"`
	Status     string     `json:"status"`
	RetryCount int        `json:"retry_count"`
	LastError  *string    `json:"last_error,omitempty"`
	Kind       string     `json:"kind"`
	LeaseID    *uuid.UUID `json:"lease_id,omitempty"`
	PaymentID  *uuid.UUID `json:"payment_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

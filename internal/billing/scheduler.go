// Package billing generates the monthly rent charges. One run per period is
// expected, but extra runs are harmless: the store's uniqueness constraint on
// (lease, period) collapses duplicates into skips.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/db"
	"github.com/reyhq/rentledger/internal/events"
	"github.com/reyhq/rentledger/internal/metrics"
	"github.com/reyhq/rentledger/internal/notify"
)

// Store is the slice of the repository the scheduler needs.
type Store interface {
	ListActiveLeases(ctx context.Context) ([]*db.Lease, error)
	CreateRentCharge(ctx context.Context, p *db.Payment) error
	GetLeaseParties(ctx context.Context, leaseID uuid.UUID) (*db.LeaseParties, error)
	EnqueueNotification(ctx context.Context, n *db.NotificationItem) error
}

// Result aggregates one billing cycle run.
type Result struct {
	Processed int `json:"processed"`
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type Scheduler struct {
	store  Store
	events *events.Publisher
	logger *zap.Logger
}

func NewScheduler(store Store, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		logger: logger,
	}
}

// WithEvents attaches an optional billing-event publisher.
func (s *Scheduler) WithEvents(pub *events.Publisher) *Scheduler {
	s.events = pub
	return s
}

// Run executes one billing cycle for the calendar month of now. Per-lease
// failures are counted and logged, never fatal; only failing to list the
// leases aborts the run, so the operator knows the whole cycle did not
// happen.
func (s *Scheduler) Run(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	leases, err := s.store.ListActiveLeases(ctx)
	if err != nil {
		return res, fmt.Errorf("list active leases: %w", err)
	}

	period := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	s.logger.Info("billing cycle started",
		zap.String("period", period.Format("2006-01")),
		zap.Int("active_leases", len(leases)),
	)

	for _, lease := range leases {
		res.Processed++
		switch outcome := s.processLease(ctx, lease, period); outcome {
		case outcomeGenerated:
			res.Generated++
		case outcomeSkipped:
			res.Skipped++
		case outcomeError:
			res.Errors++
		}
	}

	s.logger.Info("billing cycle complete",
		zap.String("period", period.Format("2006-01")),
		zap.Int("processed", res.Processed),
		zap.Int("generated", res.Generated),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors),
	)
	metrics.RecordBillingCycle(res.Generated, res.Skipped, res.Errors)

	return res, nil
}

type outcome int

const (
	outcomeGenerated outcome = iota
	outcomeSkipped
	outcomeError
)

func (s *Scheduler) processLease(ctx context.Context, lease *db.Lease, period time.Time) outcome {
	// A lease whose term does not cover this period owes nothing for it.
	if period.Before(monthStart(lease.StartDate)) || period.After(monthStart(lease.EndDate)) {
		return outcomeSkipped
	}

	year, month := period.Year(), int(period.Month())
	charge := &db.Payment{
		ID:          uuid.New(),
		LeaseID:     lease.ID,
		Amount:      lease.MonthlyRent,
		DueDate:     period,
		Status:      db.PaymentPending,
		PaymentType: db.PaymentTypeRent,
		Description: fmt.Sprintf("Rent for %s", period.Format("January 2006")),
		PeriodYear:  &year,
		PeriodMonth: &month,
	}

	err := s.store.CreateRentCharge(ctx, charge)
	if errors.Is(err, db.ErrChargeExists) {
		return outcomeSkipped
	}
	if err != nil {
		// Nothing was created, so the next cycle retries this lease.
		s.logger.Error("failed to generate rent charge",
			zap.Error(err),
			zap.String("lease_id", lease.ID.String()),
			zap.String("period", period.Format("2006-01")),
		)
		return outcomeError
	}

	if s.events != nil {
		s.events.Publish(ctx, events.Event{
			Type:      events.InvoiceCreated,
			LeaseID:   lease.ID.String(),
			PaymentID: charge.ID.String(),
			Amount:    charge.Amount.String(),
		})
	}

	// The charge exists regardless of what happens to the notification; a
	// broken relation chain or a full queue must not turn a generated charge
	// into a lease error.
	s.enqueueInvoiceEmail(ctx, lease, charge, period)

	return outcomeGenerated
}

func (s *Scheduler) enqueueInvoiceEmail(ctx context.Context, lease *db.Lease, charge *db.Payment, period time.Time) {
	parties, err := s.store.GetLeaseParties(ctx, lease.ID)
	if err != nil {
		s.logger.Warn("skipping invoice notification, relation chain unresolved",
			zap.Error(err),
			zap.String("lease_id", lease.ID.String()),
		)
		return
	}
	if parties.Tenant.Email == "" {
		s.logger.Warn("skipping invoice notification, tenant has no email",
			zap.String("lease_id", lease.ID.String()),
		)
		return
	}

	email := notify.NewInvoiceEmail(parties, charge.Amount, period)
	item := notify.QueueItem(email, db.KindNewInvoice, &lease.ID, &charge.ID)

	if err := s.store.EnqueueNotification(ctx, item); err != nil {
		s.logger.Error("failed to enqueue invoice notification",
			zap.Error(err),
			zap.String("lease_id", lease.ID.String()),
			zap.String("payment_id", charge.ID.String()),
		)
	}
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

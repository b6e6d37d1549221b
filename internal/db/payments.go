package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrChargeExists signals that a rent charge for (lease, period) already
// exists. The partial unique index on payments makes the insert race-free:
// a concurrent duplicate run collapses into this error instead of a second
// charge.
var ErrChargeExists = errors.New("rent charge already exists for period")

const uniqueViolation = "23505"

const paymentColumns = `id, lease_id, amount, due_date, paid_date, method, status,
		payment_type, description, tracking_id, confirmation_code,
		period_year, period_month, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.LeaseID,
		&p.Amount,
		&p.DueDate,
		&p.PaidDate,
		&p.Method,
		&p.Status,
		&p.PaymentType,
		&p.Description,
		&p.TrackingID,
		&p.ConfirmationCode,
		&p.PeriodYear,
		&p.PeriodMonth,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateRentCharge inserts a scheduler-generated rent charge. A unique
// violation on (lease_id, period_year, period_month) is reported as
// ErrChargeExists so the billing cycle counts it as skipped.
func (r *Repository) CreateRentCharge(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (
			id, lease_id, amount, due_date, method, status,
			payment_type, description, period_year, period_month
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		p.ID,
		p.LeaseID,
		p.Amount,
		p.DueDate,
		p.Method,
		p.Status,
		p.PaymentType,
		p.Description,
		p.PeriodYear,
		p.PeriodMonth,
	).Scan(&p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrChargeExists
		}
		r.logger.Error("failed to create rent charge",
			zap.Error(err),
			zap.String("lease_id", p.LeaseID.String()),
		)
		return fmt.Errorf("insert rent charge: %w", err)
	}

	r.logger.Info("rent charge created",
		zap.String("payment_id", p.ID.String()),
		zap.String("lease_id", p.LeaseID.String()),
		zap.String("amount", p.Amount.String()),
	)

	return nil
}

// CreatePayment inserts a gateway-bound payment created by the
// payment-initiation flow.
func (r *Repository) CreatePayment(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (
			id, lease_id, amount, due_date, method, status,
			payment_type, description, tracking_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		p.ID,
		p.LeaseID,
		p.Amount,
		p.DueDate,
		p.Method,
		p.Status,
		p.PaymentType,
		p.Description,
		p.TrackingID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create payment",
			zap.Error(err),
			zap.String("lease_id", p.LeaseID.String()),
		)
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

// GetPayment retrieves a payment by ID
func (r *Repository) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1
	`

	p, err := scanPayment(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query payment: %w", err)
	}

	return p, nil
}

// ListPaymentsByLease returns every payment for a lease, oldest first. The
// ledger engine filters to completed; the statement endpoint feeds it the
// full set.
func (r *Repository) ListPaymentsByLease(ctx context.Context, leaseID uuid.UUID) ([]*Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE lease_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, leaseID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return payments, nil
}

// SetPaymentTracking stores the gateway tracking id after order submission.
func (r *Repository) SetPaymentTracking(ctx context.Context, id uuid.UUID, trackingID string) error {
	query := `
		UPDATE payments
		SET tracking_id = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, trackingID, id)
	if err != nil {
		return fmt.Errorf("set payment tracking: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}

	return nil
}

// CompletePayment transitions a payment out of pending into completed,
// stamping method, confirmation code and paid date. The WHERE clause makes
// the update a no-op for payments already terminal, which is what keeps
// duplicate and out-of-order gateway callbacks harmless. Returns whether the
// row actually transitioned.
func (r *Repository) CompletePayment(ctx context.Context, id uuid.UUID, method, confirmationCode string, paidAt time.Time) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, method = $2, confirmation_code = $3, paid_date = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
	`

	result, err := r.db.Pool().Exec(ctx, query,
		PaymentCompleted, method, confirmationCode, paidAt, id, PaymentPending)
	if err != nil {
		r.logger.Error("failed to complete payment",
			zap.Error(err),
			zap.String("payment_id", id.String()),
		)
		return false, fmt.Errorf("complete payment: %w", err)
	}

	transitioned := result.RowsAffected() > 0
	if transitioned {
		r.logger.Info("payment completed",
			zap.String("payment_id", id.String()),
			zap.String("method", method),
			zap.String("confirmation_code", confirmationCode),
		)
	}

	return transitioned, nil
}

// FailPayment transitions a payment out of pending into failed. Same
// conditional-update discipline as CompletePayment; paid date stays unset.
func (r *Repository) FailPayment(ctx context.Context, id uuid.UUID, method, confirmationCode string) (bool, error) {
	query := `
		UPDATE payments
		SET status = $1, method = $2, confirmation_code = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.Pool().Exec(ctx, query,
		PaymentFailed, method, confirmationCode, id, PaymentPending)
	if err != nil {
		r.logger.Error("failed to fail payment",
			zap.Error(err),
			zap.String("payment_id", id.String()),
		)
		return false, fmt.Errorf("fail payment: %w", err)
	}

	transitioned := result.RowsAffected() > 0
	if transitioned {
		r.logger.Info("payment marked failed",
			zap.String("payment_id", id.String()),
		)
	}

	return transitioned, nil
}

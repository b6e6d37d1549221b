package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const queueColumns = `id, recipient, subject, html_body, text_body, status,
		retry_count, last_error, kind, lease_id, payment_id,
		created_at, updated_at, sent_at`

func scanQueueItem(row pgx.Row) (*NotificationItem, error) {
	var n NotificationItem
	err := row.Scan(
		&n.ID,
		&n.Recipient,
		&n.Subject,
		&n.HTMLBody,
		&n.TextBody,
		&n.Status,
		&n.RetryCount,
		&n.LastError,
		&n.Kind,
		&n.LeaseID,
		&n.PaymentID,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.SentAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// EnqueueNotification inserts a new outbound email into the queue in pending
// state.
func (r *Repository) EnqueueNotification(ctx context.Context, n *NotificationItem) error {
	query := `
		INSERT INTO notification_queue (
			id, recipient, subject, html_body, text_body,
			status, retry_count, kind, lease_id, payment_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		n.ID,
		n.Recipient,
		n.Subject,
		n.HTMLBody,
		n.TextBody,
		n.Status,
		n.RetryCount,
		n.Kind,
		n.LeaseID,
		n.PaymentID,
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to enqueue notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
			zap.String("kind", n.Kind),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Info("notification enqueued",
		zap.String("notification_id", n.ID.String()),
		zap.String("kind", n.Kind),
		zap.String("recipient", n.Recipient),
	)

	return nil
}

// SelectDeliverable returns up to limit items still eligible for delivery:
// pending or failed, below the retry cap, oldest first. Items at the cap
// never match again, which is the in-place dead-letter.
func (r *Repository) SelectDeliverable(ctx context.Context, limit, maxRetries int) ([]*NotificationItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM notification_queue
		WHERE status IN ($1, $2) AND retry_count < $3
		ORDER BY created_at ASC
		LIMIT $4
	`

	rows, err := r.db.Pool().Query(ctx, query, QueuePending, QueueFailed, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliverable notifications: %w", err)
	}
	defer rows.Close()

	var items []*NotificationItem
	for rows.Next() {
		n, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return items, nil
}

// ClaimItem atomically moves an item to processing. The conditional WHERE
// turns the claim into a compare-and-swap: when two dispatcher instances race
// for the same item, exactly one sees a row affected.
func (r *Repository) ClaimItem(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE notification_queue
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
	`

	result, err := r.db.Pool().Exec(ctx, query, QueueProcessing, id, QueuePending, QueueFailed)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// MarkSent stamps a delivered item.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = $1, sent_at = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, QueueSent, sentAt, id)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}

	return nil
}

// MarkFailed records a delivery failure and bumps the retry count. Once the
// count reaches the cap the item drops out of SelectDeliverable for good.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, lastError string) error {
	query := `
		UPDATE notification_queue
		SET status = $1, retry_count = $2, last_error = $3, updated_at = NOW()
		WHERE id = $4
	`

	result, err := r.db.Pool().Exec(ctx, query, QueueFailed, retryCount, lastError, id)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}

	return nil
}

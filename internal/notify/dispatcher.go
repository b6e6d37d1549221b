package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/db"
	"github.com/reyhq/rentledger/internal/events"
	"github.com/reyhq/rentledger/internal/metrics"
)

// QueueStore is the slice of the repository the dispatcher needs.
type QueueStore interface {
	SelectDeliverable(ctx context.Context, limit, maxRetries int) ([]*db.NotificationItem, error)
	ClaimItem(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, lastError string) error
}

// Result aggregates one drain pass.
type Result struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Dispatcher struct {
	store  QueueStore
	sender EmailSender
	events *events.Publisher
	config Config
	logger *zap.Logger
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	SendTimeout  time.Duration
}

func New(store QueueStore, sender EmailSender, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 25
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	return &Dispatcher{
		store:  store,
		sender: sender,
		config: cfg,
		logger: logger,
	}
}

// WithEvents attaches an optional billing-event publisher.
func (d *Dispatcher) WithEvents(pub *events.Publisher) *Dispatcher {
	d.events = pub
	return d
}

// Start polls the queue until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			if _, err := d.Drain(ctx, d.config.BatchSize); err != nil {
				d.logger.Error("drain pass failed", zap.Error(err))
			}
		}
	}
}

// Drain processes one batch of deliverable queue items. A single item's
// failure never aborts the batch; only failing to fetch the batch is fatal.
func (d *Dispatcher) Drain(ctx context.Context, batchSize int) (Result, error) {
	var res Result

	items, err := d.store.SelectDeliverable(ctx, batchSize, d.config.MaxRetries)
	if err != nil {
		return res, err
	}
	if len(items) == 0 {
		return res, nil
	}

	for _, item := range items {
		claimed, err := d.store.ClaimItem(ctx, item.ID)
		if err != nil {
			d.logger.Error("failed to claim notification",
				zap.Error(err),
				zap.String("id", item.ID.String()),
			)
			continue
		}
		if !claimed {
			// Another dispatcher instance got there first.
			continue
		}

		res.Processed++
		if d.deliver(ctx, item) {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	d.logger.Info("drain pass complete",
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
	)

	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, item *db.NotificationItem) bool {
	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	err := d.sender.Send(sendCtx, item)
	cancel()

	if err == nil {
		if err := d.store.MarkSent(ctx, item.ID, time.Now().UTC()); err != nil {
			d.logger.Error("failed to mark notification sent",
				zap.Error(err),
				zap.String("id", item.ID.String()),
			)
		}
		metrics.RecordNotificationProcessed("sent", item.Kind)
		return true
	}

	attempt := item.RetryCount + 1
	d.logger.Error("failed to send notification",
		zap.Error(err),
		zap.String("id", item.ID.String()),
		zap.Int("attempt", attempt),
	)

	if markErr := d.store.MarkFailed(ctx, item.ID, attempt, err.Error()); markErr != nil {
		d.logger.Error("failed to mark notification failed",
			zap.Error(markErr),
			zap.String("id", item.ID.String()),
		)
	}
	metrics.RecordNotificationProcessed("failed", item.Kind)

	if attempt >= d.config.MaxRetries {
		// Excluded from future selection: dead-lettered in place.
		d.logger.Warn("notification dead-lettered",
			zap.String("id", item.ID.String()),
			zap.String("kind", item.Kind),
			zap.Int("attempts", attempt),
			zap.String("last_error", err.Error()),
		)
		metrics.RecordNotificationDeadLettered(item.Kind)
		if d.events != nil {
			d.events.Publish(ctx, events.Event{
				Type:           events.NotificationDeadLettered,
				NotificationID: item.ID.String(),
			})
		}
	}

	return false
}

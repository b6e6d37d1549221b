// Package reconcile maps asynchronous payment-gateway callbacks back onto
// internal payment records. The gateway delivers webhooks at least once, so
// everything here has to tolerate duplicates: the status query is
// authoritative, the payment update is a conditional transition out of
// pending, and side effects fire only when that transition actually happened.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/db"
	"github.com/reyhq/rentledger/internal/events"
	"github.com/reyhq/rentledger/internal/gateway"
	"github.com/reyhq/rentledger/internal/metrics"
	"github.com/reyhq/rentledger/internal/notify"
)

// ErrMissingTrackingID rejects malformed webhook calls before anything is
// mutated.
var ErrMissingTrackingID = errors.New("tracking id is required")

// ErrGatewayUnavailable wraps a failed authoritative status query. The
// webhook endpoint maps it to a 5xx so the gateway redelivers the callback.
var ErrGatewayUnavailable = errors.New("gateway status query failed")

// Store is the slice of the repository the reconciler needs.
type Store interface {
	GetPayment(ctx context.Context, id uuid.UUID) (*db.Payment, error)
	CompletePayment(ctx context.Context, id uuid.UUID, method, confirmationCode string, paidAt time.Time) (bool, error)
	FailPayment(ctx context.Context, id uuid.UUID, method, confirmationCode string) (bool, error)
	GetLeaseParties(ctx context.Context, leaseID uuid.UUID) (*db.LeaseParties, error)
	EnqueueNotification(ctx context.Context, n *db.NotificationItem) error
}

// AckCache short-circuits repeat webhook deliveries for an already-resolved
// tracking id. It is a fast path only: a cache miss or error falls through to
// the conditional update, which is what correctness rests on.
type AckCache interface {
	Get(ctx context.Context, trackingID string) (*Ack, error)
	Put(ctx context.Context, trackingID string, ack *Ack) error
}

// Ack is the acknowledgment returned to the gateway for its own logging.
type Ack struct {
	TrackingID  string `json:"tracking_id"`
	MerchantRef string `json:"merchant_reference,omitempty"`
	Status      string `json:"status"`
	GatewayCode int    `json:"gateway_status_code"`
}

type Service struct {
	store   Store
	gateway gateway.Client
	cache   AckCache
	events  *events.Publisher
	logger  *zap.Logger
}

func NewService(store Store, gw gateway.Client, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		gateway: gw,
		logger:  logger,
	}
}

// WithCache attaches an optional ack cache.
func (s *Service) WithCache(cache AckCache) *Service {
	s.cache = cache
	return s
}

// WithEvents attaches an optional billing-event publisher.
func (s *Service) WithEvents(pub *events.Publisher) *Service {
	s.events = pub
	return s
}

// Reconcile resolves one gateway callback. Outcomes other than a missing
// tracking id or an unreachable gateway always acknowledge: the gateway must
// not retry-storm over conditions this side already handled.
func (s *Service) Reconcile(ctx context.Context, trackingID, merchantRef string) (*Ack, error) {
	if trackingID == "" {
		return nil, ErrMissingTrackingID
	}

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, trackingID); err == nil && cached != nil {
			s.logger.Debug("webhook replayed from ack cache",
				zap.String("tracking_id", trackingID),
			)
			return cached, nil
		}
	}

	status, err := s.gateway.GetStatus(ctx, trackingID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	outcome := gateway.MapStatus(status.Code)

	ack := &Ack{
		TrackingID:  trackingID,
		MerchantRef: merchantRef,
		Status:      outcome,
		GatewayCode: status.Code,
	}

	if merchantRef != "" {
		s.applyOutcome(ctx, merchantRef, outcome, status)
	}

	// Cache terminal acks only; a pending outcome should be re-queried on the
	// next delivery.
	if s.cache != nil && outcome != db.PaymentPending {
		if err := s.cache.Put(ctx, trackingID, ack); err != nil {
			s.logger.Warn("failed to cache webhook ack",
				zap.Error(err),
				zap.String("tracking_id", trackingID),
			)
		}
	}

	return ack, nil
}

// applyOutcome transitions the referenced payment when the gateway reports a
// terminal status. Every failure in here is logged and swallowed: the charge
// of this method is state transition, and a broken reference must still ack.
func (s *Service) applyOutcome(ctx context.Context, merchantRef, outcome string, status *gateway.StatusResponse) {
	paymentID, err := uuid.Parse(merchantRef)
	if err != nil {
		s.logger.Warn("webhook carries unparseable merchant reference",
			zap.String("merchant_ref", merchantRef),
		)
		return
	}

	switch outcome {
	case db.PaymentCompleted:
		transitioned, err := s.store.CompletePayment(ctx, paymentID, status.PaymentMethod, status.ConfirmationCode, time.Now().UTC())
		if err != nil {
			s.logger.Error("failed to complete payment",
				zap.Error(err),
				zap.String("payment_id", paymentID.String()),
			)
			return
		}
		if !transitioned {
			// Already terminal: duplicate or out-of-order callback.
			s.logger.Info("payment already reconciled, skipping side effects",
				zap.String("payment_id", paymentID.String()),
			)
			return
		}
		metrics.RecordPaymentReconciled(db.PaymentCompleted)
		s.onCompleted(ctx, paymentID)

	case db.PaymentFailed:
		transitioned, err := s.store.FailPayment(ctx, paymentID, status.PaymentMethod, status.ConfirmationCode)
		if err != nil {
			s.logger.Error("failed to mark payment failed",
				zap.Error(err),
				zap.String("payment_id", paymentID.String()),
			)
			return
		}
		if transitioned {
			metrics.RecordPaymentReconciled(db.PaymentFailed)
		}

	default:
		// Still pending on the gateway side; nothing to record yet.
	}
}

// onCompleted fires the side effects of a confirmed payment: tenant receipt,
// owner notification, completed event. Each notification is queued
// separately so one failure cannot block the other.
func (s *Service) onCompleted(ctx context.Context, paymentID uuid.UUID) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		s.logger.Warn("completed payment vanished before notification",
			zap.Error(err),
			zap.String("payment_id", paymentID.String()),
		)
		return
	}

	if s.events != nil {
		s.events.Publish(ctx, events.Event{
			Type:      events.PaymentCompleted,
			LeaseID:   payment.LeaseID.String(),
			PaymentID: payment.ID.String(),
			Amount:    payment.Amount.String(),
		})
	}

	parties, err := s.store.GetLeaseParties(ctx, payment.LeaseID)
	if err != nil {
		s.logger.Warn("skipping payment notifications, relation chain unresolved",
			zap.Error(err),
			zap.String("payment_id", paymentID.String()),
			zap.String("lease_id", payment.LeaseID.String()),
		)
		return
	}

	if parties.Tenant.Email != "" {
		receipt := notify.QueueItem(
			notify.PaymentReceiptEmail(parties, payment),
			db.KindPaymentReceipt, &payment.LeaseID, &payment.ID)
		if err := s.store.EnqueueNotification(ctx, receipt); err != nil {
			s.logger.Error("failed to enqueue tenant receipt",
				zap.Error(err),
				zap.String("payment_id", paymentID.String()),
			)
		}
	}

	if parties.Property.OwnerEmail != "" {
		ownerNote := notify.QueueItem(
			notify.OwnerPaymentEmail(parties, payment),
			db.KindOwnerPaymentNote, &payment.LeaseID, &payment.ID)
		if err := s.store.EnqueueNotification(ctx, ownerNote); err != nil {
			s.logger.Error("failed to enqueue owner notification",
				zap.Error(err),
				zap.String("payment_id", paymentID.String()),
			)
		}
	}
}

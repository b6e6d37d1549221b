package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/db"
	"github.com/reyhq/rentledger/internal/gateway"
)

// EmailSender mirrors the notify sender interface to avoid circular imports.
type EmailSender interface {
	Send(ctx context.Context, item *db.NotificationItem) error
}

// ProtectedSender wraps an email sender with a CircuitBreaker. When the
// provider starts failing, the circuit opens and sends fail fast instead
// of piling up against a dead service.
type ProtectedSender struct {
	sender  EmailSender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender EmailSender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts a delivery through the circuit breaker. An open circuit
// returns ErrCircuitOpen immediately; the queue retry machinery handles
// the item like any other failure.
func (p *ProtectedSender) Send(ctx context.Context, item *db.NotificationItem) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("notification_id", item.ID.String()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	if err := p.sender.Send(ctx, item); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}

// ProtectedGateway wraps a payment gateway client with a CircuitBreaker.
type ProtectedGateway struct {
	client  gateway.Client
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedGateway wraps a gateway client with circuit breaker protection.
func NewProtectedGateway(client gateway.Client, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedGateway {
	return &ProtectedGateway{
		client:  client,
		breaker: breaker,
		logger:  logger,
	}
}

// SubmitOrder forwards through the circuit breaker.
func (p *ProtectedGateway) SubmitOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error) {
	if !p.breaker.Allow() {
		return nil, fmt.Errorf("%w: payment gateway unavailable", ErrCircuitOpen)
	}

	resp, err := p.client.SubmitOrder(ctx, req)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, err
	}

	p.breaker.RecordSuccess()
	return resp, nil
}

// GetStatus forwards through the circuit breaker.
func (p *ProtectedGateway) GetStatus(ctx context.Context, trackingID string) (*gateway.StatusResponse, error) {
	if !p.breaker.Allow() {
		return nil, fmt.Errorf("%w: payment gateway unavailable", ErrCircuitOpen)
	}

	resp, err := p.client.GetStatus(ctx, trackingID)
	if err != nil {
		p.breaker.RecordFailure()
		return nil, err
	}

	p.breaker.RecordSuccess()
	return resp, nil
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedGateway) Breaker() *CircuitBreaker {
	return p.breaker
}

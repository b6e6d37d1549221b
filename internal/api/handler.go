package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/billing"
	"github.com/reyhq/rentledger/internal/db"
	"github.com/reyhq/rentledger/internal/gateway"
	"github.com/reyhq/rentledger/internal/ledger"
	"github.com/reyhq/rentledger/internal/metrics"
	"github.com/reyhq/rentledger/internal/notify"
	"github.com/reyhq/rentledger/internal/reconcile"
)

// Store defines the repository operations the API layer needs.
type Store interface {
	GetLease(ctx context.Context, id uuid.UUID) (*db.Lease, error)
	ListPaymentsByLease(ctx context.Context, leaseID uuid.UUID) ([]*db.Payment, error)
	GetLeaseParties(ctx context.Context, leaseID uuid.UUID) (*db.LeaseParties, error)
	CreatePayment(ctx context.Context, p *db.Payment) error
	SetPaymentTracking(ctx context.Context, id uuid.UUID, trackingID string) error
}

// Reconciler resolves a gateway callback into a payment outcome.
type Reconciler interface {
	Reconcile(ctx context.Context, trackingID, merchantRef string) (*reconcile.Ack, error)
}

// BillingRunner runs one charge-generation cycle.
type BillingRunner interface {
	Run(ctx context.Context, now time.Time) (billing.Result, error)
}

// Drainer processes one batch of queued notifications.
type Drainer interface {
	Drain(ctx context.Context, batchSize int) (notify.Result, error)
}

// PaymentRequest is the body for payment initiation.
type PaymentRequest struct {
	LeaseID     string `json:"lease_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// PaymentResponse is returned after a payment order is opened with the gateway.
type PaymentResponse struct {
	PaymentID   string `json:"payment_id"`
	TrackingID  string `json:"tracking_id"`
	RedirectURL string `json:"redirect_url"`
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger      *zap.Logger
	store       Store
	reconciler  Reconciler
	billing     BillingRunner
	dispatcher  Drainer
	gateway     gateway.Client
	callbackURL string
}

// NewHandler creates a new API handler.
func NewHandler(logger *zap.Logger, store Store, reconciler Reconciler, billing BillingRunner, dispatcher Drainer) *Handler {
	return &Handler{
		logger:     logger,
		store:      store,
		reconciler: reconciler,
		billing:    billing,
		dispatcher: dispatcher,
	}
}

// WithGateway enables the payment-initiation endpoint.
func (h *Handler) WithGateway(gw gateway.Client, callbackURL string) *Handler {
	h.gateway = gw
	h.callbackURL = callbackURL
	return h
}

// PaymentWebhook handles POST /v1/webhooks/payment. Gateways vary in how
// they deliver callbacks, so form fields and query parameters are both
// accepted. The callback body is never trusted for the outcome; the
// reconciler queries the gateway for the authoritative status.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.reconciler == nil {
		h.writeError(w, http.StatusServiceUnavailable, "gateway_disabled", "Payment gateway not configured", "")
		return
	}

	trackingID := r.FormValue("tracking_id")
	if trackingID == "" {
		trackingID = r.URL.Query().Get("tracking_id")
	}
	merchantRef := r.FormValue("merchant_reference")
	if merchantRef == "" {
		merchantRef = r.URL.Query().Get("merchant_reference")
	}

	ack, err := h.reconciler.Reconcile(ctx, trackingID, merchantRef)
	if err != nil {
		if errors.Is(err, reconcile.ErrMissingTrackingID) {
			metrics.RecordWebhookCallback("rejected")
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing tracking id", "tracking_id is required")
			return
		}
		// A 5xx tells the gateway to redeliver.
		h.logger.Error("webhook reconciliation failed",
			zap.Error(err),
			zap.String("tracking_id", trackingID),
		)
		metrics.RecordWebhookCallback("gateway_error")
		h.writeError(w, http.StatusBadGateway, "gateway_unavailable", "Payment gateway unreachable", "")
		return
	}

	metrics.RecordWebhookCallback("acknowledged")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack)
}

// GetStatement handles GET /v1/leases/{id}/statement. The statement is
// computed from stored charges and payments at request time; nothing is
// persisted.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	leaseID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid lease ID", "ID must be a valid UUID")
		return
	}

	lease, err := h.store.GetLease(ctx, leaseID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Lease not found", "")
			return
		}
		h.logger.Error("failed to load lease", zap.Error(err), zap.String("lease_id", leaseID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load lease", "")
		return
	}

	payments, err := h.store.ListPaymentsByLease(ctx, leaseID)
	if err != nil {
		h.logger.Error("failed to load payments", zap.Error(err), zap.String("lease_id", leaseID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load payments", "")
		return
	}

	statement := ledger.Compute(lease, payments, time.Now().UTC())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(statement)
}

// RunBilling handles POST /v1/admin/billing/run.
func (h *Handler) RunBilling(w http.ResponseWriter, r *http.Request) {
	result, err := h.billing.Run(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("billing cycle failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "billing_error", "Billing cycle failed", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// DrainNotifications handles POST /v1/admin/notifications/drain.
func (h *Handler) DrainNotifications(w http.ResponseWriter, r *http.Request) {
	batchSize := 25
	if b := r.URL.Query().Get("batch_size"); b != "" {
		if n, err := strconv.Atoi(b); err == nil && n > 0 && n <= 500 {
			batchSize = n
		}
	}

	result, err := h.dispatcher.Drain(r.Context(), batchSize)
	if err != nil {
		h.logger.Error("notification drain failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "drain_error", "Notification drain failed", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// CreatePayment handles POST /v1/payments. It creates a pending payment,
// opens an order with the gateway using the payment id as the merchant
// reference, and returns the redirect URL the payer should be sent to.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.gateway == nil {
		h.writeError(w, http.StatusServiceUnavailable, "gateway_disabled", "Payment gateway not configured", "")
		return
	}

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	leaseID, err := uuid.Parse(req.LeaseID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid lease_id", "lease_id must be a valid UUID")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid amount", "amount must be a positive decimal string")
		return
	}

	parties, err := h.store.GetLeaseParties(ctx, leaseID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Lease not found", "")
			return
		}
		h.logger.Error("failed to resolve lease parties", zap.Error(err), zap.String("lease_id", leaseID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load lease", "")
		return
	}

	description := req.Description
	if description == "" {
		description = "Rent payment - " + parties.Property.Name + " " + parties.Unit.Label
	}

	payment := &db.Payment{
		ID:          uuid.New(),
		LeaseID:     leaseID,
		Amount:      amount,
		DueDate:     time.Now().UTC(),
		Status:      db.PaymentPending,
		PaymentType: db.PaymentTypeRent,
		Description: description,
	}

	if err := h.store.CreatePayment(ctx, payment); err != nil {
		h.logger.Error("failed to create payment", zap.Error(err), zap.String("lease_id", leaseID.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create payment", "")
		return
	}

	order, err := h.gateway.SubmitOrder(ctx, gateway.OrderRequest{
		Amount:      amount,
		Description: description,
		CallbackURL: h.callbackURL,
		MerchantRef: payment.ID.String(),
		PayerName:   parties.Tenant.FullName,
		PayerEmail:  parties.Tenant.Email,
		PayerPhone:  parties.Tenant.Phone,
	})
	if err != nil {
		// The payment stays pending without a tracking id; the client can retry.
		h.logger.Error("failed to open gateway order",
			zap.Error(err),
			zap.String("payment_id", payment.ID.String()),
		)
		h.writeError(w, http.StatusBadGateway, "gateway_unavailable", "Payment gateway unreachable", "")
		return
	}

	if err := h.store.SetPaymentTracking(ctx, payment.ID, order.TrackingID); err != nil {
		h.logger.Error("failed to store tracking id",
			zap.Error(err),
			zap.String("payment_id", payment.ID.String()),
			zap.String("tracking_id", order.TrackingID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to store tracking id", "")
		return
	}

	h.logger.Info("payment order opened",
		zap.String("payment_id", payment.ID.String()),
		zap.String("tracking_id", order.TrackingID),
		zap.String("lease_id", leaseID.String()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(PaymentResponse{
		PaymentID:   payment.ID.String(),
		TrackingID:  order.TrackingID,
		RedirectURL: order.RedirectURL,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

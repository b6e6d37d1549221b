package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/billing"
	"github.com/reyhq/rentledger/internal/db"
	"github.com/reyhq/rentledger/internal/gateway"
	"github.com/reyhq/rentledger/internal/notify"
	"github.com/reyhq/rentledger/internal/reconcile"
)

type fakeStore struct {
	lease       *db.Lease
	payments    []*db.Payment
	parties     *db.LeaseParties
	created     []*db.Payment
	trackingIDs map[uuid.UUID]string
	createErr   error
}

func (f *fakeStore) GetLease(ctx context.Context, id uuid.UUID) (*db.Lease, error) {
	if f.lease == nil || f.lease.ID != id {
		return nil, db.ErrNotFound
	}
	return f.lease, nil
}

func (f *fakeStore) ListPaymentsByLease(ctx context.Context, leaseID uuid.UUID) ([]*db.Payment, error) {
	return f.payments, nil
}

func (f *fakeStore) GetLeaseParties(ctx context.Context, leaseID uuid.UUID) (*db.LeaseParties, error) {
	if f.parties == nil || f.parties.Lease.ID != leaseID {
		return nil, db.ErrNotFound
	}
	return f.parties, nil
}

func (f *fakeStore) CreatePayment(ctx context.Context, p *db.Payment) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, p)
	return nil
}

func (f *fakeStore) SetPaymentTracking(ctx context.Context, id uuid.UUID, trackingID string) error {
	if f.trackingIDs == nil {
		f.trackingIDs = make(map[uuid.UUID]string)
	}
	f.trackingIDs[id] = trackingID
	return nil
}

type fakeReconciler struct {
	ack *reconcile.Ack
	err error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, trackingID, merchantRef string) (*reconcile.Ack, error) {
	if trackingID == "" {
		return nil, reconcile.ErrMissingTrackingID
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.ack, nil
}

type fakeBilling struct {
	result billing.Result
	err    error
}

func (f *fakeBilling) Run(ctx context.Context, now time.Time) (billing.Result, error) {
	return f.result, f.err
}

type fakeDrainer struct {
	result    notify.Result
	err       error
	batchSize int
}

func (f *fakeDrainer) Drain(ctx context.Context, batchSize int) (notify.Result, error) {
	f.batchSize = batchSize
	return f.result, f.err
}

type fakeGatewayClient struct {
	order *gateway.OrderResponse
	err   error
}

func (f *fakeGatewayClient) SubmitOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}

func (f *fakeGatewayClient) GetStatus(ctx context.Context, trackingID string) (*gateway.StatusResponse, error) {
	return nil, errors.New("not used")
}

func testParties(leaseID uuid.UUID) *db.LeaseParties {
	return &db.LeaseParties{
		Lease: &db.Lease{
			ID:          leaseID,
			MonthlyRent: decimal.RequireFromString("50000"),
			StartDate:   time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
			EndDate:     time.Date(2027, 1, 14, 0, 0, 0, 0, time.UTC),
			Active:      true,
		},
		Tenant:   &db.Tenant{ID: uuid.New(), FullName: "Ada Perera", Email: "ada@example.com", Phone: "+94771234567"},
		Unit:     &db.Unit{ID: uuid.New(), Label: "A-12"},
		Property: &db.Property{ID: uuid.New(), Name: "Lakeview", OwnerName: "Owen Silva", OwnerEmail: "owen@example.com"},
	}
}

func newTestHandler(store *fakeStore, rec *fakeReconciler, run *fakeBilling, drain *fakeDrainer) *Handler {
	return NewHandler(zap.NewNop(), store, rec, run, drain)
}

func TestPaymentWebhook_MissingTrackingID(t *testing.T) {
	h := newTestHandler(&fakeStore{}, &fakeReconciler{}, &fakeBilling{}, &fakeDrainer{})

	req := httptest.NewRequest("POST", "/v1/webhooks/payment", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.PaymentWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %s", ct)
	}
}

func TestPaymentWebhook_GatewayFailure(t *testing.T) {
	h := newTestHandler(&fakeStore{}, &fakeReconciler{err: errors.New("timeout")}, &fakeBilling{}, &fakeDrainer{})

	req := httptest.NewRequest("POST", "/v1/webhooks/payment?tracking_id=trk-1", nil)
	rec := httptest.NewRecorder()

	h.PaymentWebhook(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 so the gateway redelivers, got %d", rec.Code)
	}
}

func TestPaymentWebhook_Acknowledged(t *testing.T) {
	ack := &reconcile.Ack{TrackingID: "trk-1", MerchantRef: "ref-1", Status: "completed", GatewayCode: 100}
	h := newTestHandler(&fakeStore{}, &fakeReconciler{ack: ack}, &fakeBilling{}, &fakeDrainer{})

	form := strings.NewReader("tracking_id=trk-1&merchant_reference=ref-1")
	req := httptest.NewRequest("POST", "/v1/webhooks/payment", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.PaymentWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got reconcile.Ack
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != *ack {
		t.Errorf("ack = %+v, want %+v", got, ack)
	}
}

func TestPaymentWebhook_GetRedirect(t *testing.T) {
	// Hosted payment pages send the browser back with GET query params.
	ack := &reconcile.Ack{TrackingID: "trk-9", MerchantRef: "ref-9", Status: "completed", GatewayCode: 100}
	h := newTestHandler(&fakeStore{}, &fakeReconciler{ack: ack}, &fakeBilling{}, &fakeDrainer{})

	req := httptest.NewRequest("GET", "/v1/webhooks/payment?tracking_id=trk-9&merchant_reference=ref-9", nil)
	rec := httptest.NewRecorder()
	routeRequest(h, rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got reconcile.Ack
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != *ack {
		t.Errorf("ack = %+v, want %+v", got, ack)
	}
}

func TestGetStatement_InvalidID(t *testing.T) {
	h := newTestHandler(&fakeStore{}, &fakeReconciler{}, &fakeBilling{}, &fakeDrainer{})

	req := httptest.NewRequest("GET", "/v1/leases/not-a-uuid/statement", nil)
	rec := httptest.NewRecorder()
	routeRequest(h, rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetStatement_NotFound(t *testing.T) {
	h := newTestHandler(&fakeStore{}, &fakeReconciler{}, &fakeBilling{}, &fakeDrainer{})

	req := httptest.NewRequest("GET", "/v1/leases/"+uuid.NewString()+"/statement", nil)
	rec := httptest.NewRecorder()
	routeRequest(h, rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetStatement_ComputesLedger(t *testing.T) {
	leaseID := uuid.New()
	store := &fakeStore{
		lease: &db.Lease{
			ID:          leaseID,
			MonthlyRent: decimal.RequireFromString("50000"),
			StartDate:   time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC),
			EndDate:     time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC),
			Active:      true,
		},
	}
	h := newTestHandler(store, &fakeReconciler{}, &fakeBilling{}, &fakeDrainer{})

	req := httptest.NewRequest("GET", "/v1/leases/"+leaseID.String()+"/statement", nil)
	rec := httptest.NewRecorder()
	routeRequest(h, rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var statement struct {
		TotalCharged   string `json:"total_charged"`
		CurrentBalance string `json:"current_balance"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&statement); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if statement.TotalCharged != "150000" {
		t.Errorf("total_charged = %s, want 150000", statement.TotalCharged)
	}
	if statement.CurrentBalance != "150000" {
		t.Errorf("current_balance = %s, want 150000", statement.CurrentBalance)
	}
}

func TestRunBilling(t *testing.T) {
	run := &fakeBilling{result: billing.Result{Processed: 3, Generated: 2, Skipped: 1}}
	h := newTestHandler(&fakeStore{}, &fakeReconciler{}, run, &fakeDrainer{})

	req := httptest.NewRequest("POST", "/v1/admin/billing/run", nil)
	rec := httptest.NewRecorder()

	h.RunBilling(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got billing.Result
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != run.result {
		t.Errorf("result = %+v, want %+v", got, run.result)
	}
}

func TestRunBilling_Fatal(t *testing.T) {
	run := &fakeBilling{err: errors.New("list leases: connection refused")}
	h := newTestHandler(&fakeStore{}, &fakeReconciler{}, run, &fakeDrainer{})

	req := httptest.NewRequest("POST", "/v1/admin/billing/run", nil)
	rec := httptest.NewRecorder()

	h.RunBilling(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestDrainNotifications_BatchSizeParam(t *testing.T) {
	drain := &fakeDrainer{result: notify.Result{Processed: 4, Succeeded: 4}}
	h := newTestHandler(&fakeStore{}, &fakeReconciler{}, &fakeBilling{}, drain)

	req := httptest.NewRequest("POST", "/v1/admin/notifications/drain?batch_size=50", nil)
	rec := httptest.NewRecorder()

	h.DrainNotifications(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if drain.batchSize != 50 {
		t.Errorf("batch size = %d, want 50", drain.batchSize)
	}
}

func TestCreatePayment_Success(t *testing.T) {
	leaseID := uuid.New()
	store := &fakeStore{parties: testParties(leaseID)}
	h := newTestHandler(store, &fakeReconciler{}, &fakeBilling{}, &fakeDrainer{}).
		WithGateway(&fakeGatewayClient{order: &gateway.OrderResponse{TrackingID: "trk-42", RedirectURL: "https://pay.example/trk-42"}}, "https://api.example/v1/webhooks/payment")

	body, _ := json.Marshal(PaymentRequest{LeaseID: leaseID.String(), Amount: "50000"})
	req := httptest.NewRequest("POST", "/v1/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreatePayment(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp PaymentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TrackingID != "trk-42" {
		t.Errorf("tracking_id = %s", resp.TrackingID)
	}

	if len(store.created) != 1 {
		t.Fatalf("expected 1 payment created, got %d", len(store.created))
	}
	created := store.created[0]
	if created.Status != db.PaymentPending {
		t.Errorf("status = %s, want pending", created.Status)
	}
	if created.PeriodYear != nil || created.PeriodMonth != nil {
		t.Error("gateway-bound payments must not carry period columns")
	}
	if resp.PaymentID != created.ID.String() {
		t.Errorf("payment id mismatch: %s vs %s", resp.PaymentID, created.ID)
	}
	if store.trackingIDs[created.ID] != "trk-42" {
		t.Errorf("tracking id not stored: %v", store.trackingIDs)
	}
}

func TestCreatePayment_InvalidAmount(t *testing.T) {
	leaseID := uuid.New()
	store := &fakeStore{parties: testParties(leaseID)}
	h := newTestHandler(store, &fakeReconciler{}, &fakeBilling{}, &fakeDrainer{}).
		WithGateway(&fakeGatewayClient{}, "")

	for _, amount := range []string{"", "abc", "-100", "0"} {
		body, _ := json.Marshal(PaymentRequest{LeaseID: leaseID.String(), Amount: amount})
		req := httptest.NewRequest("POST", "/v1/payments", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		h.CreatePayment(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("amount %q: expected 400, got %d", amount, rec.Code)
		}
	}
	if len(store.created) != 0 {
		t.Errorf("no payments should be created, got %d", len(store.created))
	}
}

func TestCreatePayment_GatewayDown(t *testing.T) {
	leaseID := uuid.New()
	store := &fakeStore{parties: testParties(leaseID)}
	h := newTestHandler(store, &fakeReconciler{}, &fakeBilling{}, &fakeDrainer{}).
		WithGateway(&fakeGatewayClient{err: errors.New("connect: refused")}, "")

	body, _ := json.Marshal(PaymentRequest{LeaseID: leaseID.String(), Amount: "50000"})
	req := httptest.NewRequest("POST", "/v1/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreatePayment(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	// The pending payment stays on record without a tracking id.
	if len(store.created) != 1 {
		t.Fatalf("expected 1 payment created, got %d", len(store.created))
	}
	if len(store.trackingIDs) != 0 {
		t.Errorf("no tracking id should be stored: %v", store.trackingIDs)
	}
}

func TestCreatePayment_GatewayNotConfigured(t *testing.T) {
	h := newTestHandler(&fakeStore{}, &fakeReconciler{}, &fakeBilling{}, &fakeDrainer{})

	body, _ := json.Marshal(PaymentRequest{LeaseID: uuid.NewString(), Amount: "50000"})
	req := httptest.NewRequest("POST", "/v1/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreatePayment(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

// routeRequest serves through a chi router so URL params resolve.
func routeRequest(h *Handler, rec *httptest.ResponseRecorder, req *http.Request) {
	r := chi.NewRouter()
	r.Get("/v1/leases/{id}/statement", h.GetStatement)
	r.Post("/v1/webhooks/payment", h.PaymentWebhook)
	r.Get("/v1/webhooks/payment", h.PaymentWebhook)
	r.ServeHTTP(rec, req)
}

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/reyhq/rentledger/internal/db"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		name string
		code int
		want string
	}{
		{"completed", 100, db.PaymentCompleted},
		{"failed", 2, db.PaymentFailed},
		{"cancelled_by_payer", 17, db.PaymentFailed},
		{"reversed", 54, db.PaymentFailed},
		{"in_progress", 1, db.PaymentPending},
		{"unknown_code", 999, db.PaymentPending},
		{"zero", 0, db.PaymentPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapStatus(tt.code); got != tt.want {
				t.Errorf("MapStatus(%d) = %s, want %s", tt.code, got, tt.want)
			}
		})
	}
}

func TestGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("tracking_id"); got != "trk-42" {
			t.Errorf("unexpected tracking_id: %s", got)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", auth)
		}
		_ = json.NewEncoder(w).Encode(StatusResponse{
			Code:             100,
			Description:      "Completed",
			PaymentMethod:    "card",
			ConfirmationCode: "CONF-1",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())

	status, err := c.GetStatus(context.Background(), "trk-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Code != 100 {
		t.Errorf("expected code 100, got %d", status.Code)
	}
	if status.ConfirmationCode != "CONF-1" {
		t.Errorf("expected CONF-1, got %s", status.ConfirmationCode)
	}
}

func TestGetStatusServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())

	if _, err := c.GetStatus(context.Background(), "trk-1"); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestSubmitOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode order: %v", err)
		}
		if req.MerchantRef == "" {
			t.Error("merchant reference missing")
		}
		_ = json.NewEncoder(w).Encode(OrderResponse{
			TrackingID:  "trk-new",
			RedirectURL: "https://pay.example/redirect",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())

	resp, err := c.SubmitOrder(context.Background(), OrderRequest{
		Amount:      decimal.NewFromInt(50000),
		Description: "Rent for March 2024",
		MerchantRef: "pay-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TrackingID != "trk-new" {
		t.Errorf("expected trk-new, got %s", resp.TrackingID)
	}
}

func TestSubmitOrderMissingTrackingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OrderResponse{})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())

	if _, err := c.SubmitOrder(context.Background(), OrderRequest{Amount: decimal.NewFromInt(1)}); err == nil {
		t.Fatal("expected error for response without tracking id")
	}
}

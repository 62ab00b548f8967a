package mpesa

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// fakeDaraja stands in for the sandbox API.
type fakeDaraja struct {
	tokenRequests   atomic.Int32
	lastStkPayload  map[string]string
	queryResultCode string
}

func (f *fakeDaraja) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.tokenRequests.Add(1)
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "test-token",
			"expires_in":   "3599",
		})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		f.lastStkPayload = payload
		_ = json.NewEncoder(w).Encode(map[string]string{
			"CheckoutRequestID":   "ws_CO_123456",
			"ResponseCode":        "0",
			"ResponseDescription": "Success. Request accepted for processing",
		})
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"ResponseCode": "0"}
		if f.queryResultCode != "" {
			resp["ResultCode"] = f.queryResultCode
			resp["ResultDesc"] = "scripted result"
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func testClient(baseURL string) *Client {
	return New(Config{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://billing.example.com/v1/payments/callback",
	})
}

func TestInitiateCharge(t *testing.T) {
	daraja := &fakeDaraja{}
	srv := httptest.NewServer(daraja.handler())
	defer srv.Close()

	c := testClient(srv.URL)
	id, err := c.InitiateCharge(context.Background(), "254712345678", "1500.00", "pay_abc")
	if err != nil {
		t.Fatalf("InitiateCharge: %v", err)
	}
	if id != "ws_CO_123456" {
		t.Errorf("checkoutRequestID = %q", id)
	}

	// Amounts go out in whole shillings.
	if got := daraja.lastStkPayload["Amount"]; got != "1500" {
		t.Errorf("Amount = %q, want 1500", got)
	}
	if got := daraja.lastStkPayload["PhoneNumber"]; got != "254712345678" {
		t.Errorf("PhoneNumber = %q", got)
	}
	if got := daraja.lastStkPayload["AccountReference"]; got != "pay_abc" {
		t.Errorf("AccountReference = %q", got)
	}
}

func TestTokenCaching(t *testing.T) {
	daraja := &fakeDaraja{}
	srv := httptest.NewServer(daraja.handler())
	defer srv.Close()

	c := testClient(srv.URL)
	ctx := context.Background()
	if _, err := c.InitiateCharge(ctx, "254712345678", "1500.00", "pay_1"); err != nil {
		t.Fatalf("first charge: %v", err)
	}
	if _, err := c.InitiateCharge(ctx, "254712345678", "1500.00", "pay_2"); err != nil {
		t.Fatalf("second charge: %v", err)
	}
	if n := daraja.tokenRequests.Load(); n != 1 {
		t.Errorf("token requested %d times, want 1 (cached)", n)
	}
}

func TestGetStatus(t *testing.T) {
	tests := []struct {
		resultCode string
		status     string
		success    bool
	}{
		{"0", "completed", true},
		{"1032", "failed", false},
		{"", "pending", false},
	}

	for _, tc := range tests {
		daraja := &fakeDaraja{queryResultCode: tc.resultCode}
		srv := httptest.NewServer(daraja.handler())

		c := testClient(srv.URL)
		status, err := c.GetStatus(context.Background(), "ws_CO_123456")
		srv.Close()
		if err != nil {
			t.Fatalf("GetStatus(%q): %v", tc.resultCode, err)
		}
		if status.Status != tc.status || status.Success != tc.success {
			t.Errorf("ResultCode %q: status = %q/%v, want %q/%v",
				tc.resultCode, status.Status, status.Success, tc.status, tc.success)
		}
	}
}

func TestGetStatus_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "oauth") {
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "t", "expires_in": "3599"})
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.GetStatus(context.Background(), "ws_CO_1"); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestSimulator(t *testing.T) {
	sim := NewSimulator(slog.Default())
	ctx := context.Background()

	id, err := sim.InitiateCharge(ctx, "254712345678", "1500.00", "pay_1")
	if err != nil {
		t.Fatalf("InitiateCharge: %v", err)
	}
	if !strings.HasPrefix(id, "sim_") {
		t.Errorf("id = %q, want sim_ prefix", id)
	}

	status, err := sim.GetStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != "pending" {
		t.Errorf("fresh charge status = %q, want pending", status.Status)
	}

	// Unknown charges fail.
	status, err = sim.GetStatus(ctx, "sim_unknown")
	if err != nil {
		t.Fatalf("GetStatus unknown: %v", err)
	}
	if status.Status != "failed" {
		t.Errorf("unknown charge status = %q, want failed", status.Status)
	}
}

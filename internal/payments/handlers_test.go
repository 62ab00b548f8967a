package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/helanet/helanet/internal/clients"
)

func setupHandlerTest(t *testing.T, gw Gateway) (*gin.Engine, Store, clients.Store, *Monitor) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	clientStore := clients.NewMemoryStore()
	svc := NewService(store, clientStore, &fakeProvisioner{}, nil, slog.Default())
	monitor := testMonitor(gw, store)
	t.Cleanup(monitor.StopAll)
	rec := NewReconciler(store, svc, slog.Default())

	router := gin.New()
	h := NewHandler(gw, store, clientStore, svc, monitor, rec)
	h.RegisterRoutes(router.Group("/v1"))
	return router, store, clientStore, monitor
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestInitiateCharge(t *testing.T) {
	gw := &fakeGateway{statuses: []*ChargeStatus{{Status: "pending"}}}
	router, store, clientStore, monitor := setupHandlerTest(t, gw)

	seedClient(t, clientStore, &clients.Client{
		ID:          "cl_1",
		Phone:       "254712345678",
		MonthlyRate: "1500.00",
	})

	w := postJSON(router, "/v1/charges", gin.H{"clientId": "cl_1"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		PaymentID         string `json:"paymentId"`
		CheckoutRequestID string `json:"checkoutRequestId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.CheckoutRequestID == "" {
		t.Fatal("missing checkoutRequestId")
	}

	charge, err := store.GetCharge(context.Background(), resp.CheckoutRequestID)
	if err != nil {
		t.Fatalf("charge not recorded: %v", err)
	}
	// Phone and amount default from the client record.
	if charge.Phone != "254712345678" || charge.Amount != "1500.00" {
		t.Errorf("charge defaults wrong: phone=%q amount=%q", charge.Phone, charge.Amount)
	}
	if monitor.Active() != 1 {
		t.Errorf("monitor active = %d, want 1", monitor.Active())
	}
}

func TestInitiateCharge_UnknownClient(t *testing.T) {
	router, _, _, _ := setupHandlerTest(t, &fakeGateway{statuses: []*ChargeStatus{{Status: "pending"}}})

	w := postJSON(router, "/v1/charges", gin.H{"clientId": "cl_missing"})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestInitiateCharge_InvalidPhone(t *testing.T) {
	router, _, clientStore, _ := setupHandlerTest(t, &fakeGateway{statuses: []*ChargeStatus{{Status: "pending"}}})
	seedClient(t, clientStore, &clients.Client{ID: "cl_1", Phone: "0712", MonthlyRate: "1500.00"})

	w := postJSON(router, "/v1/charges", gin.H{"clientId": "cl_1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGatewayCallback_MatchedCharge(t *testing.T) {
	router, store, clientStore, _ := setupHandlerTest(t, &fakeGateway{statuses: []*ChargeStatus{{Status: "pending"}}})

	seedClient(t, clientStore, &clients.Client{ID: "cl_test", MonthlyRate: "1500.00"})
	seedCharge(t, store, "ws_CO_55")

	w := postJSON(router, "/v1/payments/callback", gin.H{
		"checkoutRequestId": "ws_CO_55",
		"receipt":           "QK12XYZ",
		"amount":            "1500.00",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	charge, _ := store.GetCharge(context.Background(), "ws_CO_55")
	if charge.State != ChargeCompleted {
		t.Errorf("charge state = %q, want completed", charge.State)
	}

	// The payment ran through the standard path and renewed the client.
	got, err := clientStore.Get(context.Background(), "cl_test")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != clients.StatusActive {
		t.Errorf("status = %q, want active", got.Status)
	}
}

func TestGatewayCallback_UnmatchedParked(t *testing.T) {
	router, store, _, _ := setupHandlerTest(t, &fakeGateway{statuses: []*ChargeStatus{{Status: "pending"}}})

	w := postJSON(router, "/v1/payments/callback", gin.H{
		"receipt": "QK77AAA",
		"amount":  "800.00",
		"phone":   "254700000009",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Result string `json:"result"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result != "unmatched" || resp.ID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	parked, err := store.GetUnmatched(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("unmatched payment not stored: %v", err)
	}
	if parked.Receipt != "QK77AAA" {
		t.Errorf("receipt = %q", parked.Receipt)
	}
}

func TestGatewayCallback_MissingFields(t *testing.T) {
	router, _, _, _ := setupHandlerTest(t, &fakeGateway{statuses: []*ChargeStatus{{Status: "pending"}}})

	w := postJSON(router, "/v1/payments/callback", gin.H{"phone": "254700000009"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestMatchPaymentEndpoint(t *testing.T) {
	router, store, clientStore, _ := setupHandlerTest(t, &fakeGateway{statuses: []*ChargeStatus{{Status: "pending"}}})

	seedClient(t, clientStore, &clients.Client{ID: "cl_1", MonthlyRate: "1500.00"})
	seedUnmatched(t, store, "ump_1")

	w := postJSON(router, "/v1/payments/unmatched/ump_1/match", gin.H{"clientId": "cl_1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	// Matching an already-resolved payment is a 404.
	w = postJSON(router, "/v1/payments/unmatched/ump_1/match", gin.H{"clientId": "cl_1"})
	if w.Code != http.StatusNotFound {
		t.Errorf("second match status = %d, want 404", w.Code)
	}
}

func TestListUnmatched(t *testing.T) {
	router, store, _, _ := setupHandlerTest(t, &fakeGateway{statuses: []*ChargeStatus{{Status: "pending"}}})
	seedUnmatched(t, store, "ump_1")
	seedUnmatched(t, store, "ump_2")

	req := httptest.NewRequest(http.MethodGet, "/v1/payments/unmatched", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

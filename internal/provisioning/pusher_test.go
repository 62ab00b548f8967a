package provisioning

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHTTPPusher_PushSync(t *testing.T) {
	var gotBody []byte
	var gotSig, gotAction string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Helanet-Signature")
		gotAction = r.Header.Get("X-Helanet-Action")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL, "topsecret")
	req := &SyncRequest{
		Action:       ActionConnect,
		ClientID:     "cl_1",
		Username:     "jane_cl_1",
		Secret:       "pw",
		DownloadKbps: 10000,
		UploadKbps:   5000,
	}
	if err := p.PushSync(context.Background(), req); err != nil {
		t.Fatalf("PushSync: %v", err)
	}

	if gotAction != ActionConnect {
		t.Errorf("action header = %q", gotAction)
	}

	// The signature covers the exact payload bytes.
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}

	var sent SyncRequest
	if err := json.Unmarshal(gotBody, &sent); err != nil {
		t.Fatalf("unmarshal pushed body: %v", err)
	}
	if sent.ClientID != "cl_1" || sent.Secret != "pw" {
		t.Errorf("pushed payload = %+v", sent)
	}
}

func TestHTTPPusher_RejectionIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL, "")
	err := p.PushSync(context.Background(), &SyncRequest{Action: ActionConnect, ClientID: "cl_1"})
	if err == nil {
		t.Fatal("expected error for 422")
	}
	if calls.Load() != 1 {
		t.Errorf("4xx retried: %d calls", calls.Load())
	}
}

func TestHTTPPusher_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewHTTPPusher(srv.URL, "")
	req := &SyncRequest{Action: ActionConnect, ClientID: "cl_1"}

	// Five consecutive failures trip the circuit.
	for i := 0; i < 5; i++ {
		if err := p.PushSync(context.Background(), req); err == nil {
			t.Fatalf("push %d unexpectedly succeeded", i)
		}
	}

	err := p.PushSync(context.Background(), req)
	if !errors.Is(err, ErrAccessServerUnavailable) {
		t.Fatalf("expected ErrAccessServerUnavailable while open, got %v", err)
	}
}

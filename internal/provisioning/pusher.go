package provisioning

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/helanet/helanet/internal/circuitbreaker"
	"github.com/helanet/helanet/internal/retry"
	"github.com/helanet/helanet/internal/traces"
)

// ErrAccessServerUnavailable is returned while the breaker is open after
// repeated push failures.
var ErrAccessServerUnavailable = errors.New("access server unavailable")

// breakerKey groups all pushes under one circuit; the access server is a
// single upstream.
const breakerKey = "access_server"

// Pusher delivers sync requests to the remote access server. Delivery is
// best-effort; callers never roll back local state on push failure.
type Pusher interface {
	PushSync(ctx context.Context, req *SyncRequest) error
}

// HTTPPusher posts signed JSON sync requests to the access server.
type HTTPPusher struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHTTPPusher creates a pusher targeting the access server's sync
// endpoint. secret signs payloads with HMAC-SHA256; empty disables
// signing.
func NewHTTPPusher(url, secret string) *HTTPPusher {
	return &HTTPPusher{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// PushSync delivers one sync request, retrying transient failures with
// backoff. A 4xx response is permanent; 5xx and transport errors retry.
// While the circuit is open, pushes fail fast without touching the wire.
func (p *HTTPPusher) PushSync(ctx context.Context, req *SyncRequest) error {
	ctx, span := traces.StartSpan(ctx, "provisioning.PushSync",
		traces.Action(req.Action), traces.ClientID(req.ClientID))
	defer span.End()

	if !p.breaker.Allow(breakerKey) {
		return ErrAccessServerUnavailable
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal sync request: %w", err)
	}

	err = retry.Do(ctx, 3, time.Second, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Helanet-Action", req.Action)
		httpReq.Header.Set("X-Helanet-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
		if p.secret != "" {
			httpReq.Header.Set("X-Helanet-Signature", p.sign(payload))
		}

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return retry.Permanent(fmt.Errorf("access server rejected sync: status %d", resp.StatusCode))
		default:
			return fmt.Errorf("access server returned status %d", resp.StatusCode)
		}
	})
	if err != nil {
		p.breaker.RecordFailure(breakerKey)
		return err
	}
	p.breaker.RecordSuccess(breakerKey)
	return nil
}

func (p *HTTPPusher) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(p.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

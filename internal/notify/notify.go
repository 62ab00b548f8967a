// Package notify sends outbound client notifications (SMS/email).
// Delivery is fire-and-forget: failures are logged by callers, never
// propagated into billing or provisioning flows.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/helanet/helanet/internal/metrics"
	"github.com/helanet/helanet/internal/security"
)

// Channels
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, channel, recipient, content string) error
}

// LogSender logs notifications instead of delivering them. Used in
// development mode.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, channel, recipient, content string) error {
	s.logger.Info("notification (not delivered, log sender)",
		"channel", channel,
		"recipient", recipient,
		"content", content,
	)
	return nil
}

// HTTPSender posts notifications to an SMS/email gateway.
type HTTPSender struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPSender creates a gateway-backed sender. The gateway URL is
// checked against private and loopback ranges before use.
func NewHTTPSender(url, apiKey string) (*HTTPSender, error) {
	if err := security.ValidateEndpointURL(url); err != nil {
		return nil, fmt.Errorf("notification gateway URL rejected: %w", err)
	}
	return &HTTPSender{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (s *HTTPSender) Send(ctx context.Context, channel, recipient, content string) error {
	payload, err := json.Marshal(map[string]string{
		"channel":   channel,
		"recipient": recipient,
		"content":   content,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(channel, "failed").Inc()
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.NotificationsTotal.WithLabelValues(channel, "failed").Inc()
		return fmt.Errorf("notification gateway returned status %d", resp.StatusCode)
	}
	metrics.NotificationsTotal.WithLabelValues(channel, "sent").Inc()
	return nil
}

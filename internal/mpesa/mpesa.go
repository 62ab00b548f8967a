// Package mpesa implements the payments.Gateway interface against an
// M-Pesa style STK-push API (Daraja).
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/helanet/helanet/internal/payments"
)

// Config for the gateway client.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

// Client talks to the mobile-money gateway over HTTP.
type Client struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New creates a gateway client.
func New(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// token returns a cached OAuth access token, refreshing when within a
// minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	c.accessToken = body.AccessToken
	c.tokenExpiry = time.Now().Add(50 * time.Minute)
	return c.accessToken, nil
}

// password builds the timestamped STK password per the Daraja contract.
func (c *Client) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + ts))
}

// InitiateCharge starts an STK push and returns the gateway's
// CheckoutRequestID.
func (c *Client) InitiateCharge(ctx context.Context, phone, amount, reference string) (string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}

	ts := time.Now().Format("20060102150405")
	payload := map[string]string{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            strings.SplitN(amount, ".", 2)[0], // whole shillings
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  reference,
		"TransactionDesc":   "Internet subscription",
	}

	var out struct {
		CheckoutRequestID string `json:"CheckoutRequestID"`
		ResponseCode      string `json:"ResponseCode"`
		ResponseDesc      string `json:"ResponseDescription"`
	}
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", token, payload, &out); err != nil {
		return "", err
	}
	if out.ResponseCode != "0" {
		return "", fmt.Errorf("gateway rejected charge: %s", out.ResponseDesc)
	}
	return out.CheckoutRequestID, nil
}

// GetStatus queries the outcome of a previous STK push.
func (c *Client) GetStatus(ctx context.Context, checkoutRequestID string) (*payments.ChargeStatus, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	ts := time.Now().Format("20060102150405")
	payload := map[string]string{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutRequestID,
	}

	var out struct {
		ResultCode   string `json:"ResultCode"`
		ResultDesc   string `json:"ResultDesc"`
		ResponseCode string `json:"ResponseCode"`
	}
	if err := c.post(ctx, "/mpesa/stkpushquery/v1/query", token, payload, &out); err != nil {
		return nil, err
	}

	switch out.ResultCode {
	case "0":
		return &payments.ChargeStatus{Status: "completed", Success: true, Message: out.ResultDesc}, nil
	case "":
		// The gateway answers without a result while the push is still
		// on the subscriber's handset.
		return &payments.ChargeStatus{Status: "pending", Message: out.ResultDesc}, nil
	default:
		return &payments.ChargeStatus{Status: "failed", Message: out.ResultDesc}, nil
	}
}

func (c *Client) post(ctx context.Context, path, token string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, out)
}

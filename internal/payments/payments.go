// Package payments drives the mobile-money payment lifecycle.
//
// Flow:
//  1. Checkout initiates a charge → gateway issues a checkoutRequestId
//  2. A Monitor polls the gateway until the charge settles or times out
//  3. A settled charge is processed: wallet credited, subscription
//     extended, network access re-affirmed
//  4. Gateway events that arrive with no matching charge are parked as
//     unmatched payments for operator reconciliation
package payments

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrChargeNotFound  = errors.New("pending charge not found")
	ErrPaymentNotFound = errors.New("unmatched payment not found")
	ErrAlreadyTerminal = errors.New("charge already in a terminal state")
)

// ChargeState is the lifecycle state of a pending charge.
type ChargeState string

const (
	ChargePending   ChargeState = "pending"
	ChargeCompleted ChargeState = "completed"
	ChargeFailed    ChargeState = "failed"
)

// PendingCharge correlates an in-flight mobile-money charge with an
// internal invoice. Terminal once the monitor observes a settled or
// failed result, or the monitoring window lapses.
type PendingCharge struct {
	CheckoutRequestID string      `json:"checkoutRequestId"`
	PaymentID         string      `json:"paymentId"`
	ClientID          string      `json:"clientId"`
	Amount            string      `json:"amount"`
	Phone             string      `json:"phone"`
	State             ChargeState `json:"state"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// UnmatchedPayment is a gateway payment event with no resolved client.
// Deleted on successful reconciliation; otherwise kept for manual action.
type UnmatchedPayment struct {
	ID         string    `json:"id"`
	Amount     string    `json:"amount"`
	Receipt    string    `json:"receipt"`
	Phone      string    `json:"phone"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ChargeStatus is the gateway's view of a charge.
type ChargeStatus struct {
	Status  string `json:"status"` // "completed", "failed", "pending"
	Success bool   `json:"success"`
	Receipt string `json:"receipt,omitempty"`
	Message string `json:"message,omitempty"`
}

// Gateway abstracts the mobile-money API.
type Gateway interface {
	// InitiateCharge starts an STK-push charge and returns the gateway's
	// correlation id.
	InitiateCharge(ctx context.Context, phone, amount, reference string) (string, error)

	// GetStatus queries the outcome of a previously initiated charge.
	GetStatus(ctx context.Context, checkoutRequestID string) (*ChargeStatus, error)
}

// Store persists pending charges and unmatched payments.
type Store interface {
	CreateCharge(ctx context.Context, c *PendingCharge) error
	GetCharge(ctx context.Context, checkoutRequestID string) (*PendingCharge, error)
	UpdateChargeState(ctx context.Context, checkoutRequestID string, state ChargeState) error

	CreateUnmatched(ctx context.Context, u *UnmatchedPayment) error
	GetUnmatched(ctx context.Context, id string) (*UnmatchedPayment, error)
	ListUnmatched(ctx context.Context, limit int) ([]*UnmatchedPayment, error)
	DeleteUnmatched(ctx context.Context, id string) error
}

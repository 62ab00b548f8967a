// Package clients holds subscriber accounts and their service packages.
//
// A client's wallet is prepaid: mobile-money payments credit it, the
// renewal batch debits one monthly rate per billing period. Subscription
// status here is the billing source of truth; the network credential in
// the provisioning package is expected to converge with it.
package clients

import (
	"context"
	"errors"
	"time"

	"github.com/helanet/helanet/internal/idgen"
)

// Errors
var (
	ErrClientNotFound      = errors.New("client not found")
	ErrPackageNotFound     = errors.New("service package not found")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
)

// Status is the subscription lifecycle state of a client.
type Status string

const (
	StatusPending      Status = "pending"
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
	StatusDisconnected Status = "disconnected"
)

// BillingPeriod is the length of one prepaid subscription period.
const BillingPeriod = 30 * 24 * time.Hour

// NewID generates a client identifier.
func NewID() string {
	return idgen.WithPrefix("cl_")
}

// NewPackageID generates a package identifier.
func NewPackageID() string {
	return idgen.WithPrefix("pkg_")
}

// Client is a subscriber account.
type Client struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	Email           string     `json:"email,omitempty"`
	Status          Status     `json:"status"`
	WalletBalance   string     `json:"walletBalance"`
	MonthlyRate     string     `json:"monthlyRate"`
	SubscriptionEnd *time.Time `json:"subscriptionEnd,omitempty"`
	PackageID       string     `json:"packageId"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Package is a sellable service plan.
type Package struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Speed             string `json:"speed"` // e.g. "10 Mbps"
	MonthlyPrice      string `json:"monthlyPrice"`
	SessionTimeoutSec int    `json:"sessionTimeoutSec"`
	IdleTimeoutSec    int    `json:"idleTimeoutSec"`
}

// Store persists clients and packages.
type Store interface {
	Create(ctx context.Context, c *Client) error
	Get(ctx context.Context, id string) (*Client, error)
	Update(ctx context.Context, c *Client) error

	// UpdateStatus writes only the subscription status field.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// AdvanceSubscription writes the status and subscription end date,
	// leaving the wallet balance alone. Renewal paths use this so a
	// concurrent credit or debit is never overwritten by a stale read.
	AdvanceSubscription(ctx context.Context, id string, status Status, end time.Time) error

	// CreditWallet adds amount to the client's wallet balance.
	CreditWallet(ctx context.Context, id string, amount string) error

	// DebitWallet subtracts amount from the wallet, failing with
	// ErrInsufficientBalance when the balance does not cover it.
	DebitWallet(ctx context.Context, id string, amount string) error

	// ListExpiring returns active clients whose subscription ends before
	// the given time.
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]*Client, error)

	CreatePackage(ctx context.Context, p *Package) error
	GetPackage(ctx context.Context, id string) (*Package, error)
}

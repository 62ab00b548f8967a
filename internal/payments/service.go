package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/helanet/helanet/internal/clients"
	"github.com/helanet/helanet/internal/money"
	"github.com/helanet/helanet/internal/traces"
)

// Provisioner re-affirms network access after a successful payment.
// Satisfied by the provisioning service.
type Provisioner interface {
	Connect(ctx context.Context, clientID string) error
}

// Notifier delivers receipts. Failures are logged, never propagated.
type Notifier interface {
	Send(ctx context.Context, channel, recipient, content string) error
}

// Service implements the standard payment-processing path. The same path
// serves direct gateway confirmations and operator-driven reconciliation.
type Service struct {
	store       Store
	clientStore clients.Store
	provisioner Provisioner
	notifier    Notifier
	logger      *slog.Logger
}

// NewService creates a payment service.
func NewService(store Store, clientStore clients.Store, provisioner Provisioner, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		clientStore: clientStore,
		provisioner: provisioner,
		notifier:    notifier,
		logger:      logger,
	}
}

// ProcessPayment credits a confirmed payment to the client's wallet and,
// when the balance covers the monthly rate, renews the subscription and
// re-affirms network access.
func (s *Service) ProcessPayment(ctx context.Context, clientID, amount, receipt string) error {
	ctx, span := traces.StartSpan(ctx, "payments.ProcessPayment",
		traces.ClientID(clientID), traces.Amount(amount))
	defer span.End()

	if err := s.clientStore.CreditWallet(ctx, clientID, amount); err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}

	client, err := s.clientStore.Get(ctx, clientID)
	if err != nil {
		return fmt.Errorf("failed to load client: %w", err)
	}

	s.logger.Info("payment credited",
		"clientId", clientID,
		"amount", amount,
		"receipt", receipt,
		"balance", client.WalletBalance,
	)

	if money.GTE(client.WalletBalance, client.MonthlyRate) && !subscriptionCurrent(client) {
		if err := s.renewFromWallet(ctx, client); err != nil {
			return err
		}
	}

	if s.notifier != nil && client.Phone != "" {
		content := fmt.Sprintf("Payment of %s received (receipt %s). Balance: %s.",
			amount, receipt, client.WalletBalance)
		if err := s.notifier.Send(ctx, "sms", client.Phone, content); err != nil {
			s.logger.Warn("failed to send payment receipt", "clientId", clientID, "error", err)
		}
	}

	return nil
}

// renewFromWallet debits one monthly rate, advances the subscription end
// date, and requests a network connect. The billing writes land before
// the connect so a provisioning failure never leaves the client charged
// but expired locally. The date advance goes through AdvanceSubscription
// so the debited balance in the store is never overwritten.
func (s *Service) renewFromWallet(ctx context.Context, client *clients.Client) error {
	if err := s.clientStore.DebitWallet(ctx, client.ID, client.MonthlyRate); err != nil {
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	client.WalletBalance = money.Sub(client.WalletBalance, client.MonthlyRate)

	now := time.Now()
	base := now
	if client.SubscriptionEnd != nil && client.SubscriptionEnd.After(now) {
		base = *client.SubscriptionEnd
	}
	end := base.Add(clients.BillingPeriod)
	client.SubscriptionEnd = &end
	client.Status = clients.StatusActive
	if err := s.clientStore.AdvanceSubscription(ctx, client.ID, clients.StatusActive, end); err != nil {
		return fmt.Errorf("failed to advance subscription: %w", err)
	}

	if err := s.provisioner.Connect(ctx, client.ID); err != nil {
		// Local billing state is committed; the provisioner reconciles
		// network state through its own sync path.
		s.logger.Error("connect after payment failed", "clientId", client.ID, "error", err)
	}

	s.logger.Info("subscription renewed from wallet",
		"clientId", client.ID,
		"subscriptionEnd", end,
	)
	return nil
}

func subscriptionCurrent(c *clients.Client) bool {
	return c.Status == clients.StatusActive &&
		c.SubscriptionEnd != nil && c.SubscriptionEnd.After(time.Now())
}

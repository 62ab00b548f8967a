// Package renewal runs the subscription renewal batch.
//
// Clients nearing expiry are renewed from their prepaid wallet; clients
// past expiry with no balance are suspended through provisioning; clients
// merely approaching expiry are warned, not cut off early.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/helanet/helanet/internal/clients"
	"github.com/helanet/helanet/internal/money"
	"github.com/prometheus/client_golang/prometheus"
)

var renewalTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "helanet",
	Subsystem: "renewal",
	Name:      "clients_total",
	Help:      "Clients handled by the renewal batch, by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(renewalTotal)
}

// LookAheadWindow is how far before expiry a client enters the batch.
const LookAheadWindow = 24 * time.Hour

const batchSize = 100

// Provisioner re-affirms or suspends network access.
type Provisioner interface {
	Connect(ctx context.Context, clientID string) error
	Disconnect(ctx context.Context, clientID string) error
}

// Notifier warns clients about imminent expiry. Failures are logged,
// never propagated.
type Notifier interface {
	Send(ctx context.Context, channel, recipient, content string) error
}

// Result summarizes one batch run.
type Result struct {
	Processed int `json:"processed"`
	Renewed   int `json:"renewed"`
}

// Processor runs the renewal batch.
type Processor struct {
	clientStore clients.Store
	provisioner Provisioner
	notifier    Notifier
	logger      *slog.Logger
}

// NewProcessor creates a renewal processor.
func NewProcessor(clientStore clients.Store, provisioner Provisioner, notifier Notifier, logger *slog.Logger) *Processor {
	return &Processor{
		clientStore: clientStore,
		provisioner: provisioner,
		notifier:    notifier,
		logger:      logger,
	}
}

// ProcessRenewals handles every active client expiring within the
// look-ahead window. One client's failure never aborts the batch.
func (p *Processor) ProcessRenewals(ctx context.Context) (Result, error) {
	var result Result

	cutoff := time.Now().Add(LookAheadWindow)
	expiring, err := p.clientStore.ListExpiring(ctx, cutoff, batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list expiring clients: %w", err)
	}

	for _, client := range expiring {
		result.Processed++
		if err := p.processClient(ctx, client, &result); err != nil {
			renewalTotal.WithLabelValues("error").Inc()
			p.logger.Warn("renewal failed for client",
				"clientId", client.ID,
				"error", err,
			)
		}
	}

	if result.Processed > 0 {
		p.logger.Info("renewal batch complete",
			"processed", result.Processed,
			"renewed", result.Renewed,
		)
	}
	return result, nil
}

func (p *Processor) processClient(ctx context.Context, client *clients.Client, result *Result) error {
	now := time.Now()

	if money.GTE(client.WalletBalance, client.MonthlyRate) {
		return p.renew(ctx, client, result)
	}

	if client.SubscriptionEnd != nil && client.SubscriptionEnd.Before(now) {
		// Strictly expired with no balance: suspend.
		if err := p.provisioner.Disconnect(ctx, client.ID); err != nil {
			return fmt.Errorf("failed to suspend: %w", err)
		}
		renewalTotal.WithLabelValues("suspended").Inc()
		p.logger.Info("client suspended at expiry", "clientId", client.ID)
		return nil
	}

	// Approaching expiry, balance short: warn only.
	renewalTotal.WithLabelValues("warned").Inc()
	p.warn(ctx, client)
	return nil
}

// renew debits one monthly rate, advances the subscription, and
// re-affirms network access. The billing writes land before the connect
// so a provisioning hiccup never leaves the client charged but marked
// expired. The date advance must not write the balance back: the store
// already holds the debited value.
func (p *Processor) renew(ctx context.Context, client *clients.Client, result *Result) error {
	if err := p.clientStore.DebitWallet(ctx, client.ID, client.MonthlyRate); err != nil {
		if errors.Is(err, clients.ErrInsufficientBalance) {
			// Lost a race with another spender; fall through to the
			// warn path on the next run.
			renewalTotal.WithLabelValues("warned").Inc()
			p.warn(ctx, client)
			return nil
		}
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	client.WalletBalance = money.Sub(client.WalletBalance, client.MonthlyRate)

	base := time.Now()
	if client.SubscriptionEnd != nil && client.SubscriptionEnd.After(base) {
		base = *client.SubscriptionEnd
	}
	end := base.Add(clients.BillingPeriod)
	client.SubscriptionEnd = &end
	client.Status = clients.StatusActive
	if err := p.clientStore.AdvanceSubscription(ctx, client.ID, clients.StatusActive, end); err != nil {
		return fmt.Errorf("failed to advance subscription: %w", err)
	}

	if err := p.provisioner.Connect(ctx, client.ID); err != nil {
		// Billing state is committed; provisioning reconciles through
		// its own sync path.
		p.logger.Error("connect after renewal failed", "clientId", client.ID, "error", err)
	}

	result.Renewed++
	renewalTotal.WithLabelValues("renewed").Inc()
	p.logger.Info("subscription renewed",
		"clientId", client.ID,
		"subscriptionEnd", end,
	)
	return nil
}

func (p *Processor) warn(ctx context.Context, client *clients.Client) {
	if p.notifier == nil || client.Phone == "" {
		return
	}
	content := fmt.Sprintf("Your internet subscription expires soon. Top up at least %s to stay connected.",
		money.Sub(client.MonthlyRate, client.WalletBalance))
	if err := p.notifier.Send(ctx, "sms", client.Phone, content); err != nil {
		p.logger.Warn("failed to send expiry warning", "clientId", client.ID, "error", err)
	}
}

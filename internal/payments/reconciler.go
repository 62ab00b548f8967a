package payments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/helanet/helanet/internal/traces"
)

var reconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "helanet",
	Subsystem: "payments",
	Name:      "reconcile_total",
	Help:      "Manual payment reconciliation attempts by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(reconcileTotal)
}

// Reconciler resolves unmatched payments to client accounts. This is an
// operator-triggered flow, not a scheduled one.
type Reconciler struct {
	store   Store
	service *Service
	logger  *slog.Logger
}

// NewReconciler creates a payment reconciler.
func NewReconciler(store Store, service *Service, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, service: service, logger: logger}
}

// MatchPaymentToClient re-drives an unmatched payment through the
// standard processing path for the chosen client. The unmatched record is
// deleted only when processing succeeds; on failure it stays for retry.
func (r *Reconciler) MatchPaymentToClient(ctx context.Context, unmatchedPaymentID, clientID string) error {
	ctx, span := traces.StartSpan(ctx, "payments.MatchPaymentToClient",
		traces.PaymentID(unmatchedPaymentID), traces.ClientID(clientID))
	defer span.End()

	payment, err := r.store.GetUnmatched(ctx, unmatchedPaymentID)
	if err != nil {
		return err
	}
	span.SetAttributes(traces.Receipt(payment.Receipt))

	if err := r.service.ProcessPayment(ctx, clientID, payment.Amount, payment.Receipt); err != nil {
		reconcileTotal.WithLabelValues("failed").Inc()
		r.logger.Warn("reconciliation processing failed",
			"unmatchedPaymentId", unmatchedPaymentID,
			"clientId", clientID,
			"error", err,
		)
		return fmt.Errorf("failed to process matched payment: %w", err)
	}

	if err := r.store.DeleteUnmatched(ctx, unmatchedPaymentID); err != nil {
		// Processing succeeded; a stale unmatched record is an operator
		// annoyance, not a billing error.
		r.logger.Error("failed to delete reconciled payment",
			"unmatchedPaymentId", unmatchedPaymentID,
			"error", err,
		)
	}

	reconcileTotal.WithLabelValues("matched").Inc()
	r.logger.Info("unmatched payment reconciled",
		"unmatchedPaymentId", unmatchedPaymentID,
		"clientId", clientID,
		"amount", payment.Amount,
		"receipt", payment.Receipt,
	)
	return nil
}

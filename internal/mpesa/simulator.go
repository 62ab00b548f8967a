package mpesa

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/helanet/helanet/internal/idgen"
	"github.com/helanet/helanet/internal/payments"
)

// Simulator fakes the mobile-money gateway for development mode. Charges
// auto-complete a few seconds after initiation, no real STK push is sent.
type Simulator struct {
	logger *slog.Logger

	mu      sync.Mutex
	charges map[string]time.Time
}

// NewSimulator creates a simulated gateway.
func NewSimulator(logger *slog.Logger) *Simulator {
	return &Simulator{
		logger:  logger,
		charges: make(map[string]time.Time),
	}
}

func (s *Simulator) InitiateCharge(ctx context.Context, phone, amount, reference string) (string, error) {
	checkoutRequestID := idgen.WithPrefix("sim_")

	s.mu.Lock()
	s.charges[checkoutRequestID] = time.Now()
	s.mu.Unlock()

	s.logger.Info("simulated charge initiated",
		"checkoutRequestId", checkoutRequestID,
		"phone", phone,
		"amount", amount,
	)
	return checkoutRequestID, nil
}

func (s *Simulator) GetStatus(ctx context.Context, checkoutRequestID string) (*payments.ChargeStatus, error) {
	s.mu.Lock()
	started, ok := s.charges[checkoutRequestID]
	s.mu.Unlock()

	if !ok {
		return &payments.ChargeStatus{Status: "failed", Message: "unknown charge"}, nil
	}

	// Pretend the subscriber takes a few seconds to enter their PIN.
	if time.Since(started) < 5*time.Second {
		return &payments.ChargeStatus{Status: "pending"}, nil
	}

	return &payments.ChargeStatus{
		Status:  "completed",
		Success: true,
		Receipt: "SIM" + idgen.Hex(5),
		Message: "The service request is processed successfully.",
	}, nil
}

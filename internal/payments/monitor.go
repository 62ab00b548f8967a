package payments

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var chargeOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "helanet",
	Subsystem: "payments",
	Name:      "charge_outcomes_total",
	Help:      "Terminal charge monitor outcomes by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(chargeOutcomes)
}

// Monitor polling policy. Gateways need a moment before the charge is
// queryable, hence the initial grace period.
const (
	DefaultGracePeriod  = 3 * time.Second
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 60
	DefaultTimeout      = 5 * time.Minute
	DefaultStopWait     = 5 * time.Second
)

// Callbacks receive the terminal outcome of a monitored charge. Exactly
// one of the three fires exactly once per StartMonitoring call.
type Callbacks struct {
	OnSuccess func(status *ChargeStatus)
	OnFailure func(status *ChargeStatus)
	OnTimeout func()
}

// MonitorConfig overrides the default polling policy, mainly for tests.
type MonitorConfig struct {
	GracePeriod  time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	Timeout      time.Duration
	// StopWait bounds how long StopMonitoring waits for an in-flight
	// poll to drain before giving up on it.
	StopWait time.Duration
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.StopWait <= 0 {
		c.StopWait = DefaultStopWait
	}
	return c
}

// Monitor tracks in-flight charges, one polling goroutine per charge.
// Each run owns its own cancellation; no timer state is shared between
// concurrent monitors.
type Monitor struct {
	gateway Gateway
	store   Store
	logger  *slog.Logger
	cfg     MonitorConfig

	mu   sync.Mutex
	runs map[string]*monitorRun // keyed by checkoutRequestID
}

type monitorRun struct {
	cancel context.CancelFunc
	once   sync.Once // guards terminal callback delivery
	done   chan struct{}
}

// NewMonitor creates a charge monitor with default polling policy.
func NewMonitor(gateway Gateway, store Store, logger *slog.Logger) *Monitor {
	return NewMonitorWithConfig(gateway, store, logger, MonitorConfig{})
}

// NewMonitorWithConfig creates a charge monitor with a custom policy.
func NewMonitorWithConfig(gateway Gateway, store Store, logger *slog.Logger, cfg MonitorConfig) *Monitor {
	return &Monitor{
		gateway: gateway,
		store:   store,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		runs:    make(map[string]*monitorRun),
	}
}

// StartMonitoring begins polling the gateway for the charge's outcome.
// One of cb.OnSuccess, cb.OnFailure, cb.OnTimeout will fire exactly once,
// unless StopMonitoring cancels the run first.
func (m *Monitor) StartMonitoring(paymentID, checkoutRequestID string, cb Callbacks) {
	ctx, cancel := context.WithCancel(context.Background())
	run := &monitorRun{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if prev, ok := m.runs[checkoutRequestID]; ok {
		// A duplicate start supersedes the previous run without firing
		// its callbacks.
		prev.cancel()
	}
	m.runs[checkoutRequestID] = run
	m.mu.Unlock()

	m.logger.Info("monitoring charge",
		"paymentId", paymentID,
		"checkoutRequestId", checkoutRequestID,
		"timeout", m.cfg.Timeout,
	)

	go m.poll(ctx, run, paymentID, checkoutRequestID, cb)
}

// StopMonitoring cancels the run for the given charge. No callback fires;
// a poll already in flight is discarded when it completes, and the wait
// for it is bounded by StopWait. Safe to call for unknown or
// already-finished charges.
func (m *Monitor) StopMonitoring(checkoutRequestID string) {
	m.mu.Lock()
	run, ok := m.runs[checkoutRequestID]
	if ok {
		delete(m.runs, checkoutRequestID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	// Mark the run terminal before cancelling so a completing poll cannot
	// deliver a late callback.
	run.once.Do(func() {
		chargeOutcomes.WithLabelValues("stopped").Inc()
		m.logger.Info("charge monitoring stopped", "checkoutRequestId", checkoutRequestID)
	})
	run.cancel()

	// A gateway that ignores cancellation can hold the poll goroutine;
	// bound the wait so callers are not held up with it. The once above
	// already makes a late callback impossible.
	drain := time.NewTimer(m.cfg.StopWait)
	defer drain.Stop()
	select {
	case <-run.done:
	case <-drain.C:
		m.logger.Warn("charge monitor did not drain in time",
			"checkoutRequestId", checkoutRequestID,
		)
	}
}

// StopAll cancels every active run. Used during server shutdown.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.StopMonitoring(id)
	}
}

// Active reports the number of charges currently being monitored.
func (m *Monitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *Monitor) poll(ctx context.Context, run *monitorRun, paymentID, checkoutRequestID string, cb Callbacks) {
	defer close(run.done)
	defer m.remove(checkoutRequestID, run)

	// Hard deadline independent of the attempt budget.
	deadline := time.NewTimer(m.cfg.Timeout)
	defer deadline.Stop()

	grace := time.NewTimer(m.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case <-ctx.Done():
		return
	case <-deadline.C:
		m.finish(run, checkoutRequestID, "timeout", func() {
			if cb.OnTimeout != nil {
				cb.OnTimeout()
			}
		})
		return
	case <-grace.C:
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		status, err := m.gateway.GetStatus(ctx, checkoutRequestID)
		if ctx.Err() != nil {
			// Cancelled mid-poll: discard whatever came back.
			return
		}
		if err != nil {
			// Transient gateway errors are treated as pending but still
			// consume the attempt budget.
			m.logger.Warn("charge status poll failed",
				"checkoutRequestId", checkoutRequestID,
				"attempt", attempt,
				"error", err,
			)
		} else {
			switch {
			case status.Status == "completed" && status.Success:
				m.markCharge(checkoutRequestID, ChargeCompleted)
				m.finish(run, checkoutRequestID, "success", func() {
					if cb.OnSuccess != nil {
						cb.OnSuccess(status)
					}
				})
				return
			case status.Status == "failed":
				m.markCharge(checkoutRequestID, ChargeFailed)
				m.finish(run, checkoutRequestID, "failure", func() {
					if cb.OnFailure != nil {
						cb.OnFailure(status)
					}
				})
				return
			default:
				// pending or unrecognized: keep polling
			}
		}

		if attempt >= m.cfg.MaxAttempts {
			// Attempt exhaustion has the same effect as the hard deadline.
			m.finish(run, checkoutRequestID, "timeout", func() {
				if cb.OnTimeout != nil {
					cb.OnTimeout()
				}
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			m.finish(run, checkoutRequestID, "timeout", func() {
				if cb.OnTimeout != nil {
					cb.OnTimeout()
				}
			})
			return
		case <-ticker.C:
		}
	}
}

// finish delivers the terminal callback at most once and tears down the
// run's timers via cancel.
func (m *Monitor) finish(run *monitorRun, checkoutRequestID, result string, deliver func()) {
	run.once.Do(func() {
		run.cancel()
		chargeOutcomes.WithLabelValues(result).Inc()
		m.logger.Info("charge monitoring finished",
			"checkoutRequestId", checkoutRequestID,
			"result", result,
		)
		deliver()
	})
}

func (m *Monitor) remove(checkoutRequestID string, run *monitorRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Only remove our own run; a superseding StartMonitoring may have
	// replaced it already.
	if cur, ok := m.runs[checkoutRequestID]; ok && cur == run {
		delete(m.runs, checkoutRequestID)
	}
}

func (m *Monitor) markCharge(checkoutRequestID string, state ChargeState) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.UpdateChargeState(ctx, checkoutRequestID, state); err != nil {
		m.logger.Warn("failed to update charge state",
			"checkoutRequestId", checkoutRequestID,
			"state", state,
			"error", err,
		)
	}
}

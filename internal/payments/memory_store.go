package payments

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory payment store for demo/development mode.
type MemoryStore struct {
	charges   map[string]*PendingCharge
	unmatched map[string]*UnmatchedPayment
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		charges:   make(map[string]*PendingCharge),
		unmatched: make(map[string]*UnmatchedPayment),
	}
}

func (m *MemoryStore) CreateCharge(ctx context.Context, c *PendingCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges[c.CheckoutRequestID] = c
	return nil
}

func (m *MemoryStore) GetCharge(ctx context.Context, checkoutRequestID string) (*PendingCharge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.charges[checkoutRequestID]
	if !ok {
		return nil, ErrChargeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) UpdateChargeState(ctx context.Context, checkoutRequestID string, state ChargeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[checkoutRequestID]
	if !ok {
		return ErrChargeNotFound
	}
	c.State = state
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateUnmatched(ctx context.Context, u *UnmatchedPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmatched[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUnmatched(ctx context.Context, id string) (*UnmatchedPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.unmatched[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) ListUnmatched(ctx context.Context, limit int) ([]*UnmatchedPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*UnmatchedPayment
	for _, u := range m.unmatched {
		cp := *u
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) DeleteUnmatched(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.unmatched[id]; !ok {
		return ErrPaymentNotFound
	}
	delete(m.unmatched, id)
	return nil
}

package clients

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/helanet/helanet/internal/money"
)

// MemoryStore is an in-memory client store for demo/development mode.
type MemoryStore struct {
	clients  map[string]*Client
	packages map[string]*Package
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory client store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:  make(map[string]*Client),
		packages: make(map[string]*Package),
	}
}

func (m *MemoryStore) Create(ctx context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	// Return a copy to prevent races on the shared pointer
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c.ID]; !ok {
		return ErrClientNotFound
	}
	c.UpdatedAt = time.Now()
	m.clients[c.ID] = c
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return ErrClientNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AdvanceSubscription(ctx context.Context, id string, status Status, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return ErrClientNotFound
	}
	c.Status = status
	e := end
	c.SubscriptionEnd = &e
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreditWallet(ctx context.Context, id string, amount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return ErrClientNotFound
	}
	c.WalletBalance = money.Add(c.WalletBalance, amount)
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) DebitWallet(ctx context.Context, id string, amount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return ErrClientNotFound
	}
	bal, ok := money.Parse(c.WalletBalance)
	if !ok {
		bal = big.NewInt(0)
	}
	amt, ok := money.Parse(amount)
	if !ok || bal.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	c.WalletBalance = money.Format(new(big.Int).Sub(bal, amt))
	c.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Client
	for _, c := range m.clients {
		if c.Status == StatusActive && c.SubscriptionEnd != nil && c.SubscriptionEnd.Before(before) {
			cp := *c
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) CreatePackage(ctx context.Context, p *Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPackage(ctx context.Context, id string) (*Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packages[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	cp := *p
	return &cp, nil
}

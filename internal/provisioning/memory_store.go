package provisioning

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory provisioning store for demo/development mode.
type MemoryStore struct {
	credentials map[string]*Credential // keyed by client ID
	routers     map[string]*Router
	audit       []*AuditEntry
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory provisioning store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]*Credential),
		routers:     make(map[string]*Router),
	}
}

func (m *MemoryStore) CreateCredential(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[c.ClientID] = c
	return nil
}

func (m *MemoryStore) GetCredential(ctx context.Context, clientID string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[clientID]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) UpdateCredential(ctx context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[c.ClientID]; !ok {
		return ErrCredentialNotFound
	}
	m.credentials[c.ClientID] = c
	return nil
}

func (m *MemoryStore) GetRouter(ctx context.Context, id string) (*Router, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routers[id]
	if !ok {
		return nil, ErrRouterNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpsertRouter(ctx context.Context, r *Router) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routers[r.ID] = r
	return nil
}

func (m *MemoryStore) ListRouters(ctx context.Context, limit int) ([]*Router, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Router
	for _, r := range m.routers {
		cp := *r
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *MemoryStore) ListAudit(ctx context.Context, clientID string, limit int) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*AuditEntry
	// Newest first
	for i := len(m.audit) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.audit[i]
		if clientID != "" && e.ClientID != clientID {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

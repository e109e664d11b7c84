package registry

import (
	"fmt"
	"sync"

	"github.com/ashureev/tutormesh/internal/domain"
)

// MemoryRegistry keeps identities in process memory.
type MemoryRegistry struct {
	mu    sync.RWMutex
	opts  options
	slots map[domain.Role]domain.AgentIdentity
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry(opts ...Option) *MemoryRegistry {
	r := &MemoryRegistry{slots: make(map[domain.Role]domain.AgentIdentity)}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

func (r *MemoryRegistry) Register(role domain.Role) (domain.AgentIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.slots[role]; ok {
		return id, nil
	}
	id := domain.AgentIdentity{Role: role, Address: newAddress(role, r.opts.advertise)}
	r.slots[role] = id
	return id, nil
}

func (r *MemoryRegistry) Resolve(role domain.Role) (domain.AgentIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.slots[role]
	if !ok {
		return domain.AgentIdentity{}, fmt.Errorf("%w: %s", ErrUnresolvedAddress, role)
	}
	return id, nil
}

// Publish sets the identity for role directly, replacing any previous one.
func (r *MemoryRegistry) Publish(id domain.AgentIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[id.Role] = id
}

// Invalidate is a no-op; memory slots are always current.
func (r *MemoryRegistry) Invalidate(domain.Role) {}

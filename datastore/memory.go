package datastore

import (
	"context"
	"sync"
)

const memoryProviderName = "memory"

func init() {
	RegisterProvider(memoryFactory{})
}

type memoryFactory struct{}

func (memoryFactory) Name() string { return memoryProviderName }

func (memoryFactory) Setup(cfg *Cfg) (Provider, error) {
	return NewMemoryProvider(cfg.cost()), nil
}

// MemoryProvider keeps bcrypt hashes in process memory.
type MemoryProvider struct {
	cost int

	mu     sync.RWMutex
	hashes map[string][]byte
}

func NewMemoryProvider(cost int) *MemoryProvider {
	return &MemoryProvider{cost: cost, hashes: make(map[string][]byte)}
}

func (p *MemoryProvider) Name() string { return memoryProviderName }

func (p *MemoryProvider) CheckPassword(ctx context.Context, username, password string) (bool, error) {
	p.mu.RLock()
	hash, ok := p.hashes[username]
	p.mu.RUnlock()
	if !ok {
		return false, ErrUserNotFound
	}
	return comparePassword(hash, password)
}

func (p *MemoryProvider) SetPassword(ctx context.Context, username, password string) error {
	hash, err := hashPassword(password, p.cost)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.hashes[username] = hash
	return nil
}

func (p *MemoryProvider) Close() error { return nil }

package group

import (
	"context"
	"sync"
)

// MemoryDirectory is the in-process Directory used by tests.
type MemoryDirectory struct {
	mu     sync.RWMutex
	groups map[string]Group
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{groups: make(map[string]Group)}
}

func (d *MemoryDirectory) Create(ctx context.Context, g *Group) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[g.ID] = *g
	return nil
}

func (d *MemoryDirectory) Get(ctx context.Context, id string) (*Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := g
	return &out, nil
}

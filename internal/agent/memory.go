package agent

import (
	"context"
	"fmt"
	"sync"
)

type memoryDirectory struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewMemoryDirectory constructs an in-memory directory for tests and
// development mode.
func NewMemoryDirectory() Directory {
	return &memoryDirectory{agents: make(map[string]Agent)}
}

func (d *memoryDirectory) Register(_ context.Context, a Agent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.agents[a.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAgentExists, a.Name)
	}
	d.agents[a.Name] = a
	return nil
}

func (d *memoryDirectory) Lookup(_ context.Context, name string) (Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[name]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

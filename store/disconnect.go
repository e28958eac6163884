package store

import (
	"context"
	"errors"
	"sync"
)

// cleanups holds OnDisconnect registrations per owner. Owners are process
// local connections, so the registry lives in memory for every backend.
type cleanups struct {
	mu      sync.Mutex
	byOwner map[string]map[string]Mutation
}

func (c *cleanups) register(ownerID, path string, m Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byOwner == nil {
		c.byOwner = make(map[string]map[string]Mutation)
	}
	if c.byOwner[ownerID] == nil {
		c.byOwner[ownerID] = make(map[string]Mutation)
	}
	c.byOwner[ownerID][path] = m
}

func (c *cleanups) cancel(ownerID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byOwner[ownerID], path)
	if len(c.byOwner[ownerID]) == 0 {
		delete(c.byOwner, ownerID)
	}
}

func (c *cleanups) take(ownerID string) map[string]Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.byOwner[ownerID]
	delete(c.byOwner, ownerID)
	return m
}

func (c *cleanups) run(ctx context.Context, s Store, ownerID string) error {
	var errs []error
	for path, m := range c.take(ownerID) {
		err := apply(ctx, s, path, m)
		if err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
